// Package ipodata is the IPO data service: a read-only catalogue of user
// applications, listings, procedural documents, and canned answers, served to
// the voice gateway as MCP tools and resources.
//
// The catalogue is immutable after construction and safe to share between
// sessions and servers.
package ipodata

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrListingNotFound is returned by [Catalogue.Details] when no active or
// upcoming listing carries the requested symbol.
var ErrListingNotFound = errors.New("ipodata: listing not found")

// DefaultUserID is assumed when a caller does not name a user.
const DefaultUserID = "u123"

const unknownQueryAnswer = "Query not classified or answer not available."

// Application is one of the user's IPO applications.
type Application struct {
	Symbol               string `json:"symbol" yaml:"symbol"`
	CompanyName          string `json:"companyName" yaml:"company_name"`
	Status               string `json:"status" yaml:"status"`
	PaymentStatus        string `json:"paymentStatus" yaml:"payment_status"`
	Title                string `json:"title" yaml:"title"`
	Remark               string `json:"remark" yaml:"remark"`
	Category             string `json:"category" yaml:"category"`
	AppliedAsLabel       string `json:"appliedAsLabel" yaml:"applied_as_label"`
	Amount               int    `json:"amount" yaml:"amount"`
	CanCancel            bool   `json:"canCancel" yaml:"can_cancel"`
	RefundInitiationDate string `json:"refundInitiationDate,omitempty" yaml:"refund_initiation_date"`
	UPIID                string `json:"upiId" yaml:"upi_id"`
}

// Listing is an IPO in one of the active, upcoming, or closed lists. Fields
// that do not apply to a list are left empty and omitted from JSON.
type Listing struct {
	Symbol         string `json:"symbol" yaml:"symbol"`
	ShortName      string `json:"growwShortName" yaml:"short_name"`
	Status         string `json:"status" yaml:"status"`
	BiddingDates   string `json:"biddingDates,omitempty" yaml:"bidding_dates"`
	PriceRange     string `json:"priceRange,omitempty" yaml:"price_range"`
	LotSize        int    `json:"lotSize,omitempty" yaml:"lot_size"`
	MinBidQuantity int    `json:"minBidQuantity,omitempty" yaml:"min_bid_quantity"`
	IsSME          *bool  `json:"isSme,omitempty" yaml:"is_sme"`
	PreApplyOpen   *bool  `json:"preApplyOpen,omitempty" yaml:"pre_apply_open"`
	ListingStatus  string `json:"listingStatus,omitempty" yaml:"listing_status"`
	AllotmentDate  string `json:"allotmentDate,omitempty" yaml:"allotment_date"`
	ListingDate    string `json:"listingDate,omitempty" yaml:"listing_date"`
}

// SME reports whether the listing is an SME issue.
func (l Listing) SME() bool { return l.IsSME != nil && *l.IsSME }

// Documents holds the procedural texts exposed as resources.
type Documents struct {
	Compliance     string `yaml:"compliance"`
	BusinessRules  string `yaml:"business_rules"`
	PreApply       string `yaml:"pre_apply"`
	ApplicationUPI string `yaml:"application_upi"`
	PostApply      string `yaml:"post_apply"`
}

// Catalogue is the complete data set served by the IPO data service.
type Catalogue struct {
	Applications []Application     `yaml:"applications"`
	Active       []Listing         `yaml:"active"`
	Upcoming     []Listing         `yaml:"upcoming"`
	Closed       []Listing         `yaml:"closed"`
	Documents    Documents         `yaml:"documents"`
	Answers      map[string]string `yaml:"answers"`
}

// Details is the summary returned for a single listing.
type Details struct {
	IPO           string  `json:"IPO"`
	Status        string  `json:"Status"`
	BiddingDates  string  `json:"BiddingDates"`
	PriceRange    string  `json:"PriceRange"`
	LotSize       int     `json:"LotSize"`
	SMERule       string  `json:"SmeRule"`
	AllotmentDate *string `json:"AllotmentDate"`
	ListingDate   *string `json:"ListingDate"`
}

// Details looks symbol up case-insensitively among the active listings, then
// the upcoming ones.
func (c *Catalogue) Details(symbol string) (Details, error) {
	want := strings.ToUpper(strings.TrimSpace(symbol))
	for _, list := range [][]Listing{c.Active, c.Upcoming} {
		for _, l := range list {
			if strings.ToUpper(l.Symbol) == want {
				return detailsOf(l), nil
			}
		}
	}
	return Details{}, fmt.Errorf("%w: IPO %s not found in active or upcoming list", ErrListingNotFound, symbol)
}

func detailsOf(l Listing) Details {
	rule := "This is a regular IPO."
	if l.SME() {
		shares := l.MinBidQuantity
		if shares == 0 {
			shares = l.LotSize * 2
		}
		rule = fmt.Sprintf("NOTE: This is an SME IPO. Minimum application is 2 lots (Shares: %d).", shares)
	}
	return Details{
		IPO:           l.ShortName,
		Status:        l.Status,
		BiddingDates:  l.BiddingDates,
		PriceRange:    l.PriceRange,
		LotSize:       l.LotSize,
		SMERule:       rule,
		AllotmentDate: optional(l.AllotmentDate),
		ListingDate:   optional(l.ListingDate),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Answer returns the canned answer for key, or a fixed "not available" text
// when the key is unknown.
func (c *Catalogue) Answer(key string) string {
	if a, ok := c.Answers[key]; ok {
		return a
	}
	return unknownQueryAnswer
}

// Escalation returns the hand-over notice spoken when a call is transferred to
// a human agent.
func Escalation(reason string) string {
	return fmt.Sprintf("ESCALATION_TRIGGERED: %s. Transferring call to Groww's Customer Support Champion.", reason)
}

// Load reads a catalogue from a YAML file. Sections missing from the file fall
// back to the built-in data.
func Load(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ipodata: open %q: %w", path, err)
	}
	defer f.Close()

	var c Catalogue
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("ipodata: decode %q: %w", path, err)
	}

	def := Default()
	if c.Applications == nil {
		c.Applications = def.Applications
	}
	if c.Active == nil {
		c.Active = def.Active
	}
	if c.Upcoming == nil {
		c.Upcoming = def.Upcoming
	}
	if c.Closed == nil {
		c.Closed = def.Closed
	}
	if c.Answers == nil {
		c.Answers = def.Answers
	}
	fill(&c.Documents.Compliance, def.Documents.Compliance)
	fill(&c.Documents.BusinessRules, def.Documents.BusinessRules)
	fill(&c.Documents.PreApply, def.Documents.PreApply)
	fill(&c.Documents.ApplicationUPI, def.Documents.ApplicationUPI)
	fill(&c.Documents.PostApply, def.Documents.PostApply)
	return &c, nil
}

func fill(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
