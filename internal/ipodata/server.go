package ipodata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName identifies the data service in the MCP handshake.
const ServerName = "ipo-data-service"

// Resource URIs of the procedural documents.
const (
	URICompliance     = "ipo://compliance/guardrails"
	URIBusinessRules  = "ipo://logic/business_rules"
	URIPreApply       = "ipo://procedure/pre_apply"
	URIApplicationUPI = "ipo://procedure/application_upi"
	URIPostApply      = "ipo://procedure/post_apply"
)

// ContextURIs lists the document resources in the order the assistant's
// context text is assembled from them.
var ContextURIs = []string{
	URICompliance,
	URIBusinessRules,
	URIPreApply,
	URIApplicationUPI,
	URIPostApply,
}

// Tool names.
const (
	ToolUserApplications = "get_user_applications"
	ToolActiveIPOs       = "get_active_ipos"
	ToolUpcomingIPOs     = "get_upcoming_ipos"
	ToolClosedIPOs       = "get_closed_ipos"
	ToolIPODetails       = "get_ipo_specific_details"
	ToolCommonAnswer     = "get_common_query_answer"
	ToolEscalate         = "escalate_to_agent"
)

type userApplicationsInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"the user whose applications to fetch; defaults to the caller"`
}

type symbolInput struct {
	Symbol string `json:"symbol" jsonschema:"the IPO symbol, e.g. INTERARCH"`
}

type queryKeyInput struct {
	QueryKey string `json:"query_key" jsonschema:"key of the query type, e.g. cancel_application or allotment_announced"`
}

type reasonInput struct {
	Reason string `json:"reason" jsonschema:"why the call is being transferred"`
}

type applicationsOutput struct {
	Applications []Application `json:"applications"`
}

type activeOutput struct {
	ActiveIPOs []Listing `json:"active_ipos"`
}

type upcomingOutput struct {
	UpcomingIPOs []Listing `json:"upcoming_ipos"`
}

type closedOutput struct {
	ClosedIPOs []Listing `json:"closed_ipos"`
}

// NewServer returns an MCP server exposing cat as tools and resources. The
// same server may be connected to any number of transports.
func NewServer(cat *Catalogue, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: version}, nil)
	registerTools(srv, cat)
	registerResources(srv, cat)
	return srv
}

func registerTools(srv *mcpsdk.Server, cat *Catalogue) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolUserApplications,
		Description: "Fetches the COMPLETE list of IPO applications for the current user. " +
			"Returns a dictionary containing a list of ALL applications found with status, amount, and dates.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in userApplicationsInput) (*mcpsdk.CallToolResult, applicationsOutput, error) {
		user := in.UserID
		if user == "" {
			user = DefaultUserID
		}
		slog.DebugContext(ctx, "ipodata: listing applications", "user_id", user)
		return nil, applicationsOutput{Applications: cat.Applications}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolActiveIPOs,
		Description: "Fetches a list of ALL currently OPEN (Active) IPOs available for bidding. " +
			"Returns a dictionary containing a list of active IPOs.",
	}, func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, activeOutput, error) {
		return nil, activeOutput{ActiveIPOs: cat.Active}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolUpcomingIPOs,
		Description: "Fetches a list of Upcoming IPOs that are not yet open for bidding. " +
			"Returns a dictionary containing a list of upcoming IPOs.",
	}, func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, upcomingOutput, error) {
		return nil, upcomingOutput{UpcomingIPOs: cat.Upcoming}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolClosedIPOs,
		Description: "Fetches a list of Closed IPOs to check past listing or allotment dates. " +
			"Returns a dictionary containing a list of closed IPOs.",
	}, func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, closedOutput, error) {
		return nil, closedOutput{ClosedIPOs: cat.Closed}, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolIPODetails,
		Description: "Fetches detailed information (lot size, price range, dates, SME status) for a specific IPO.",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in symbolInput) (*mcpsdk.CallToolResult, any, error) {
		d, err := cat.Details(in.Symbol)
		if err != nil {
			return nil, nil, err
		}
		data, err := json.Marshal(d)
		if err != nil {
			return nil, nil, fmt.Errorf("ipodata: marshal details: %w", err)
		}
		return textResult(string(data)), nil, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolCommonAnswer,
		Description: "Retrieves detailed, narrative answers for common procedural queries (e.g., cancellation, mandate approval).",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, in queryKeyInput) (*mcpsdk.CallToolResult, any, error) {
		return textResult(cat.Answer(in.QueryKey)), nil, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: ToolEscalate,
		Description: "Triggers a handover to a human Customer Support Champion. " +
			"Use this if the user is angry, abusive, or the query is outside IPO context.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in reasonInput) (*mcpsdk.CallToolResult, any, error) {
		slog.InfoContext(ctx, "ipodata: escalation requested", "reason", in.Reason)
		return textResult(Escalation(in.Reason)), nil, nil
	})
}

func registerResources(srv *mcpsdk.Server, cat *Catalogue) {
	docs := []struct {
		uri, name, desc, text string
	}{
		{URICompliance, "compliance_guardrails", "Strict behavioral guardrails.", cat.Documents.Compliance},
		{URIBusinessRules, "business_rules", "Core IPO business logic.", cat.Documents.BusinessRules},
		{URIPreApply, "pre_apply_journey", "Step-by-step pre-apply and general IPO journey in the app.", cat.Documents.PreApply},
		{URIApplicationUPI, "application_procedure_upi", "Step-by-step process for placing an IPO application using UPI.", cat.Documents.ApplicationUPI},
		{URIPostApply, "post_apply_procedure", "Step-by-step process for mandate approval and status tracking.", cat.Documents.PostApply},
	}
	for _, d := range docs {
		srv.AddResource(&mcpsdk.Resource{
			URI:         d.uri,
			Name:        d.name,
			Description: d.desc,
			MIMEType:    "text/plain",
		}, func(context.Context, *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
			return &mcpsdk.ReadResourceResult{
				Contents: []*mcpsdk.ResourceContents{{URI: d.uri, MIMEType: "text/plain", Text: d.text}},
			}, nil
		})
	}
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

// ServeStdio runs srv over stdin/stdout until ctx is cancelled or the peer
// disconnects.
func ServeStdio(ctx context.Context, srv *mcpsdk.Server) error {
	if err := srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("ipodata: serve stdio: %w", err)
	}
	return nil
}

// HTTPHandler exposes srv over the streamable HTTP transport.
func HTTPHandler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}
