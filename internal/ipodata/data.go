package ipodata

// Default returns the built-in catalogue. Each call returns a fresh copy that
// the caller may modify.
func Default() *Catalogue {
	yes, no := true, false
	return &Catalogue{
		Applications: []Application{
			{
				Symbol:         "INTERARCH",
				CompanyName:    "Interarch Building Products",
				Status:         "PAYMENT_PENDING",
				PaymentStatus:  "PENDING",
				Title:          "Approve request on Groww UPI",
				Remark:         "Please wait for UPI request.",
				Category:       "IND",
				AppliedAsLabel: "Regular",
				Amount:         14400,
				CanCancel:      true,
				UPIID:          "8942052094@yesg",
			},
			{
				Symbol:               "SUNTECHELEC",
				CompanyName:          "Suntech Electronics",
				Status:               "NOT_ALLOTED",
				PaymentStatus:        "SUCCESS",
				Title:                "IPO Not Allotted",
				Remark:               "Amount will be released by the bank.",
				Category:             "IND",
				AppliedAsLabel:       "Regular",
				Amount:               5500,
				CanCancel:            false,
				RefundInitiationDate: "2024-08-26",
				UPIID:                "9123000001@upi",
			},
			{
				Symbol:         "URBANGREEN",
				CompanyName:    "Urban Green Infra (SME)",
				Status:         "APPROVED",
				PaymentStatus:  "SUCCESS",
				Title:          "Application Accepted by Exchange",
				Remark:         "Waiting for allotment date.",
				Category:       "HNI",
				AppliedAsLabel: "HNI",
				Amount:         250000,
				CanCancel:      false, // HNI applications cannot be cancelled.
				UPIID:          "9988776655@icici",
			},
		},
		Active: []Listing{
			{
				Symbol:        "INTERARCH",
				ShortName:     "Interarch Building Products",
				Status:        "ACTIVE",
				BiddingDates:  "Aug 19 - Aug 21, 2024",
				PriceRange:    "₹850 - ₹900",
				LotSize:       16,
				IsSME:         &no,
				AllotmentDate: "2024-08-22",
				ListingDate:   "2024-08-26",
			},
			{
				Symbol:         "RURALFIN",
				ShortName:      "Rural Finserve Limited (SME)",
				Status:         "ACTIVE",
				BiddingDates:   "Aug 18 - Aug 20, 2024",
				PriceRange:     "₹160 - ₹165",
				LotSize:        35,
				MinBidQuantity: 70,
				IsSME:          &yes,
				AllotmentDate:  "2024-08-21",
				ListingDate:    "2024-08-26",
			},
		},
		Upcoming: []Listing{
			{
				Symbol:       "NOVAFOODS",
				ShortName:    "Nova Foods Limited",
				Status:       "UPCOMING",
				BiddingDates: "Dec 02 - Dec 04, 2024",
				PriceRange:   "₹95 - ₹100",
				LotSize:      40,
				PreApplyOpen: &yes,
			},
		},
		Closed: []Listing{
			{
				Symbol:        "HEALTHPLUS",
				ShortName:     "HealthPlus Hospitals",
				Status:        "CLOSED",
				ListingStatus: "LISTED",
				AllotmentDate: "2024-06-10",
			},
		},
		Documents: Documents{
			Compliance:     complianceGuardrails,
			BusinessRules:  businessLogic,
			PreApply:       userJourneyPreApply,
			ApplicationUPI: applicationProcedureUPI,
			PostApply:      postApplyProcedure,
		},
		Answers: map[string]string{
			"cancel_application":   "To cancel your IPO application, go to the 'Applied' section, select the application, and click 'Cancel'. Remember, cancellation is only possible during the bidding period, and HNI applications cannot be cancelled. [Image of the IPO cancellation process flow chart]",
			"mandate_not_come":     "If your mandate hasn't arrived, please wait till the end of the bidding day. Mandates are issued by NPCI via the Exchange. If the bidding period has closed, you will not receive a mandate.",
			"allotment_announced":  "The allotment date is specific to each IPO. You can check the details on the IPO listing page. For example, for INTERARCH, the allotment date is 2024-08-22.",
			"status_pending":       "If the status shows 'Payment Pending' but the amount is blocked, this means the mandate was accepted by your bank, but the exchange status update is delayed. Please wait till the 'End of the Day' for the status to reflect the update from the exchange.",
			"approved_old_mandate": "If you approved the mandate for a cancelled application by mistake, you can manually cancel the mandate from your UPI App or contact your bank immediately. The blocked amount will be released by the bank on the mandate expiry date.",
			"rejected_reason":      "IPO applications are typically rejected due to reasons like: incorrect Demat ID, UPI mandate failure, or a name mismatch between your bank account and Groww account (though name mismatch usually affects MF, not IPO). Allotment itself is a lottery and not guaranteed.",
		},
	}
}

const complianceGuardrails = `
*** CRITICAL COMPLIANCE RULES ***
1. MANDATORY INTRODUCTION: Always start in clear Indian English (en-IN) with "Hi, I'm IPO Advisor from Groww and I will try my best to provide solution to your question. How can I help you today? Please also let me know the language in which you would like to communicate."
2. TONE: Maintain a calm, polite, empathetic, and non-argumentative tone.
3. ADVISORY: Never give investment advice or opinions on individual companies.
4. TECHNICAL BLAME: Never mention phrases like 'technical issue', 'glitch', or 'technical problem in App'.
5. ESCALATION: If user shows agitation/anger/abusive language, transfer call to human agent.
`

const businessLogic = `
*** IPO BUSINESS LOGIC ***
1. ALLOTMENT: IPO allotment is done on a lottery basis by the RTA. Groww cannot guarantee allotment.
2. FUNDS: Amount is only BLOCKED (lien/hold) by the bank, not deducted until allotment. For details about lien/hold, ask the user to contact their bank.
3. TIMINGS: 
   - Application Window: 10:00 am to 5:00 pm (Exchange). Groww keeps a 10 min buffer (4:50 pm cut-off).
   - Pre-Apply: Applications are placed on the exchange on the bidding start day.
4. MANDATE: UPI mandate request is facilitated by NPCI via the Exchange. Check your UPI app. Groww UPI mandate approval can be done within the Groww App.
5. CANCELLATION:
   - Allowed only during the bidding period.
   - HNI Category applications CANNOT be cancelled.
   - If cancelled post-mandate approval: The amount is released by the bank on the mandate expiry date. User can manually cancel the mandate from UPI App or contact the bank for early release.
6. SME IPO: User must apply for a minimum of 2 lots.
7. STATUS UPDATE: IPO application status on Groww is updated at the 'End of the Day' based on updates from the exchange.
`

const userJourneyPreApply = `
The Pre-Apply Journey is: 
1. Open Groww App. 
2. Go to 'Explore' under 'Stocks'. 
3. Scroll down to 'Product and tools'. 
4. Select 'IPO'. 
5. Browse the sections: Open (Active), Applied, Closed, and Upcoming.
`

const applicationProcedureUPI = `
The steps for Placing an Application using UPI are: 
1. Go to the 'Open' section. 
2. Choose the company and click 'Apply for IPO'. 
3. Verify the category (default is 'Regular'). 
4. Set the number of 'Shares' or 'Lots' you want to apply for. 
5. You can click 'Add Bid' to add up to 3 bids. 
6. Click on 'Apply'. You will then receive a UPI mandate request.
`

const postApplyProcedure = `
The Post-Apply Journey (Tracking and Mandate Approval) is:
1. Go to the 'Applied' section.
2. Choose the application to Track the Application Status.
3. Once processed by the Exchange, you will receive a mandate request.
4. Approve the mandate: If your UPI ID ends in "@yesg", approve it from the Groww App UPI section. If not, approve it from your respective UPI App.
5. Wait for the allotment announcement.
`
