/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the caller's account with
	realistic data. Each scenario creates a group, its clients and members,
	auctions with their obligations, and optionally receipts.

AVAILABLE SCENARIOS:

	new-group:    20 members, one auction, nothing paid yet
	backlog:      10 members, three monthly auctions, one client part paid
	company-bid:  auction won by the company (no member winner)

HOW SCENARIOS WORK:
 1. Create clients
 2. Create the group and add members
 3. Create auctions (obligations are generated)
 4. Optionally allocate bulk payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "backlog"}

NOTE:

	Scenarios are additive. They never delete existing data. Dates are
	relative to the current month so the backlog is always overdue.

SEE ALSO:
  - handlers.go: Other handlers
  - ledger/service.go: Operations used here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/chit-ledger/ledger"
)

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResponse names what a scenario created.
type ScenarioResponse struct {
	Scenario string   `json:"scenario"`
	GroupID  string   `json:"group_id"`
	Clients  []string `json:"clients"`
	Auctions []string `json:"auctions"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-group",
		Name:        "New Group",
		Description: "1,00,000 pot, 20 members, first auction at 20,000 bid, nothing paid",
	},
	{
		ID:          "backlog",
		Name:        "Backlog",
		Description: "Three monthly auctions; first client paid the oldest month and part of the next",
	},
	{
		ID:          "company-bid",
		Name:        "Company Bid",
		Description: "Auction with no member winner",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into the caller's account.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	var (
		resp ScenarioResponse
		err  error
	)
	switch req.ScenarioID {
	case "new-group":
		resp, err = LoadNewGroup(r.Context(), h.svc, now)
	case "backlog":
		resp, err = LoadBacklog(r.Context(), h.svc, now)
	case "company-bid":
		resp, err = LoadCompanyBid(r.Context(), h.svc, now)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, "LoadScenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// LoadNewGroup creates a 20 member group with one auction in the current month.
func LoadNewGroup(ctx context.Context, svc *ledger.Service, now time.Time) (ScenarioResponse, error) {
	month := ledger.StartOfMonth(now)
	b := &scenarioBuilder{svc: svc, resp: ScenarioResponse{Scenario: "new-group"}}
	b.group(ctx, "Demo Group 1L", 20, month)
	b.auction(ctx, month, b.firstClient(), "20000")
	return b.resp, b.err
}

// LoadBacklog creates three monthly auctions ending this month and lets the
// first client pay the oldest month in full and part of the next.
func LoadBacklog(ctx context.Context, svc *ledger.Service, now time.Time) (ScenarioResponse, error) {
	first := ledger.StartOfMonth(now).AddDate(0, -2, 0)
	b := &scenarioBuilder{svc: svc, resp: ScenarioResponse{Scenario: "backlog"}}
	b.group(ctx, "Backlog Group 1L", 10, first)
	for i, bid := range []string{"30000", "25000", "20000"} {
		b.auction(ctx, first.AddDate(0, i, 0), b.client(i), bid)
	}
	if b.err == nil {
		// 7,500 clears the first month; the remaining 3,000 goes to the second.
		_, b.err = svc.AllocateBulkPayment(ctx, ledger.BulkPayment{
			ClientID:    b.firstClient(),
			Amount:      decimal.NewFromInt(10500),
			PaymentDate: now,
			Method:      ledger.MethodCash,
		})
	}
	return b.resp, b.err
}

// LoadCompanyBid creates one auction with no member winner.
func LoadCompanyBid(ctx context.Context, svc *ledger.Service, now time.Time) (ScenarioResponse, error) {
	month := ledger.StartOfMonth(now)
	b := &scenarioBuilder{svc: svc, resp: ScenarioResponse{Scenario: "company-bid"}}
	b.group(ctx, "Company Bid Group 50K", 5, month)
	b.auction(ctx, month, "", "5000")
	return b.resp, b.err
}

// scenarioBuilder stops at the first error.
type scenarioBuilder struct {
	svc     *ledger.Service
	resp    ScenarioResponse
	groupID ledger.GroupID
	err     error
}

func (b *scenarioBuilder) group(ctx context.Context, name string, members int, start time.Time) {
	if b.err != nil {
		return
	}
	pot := decimal.NewFromInt(100000)
	if members < 10 {
		pot = decimal.NewFromInt(50000)
	}
	g, err := b.svc.SaveGroup(ctx, ledger.GroupInput{
		Name:              name,
		ChitValue:         pot,
		CommissionPercent: decimal.NewFromInt(5),
		MemberCount:       members,
		StartDate:         start,
	})
	if err != nil {
		b.err = err
		return
	}
	b.groupID = g.ID
	b.resp.GroupID = string(g.ID)

	for i := 1; i <= members; i++ {
		c, err := b.svc.SaveClient(ctx, ledger.Client{Name: fmt.Sprintf("%s Member %02d", name, i)})
		if err != nil {
			b.err = err
			return
		}
		if _, err := b.svc.AddMember(ctx, g.ID, c.ID, decimal.NewFromInt(1)); err != nil {
			b.err = err
			return
		}
		b.resp.Clients = append(b.resp.Clients, string(c.ID))
	}
}

// auction holds it on the 5th with payment due on the 10th. An empty winner is a company bid.
func (b *scenarioBuilder) auction(ctx context.Context, month time.Time, winner ledger.ClientID, bid string) {
	if b.err != nil {
		return
	}
	in := ledger.AuctionInput{
		GroupID:     b.groupID,
		ChitMonth:   string(ledger.ChitMonthOf(month)),
		AuctionDate: month.AddDate(0, 0, 4),
		DueDate:     month.AddDate(0, 0, 9),
		BidAmount:   decimal.RequireFromString(bid),
	}
	if winner != "" {
		in.Winners = []ledger.ClientID{winner}
	}
	a, err := b.svc.CreateAuction(ctx, in)
	if err != nil {
		b.err = err
		return
	}
	b.resp.Auctions = append(b.resp.Auctions, string(a.ID))
}

func (b *scenarioBuilder) client(i int) ledger.ClientID {
	if i >= len(b.resp.Clients) {
		return ""
	}
	return ledger.ClientID(b.resp.Clients[i])
}

func (b *scenarioBuilder) firstClient() ledger.ClientID { return b.client(0) }
