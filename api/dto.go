/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts travel as decimal strings ("4250.50") in both directions. Requests
  are checked with validator tags, then parsed with shopspring/decimal.

DATES:
  Calendar dates use YYYY-MM-DD, chit months YYYY-MM, timestamps RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain entities
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/chit-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

// GroupRequest creates or edits a group.
type GroupRequest struct {
	Name              string `json:"name" validate:"required,max=200"`
	ChitValue         string `json:"chit_value" validate:"required,numeric"`
	CommissionPercent string `json:"commission_percent" validate:"required,numeric"`
	MemberCount       int    `json:"member_count" validate:"gte=0"`
	StartDate         string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// ClientRequest creates a client. ID is optional.
type ClientRequest struct {
	ID    string `json:"id" validate:"omitempty,max=100"`
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"omitempty,max=30"`
}

// AddMemberRequest joins a client to a group.
type AddMemberRequest struct {
	ClientID  string `json:"client_id" validate:"required"`
	ChitCount string `json:"chit_count" validate:"required,numeric"`
}

// AuctionRequest creates or edits an auction. Empty winners is a company bid.
type AuctionRequest struct {
	GroupID     string   `json:"group_id" validate:"required"`
	ChitMonth   string   `json:"chit_month" validate:"required,datetime=2006-01"`
	AuctionDate string   `json:"auction_date" validate:"required,datetime=2006-01-02"`
	DueDate     string   `json:"due_date" validate:"required,datetime=2006-01-02"`
	Winners     []string `json:"winners" validate:"dive,required"`
	BidAmount   string   `json:"bid_amount" validate:"required,numeric"`
}

// BulkPaymentRequest is a lump sum received from a client.
type BulkPaymentRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	PaymentDate string `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Method      string `json:"method" validate:"required,oneof=Online Cash"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type GroupDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	ChitValue         decimal.Decimal `json:"chit_value"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
	MemberCount       int             `json:"member_count"`
	StartDate         string          `json:"start_date"`
	CreatedAt         string          `json:"created_at,omitempty"`
}

type ClientDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type MemberDTO struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"group_id"`
	ClientID  string          `json:"client_id"`
	ChitCount decimal.Decimal `json:"chit_count"`
	JoinedAt  string          `json:"joined_at"`
}

type AuctionDTO struct {
	ID                    string          `json:"id"`
	GroupID               string          `json:"group_id"`
	ChitMonth             string          `json:"chit_month"`
	AuctionDate           string          `json:"auction_date"`
	DueDate               string          `json:"due_date"`
	Winners               []string        `json:"winners"`
	CompanyBid            bool            `json:"company_bid"`
	BidAmount             decimal.Decimal `json:"bid_amount"`
	PayoutAmount          decimal.Decimal `json:"payout_amount"`
	AgentCommission       decimal.Decimal `json:"agent_commission"`
	TotalCollectionAmount decimal.Decimal `json:"total_collection_amount"`
	PerMemberContribution decimal.Decimal `json:"per_member_contribution"`
	EffectiveMemberCount  decimal.Decimal `json:"effective_member_count"`
}

// PaymentDTO shows pending floored at zero; any overpayment appears as credit.
type PaymentDTO struct {
	ID             string          `json:"id"`
	AuctionID      string          `json:"auction_id"`
	ClientID       string          `json:"client_id"`
	GroupID        string          `json:"group_id"`
	ChitMonth      string          `json:"chit_month"`
	ChitCount      decimal.Decimal `json:"chit_count"`
	AmountExpected decimal.Decimal `json:"amount_expected"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	Credit         decimal.Decimal `json:"credit"`
	DueDate        string          `json:"due_date"`
	Status         string          `json:"status"`
}

type PaymentLogDTO struct {
	ID          string          `json:"id"`
	PaymentID   string          `json:"payment_id"`
	AuctionID   string          `json:"auction_id"`
	ClientID    string          `json:"client_id"`
	GroupID     string          `json:"group_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Method      string          `json:"method"`
	CreatedAt   string          `json:"created_at"`
}

type AllocationStepDTO struct {
	PaymentID    string          `json:"payment_id"`
	LogID        string          `json:"log_id"`
	GroupID      string          `json:"group_id"`
	ChitMonth    string          `json:"chit_month"`
	DueDate      string          `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
	PendingAfter decimal.Decimal `json:"pending_after"`
	Status       string          `json:"status"`
}

type AllocationResponse struct {
	ClientID string              `json:"client_id"`
	Amount   decimal.Decimal     `json:"amount"`
	Steps    []AllocationStepDTO `json:"steps"`
}

type RollbackResponse struct {
	Payment PaymentDTO    `json:"payment"`
	Removed PaymentLogDTO `json:"removed"`
}

type AuctionDeleteResponse struct {
	AuctionID       string `json:"auction_id"`
	DeletedPayments int    `json:"deleted_payments"`
	DeletedLogs     int    `json:"deleted_logs"`
	Batches         int    `json:"batches"`
}

type GroupDeleteResponse struct {
	GroupID        string `json:"group_id"`
	DeletedMembers int    `json:"deleted_members"`
	Batches        int    `json:"batches"`
}

type VerifyResponse struct {
	PaymentID  string   `json:"payment_id"`
	Consistent bool     `json:"consistent"`
	Violations []string `json:"violations"`
}

type GroupMonthPendingDTO struct {
	GroupID        string          `json:"group_id"`
	GroupName      string          `json:"group_name"`
	ChitMonth      string          `json:"chit_month"`
	AuctionID      string          `json:"auction_id"`
	AuctionDate    string          `json:"auction_date,omitempty"`
	PendingMembers int             `json:"pending_members"`
	TotalPending   decimal.Decimal `json:"total_pending"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
}

type ClientPendingDTO struct {
	ClientID        string          `json:"client_id"`
	ClientName      string          `json:"client_name"`
	OpenObligations int             `json:"open_obligations"`
	TotalPending    decimal.Decimal `json:"total_pending"`
	TotalCredit     decimal.Decimal `json:"total_credit"`
	OldestDueDate   string          `json:"oldest_due_date,omitempty"`
}

type StatementGroupDTO struct {
	MemberID  string          `json:"member_id"`
	GroupID   string          `json:"group_id"`
	GroupName string          `json:"group_name"`
	ChitCount decimal.Decimal `json:"chit_count"`
	ChitValue decimal.Decimal `json:"chit_value"`
}

type StatementPendingDTO struct {
	GroupID       string          `json:"group_id"`
	GroupName     string          `json:"group_name"`
	PendingMonths []string        `json:"pending_months"`
	TotalPending  decimal.Decimal `json:"total_pending"`
	TotalCredit   decimal.Decimal `json:"total_credit"`
}

type StatementEntryDTO struct {
	LogID       string          `json:"log_id"`
	PaymentID   string          `json:"payment_id"`
	GroupID     string          `json:"group_id"`
	GroupName   string          `json:"group_name"`
	ChitMonth   string          `json:"chit_month"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	Method      string          `json:"method"`
}

type StatementResponse struct {
	ClientID       string                `json:"client_id"`
	ClientName     string                `json:"client_name"`
	Month          string                `json:"month,omitempty"`
	Groups         []StatementGroupDTO   `json:"groups"`
	PendingByGroup []StatementPendingDTO `json:"pending_by_group"`
	History        []StatementEntryDTO   `json:"history"`
	TotalPending   decimal.Decimal       `json:"total_pending"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	Committed *int   `json:"committed,omitempty"` // set when a write stopped part way
	Unit      string `json:"unit,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toGroupDTO(g ledger.Group) GroupDTO {
	return GroupDTO{
		ID:                string(g.ID),
		Name:              g.Name,
		ChitValue:         g.ChitValue,
		CommissionPercent: g.CommissionPercent,
		MemberCount:       g.MemberCount,
		StartDate:         formatDate(g.StartDate),
		CreatedAt:         g.CreatedAt.Format(time.RFC3339),
	}
}

func toMemberDTO(m ledger.GroupMember) MemberDTO {
	return MemberDTO{
		ID:        string(m.ID),
		GroupID:   string(m.GroupID),
		ClientID:  string(m.ClientID),
		ChitCount: m.ChitCount,
		JoinedAt:  m.JoinedAt.Format(time.RFC3339),
	}
}

func toAuctionDTO(a ledger.Auction) AuctionDTO {
	winners := make([]string, len(a.Winners))
	for i, w := range a.Winners {
		winners[i] = string(w)
	}
	return AuctionDTO{
		ID:                    string(a.ID),
		GroupID:               string(a.GroupID),
		ChitMonth:             string(a.ChitMonth),
		AuctionDate:           formatDate(a.AuctionDate),
		DueDate:               formatDate(a.DueDate),
		Winners:               winners,
		CompanyBid:            a.IsCompanyBid(),
		BidAmount:             a.BidAmount,
		PayoutAmount:          a.PayoutAmount,
		AgentCommission:       a.AgentCommission,
		TotalCollectionAmount: a.TotalCollectionAmount,
		PerMemberContribution: a.PerMemberContribution,
		EffectiveMemberCount:  a.EffectiveMemberCount,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		AuctionID:      string(p.AuctionID),
		ClientID:       string(p.ClientID),
		GroupID:        string(p.GroupID),
		ChitMonth:      string(p.ChitMonth),
		ChitCount:      p.ChitCount,
		AmountExpected: p.AmountExpected,
		AmountPaid:     p.AmountPaid,
		PendingAmount:  p.DisplayPending(),
		Credit:         p.Credit(),
		DueDate:        formatDate(p.PaymentDueDate),
		Status:         string(p.Status),
	}
}

func toPaymentLogDTO(l ledger.PaymentLog) PaymentLogDTO {
	return PaymentLogDTO{
		ID:          string(l.ID),
		PaymentID:   string(l.PaymentID),
		AuctionID:   string(l.AuctionID),
		ClientID:    string(l.ClientID),
		GroupID:     string(l.GroupID),
		Amount:      l.Amount,
		PaymentDate: formatDate(l.PaymentDate),
		Method:      string(l.Method),
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
	}
}

func toAllocationResponse(r ledger.AllocationResult) AllocationResponse {
	steps := make([]AllocationStepDTO, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = AllocationStepDTO{
			PaymentID:    string(s.PaymentID),
			LogID:        string(s.LogID),
			GroupID:      string(s.GroupID),
			ChitMonth:    string(s.ChitMonth),
			DueDate:      formatDate(s.DueDate),
			Amount:       s.Amount,
			PendingAfter: decimal.Max(s.PendingAfter, decimal.Zero),
			Status:       string(s.Status),
		}
	}
	return AllocationResponse{ClientID: string(r.ClientID), Amount: r.Amount, Steps: steps}
}

func toGroupMonthPendingDTOs(rows []ledger.GroupMonthPending) []GroupMonthPendingDTO {
	out := make([]GroupMonthPendingDTO, len(rows))
	for i, r := range rows {
		out[i] = GroupMonthPendingDTO{
			GroupID:        string(r.GroupID),
			GroupName:      r.GroupName,
			ChitMonth:      string(r.ChitMonth),
			AuctionID:      string(r.AuctionID),
			AuctionDate:    formatDate(r.AuctionDate),
			PendingMembers: r.PendingMembers,
			TotalPending:   r.TotalPending,
			TotalCredit:    r.TotalCredit,
		}
	}
	return out
}

func toClientPendingDTOs(rows []ledger.ClientPending) []ClientPendingDTO {
	out := make([]ClientPendingDTO, len(rows))
	for i, r := range rows {
		out[i] = ClientPendingDTO{
			ClientID:        string(r.ClientID),
			ClientName:      r.ClientName,
			OpenObligations: r.OpenObligations,
			TotalPending:    r.TotalPending,
			TotalCredit:     r.TotalCredit,
			OldestDueDate:   formatDate(r.OldestDueDate),
		}
	}
	return out
}

func toStatementResponse(st ledger.ClientStatement) StatementResponse {
	resp := StatementResponse{
		ClientID:       string(st.ClientID),
		ClientName:     st.ClientName,
		Month:          string(st.Month),
		Groups:         make([]StatementGroupDTO, len(st.Groups)),
		PendingByGroup: make([]StatementPendingDTO, len(st.PendingByGroup)),
		History:        make([]StatementEntryDTO, len(st.History)),
		TotalPending:   st.TotalPending,
	}
	for i, g := range st.Groups {
		resp.Groups[i] = StatementGroupDTO{
			MemberID:  string(g.MemberID),
			GroupID:   string(g.GroupID),
			GroupName: g.GroupName,
			ChitCount: g.ChitCount,
			ChitValue: g.ChitValue,
		}
	}
	for i, p := range st.PendingByGroup {
		months := make([]string, len(p.PendingMonths))
		for j, m := range p.PendingMonths {
			months[j] = string(m)
		}
		resp.PendingByGroup[i] = StatementPendingDTO{
			GroupID:       string(p.GroupID),
			GroupName:     p.GroupName,
			PendingMonths: months,
			TotalPending:  p.TotalPending,
			TotalCredit:   p.TotalCredit,
		}
	}
	for i, h := range st.History {
		resp.History[i] = StatementEntryDTO{
			LogID:       string(h.LogID),
			PaymentID:   string(h.PaymentID),
			GroupID:     string(h.GroupID),
			GroupName:   h.GroupName,
			ChitMonth:   string(h.ChitMonth),
			Amount:      h.Amount,
			PaymentDate: formatDate(h.PaymentDate),
			Method:      string(h.Method),
		}
	}
	return resp
}
