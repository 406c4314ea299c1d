/*
Package ledger is the payment ledger and reconciliation engine for chit funds.

PURPOSE:
  A chit group runs one auction per month. Each auction creates an obligation
  (a Payment) for every member of the group, and members discharge those
  obligations over one or more receipts (PaymentLog rows). This package owns
  the rules for creating, allocating against, reversing and cascading those
  rows. Transport, storage engines and presentation live elsewhere.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: a GroupID can never be passed where a ClientID is expected
  - ChitMonth: the YYYY-MM key that makes an auction unique within its group
  - Entities: Group, Client, GroupMember, Auction, Payment, PaymentLog
  - Payment mutators: the only code allowed to change amountPaid/pendingAmount

CORE INVARIANTS:
  1. AmountPaid + PendingAmount == AmountExpected for every Payment, always.
  2. Σ PaymentLog.Amount for a Payment == Payment.AmountPaid.
  3. Payment.Status == DeriveStatus(AmountPaid, AmountExpected), never set directly.

PRECISION:
  All money and chit counts are decimal.Decimal. Per-member contributions are
  rounded to MoneyPlaces when an auction is priced; nothing else rounds.

SEE ALSO:
  - status.go: the status projection
  - obligations.go, allocation.go, reversal.go, cascade.go, aggregation.go: engines
  - service.go: the operations exposed to callers
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places money is rounded to when priced.
const MoneyPlaces = 2

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type GroupID string
type ClientID string
type MemberID string
type AuctionID string
type PaymentID string
type PaymentLogID string

// =============================================================================
// CHIT MONTH - Year-month key of an auction cycle
// =============================================================================

// ChitMonth is a "YYYY-MM" key. Exactly one auction exists per group per month.
type ChitMonth string

const chitMonthLayout = "2006-01"

// ParseChitMonth validates s and returns it as a ChitMonth.
func ParseChitMonth(s string) (ChitMonth, error) {
	t, err := time.Parse(chitMonthLayout, s)
	if err != nil {
		return "", fmt.Errorf("chit month %q: expected YYYY-MM", s)
	}
	return ChitMonth(t.Format(chitMonthLayout)), nil
}

// ChitMonthOf returns the chit month containing t.
func ChitMonthOf(t time.Time) ChitMonth {
	return ChitMonth(t.Format(chitMonthLayout))
}

// Start returns the first instant of the month in UTC. Zero time if malformed.
func (m ChitMonth) Start() time.Time {
	t, err := time.Parse(chitMonthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (m ChitMonth) String() string { return string(m) }

// StartOfMonth returns midnight on the first day of t's calendar month, in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// =============================================================================
// ENUMS
// =============================================================================

type PaymentMethod string

const (
	MethodOnline PaymentMethod = "Online"
	MethodCash   PaymentMethod = "Cash"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodOnline || m == MethodCash
}

type PaymentStatus string

const (
	StatusPending PaymentStatus = "Pending"
	StatusPartial PaymentStatus = "Partial"
	StatusPaid    PaymentStatus = "Paid"
)

// =============================================================================
// GROUP / CLIENT / MEMBER
// =============================================================================

// Group is a fund definition. Deleting it cascades to its GroupMember rows only.
type Group struct {
	ID                GroupID
	Name              string
	ChitValue         decimal.Decimal // total pot
	CommissionPercent decimal.Decimal // e.g. 5 means 5%
	MemberCount       int             // nominal count, used only when no members are loaded
	StartDate         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Client struct {
	ID        ClientID
	Name      string
	Phone     string
	CreatedAt time.Time
}

// GroupMember joins a client to a group. ChitCount may be fractional.
type GroupMember struct {
	ID        MemberID
	GroupID   GroupID
	ClientID  ClientID
	ChitCount decimal.Decimal
	JoinedAt  time.Time
}

// =============================================================================
// AUCTION
// =============================================================================

// AuctionAmounts are the monetary fields derived from a group and a bid.
type AuctionAmounts struct {
	PayoutAmount          decimal.Decimal
	AgentCommission       decimal.Decimal
	TotalCollectionAmount decimal.Decimal
	PerMemberContribution decimal.Decimal
	EffectiveMemberCount  decimal.Decimal
}

// Auction is one cycle of a group. Winners is empty for a company bid.
type Auction struct {
	ID          AuctionID
	GroupID     GroupID
	ChitMonth   ChitMonth
	AuctionDate time.Time
	DueDate     time.Time
	Winners     []ClientID
	BidAmount   decimal.Decimal
	AuctionAmounts
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCompanyBid reports whether no member won this auction.
func (a Auction) IsCompanyBid() bool { return len(a.Winners) == 0 }

// =============================================================================
// PAYMENT - One member's obligation for one auction
// =============================================================================

type Payment struct {
	ID             PaymentID
	AuctionID      AuctionID
	ClientID       ClientID
	GroupID        GroupID
	ChitMonth      ChitMonth
	ChitCount      decimal.Decimal // member's chit count when the obligation was created
	AmountExpected decimal.Decimal
	AmountPaid     decimal.Decimal
	PendingAmount  decimal.Decimal // negative only when an edit left the payment overpaid
	PaymentDueDate time.Time
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment builds the obligation of member m for auction a.
func NewPayment(id PaymentID, a Auction, m GroupMember, now time.Time) Payment {
	expected := a.PerMemberContribution.Mul(m.ChitCount)
	p := Payment{
		ID:             id,
		AuctionID:      a.ID,
		ClientID:       m.ClientID,
		GroupID:        a.GroupID,
		ChitMonth:      a.ChitMonth,
		ChitCount:      m.ChitCount,
		AmountExpected: expected,
		AmountPaid:     decimal.Zero,
		PendingAmount:  expected,
		PaymentDueDate: a.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.Status = DeriveStatus(p.AmountPaid, p.AmountExpected)
	return p
}

// Apply records delta against the payment. Callers guarantee 0 < delta <= PendingAmount.
func (p *Payment) Apply(delta decimal.Decimal, now time.Time) {
	p.AmountPaid = p.AmountPaid.Add(delta)
	p.PendingAmount = p.AmountExpected.Sub(p.AmountPaid)
	p.Status = DeriveStatus(p.AmountPaid, p.AmountExpected)
	p.UpdatedAt = now
}

// Reverse undoes a previously applied amount. AmountPaid is floored at zero.
func (p *Payment) Reverse(amount decimal.Decimal, now time.Time) {
	p.AmountPaid = decimal.Max(p.AmountPaid.Sub(amount), decimal.Zero)
	p.PendingAmount = p.AmountExpected.Sub(p.AmountPaid)
	p.Status = DeriveStatus(p.AmountPaid, p.AmountExpected)
	p.UpdatedAt = now
}

// Reprice sets a new expected amount and keeps AmountPaid. PendingAmount may
// go negative; the overpayment is kept as a credit, see Credit.
func (p *Payment) Reprice(expected decimal.Decimal, now time.Time) {
	p.AmountExpected = expected
	p.PendingAmount = p.AmountExpected.Sub(p.AmountPaid)
	p.Status = DeriveStatus(p.AmountPaid, p.AmountExpected)
	p.UpdatedAt = now
}

// Normalize recomputes the derived fields from AmountExpected and AmountPaid.
// Stores call it on every read so a stale status column can never leak out.
func (p *Payment) Normalize() {
	p.PendingAmount = p.AmountExpected.Sub(p.AmountPaid)
	p.Status = DeriveStatus(p.AmountPaid, p.AmountExpected)
}

// Outstanding reports whether the payment can still receive allocations.
func (p Payment) Outstanding() bool { return p.Status != StatusPaid }

// DisplayPending is PendingAmount floored at zero.
func (p Payment) DisplayPending() decimal.Decimal {
	return decimal.Max(p.PendingAmount, decimal.Zero)
}

// Credit is the amount paid beyond AmountExpected, zero when not overpaid.
func (p Payment) Credit() decimal.Decimal {
	if p.PendingAmount.IsNegative() {
		return p.PendingAmount.Neg()
	}
	return decimal.Zero
}

// =============================================================================
// PAYMENT LOG - Immutable receipt of one allocation step
// =============================================================================

// PaymentLog records the increment applied to one Payment in one allocation
// step. AuctionID, ClientID and GroupID are copied from the payment; they never
// change for a payment, so the copies cannot go stale.
type PaymentLog struct {
	ID          PaymentLogID
	PaymentID   PaymentID
	AuctionID   AuctionID
	ClientID    ClientID
	GroupID     GroupID
	Amount      decimal.Decimal // the increment, not the running total
	PaymentDate time.Time       // operator supplied
	Method      PaymentMethod
	CreatedAt   time.Time
}

// NewPaymentLog builds the receipt for delta applied against p.
func NewPaymentLog(id PaymentLogID, p Payment, delta decimal.Decimal, paidOn time.Time, method PaymentMethod, now time.Time) PaymentLog {
	return PaymentLog{
		ID:          id,
		PaymentID:   p.ID,
		AuctionID:   p.AuctionID,
		ClientID:    p.ClientID,
		GroupID:     p.GroupID,
		Amount:      delta,
		PaymentDate: paidOn,
		Method:      method,
		CreatedAt:   now,
	}
}
