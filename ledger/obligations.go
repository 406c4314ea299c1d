/*
obligations.go - Obligation generator

PURPOSE:
  Turns an auction into one Payment per group member.

PRICING:
  payoutAmount          = chitValue − bidAmount
  agentCommission       = chitValue × commissionPercent / 100
  totalCollectionAmount = payoutAmount + agentCommission
  perMemberContribution = totalCollectionAmount / effectiveMemberCount  (rounded to MoneyPlaces)
  effectiveMemberCount  = Σ chitCount of current members, or the group's
                          nominal count when no members are loaded
  amountExpected        = perMemberContribution × member chitCount

  Example: 100000 pot, 20000 bid, 5%, 20 members
    payout 80000, commission 5000, total 85000, per member 4250

LIFECYCLE:
  Create: auction + one Pending payment per member, committed in chunks with
          the auction in the first chunk.
  Edit:   reprice every existing payment of the auction. The set of obligees
          is fixed at creation; no payment is added or removed.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// ComputeAuctionAmounts prices an auction.
func ComputeAuctionAmounts(chitValue, bid, commissionPercent, effectiveCount decimal.Decimal) (AuctionAmounts, error) {
	if !effectiveCount.IsPositive() {
		return AuctionAmounts{}, invalid("members", "group has no members and no nominal member count")
	}
	payout := chitValue.Sub(bid)
	commission := chitValue.Mul(commissionPercent).Div(hundred)
	total := payout.Add(commission)
	return AuctionAmounts{
		PayoutAmount:          payout,
		AgentCommission:       commission,
		TotalCollectionAmount: total,
		PerMemberContribution: total.DivRound(effectiveCount, MoneyPlaces),
		EffectiveMemberCount:  effectiveCount,
	}, nil
}

// EffectiveMemberCount sums chit counts, falling back to nominal when members is empty.
func EffectiveMemberCount(members []GroupMember, nominal int) decimal.Decimal {
	if len(members) == 0 {
		return decimal.NewFromInt(int64(nominal))
	}
	sum := decimal.Zero
	for _, m := range members {
		sum = sum.Add(m.ChitCount)
	}
	return sum
}

// =============================================================================
// INPUT
// =============================================================================

// AuctionInput carries the operator-supplied fields of an auction.
type AuctionInput struct {
	GroupID     GroupID
	ChitMonth   string // YYYY-MM
	AuctionDate time.Time
	DueDate     time.Time
	Winners     []ClientID // empty for a company bid
	BidAmount   decimal.Decimal
}

// validate checks the input against the group and its members. allowed lists
// winners accepted even if no longer members (the previous winners on edit).
func (in AuctionInput) validate(g Group, members []GroupMember, allowed []ClientID) (ChitMonth, []ClientID, error) {
	month, err := ParseChitMonth(in.ChitMonth)
	if err != nil {
		return "", nil, invalid("chit_month", err.Error())
	}
	switch {
	case in.AuctionDate.IsZero():
		return "", nil, invalid("auction_date", "required")
	case in.DueDate.IsZero():
		return "", nil, invalid("due_date", "required")
	case in.BidAmount.IsNegative():
		return "", nil, invalidAmount("bid_amount", "must not be negative", string(g.ID), in.BidAmount)
	case in.BidAmount.GreaterThan(g.ChitValue):
		return "", nil, invalidAmount("bid_amount", fmt.Sprintf("exceeds chit value %s", g.ChitValue), string(g.ID), in.BidAmount)
	}

	known := make(map[ClientID]bool, len(members)+len(allowed))
	for _, m := range members {
		known[m.ClientID] = true
	}
	for _, c := range allowed {
		known[c] = true
	}
	seen := make(map[ClientID]bool, len(in.Winners))
	var winners []ClientID
	for _, w := range in.Winners {
		if seen[w] {
			continue
		}
		if !known[w] {
			return "", nil, &ValidationError{Field: "winners", Reason: "winner is not a member of the group", EntityID: string(w)}
		}
		seen[w] = true
		winners = append(winners, w)
	}
	return month, winners, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateAuction records an auction and creates one Pending payment per member.
func (s *Service) CreateAuction(ctx context.Context, in AuctionInput) (Auction, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Auction{}, err
	}
	g, err := s.store.GetGroup(ctx, account, in.GroupID)
	if err != nil {
		return Auction{}, notFound(err, "group", string(in.GroupID))
	}
	members, err := s.store.ListMembers(ctx, account, MemberFilter{GroupID: g.ID})
	if err != nil {
		return Auction{}, err
	}
	month, winners, err := in.validate(g, members, nil)
	if err != nil {
		return Auction{}, err
	}
	if err := s.ensureUniqueMonth(ctx, account, g.ID, month, ""); err != nil {
		return Auction{}, err
	}
	amounts, err := ComputeAuctionAmounts(g.ChitValue, in.BidAmount, g.CommissionPercent, EffectiveMemberCount(members, g.MemberCount))
	if err != nil {
		return Auction{}, err
	}

	now := s.now()
	a := Auction{
		ID:             AuctionID(s.newID()),
		GroupID:        g.ID,
		ChitMonth:      month,
		AuctionDate:    in.AuctionDate,
		DueDate:        in.DueDate,
		Winners:        winners,
		BidAmount:      in.BidAmount,
		AuctionAmounts: amounts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mutations := make([]Mutation, 0, len(members)+1)
	mutations = append(mutations, PutAuction(a))
	for _, m := range members {
		mutations = append(mutations, PutPayment(NewPayment(PaymentID(s.newID()), a, m, now)))
	}

	report, err := CommitChunked(ctx, s.store, account, mutations, s.batchLimit)
	if err != nil {
		if report.Chunks == 0 && errors.Is(err, ErrDuplicate) {
			return Auction{}, duplicateMonth(g.ID, month)
		}
		s.logger(account).WithFields(logrus.Fields{
			"auction_id": a.ID,
			"committed":  report.Chunks,
		}).WithError(err).Error("create auction failed")
		return Auction{}, &StoreError{Op: "create_auction", EntityID: string(a.ID), Committed: report.Chunks, Unit: "chunks", Err: err}
	}

	s.logger(account).WithFields(logrus.Fields{
		"auction_id":  a.ID,
		"group_id":    g.ID,
		"chit_month":  month,
		"payments":    len(members),
		"per_member":  amounts.PerMemberContribution.String(),
		"company_bid": a.IsCompanyBid(),
	}).Info("auction created")
	return a, nil
}

// =============================================================================
// EDIT
// =============================================================================

// UpdateAuction edits an auction and reprices its existing payments.
// An auction cannot move to another group.
func (s *Service) UpdateAuction(ctx context.Context, id AuctionID, in AuctionInput) (Auction, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Auction{}, err
	}
	a, err := s.store.GetAuction(ctx, account, id)
	if err != nil {
		return Auction{}, notFound(err, "auction", string(id))
	}
	if in.GroupID == "" {
		in.GroupID = a.GroupID
	}
	if in.GroupID != a.GroupID {
		return Auction{}, &ValidationError{Field: "group_id", Reason: "an auction cannot move to another group", EntityID: string(id)}
	}
	g, err := s.store.GetGroup(ctx, account, a.GroupID)
	if err != nil {
		return Auction{}, notFound(err, "group", string(a.GroupID))
	}
	members, err := s.store.ListMembers(ctx, account, MemberFilter{GroupID: g.ID})
	if err != nil {
		return Auction{}, err
	}
	month, winners, err := in.validate(g, members, a.Winners)
	if err != nil {
		return Auction{}, err
	}
	if month != a.ChitMonth {
		if err := s.ensureUniqueMonth(ctx, account, g.ID, month, a.ID); err != nil {
			return Auction{}, err
		}
	}
	amounts, err := ComputeAuctionAmounts(g.ChitValue, in.BidAmount, g.CommissionPercent, EffectiveMemberCount(members, g.MemberCount))
	if err != nil {
		return Auction{}, err
	}
	payments, err := s.store.ListPayments(ctx, account, PaymentFilter{AuctionID: a.ID})
	if err != nil {
		return Auction{}, err
	}

	now := s.now()
	a.ChitMonth = month
	a.AuctionDate = in.AuctionDate
	a.DueDate = in.DueDate
	a.Winners = winners
	a.BidAmount = in.BidAmount
	a.AuctionAmounts = amounts
	a.UpdatedAt = now

	mutations := make([]Mutation, 0, len(payments)+1)
	mutations = append(mutations, PutAuction(a))
	credits := 0
	for _, p := range payments {
		p.ChitMonth = month
		p.PaymentDueDate = a.DueDate
		p.Reprice(amounts.PerMemberContribution.Mul(p.ChitCount), now)
		if p.PendingAmount.IsNegative() {
			credits++
		}
		mutations = append(mutations, PutPayment(p))
	}

	report, err := CommitChunked(ctx, s.store, account, mutations, s.batchLimit)
	if err != nil {
		if report.Chunks == 0 && errors.Is(err, ErrDuplicate) {
			return Auction{}, duplicateMonth(g.ID, month)
		}
		s.logger(account).WithFields(logrus.Fields{
			"auction_id": a.ID,
			"committed":  report.Chunks,
		}).WithError(err).Error("update auction failed")
		return Auction{}, &StoreError{Op: "update_auction", EntityID: string(a.ID), Committed: report.Chunks, Unit: "chunks", Err: err}
	}

	entry := s.logger(account).WithFields(logrus.Fields{
		"auction_id": a.ID,
		"repriced":   len(payments),
		"per_member": amounts.PerMemberContribution.String(),
	})
	if credits > 0 {
		entry.WithField("credits", credits).Warn("auction edit left payments overpaid")
	} else {
		entry.Info("auction updated")
	}
	return a, nil
}

func (s *Service) ensureUniqueMonth(ctx context.Context, account AccountID, group GroupID, month ChitMonth, self AuctionID) error {
	existing, err := s.store.ListAuctions(ctx, account, AuctionFilter{GroupID: group, ChitMonth: month})
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID != self {
			return duplicateMonth(group, month)
		}
	}
	return nil
}

func duplicateMonth(group GroupID, month ChitMonth) *ValidationError {
	return &ValidationError{
		Field:    "chit_month",
		Reason:   fmt.Sprintf("group already has an auction for %s", month),
		EntityID: string(group),
	}
}
