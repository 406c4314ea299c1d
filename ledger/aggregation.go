/*
aggregation.go - Read-only rollups for reporting

PURPOSE:
  Derived views over the current Payment set. Nothing here writes.

VIEWS:
  GroupMonthPending  (groupId, chitMonth) → total pending, distinct clients
                     still owing, auction date for ordering
  ClientPending      clientId → total pending across groups
  ClientStatement    one client: memberships, pending per group, receipt history

CREDITS:
  A payment repriced below what was already paid has a negative pending
  amount. Totals use the floored pending amount and report the overpayment
  separately as credit, so one client's credit never hides another's debt.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PendingFilter narrows aggregation input. Zero fields match everything.
type PendingFilter struct {
	ClientID  ClientID
	GroupID   GroupID
	ChitMonth ChitMonth
}

// GroupMonthPending is the pending total of one group for one chit month.
type GroupMonthPending struct {
	GroupID        GroupID
	GroupName      string
	ChitMonth      ChitMonth
	AuctionID      AuctionID
	AuctionDate    time.Time
	PendingMembers int
	TotalPending   decimal.Decimal
	TotalCredit    decimal.Decimal
}

// ClientPending is the pending total of one client across groups.
type ClientPending struct {
	ClientID        ClientID
	ClientName      string
	OpenObligations int
	TotalPending    decimal.Decimal
	TotalCredit     decimal.Decimal
	OldestDueDate   time.Time
}

// AggregateByGroupMonth groups payments by (group, chit month). Rows with
// neither pending nor credit are omitted. Output is ordered by auction date,
// then group id.
func AggregateByGroupMonth(payments []Payment, auctions map[AuctionID]Auction, groups map[GroupID]Group) []GroupMonthPending {
	type key struct {
		group GroupID
		month ChitMonth
	}
	rows := make(map[key]*GroupMonthPending)
	owing := make(map[key]map[ClientID]bool)

	for _, p := range payments {
		k := key{p.GroupID, p.ChitMonth}
		row, ok := rows[k]
		if !ok {
			row = &GroupMonthPending{
				GroupID:      p.GroupID,
				GroupName:    groups[p.GroupID].Name,
				ChitMonth:    p.ChitMonth,
				AuctionID:    p.AuctionID,
				TotalPending: decimal.Zero,
				TotalCredit:  decimal.Zero,
			}
			if a, ok := auctions[p.AuctionID]; ok {
				row.AuctionDate = a.AuctionDate
			}
			rows[k] = row
			owing[k] = make(map[ClientID]bool)
		}
		row.TotalPending = row.TotalPending.Add(p.DisplayPending())
		row.TotalCredit = row.TotalCredit.Add(p.Credit())
		if p.DisplayPending().IsPositive() {
			owing[k][p.ClientID] = true
		}
	}

	out := make([]GroupMonthPending, 0, len(rows))
	for k, row := range rows {
		if row.TotalPending.IsZero() && row.TotalCredit.IsZero() {
			continue
		}
		row.PendingMembers = len(owing[k])
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AuctionDate.Equal(out[j].AuctionDate) {
			return out[i].AuctionDate.Before(out[j].AuctionDate)
		}
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].ChitMonth < out[j].ChitMonth
	})
	return out
}

// AggregateByClient groups payments by client. Clients with nothing pending
// and no credit are omitted. Output is ordered by total pending, largest first.
func AggregateByClient(payments []Payment, clients map[ClientID]Client) []ClientPending {
	rows := make(map[ClientID]*ClientPending)
	for _, p := range payments {
		row, ok := rows[p.ClientID]
		if !ok {
			row = &ClientPending{
				ClientID:     p.ClientID,
				ClientName:   clients[p.ClientID].Name,
				TotalPending: decimal.Zero,
				TotalCredit:  decimal.Zero,
			}
			rows[p.ClientID] = row
		}
		row.TotalPending = row.TotalPending.Add(p.DisplayPending())
		row.TotalCredit = row.TotalCredit.Add(p.Credit())
		if p.Outstanding() {
			row.OpenObligations++
			if row.OldestDueDate.IsZero() || p.PaymentDueDate.Before(row.OldestDueDate) {
				row.OldestDueDate = p.PaymentDueDate
			}
		}
	}

	out := make([]ClientPending, 0, len(rows))
	for _, row := range rows {
		if row.TotalPending.IsZero() && row.TotalCredit.IsZero() {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalPending.Equal(out[j].TotalPending) {
			return out[i].TotalPending.GreaterThan(out[j].TotalPending)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// =============================================================================
// SERVICE VIEWS
// =============================================================================

// PendingByGroupAndMonth is the group × month pending report.
func (s *Service) PendingByGroupAndMonth(ctx context.Context, f PendingFilter) ([]GroupMonthPending, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, account, PaymentFilter{ClientID: f.ClientID, GroupID: f.GroupID, ChitMonth: f.ChitMonth})
	if err != nil {
		return nil, err
	}
	auctions, err := s.store.ListAuctions(ctx, account, AuctionFilter{GroupID: f.GroupID, ChitMonth: f.ChitMonth})
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(ctx, account)
	if err != nil {
		return nil, err
	}
	return AggregateByGroupMonth(payments, indexAuctions(auctions), indexGroups(groups)), nil
}

// PendingByClient is the per-client pending report.
func (s *Service) PendingByClient(ctx context.Context, f PendingFilter) ([]ClientPending, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, account, PaymentFilter{ClientID: f.ClientID, GroupID: f.GroupID, ChitMonth: f.ChitMonth})
	if err != nil {
		return nil, err
	}
	clients := make(map[ClientID]Client)
	for _, p := range payments {
		if _, done := clients[p.ClientID]; done {
			continue
		}
		c, err := s.store.GetClient(ctx, account, p.ClientID)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		clients[p.ClientID] = c
	}
	return AggregateByClient(payments, clients), nil
}

// =============================================================================
// CLIENT STATEMENT
// =============================================================================

// StatementGroup is one membership of the client.
type StatementGroup struct {
	MemberID  MemberID
	GroupID   GroupID
	GroupName string
	ChitCount decimal.Decimal
	ChitValue decimal.Decimal
}

// StatementPending is the client's pending total in one group.
type StatementPending struct {
	GroupID       GroupID
	GroupName     string
	PendingMonths []ChitMonth
	TotalPending  decimal.Decimal
	TotalCredit   decimal.Decimal
}

// StatementEntry is one receipt.
type StatementEntry struct {
	LogID       PaymentLogID
	PaymentID   PaymentID
	GroupID     GroupID
	GroupName   string
	ChitMonth   ChitMonth
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      PaymentMethod
}

// ClientStatement is the per-member statement.
type ClientStatement struct {
	ClientID       ClientID
	ClientName     string
	Month          ChitMonth // empty when unfiltered
	Groups         []StatementGroup
	PendingByGroup []StatementPending
	History        []StatementEntry // newest first
	TotalPending   decimal.Decimal
}

// BuildStatement assembles a statement from already loaded rows. When month is
// set, pending and history are limited to payments of that chit month.
func BuildStatement(client Client, month ChitMonth, members []GroupMember, payments []Payment, logs []PaymentLog, groups map[GroupID]Group) ClientStatement {
	st := ClientStatement{
		ClientID:     client.ID,
		ClientName:   client.Name,
		Month:        month,
		TotalPending: decimal.Zero,
	}

	for _, m := range members {
		g := groups[m.GroupID]
		st.Groups = append(st.Groups, StatementGroup{
			MemberID:  m.ID,
			GroupID:   m.GroupID,
			GroupName: g.Name,
			ChitCount: m.ChitCount,
			ChitValue: g.ChitValue,
		})
	}
	sort.Slice(st.Groups, func(i, j int) bool { return st.Groups[i].GroupName < st.Groups[j].GroupName })

	byID := make(map[PaymentID]Payment, len(payments))
	pending := make(map[GroupID]*StatementPending)
	var order []GroupID
	for _, p := range payments {
		if month != "" && p.ChitMonth != month {
			continue
		}
		byID[p.ID] = p
		if p.DisplayPending().IsZero() && p.Credit().IsZero() {
			continue
		}
		row, ok := pending[p.GroupID]
		if !ok {
			row = &StatementPending{
				GroupID:      p.GroupID,
				GroupName:    groups[p.GroupID].Name,
				TotalPending: decimal.Zero,
				TotalCredit:  decimal.Zero,
			}
			pending[p.GroupID] = row
			order = append(order, p.GroupID)
		}
		if p.DisplayPending().IsPositive() {
			row.PendingMonths = append(row.PendingMonths, p.ChitMonth)
		}
		row.TotalPending = row.TotalPending.Add(p.DisplayPending())
		row.TotalCredit = row.TotalCredit.Add(p.Credit())
		st.TotalPending = st.TotalPending.Add(p.DisplayPending())
	}
	for _, id := range order {
		st.PendingByGroup = append(st.PendingByGroup, *pending[id])
	}

	for _, l := range logs {
		p, ok := byID[l.PaymentID]
		if !ok {
			continue
		}
		st.History = append(st.History, StatementEntry{
			LogID:       l.ID,
			PaymentID:   l.PaymentID,
			GroupID:     l.GroupID,
			GroupName:   groups[l.GroupID].Name,
			ChitMonth:   p.ChitMonth,
			Amount:      l.Amount,
			PaymentDate: l.PaymentDate,
			Method:      l.Method,
		})
	}
	sort.SliceStable(st.History, func(i, j int) bool {
		return st.History[i].PaymentDate.After(st.History[j].PaymentDate)
	})
	return st
}

// ClientStatement builds the statement of one client, optionally for one month.
func (s *Service) ClientStatement(ctx context.Context, id ClientID, month ChitMonth) (ClientStatement, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return ClientStatement{}, err
	}
	if month != "" {
		if _, err := ParseChitMonth(string(month)); err != nil {
			return ClientStatement{}, invalid("month", err.Error())
		}
	}
	client, err := s.store.GetClient(ctx, account, id)
	if err != nil {
		return ClientStatement{}, notFound(err, "client", string(id))
	}
	members, err := s.store.ListMembers(ctx, account, MemberFilter{ClientID: id})
	if err != nil {
		return ClientStatement{}, err
	}
	payments, err := s.store.ListPayments(ctx, account, PaymentFilter{ClientID: id})
	if err != nil {
		return ClientStatement{}, err
	}
	logs, err := s.store.ListPaymentLogs(ctx, account, LogFilter{ClientID: id})
	if err != nil {
		return ClientStatement{}, err
	}
	groups, err := s.store.ListGroups(ctx, account)
	if err != nil {
		return ClientStatement{}, err
	}
	return BuildStatement(client, month, members, payments, logs, indexGroups(groups)), nil
}

func indexGroups(gs []Group) map[GroupID]Group {
	out := make(map[GroupID]Group, len(gs))
	for _, g := range gs {
		out[g.ID] = g
	}
	return out
}

func indexAuctions(as []Auction) map[AuctionID]Auction {
	out := make(map[AuctionID]Auction, len(as))
	for _, a := range as {
		out[a.ID] = a
	}
	return out
}
