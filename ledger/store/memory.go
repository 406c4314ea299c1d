// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/chit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every account's documents in maps. Commit is atomic: the
// account's documents are snapshotted, the batch applied, and the snapshot
// restored if any mutation fails.
type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.AccountID]*documents
	limit    int

	// failure injection
	commits   int
	failAfter int
	failErr   error
}

type documents struct {
	groups   map[ledger.GroupID]ledger.Group
	clients  map[ledger.ClientID]ledger.Client
	members  map[ledger.MemberID]ledger.GroupMember
	auctions map[ledger.AuctionID]ledger.Auction
	payments map[ledger.PaymentID]ledger.Payment
	logs     map[ledger.PaymentLogID]ledger.PaymentLog
}

func newDocuments() *documents {
	return &documents{
		groups:   make(map[ledger.GroupID]ledger.Group),
		clients:  make(map[ledger.ClientID]ledger.Client),
		members:  make(map[ledger.MemberID]ledger.GroupMember),
		auctions: make(map[ledger.AuctionID]ledger.Auction),
		payments: make(map[ledger.PaymentID]ledger.Payment),
		logs:     make(map[ledger.PaymentLogID]ledger.PaymentLog),
	}
}

// NewMemory returns an empty store with the given batch limit.
// A limit <= 0 uses ledger.DefaultBatchLimit.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = ledger.DefaultBatchLimit
	}
	return &Memory{
		accounts:  make(map[ledger.AccountID]*documents),
		limit:     limit,
		failAfter: -1,
	}
}

func (m *Memory) BatchLimit() int { return m.limit }

// FailAfter makes every Commit fail with err once n commits have succeeded.
// FailAfter(-1, nil) turns injection off.
func (m *Memory) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = 0
	m.failAfter = n
	m.failErr = err
}

// Commits is the number of successful Commit calls since the last FailAfter.
func (m *Memory) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// view returns the account's documents for reading. Caller holds mu.
func (m *Memory) view(account ledger.AccountID) *documents {
	if d, ok := m.accounts[account]; ok {
		return d
	}
	return empty
}

var empty = newDocuments()

// docs returns the account's documents, creating them. Caller holds mu for writing.
func (m *Memory) docs(account ledger.AccountID) *documents {
	d, ok := m.accounts[account]
	if !ok {
		d = newDocuments()
		m.accounts[account] = d
	}
	return d
}

// =============================================================================
// COMMIT
// =============================================================================

func (m *Memory) Commit(_ context.Context, account ledger.AccountID, mutations []ledger.Mutation) error {
	if len(mutations) > m.limit {
		return fmt.Errorf("%w: %d mutations, limit %d", ledger.ErrBatchTooLarge, len(mutations), m.limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAfter >= 0 && m.commits >= m.failAfter {
		return m.failErr
	}

	d := m.docs(account)
	snapshot := d.clone()
	for _, mut := range mutations {
		if err := d.apply(mut); err != nil {
			m.accounts[account] = snapshot
			return err
		}
	}
	m.commits++
	return nil
}

func (d *documents) apply(mu ledger.Mutation) error {
	if mu.Op == ledger.OpDelete {
		switch mu.Kind {
		case ledger.KindGroup:
			delete(d.groups, ledger.GroupID(mu.ID))
		case ledger.KindClient:
			delete(d.clients, ledger.ClientID(mu.ID))
		case ledger.KindMember:
			delete(d.members, ledger.MemberID(mu.ID))
		case ledger.KindAuction:
			delete(d.auctions, ledger.AuctionID(mu.ID))
		case ledger.KindPayment:
			delete(d.payments, ledger.PaymentID(mu.ID))
		case ledger.KindPaymentLog:
			delete(d.logs, ledger.PaymentLogID(mu.ID))
		default:
			return fmt.Errorf("delete %s: unknown kind", mu.Kind)
		}
		return nil
	}

	switch {
	case mu.Kind == ledger.KindGroup && mu.Group != nil:
		d.groups[mu.Group.ID] = *mu.Group
	case mu.Kind == ledger.KindClient && mu.Client != nil:
		d.clients[mu.Client.ID] = *mu.Client
	case mu.Kind == ledger.KindMember && mu.Member != nil:
		d.members[mu.Member.ID] = *mu.Member
	case mu.Kind == ledger.KindAuction && mu.Auction != nil:
		for id, other := range d.auctions {
			if id != mu.Auction.ID && other.GroupID == mu.Auction.GroupID && other.ChitMonth == mu.Auction.ChitMonth {
				return fmt.Errorf("%w: group %s month %s", ledger.ErrDuplicate, other.GroupID, other.ChitMonth)
			}
		}
		d.auctions[mu.Auction.ID] = copyAuction(*mu.Auction)
	case mu.Kind == ledger.KindPayment && mu.Payment != nil:
		d.payments[mu.Payment.ID] = *mu.Payment
	case mu.Kind == ledger.KindPaymentLog && mu.Log != nil:
		d.logs[mu.Log.ID] = *mu.Log
	default:
		return fmt.Errorf("put %s %s: missing document", mu.Kind, mu.ID)
	}
	return nil
}

func (d *documents) clone() *documents {
	c := newDocuments()
	for k, v := range d.groups {
		c.groups[k] = v
	}
	for k, v := range d.clients {
		c.clients[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	for k, v := range d.auctions {
		c.auctions[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.logs {
		c.logs[k] = v
	}
	return c
}

func copyAuction(a ledger.Auction) ledger.Auction {
	a.Winners = append([]ledger.ClientID(nil), a.Winners...)
	return a
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetGroup(_ context.Context, account ledger.AccountID, id ledger.GroupID) (ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.view(account).groups[id]
	if !ok {
		return ledger.Group{}, ledger.ErrNotFound
	}
	return g, nil
}

func (m *Memory) ListGroups(_ context.Context, account ledger.AccountID) ([]ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Group
	for _, g := range m.view(account).groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetClient(_ context.Context, account ledger.AccountID, id ledger.ClientID) (ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.view(account).clients[id]
	if !ok {
		return ledger.Client{}, ledger.ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetMember(_ context.Context, account ledger.AccountID, id ledger.MemberID) (ledger.GroupMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gm, ok := m.view(account).members[id]
	if !ok {
		return ledger.GroupMember{}, ledger.ErrNotFound
	}
	return gm, nil
}

func (m *Memory) ListMembers(_ context.Context, account ledger.AccountID, f ledger.MemberFilter) ([]ledger.GroupMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.GroupMember
	for _, gm := range m.view(account).members {
		if f.GroupID != "" && gm.GroupID != f.GroupID {
			continue
		}
		if f.ClientID != "" && gm.ClientID != f.ClientID {
			continue
		}
		out = append(out, gm)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetAuction(_ context.Context, account ledger.AccountID, id ledger.AuctionID) (ledger.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.view(account).auctions[id]
	if !ok {
		return ledger.Auction{}, ledger.ErrNotFound
	}
	return copyAuction(a), nil
}

func (m *Memory) ListAuctions(_ context.Context, account ledger.AccountID, f ledger.AuctionFilter) ([]ledger.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Auction
	for _, a := range m.view(account).auctions {
		if f.GroupID != "" && a.GroupID != f.GroupID {
			continue
		}
		if f.ChitMonth != "" && a.ChitMonth != f.ChitMonth {
			continue
		}
		out = append(out, copyAuction(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChitMonth != out[j].ChitMonth {
			return out[i].ChitMonth < out[j].ChitMonth
		}
		return out[i].GroupID < out[j].GroupID
	})
	return out, nil
}

func (m *Memory) GetPayment(_ context.Context, account ledger.AccountID, id ledger.PaymentID) (ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.view(account).payments[id]
	if !ok {
		return ledger.Payment{}, ledger.ErrNotFound
	}
	p.Normalize()
	return p, nil
}

func (m *Memory) ListPayments(_ context.Context, account ledger.AccountID, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for _, p := range m.view(account).payments {
		p.Normalize()
		switch {
		case f.AuctionID != "" && p.AuctionID != f.AuctionID,
			f.ClientID != "" && p.ClientID != f.ClientID,
			f.GroupID != "" && p.GroupID != f.GroupID,
			f.ChitMonth != "" && p.ChitMonth != f.ChitMonth,
			f.OutstandingOnly && !p.Outstanding():
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDueDate.Equal(out[j].PaymentDueDate) {
			return out[i].PaymentDueDate.Before(out[j].PaymentDueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetPaymentLog(_ context.Context, account ledger.AccountID, id ledger.PaymentLogID) (ledger.PaymentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.view(account).logs[id]
	if !ok {
		return ledger.PaymentLog{}, ledger.ErrNotFound
	}
	return l, nil
}

func (m *Memory) ListPaymentLogs(_ context.Context, account ledger.AccountID, f ledger.LogFilter) ([]ledger.PaymentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.PaymentLog
	for _, l := range m.view(account).logs {
		switch {
		case f.PaymentID != "" && l.PaymentID != f.PaymentID,
			f.AuctionID != "" && l.AuctionID != f.AuctionID,
			f.ClientID != "" && l.ClientID != f.ClientID,
			f.GroupID != "" && l.GroupID != f.GroupID:
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.Before(out[j].PaymentDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ ledger.Store = (*Memory)(nil)
