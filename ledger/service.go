/*
service.go - Operations exposed to the presentation layer

PURPOSE:
  Service is the single entry point callers use. Each method reads the
  account from its context, validates, and only then runs one of the
  engines against the Store.

OPERATIONS:
  CreateAuction / UpdateAuction      obligations.go
  AllocateBulkPayment                allocation.go
  RollbackPayment                    reversal.go
  DeleteAuction / DeleteGroup        cascade.go
  PendingByGroupAndMonth / PendingByClient / ClientStatement   aggregation.go
  Groups, clients, members           this file (plumbing the engines need)

CONCURRENCY:
  Calls are synchronous. The Service holds no mutable state of its own.
  Two allocations for the same client race unless a Locker is configured;
  the store only guarantees atomicity per Commit.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Locker serialises money-moving operations for one key.
type Locker interface {
	// Lock blocks until key is held or fails. release must be called exactly once.
	Lock(ctx context.Context, key string) (release func(), err error)
}

// NopLocker takes no lock.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// Service runs the ledger engines against a Store.
type Service struct {
	store      Store
	log        logrus.FieldLogger
	locker     Locker
	now        func() time.Time
	newID      func() string
	batchLimit int
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }
func WithLocker(l Locker) Option             { return func(s *Service) { s.locker = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithBatchLimit caps chunk size below the store's own limit.
func WithBatchLimit(n int) Option { return func(s *Service) { s.batchLimit = n } }

// NewService wires a Service. Defaults: discard logger, no locker, wall clock, uuid ids.
func NewService(store Store, opts ...Option) *Service {
	discard := logrus.New()
	discard.Out = nopWriter{}
	s := &Service{
		store:  store,
		log:    discard,
		locker: NopLocker{},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if limit := store.BatchLimit(); s.batchLimit <= 0 || (limit > 0 && s.batchLimit > limit) {
		s.batchLimit = limit
	}
	return s
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// BatchLimit is the chunk size used by cascades.
func (s *Service) BatchLimit() int { return s.batchLimit }

func (s *Service) logger(account AccountID) logrus.FieldLogger {
	return s.log.WithField("account", account)
}

// =============================================================================
// GROUPS
// =============================================================================

// GroupInput creates or edits a group. Empty ID creates.
type GroupInput struct {
	ID                GroupID
	Name              string
	ChitValue         decimal.Decimal
	CommissionPercent decimal.Decimal
	MemberCount       int
	StartDate         time.Time
}

func (in GroupInput) validate() error {
	switch {
	case in.Name == "":
		return invalid("name", "required")
	case !in.ChitValue.IsPositive():
		return invalidAmount("chit_value", "must be positive", string(in.ID), in.ChitValue)
	case in.CommissionPercent.IsNegative() || in.CommissionPercent.GreaterThan(decimal.NewFromInt(100)):
		return invalidAmount("commission_percent", "must be between 0 and 100", string(in.ID), in.CommissionPercent)
	case in.MemberCount < 0:
		return invalid("member_count", "must not be negative")
	case in.StartDate.IsZero():
		return invalid("start_date", "required")
	}
	return nil
}

// SaveGroup creates a group, or edits it when in.ID is set.
// Editing a group does not reprice existing auctions.
func (s *Service) SaveGroup(ctx context.Context, in GroupInput) (Group, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Group{}, err
	}
	if err := in.validate(); err != nil {
		return Group{}, err
	}

	now := s.now()
	g := Group{ID: in.ID, CreatedAt: now}
	if in.ID != "" {
		g, err = s.store.GetGroup(ctx, account, in.ID)
		if err != nil {
			return Group{}, notFound(err, "group", string(in.ID))
		}
	} else {
		g.ID = GroupID(s.newID())
	}
	g.Name = in.Name
	g.ChitValue = in.ChitValue
	g.CommissionPercent = in.CommissionPercent
	g.MemberCount = in.MemberCount
	g.StartDate = in.StartDate
	g.UpdatedAt = now

	if err := s.store.Commit(ctx, account, []Mutation{PutGroup(g)}); err != nil {
		return Group{}, &StoreError{Op: "save_group", EntityID: string(g.ID), Unit: "rows", Err: err}
	}
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id GroupID) (Group, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Group{}, err
	}
	g, err := s.store.GetGroup(ctx, account, id)
	return g, notFound(err, "group", string(id))
}

func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListGroups(ctx, account)
}

// =============================================================================
// CLIENTS & MEMBERS
// =============================================================================

// SaveClient creates a client, or edits it when c.ID is already stored.
func (s *Service) SaveClient(ctx context.Context, c Client) (Client, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Client{}, err
	}
	if c.Name == "" {
		return Client{}, invalid("name", "required")
	}
	if c.ID == "" {
		c.ID = ClientID(s.newID())
	}
	if existing, err := s.store.GetClient(ctx, account, c.ID); err == nil {
		c.CreatedAt = existing.CreatedAt
	} else if !IsNotFound(err) {
		return Client{}, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if err := s.store.Commit(ctx, account, []Mutation{PutClient(c)}); err != nil {
		return Client{}, &StoreError{Op: "save_client", EntityID: string(c.ID), Unit: "rows", Err: err}
	}
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, id ClientID) (Client, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Client{}, err
	}
	c, err := s.store.GetClient(ctx, account, id)
	return c, notFound(err, "client", string(id))
}

// AddMember joins a client to a group. Re-adding an existing member updates
// its chit count; obligations already created keep their snapshot.
func (s *Service) AddMember(ctx context.Context, groupID GroupID, clientID ClientID, chitCount decimal.Decimal) (GroupMember, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return GroupMember{}, err
	}
	if !chitCount.IsPositive() {
		return GroupMember{}, invalidAmount("chit_count", "must be positive", string(clientID), chitCount)
	}
	if _, err := s.store.GetGroup(ctx, account, groupID); err != nil {
		return GroupMember{}, notFound(err, "group", string(groupID))
	}
	if _, err := s.store.GetClient(ctx, account, clientID); err != nil {
		return GroupMember{}, notFound(err, "client", string(clientID))
	}

	existing, err := s.store.ListMembers(ctx, account, MemberFilter{GroupID: groupID, ClientID: clientID})
	if err != nil {
		return GroupMember{}, err
	}
	m := GroupMember{ID: MemberID(s.newID()), GroupID: groupID, ClientID: clientID, JoinedAt: s.now()}
	if len(existing) > 0 {
		m = existing[0]
	}
	m.ChitCount = chitCount

	if err := s.store.Commit(ctx, account, []Mutation{PutMember(m)}); err != nil {
		return GroupMember{}, &StoreError{Op: "add_member", EntityID: string(m.ID), Unit: "rows", Err: err}
	}
	return m, nil
}

// RemoveMember deletes the membership only. Historical payments stay.
func (s *Service) RemoveMember(ctx context.Context, id MemberID) error {
	account, err := requireAccount(ctx)
	if err != nil {
		return err
	}
	if _, err := s.store.GetMember(ctx, account, id); err != nil {
		return notFound(err, "member", string(id))
	}
	if err := s.store.Commit(ctx, account, []Mutation{DeleteMember(id)}); err != nil {
		return &StoreError{Op: "remove_member", EntityID: string(id), Unit: "rows", Err: err}
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, f MemberFilter) ([]GroupMember, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, account, f)
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetAuction(ctx context.Context, id AuctionID) (Auction, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Auction{}, err
	}
	a, err := s.store.GetAuction(ctx, account, id)
	return a, notFound(err, "auction", string(id))
}

func (s *Service) ListAuctions(ctx context.Context, f AuctionFilter) ([]Auction, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListAuctions(ctx, account, f)
}

func (s *Service) GetPayment(ctx context.Context, id PaymentID) (Payment, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return Payment{}, err
	}
	p, err := s.store.GetPayment(ctx, account, id)
	return p, notFound(err, "payment", string(id))
}

func (s *Service) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, account, f)
}

func (s *Service) ListPaymentLogs(ctx context.Context, f LogFilter) ([]PaymentLog, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListPaymentLogs(ctx, account, f)
}

// VerifyPayment checks the payment invariants against its stored logs.
func (s *Service) VerifyPayment(ctx context.Context, id PaymentID) ([]InvariantViolation, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPayment(ctx, account, id)
	if err != nil {
		return nil, notFound(err, "payment", string(id))
	}
	logs, err := s.store.ListPaymentLogs(ctx, account, LogFilter{PaymentID: id})
	if err != nil {
		return nil, err
	}
	return CheckPayment(p, logs), nil
}
