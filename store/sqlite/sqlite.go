/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists the chit-fund document collections (groups, clients, members,
  auctions, payments, payment logs) in SQLite. Every row carries its
  account_id; every query filters on it.

ATOMICITY:
  Commit() runs the whole mutation list in one SQL transaction, so a batch
  is all-or-nothing exactly like the document-store contract requires.
  Batches longer than the configured limit are refused before BEGIN.

KEY TABLES:
  chit_groups, clients, group_members, auctions, payments, payment_logs
  All keyed by (account_id, id).

CONSTRAINTS:
  - idx_auctions_group_month: one auction per (account, group, chit month).
    A violation surfaces as ledger.ErrDuplicate.
  - No foreign keys between collections. Payments and logs outlive group
    deletes; cascades are the ledger's job.

ENCODING:
  Money and chit counts are TEXT holding the decimal string; nothing is ever
  stored as a float. Times are UTC TEXT in a fixed-width layout so they sort
  lexically. Auction winners are a JSON array.

READS:
  Payments are normalized on read: pending_amount and status are recomputed
  from amount_expected and amount_paid.

USAGE:
  store, err := sqlite.New("./data/chitledger.db", ledger.DefaultBatchLimit)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/chit-ledger/ledger"
)

// timeLayout is fixed width so TEXT columns order chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	limit int
}

// New creates a new SQLite store with the given database path and batch limit.
// Use ":memory:" for an in-memory database. A limit <= 0 uses
// ledger.DefaultBatchLimit.
func New(dbPath string, limit int) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: ":memory:" is per connection, and SQLite has a single writer anyway
	db.SetMaxOpenConns(1)

	if limit <= 0 {
		limit = ledger.DefaultBatchLimit
	}
	store := &Store{db: db, limit: limit}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) BatchLimit() int { return s.limit }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chit_groups (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		chit_value TEXT NOT NULL,
		commission_percent TEXT NOT NULL,
		member_count INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	CREATE TABLE IF NOT EXISTS clients (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	CREATE TABLE IF NOT EXISTS group_members (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		chit_count TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_group
		ON group_members(account_id, group_id);
	CREATE INDEX IF NOT EXISTS idx_members_client
		ON group_members(account_id, client_id);

	CREATE TABLE IF NOT EXISTS auctions (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		chit_month TEXT NOT NULL,
		auction_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		winners_json TEXT NOT NULL,
		bid_amount TEXT NOT NULL,
		payout_amount TEXT NOT NULL,
		agent_commission TEXT NOT NULL,
		total_collection_amount TEXT NOT NULL,
		per_member_contribution TEXT NOT NULL,
		effective_member_count TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	-- One auction per group per chit month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_auctions_group_month
		ON auctions(account_id, group_id, chit_month);

	CREATE TABLE IF NOT EXISTS payments (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		auction_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		chit_month TEXT NOT NULL,
		chit_count TEXT NOT NULL,
		amount_expected TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		pending_amount TEXT NOT NULL,
		payment_due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	-- Allocation hot path: a client's outstanding rows by due date
	CREATE INDEX IF NOT EXISTS idx_payments_client_due
		ON payments(account_id, client_id, payment_due_date);
	CREATE INDEX IF NOT EXISTS idx_payments_auction
		ON payments(account_id, auction_id);
	CREATE INDEX IF NOT EXISTS idx_payments_group_month
		ON payments(account_id, group_id, chit_month);

	CREATE TABLE IF NOT EXISTS payment_logs (
		account_id TEXT NOT NULL,
		id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		auction_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		method TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_logs_payment
		ON payment_logs(account_id, payment_id);
	CREATE INDEX IF NOT EXISTS idx_logs_client_date
		ON payment_logs(account_id, client_id, payment_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COMMIT (ledger.Committer)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Commit applies mutations in one SQL transaction.
func (s *Store) Commit(ctx context.Context, account ledger.AccountID, mutations []ledger.Mutation) error {
	if len(mutations) > s.limit {
		return fmt.Errorf("%w: %d mutations, limit %d", ledger.ErrBatchTooLarge, len(mutations), s.limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, m := range mutations {
		if err := apply(ctx, sqlTx, account, m); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s %s", ledger.ErrDuplicate, m.Kind, m.ID)
			}
			return fmt.Errorf("failed to %s %s %s: %w", m.Op, m.Kind, m.ID, err)
		}
	}

	return sqlTx.Commit()
}

var tables = map[ledger.Kind]string{
	ledger.KindGroup:      "chit_groups",
	ledger.KindClient:     "clients",
	ledger.KindMember:     "group_members",
	ledger.KindAuction:    "auctions",
	ledger.KindPayment:    "payments",
	ledger.KindPaymentLog: "payment_logs",
}

func apply(ctx context.Context, db execer, account ledger.AccountID, m ledger.Mutation) error {
	if m.Op == ledger.OpDelete {
		table, ok := tables[m.Kind]
		if !ok {
			return fmt.Errorf("unknown kind %q", m.Kind)
		}
		_, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE account_id = ? AND id = ?", account, m.ID)
		return err
	}

	switch {
	case m.Kind == ledger.KindGroup && m.Group != nil:
		return putGroup(ctx, db, account, *m.Group)
	case m.Kind == ledger.KindClient && m.Client != nil:
		return putClient(ctx, db, account, *m.Client)
	case m.Kind == ledger.KindMember && m.Member != nil:
		return putMember(ctx, db, account, *m.Member)
	case m.Kind == ledger.KindAuction && m.Auction != nil:
		return putAuction(ctx, db, account, *m.Auction)
	case m.Kind == ledger.KindPayment && m.Payment != nil:
		return putPayment(ctx, db, account, *m.Payment)
	case m.Kind == ledger.KindPaymentLog && m.Log != nil:
		return putPaymentLog(ctx, db, account, *m.Log)
	}
	return errors.New("missing document")
}

func putGroup(ctx context.Context, db execer, account ledger.AccountID, g ledger.Group) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chit_groups (account_id, id, name, chit_value, commission_percent, member_count,
		                    start_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			name = excluded.name,
			chit_value = excluded.chit_value,
			commission_percent = excluded.commission_percent,
			member_count = excluded.member_count,
			start_date = excluded.start_date,
			updated_at = excluded.updated_at
	`,
		account, g.ID, g.Name, g.ChitValue.String(), g.CommissionPercent.String(), g.MemberCount,
		formatTime(g.StartDate), formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	return err
}

func putClient(ctx context.Context, db execer, account ledger.AccountID, c ledger.Client) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO clients (account_id, id, name, phone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone
	`,
		account, c.ID, c.Name, nullString(c.Phone), formatTime(c.CreatedAt),
	)
	return err
}

func putMember(ctx context.Context, db execer, account ledger.AccountID, m ledger.GroupMember) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_members (account_id, id, group_id, client_id, chit_count, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			chit_count = excluded.chit_count
	`,
		account, m.ID, m.GroupID, m.ClientID, m.ChitCount.String(), formatTime(m.JoinedAt),
	)
	return err
}

func putAuction(ctx context.Context, db execer, account ledger.AccountID, a ledger.Auction) error {
	winners := a.Winners
	if winners == nil {
		winners = []ledger.ClientID{}
	}
	winnersJSON, err := json.Marshal(winners)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO auctions (account_id, id, group_id, chit_month, auction_date, due_date, winners_json,
		                      bid_amount, payout_amount, agent_commission, total_collection_amount,
		                      per_member_contribution, effective_member_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			chit_month = excluded.chit_month,
			auction_date = excluded.auction_date,
			due_date = excluded.due_date,
			winners_json = excluded.winners_json,
			bid_amount = excluded.bid_amount,
			payout_amount = excluded.payout_amount,
			agent_commission = excluded.agent_commission,
			total_collection_amount = excluded.total_collection_amount,
			per_member_contribution = excluded.per_member_contribution,
			effective_member_count = excluded.effective_member_count,
			updated_at = excluded.updated_at
	`,
		account, a.ID, a.GroupID, a.ChitMonth, formatTime(a.AuctionDate), formatTime(a.DueDate), string(winnersJSON),
		a.BidAmount.String(), a.PayoutAmount.String(), a.AgentCommission.String(), a.TotalCollectionAmount.String(),
		a.PerMemberContribution.String(), a.EffectiveMemberCount.String(), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	return err
}

func putPayment(ctx context.Context, db execer, account ledger.AccountID, p ledger.Payment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (account_id, id, auction_id, client_id, group_id, chit_month, chit_count,
		                      amount_expected, amount_paid, pending_amount, payment_due_date, status,
		                      created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, id) DO UPDATE SET
			chit_month = excluded.chit_month,
			amount_expected = excluded.amount_expected,
			amount_paid = excluded.amount_paid,
			pending_amount = excluded.pending_amount,
			payment_due_date = excluded.payment_due_date,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		account, p.ID, p.AuctionID, p.ClientID, p.GroupID, p.ChitMonth, p.ChitCount.String(),
		p.AmountExpected.String(), p.AmountPaid.String(), p.PendingAmount.String(), formatTime(p.PaymentDueDate), p.Status,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return err
}

func putPaymentLog(ctx context.Context, db execer, account ledger.AccountID, l ledger.PaymentLog) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO payment_logs (account_id, id, payment_id, auction_id, client_id, group_id,
		                          amount, payment_date, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		account, l.ID, l.PaymentID, l.AuctionID, l.ClientID, l.GroupID,
		l.Amount.String(), formatTime(l.PaymentDate), l.Method, formatTime(l.CreatedAt),
	)
	return err
}

// =============================================================================
// GROUPS & CLIENTS
// =============================================================================

const groupColumns = `id, name, chit_value, commission_percent, member_count, start_date, created_at, updated_at`

func (s *Store) GetGroup(ctx context.Context, account ledger.AccountID, id ledger.GroupID) (ledger.Group, error) {
	groups, err := s.queryGroups(ctx, "SELECT "+groupColumns+" FROM chit_groups WHERE account_id = ? AND id = ?", account, id)
	if err != nil {
		return ledger.Group{}, err
	}
	if len(groups) == 0 {
		return ledger.Group{}, ledger.ErrNotFound
	}
	return groups[0], nil
}

func (s *Store) ListGroups(ctx context.Context, account ledger.AccountID) ([]ledger.Group, error) {
	return s.queryGroups(ctx, "SELECT "+groupColumns+" FROM chit_groups WHERE account_id = ? ORDER BY name, id", account)
}

func (s *Store) queryGroups(ctx context.Context, query string, args ...any) ([]ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []ledger.Group
	for rows.Next() {
		var (
			g                               ledger.Group
			chitValue, commission           string
			startDate, createdAt, updatedAt string
		)
		if err := rows.Scan(&g.ID, &g.Name, &chitValue, &commission, &g.MemberCount, &startDate, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		col := decodeColumns("group", string(g.ID))
		g.ChitValue = col.decimal("chit_value", chitValue)
		g.CommissionPercent = col.decimal("commission_percent", commission)
		g.StartDate = col.time("start_date", startDate)
		g.CreatedAt = col.time("created_at", createdAt)
		g.UpdatedAt = col.time("updated_at", updatedAt)
		if col.err != nil {
			return nil, col.err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, account ledger.AccountID, id ledger.ClientID) (ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c         ledger.Client
		phone     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, phone, created_at FROM clients WHERE account_id = ? AND id = ?",
		account, id,
	).Scan(&c.ID, &c.Name, &phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Client{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	c.Phone = phone.String
	col := decodeColumns("client", string(c.ID))
	c.CreatedAt = col.time("created_at", createdAt)
	if col.err != nil {
		return ledger.Client{}, col.err
	}
	return c, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

const memberColumns = `id, group_id, client_id, chit_count, joined_at`

func (s *Store) GetMember(ctx context.Context, account ledger.AccountID, id ledger.MemberID) (ledger.GroupMember, error) {
	members, err := s.queryMembers(ctx, "SELECT "+memberColumns+" FROM group_members WHERE account_id = ? AND id = ?", account, id)
	if err != nil {
		return ledger.GroupMember{}, err
	}
	if len(members) == 0 {
		return ledger.GroupMember{}, ledger.ErrNotFound
	}
	return members[0], nil
}

func (s *Store) ListMembers(ctx context.Context, account ledger.AccountID, f ledger.MemberFilter) ([]ledger.GroupMember, error) {
	w := where(account)
	w.eq("group_id", string(f.GroupID))
	w.eq("client_id", string(f.ClientID))
	return s.queryMembers(ctx, "SELECT "+memberColumns+" FROM group_members"+w.sql()+" ORDER BY joined_at, id", w.args...)
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]ledger.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []ledger.GroupMember
	for rows.Next() {
		var (
			m                   ledger.GroupMember
			chitCount, joinedAt string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.ClientID, &chitCount, &joinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		col := decodeColumns("member", string(m.ID))
		m.ChitCount = col.decimal("chit_count", chitCount)
		m.JoinedAt = col.time("joined_at", joinedAt)
		if col.err != nil {
			return nil, col.err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// AUCTIONS
// =============================================================================

const auctionColumns = `id, group_id, chit_month, auction_date, due_date, winners_json, bid_amount,
	payout_amount, agent_commission, total_collection_amount, per_member_contribution,
	effective_member_count, created_at, updated_at`

func (s *Store) GetAuction(ctx context.Context, account ledger.AccountID, id ledger.AuctionID) (ledger.Auction, error) {
	auctions, err := s.queryAuctions(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE account_id = ? AND id = ?", account, id)
	if err != nil {
		return ledger.Auction{}, err
	}
	if len(auctions) == 0 {
		return ledger.Auction{}, ledger.ErrNotFound
	}
	return auctions[0], nil
}

func (s *Store) ListAuctions(ctx context.Context, account ledger.AccountID, f ledger.AuctionFilter) ([]ledger.Auction, error) {
	w := where(account)
	w.eq("group_id", string(f.GroupID))
	w.eq("chit_month", string(f.ChitMonth))
	return s.queryAuctions(ctx, "SELECT "+auctionColumns+" FROM auctions"+w.sql()+" ORDER BY chit_month, group_id", w.args...)
}

func (s *Store) queryAuctions(ctx context.Context, query string, args ...any) ([]ledger.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var auctions []ledger.Auction
	for rows.Next() {
		var (
			a                                         ledger.Auction
			auctionDate, dueDate, winnersJSON         string
			bid, payout, commission, total, perMember string
			effective, createdAt, updatedAt           string
		)
		err := rows.Scan(&a.ID, &a.GroupID, &a.ChitMonth, &auctionDate, &dueDate, &winnersJSON, &bid,
			&payout, &commission, &total, &perMember, &effective, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		if err := json.Unmarshal([]byte(winnersJSON), &a.Winners); err != nil {
			return nil, fmt.Errorf("failed to decode winners of auction %s: %w", a.ID, err)
		}
		col := decodeColumns("auction", string(a.ID))
		a.AuctionDate = col.time("auction_date", auctionDate)
		a.DueDate = col.time("due_date", dueDate)
		a.BidAmount = col.decimal("bid_amount", bid)
		a.PayoutAmount = col.decimal("payout_amount", payout)
		a.AgentCommission = col.decimal("agent_commission", commission)
		a.TotalCollectionAmount = col.decimal("total_collection_amount", total)
		a.PerMemberContribution = col.decimal("per_member_contribution", perMember)
		a.EffectiveMemberCount = col.decimal("effective_member_count", effective)
		a.CreatedAt = col.time("created_at", createdAt)
		a.UpdatedAt = col.time("updated_at", updatedAt)
		if col.err != nil {
			return nil, col.err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, auction_id, client_id, group_id, chit_month, chit_count, amount_expected,
	amount_paid, payment_due_date, created_at, updated_at`

func (s *Store) GetPayment(ctx context.Context, account ledger.AccountID, id ledger.PaymentID) (ledger.Payment, error) {
	payments, err := s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments WHERE account_id = ? AND id = ?", account, id)
	if err != nil {
		return ledger.Payment{}, err
	}
	if len(payments) == 0 {
		return ledger.Payment{}, ledger.ErrNotFound
	}
	return payments[0], nil
}

func (s *Store) ListPayments(ctx context.Context, account ledger.AccountID, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	w := where(account)
	w.eq("auction_id", string(f.AuctionID))
	w.eq("client_id", string(f.ClientID))
	w.eq("group_id", string(f.GroupID))
	w.eq("chit_month", string(f.ChitMonth))
	payments, err := s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments"+w.sql()+" ORDER BY payment_due_date, id", w.args...)
	if err != nil || !f.OutstandingOnly {
		return payments, err
	}
	// status is derived on read, so the outstanding filter runs here rather than in SQL
	open := payments[:0]
	for _, p := range payments {
		if p.Outstanding() {
			open = append(open, p)
		}
	}
	return open, nil
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		var (
			p                             ledger.Payment
			chitCount, expected, paid     string
			dueDate, createdAt, updatedAt string
		)
		err := rows.Scan(&p.ID, &p.AuctionID, &p.ClientID, &p.GroupID, &p.ChitMonth, &chitCount, &expected,
			&paid, &dueDate, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		col := decodeColumns("payment", string(p.ID))
		p.ChitCount = col.decimal("chit_count", chitCount)
		p.AmountExpected = col.decimal("amount_expected", expected)
		p.AmountPaid = col.decimal("amount_paid", paid)
		p.PaymentDueDate = col.time("payment_due_date", dueDate)
		p.CreatedAt = col.time("created_at", createdAt)
		p.UpdatedAt = col.time("updated_at", updatedAt)
		if col.err != nil {
			return nil, col.err
		}
		p.Normalize()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// PAYMENT LOGS
// =============================================================================

const logColumns = `id, payment_id, auction_id, client_id, group_id, amount, payment_date, method, created_at`

func (s *Store) GetPaymentLog(ctx context.Context, account ledger.AccountID, id ledger.PaymentLogID) (ledger.PaymentLog, error) {
	logs, err := s.queryLogs(ctx, "SELECT "+logColumns+" FROM payment_logs WHERE account_id = ? AND id = ?", account, id)
	if err != nil {
		return ledger.PaymentLog{}, err
	}
	if len(logs) == 0 {
		return ledger.PaymentLog{}, ledger.ErrNotFound
	}
	return logs[0], nil
}

func (s *Store) ListPaymentLogs(ctx context.Context, account ledger.AccountID, f ledger.LogFilter) ([]ledger.PaymentLog, error) {
	w := where(account)
	w.eq("payment_id", string(f.PaymentID))
	w.eq("auction_id", string(f.AuctionID))
	w.eq("client_id", string(f.ClientID))
	w.eq("group_id", string(f.GroupID))
	return s.queryLogs(ctx, "SELECT "+logColumns+" FROM payment_logs"+w.sql()+" ORDER BY payment_date, created_at, id", w.args...)
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]ledger.PaymentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment logs: %w", err)
	}
	defer rows.Close()

	var logs []ledger.PaymentLog
	for rows.Next() {
		var (
			l                              ledger.PaymentLog
			amount, paymentDate, createdAt string
		)
		err := rows.Scan(&l.ID, &l.PaymentID, &l.AuctionID, &l.ClientID, &l.GroupID, &amount, &paymentDate, &l.Method, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment log: %w", err)
		}
		col := decodeColumns("payment log", string(l.ID))
		l.Amount = col.decimal("amount", amount)
		l.PaymentDate = col.time("payment_date", paymentDate)
		l.CreatedAt = col.time("created_at", createdAt)
		if col.err != nil {
			return nil, col.err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// clause accumulates "col = ?" conditions, skipping empty values.
type clause struct {
	conds []string
	args  []any
}

func where(account ledger.AccountID) *clause {
	return &clause{conds: []string{"account_id = ?"}, args: []any{account}}
}

func (c *clause) eq(column, value string) {
	if value == "" {
		return
	}
	c.conds = append(c.conds, column+" = ?")
	c.args = append(c.args, value)
}

func (c *clause) sql() string {
	return " WHERE " + strings.Join(c.conds, " AND ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// columnDecoder parses the TEXT columns of one row and keeps the first error.
type columnDecoder struct {
	entity, id string
	err        error
}

func decodeColumns(entity, id string) *columnDecoder {
	return &columnDecoder{entity: entity, id: id}
}

func (c *columnDecoder) fail(column string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("failed to decode %s of %s %s: %w", column, c.entity, c.id, err)
	}
}

func (c *columnDecoder) time(column, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		c.fail(column, err)
	}
	return t
}

func (c *columnDecoder) decimal(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		c.fail(column, err)
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
