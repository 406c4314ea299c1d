/*
store.go - Document store contract

PURPOSE:
  Defines what the ledger needs from persistence: keyed reads, filtered
  queries, and an atomic multi-document batch with a fixed operation ceiling.
  The ledger never talks SQL; any document store that honours this contract
  can back it.

ATOMICITY:
  Commit() is all-or-nothing for the mutations passed in ONE call.
  Nothing is atomic across calls. A batch longer than BatchLimit() is
  rejected with ErrBatchTooLarge; use CommitChunked (batch.go) to split.

SCOPING:
  Every call carries the AccountID. Documents of one account are invisible
  to every other account.

NOT FOUND:
  Get* methods return ErrNotFound (bare) when the keyed document is absent.
  The engines wrap it into a NotFoundError naming the entity.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite via database/sql
*/
package ledger

import "context"

// DefaultBatchLimit is the operation ceiling of one atomic batch.
const DefaultBatchLimit = 500

// =============================================================================
// MUTATIONS
// =============================================================================

type MutationOp int

const (
	OpPut MutationOp = iota
	OpDelete
)

func (o MutationOp) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "put"
}

// Kind names a document collection.
type Kind string

const (
	KindGroup      Kind = "group"
	KindClient     Kind = "client"
	KindMember     Kind = "member"
	KindAuction    Kind = "auction"
	KindPayment    Kind = "payment"
	KindPaymentLog Kind = "payment_log"
)

// Mutation is one write in a batch. For OpPut exactly the pointer matching
// Kind is set; for OpDelete only ID is used.
type Mutation struct {
	Op   MutationOp
	Kind Kind
	ID   string

	Group   *Group
	Client  *Client
	Member  *GroupMember
	Auction *Auction
	Payment *Payment
	Log     *PaymentLog
}

func PutGroup(g Group) Mutation {
	return Mutation{Op: OpPut, Kind: KindGroup, ID: string(g.ID), Group: &g}
}

func DeleteGroup(id GroupID) Mutation {
	return Mutation{Op: OpDelete, Kind: KindGroup, ID: string(id)}
}

func PutClient(c Client) Mutation {
	return Mutation{Op: OpPut, Kind: KindClient, ID: string(c.ID), Client: &c}
}

func PutMember(m GroupMember) Mutation {
	return Mutation{Op: OpPut, Kind: KindMember, ID: string(m.ID), Member: &m}
}

func DeleteMember(id MemberID) Mutation {
	return Mutation{Op: OpDelete, Kind: KindMember, ID: string(id)}
}

func PutAuction(a Auction) Mutation {
	return Mutation{Op: OpPut, Kind: KindAuction, ID: string(a.ID), Auction: &a}
}

func DeleteAuction(id AuctionID) Mutation {
	return Mutation{Op: OpDelete, Kind: KindAuction, ID: string(id)}
}

func PutPayment(p Payment) Mutation {
	return Mutation{Op: OpPut, Kind: KindPayment, ID: string(p.ID), Payment: &p}
}

func DeletePayment(id PaymentID) Mutation {
	return Mutation{Op: OpDelete, Kind: KindPayment, ID: string(id)}
}

func PutPaymentLog(l PaymentLog) Mutation {
	return Mutation{Op: OpPut, Kind: KindPaymentLog, ID: string(l.ID), Log: &l}
}

func DeletePaymentLog(id PaymentLogID) Mutation {
	return Mutation{Op: OpDelete, Kind: KindPaymentLog, ID: string(id)}
}

// =============================================================================
// FILTERS
// =============================================================================

// MemberFilter selects memberships. Zero fields match everything.
type MemberFilter struct {
	GroupID  GroupID
	ClientID ClientID
}

type AuctionFilter struct {
	GroupID   GroupID
	ChitMonth ChitMonth
}

type PaymentFilter struct {
	AuctionID       AuctionID
	ClientID        ClientID
	GroupID         GroupID
	ChitMonth       ChitMonth
	OutstandingOnly bool // status != Paid
}

type LogFilter struct {
	PaymentID PaymentID
	AuctionID AuctionID
	ClientID  ClientID
	GroupID   GroupID
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Reader is the read side of the document store.
type Reader interface {
	GetGroup(ctx context.Context, account AccountID, id GroupID) (Group, error)
	ListGroups(ctx context.Context, account AccountID) ([]Group, error)

	GetClient(ctx context.Context, account AccountID, id ClientID) (Client, error)

	GetMember(ctx context.Context, account AccountID, id MemberID) (GroupMember, error)
	ListMembers(ctx context.Context, account AccountID, f MemberFilter) ([]GroupMember, error)

	GetAuction(ctx context.Context, account AccountID, id AuctionID) (Auction, error)
	// ListAuctions returns auctions ordered by chit month.
	ListAuctions(ctx context.Context, account AccountID, f AuctionFilter) ([]Auction, error)

	GetPayment(ctx context.Context, account AccountID, id PaymentID) (Payment, error)
	// ListPayments returns payments ordered by due date, then id.
	ListPayments(ctx context.Context, account AccountID, f PaymentFilter) ([]Payment, error)

	GetPaymentLog(ctx context.Context, account AccountID, id PaymentLogID) (PaymentLog, error)
	// ListPaymentLogs returns logs ordered by payment date, then creation time.
	ListPaymentLogs(ctx context.Context, account AccountID, f LogFilter) ([]PaymentLog, error)
}

// Committer is the write side: one call, one atomic batch.
type Committer interface {
	// Commit applies all mutations or none. Fails with ErrBatchTooLarge when
	// len(mutations) > BatchLimit(), and ErrDuplicate on a unique-key clash
	// (one auction per group and chit month).
	Commit(ctx context.Context, account AccountID, mutations []Mutation) error

	// BatchLimit is the maximum number of mutations in one Commit.
	BatchLimit() int
}

// Store is everything the ledger needs from persistence.
type Store interface {
	Reader
	Committer
}
