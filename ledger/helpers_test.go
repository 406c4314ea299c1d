package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/chit-ledger/ledger"
	"github.com/warp/chit-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAccount ledger.AccountID = "acct-1"

// march1 is "now" for every test service: the first instant of March 2024.
var march1 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sequentialIDs returns an id generator yielding id-0001, id-0002, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

type fixture struct {
	svc   *ledger.Service
	store *store.Memory
	ctx   context.Context
}

func newFixture(t *testing.T, batchLimit int) *fixture {
	t.Helper()
	mem := store.NewMemory(batchLimit)
	svc := ledger.NewService(mem,
		ledger.WithClock(func() time.Time { return march1 }),
		ledger.WithIDGenerator(sequentialIDs()),
	)
	return &fixture{
		svc:   svc,
		store: mem,
		ctx:   ledger.WithAccount(context.Background(), testAccount),
	}
}

// group creates a 100000 pot, 5% commission group with n clients of one chit each.
func (f *fixture) group(t *testing.T, name string, n int) (ledger.Group, []ledger.Client) {
	t.Helper()
	g, err := f.svc.SaveGroup(f.ctx, ledger.GroupInput{
		Name:              name,
		ChitValue:         dec("100000"),
		CommissionPercent: dec("5"),
		MemberCount:       n,
		StartDate:         day(2024, time.January, 1),
	})
	require.NoError(t, err)

	clients := make([]ledger.Client, 0, n)
	for i := 0; i < n; i++ {
		c, err := f.svc.SaveClient(f.ctx, ledger.Client{
			ID:   ledger.ClientID(fmt.Sprintf("%s-client-%02d", name, i+1)),
			Name: fmt.Sprintf("Client %02d", i+1),
		})
		require.NoError(t, err)
		_, err = f.svc.AddMember(f.ctx, g.ID, c.ID, decimal.NewFromInt(1))
		require.NoError(t, err)
		clients = append(clients, c)
	}
	return g, clients
}

func (f *fixture) auction(t *testing.T, g ledger.Group, month string, due time.Time, bid string) ledger.Auction {
	t.Helper()
	a, err := f.svc.CreateAuction(f.ctx, ledger.AuctionInput{
		GroupID:     g.ID,
		ChitMonth:   month,
		AuctionDate: due.AddDate(0, 0, -5),
		DueDate:     due,
		BidAmount:   dec(bid),
	})
	require.NoError(t, err)
	return a
}

// seedPayment writes a payment directly, bypassing the auction engine.
func (f *fixture) seedPayment(t *testing.T, id string, client ledger.ClientID, group ledger.GroupID, month string, due time.Time, expected string) ledger.Payment {
	t.Helper()
	p := ledger.Payment{
		ID:             ledger.PaymentID(id),
		AuctionID:      ledger.AuctionID("auction-" + id),
		ClientID:       client,
		GroupID:        group,
		ChitMonth:      ledger.ChitMonth(month),
		ChitCount:      decimal.NewFromInt(1),
		AmountExpected: dec(expected),
		AmountPaid:     decimal.Zero,
		PaymentDueDate: due,
	}
	p.Normalize()
	require.NoError(t, f.store.Commit(f.ctx, testAccount, []ledger.Mutation{ledger.PutPayment(p)}))
	return p
}

func (f *fixture) pay(t *testing.T, client ledger.ClientID, amount string) ledger.AllocationResult {
	t.Helper()
	res, err := f.svc.AllocateBulkPayment(f.ctx, ledger.BulkPayment{
		ClientID:    client,
		Amount:      dec(amount),
		PaymentDate: march1,
		Method:      ledger.MethodCash,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) payment(t *testing.T, id ledger.PaymentID) ledger.Payment {
	t.Helper()
	p, err := f.svc.GetPayment(f.ctx, id)
	require.NoError(t, err)
	return p
}

// requireConsistent checks the payment invariants of every stored payment.
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	payments, err := f.svc.ListPayments(f.ctx, ledger.PaymentFilter{})
	require.NoError(t, err)
	for _, p := range payments {
		v, err := f.svc.VerifyPayment(f.ctx, p.ID)
		require.NoError(t, err)
		require.Empty(t, v, "payment %s", p.ID)
	}
}
