package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// STATUS PROJECTION
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		paid, expected string
		want           PaymentStatus
	}{
		{"0", "4250", StatusPending},
		{"-10", "4250", StatusPending},
		{"0.01", "4250", StatusPartial},
		{"4249.99", "4250", StatusPartial},
		{"4250", "4250", StatusPaid},
		{"5000", "4250", StatusPaid},
		{"0", "0", StatusPending},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_of_%s", tt.paid, tt.expected), func(t *testing.T) {
			got := DeriveStatus(d(tt.paid), d(tt.expected))
			assert.Equal(t, tt.want, got)
			// idempotent
			assert.Equal(t, got, DeriveStatus(d(tt.paid), d(tt.expected)))
		})
	}
}

// =============================================================================
// PAYMENT MUTATORS
// =============================================================================

func newTestPayment(expected string) Payment {
	a := Auction{ID: "a-1", GroupID: "g-1", ChitMonth: "2024-03", DueDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}
	a.PerMemberContribution = d(expected)
	return NewPayment("p-1", a, GroupMember{ClientID: "c-1", ChitCount: decimal.NewFromInt(1)}, time.Time{})
}

func TestPayment_ApplyAndReverse_KeepSums(t *testing.T) {
	// GIVEN: A 4250 obligation
	// WHEN: 1000 then 3250 are applied, then 1000 reversed
	// THEN: paid + pending == expected after every step and status follows

	p := newTestPayment("4250")
	assert.Equal(t, StatusPending, p.Status)
	assert.True(t, p.PendingAmount.Equal(d("4250")))

	p.Apply(d("1000"), time.Time{})
	assert.Equal(t, StatusPartial, p.Status)
	assert.True(t, p.PendingAmount.Equal(d("3250")))

	p.Apply(d("3250"), time.Time{})
	assert.Equal(t, StatusPaid, p.Status)
	assert.True(t, p.PendingAmount.IsZero())

	p.Reverse(d("1000"), time.Time{})
	assert.Equal(t, StatusPartial, p.Status)
	assert.True(t, p.AmountPaid.Add(p.PendingAmount).Equal(p.AmountExpected))
}

func TestPayment_Reverse_FloorsAtZero(t *testing.T) {
	p := newTestPayment("100")
	p.Apply(d("30"), time.Time{})

	p.Reverse(d("50"), time.Time{})

	assert.True(t, p.AmountPaid.IsZero())
	assert.True(t, p.PendingAmount.Equal(d("100")))
	assert.Equal(t, StatusPending, p.Status)
}

func TestPayment_RepriceBelowPaid_KeepsCredit(t *testing.T) {
	// GIVEN: A fully paid 4250 obligation
	// WHEN: The auction is repriced to 3750
	// THEN: Pending is -500, status stays Paid, credit is 500, display pending is 0

	p := newTestPayment("4250")
	p.Apply(d("4250"), time.Time{})

	p.Reprice(d("3750"), time.Time{})

	assert.True(t, p.PendingAmount.Equal(d("-500")))
	assert.Equal(t, StatusPaid, p.Status)
	assert.True(t, p.Credit().Equal(d("500")))
	assert.True(t, p.DisplayPending().IsZero())
	assert.False(t, p.Outstanding())
}

func TestPayment_Normalize_RepairsStaleFields(t *testing.T) {
	p := newTestPayment("1000")
	p.AmountPaid = d("400")
	p.Status = StatusPaid
	p.PendingAmount = d("1")

	p.Normalize()

	assert.Equal(t, StatusPartial, p.Status)
	assert.True(t, p.PendingAmount.Equal(d("600")))
}

// =============================================================================
// INVARIANT CHECKS
// =============================================================================

func TestCheckPayment(t *testing.T) {
	p := newTestPayment("1000")
	p.Apply(d("600"), time.Time{})
	logs := []PaymentLog{
		NewPaymentLog("l-1", p, d("400"), time.Time{}, MethodCash, time.Time{}),
		NewPaymentLog("l-2", p, d("200"), time.Time{}, MethodOnline, time.Time{}),
		{ID: "other", PaymentID: "p-2", Amount: d("999")},
	}

	t.Run("consistent", func(t *testing.T) {
		assert.Empty(t, CheckPayment(p, logs))
	})

	t.Run("logs do not sum to paid", func(t *testing.T) {
		v := CheckPayment(p, logs[:1])
		require.Len(t, v, 1)
		assert.Equal(t, "logs_sum", v[0].Rule)
	})

	t.Run("stale status and pending", func(t *testing.T) {
		bad := p
		bad.Status = StatusPaid
		bad.PendingAmount = d("0")
		rules := map[string]bool{}
		for _, v := range CheckPayment(bad, logs) {
			rules[v.Rule] = true
		}
		assert.True(t, rules["status"])
		assert.True(t, rules["paid_plus_pending"])
	})
}

// =============================================================================
// CHIT MONTH
// =============================================================================

func TestParseChitMonth(t *testing.T) {
	m, err := ParseChitMonth("2024-03")
	require.NoError(t, err)
	assert.Equal(t, ChitMonth("2024-03"), m)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), m.Start())

	for _, bad := range []string{"", "2024-3x", "2024/03", "2024-13", "March"} {
		_, err := ParseChitMonth(bad)
		assert.Error(t, err, bad)
	}
}

func TestStartOfMonth(t *testing.T) {
	got := StartOfMonth(time.Date(2024, 3, 17, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrors_Classification(t *testing.T) {
	cause := errors.New("disk full")
	amount := d("1500")

	tests := []struct {
		name       string
		err        error
		client     bool
		notFound   bool
		retryable  bool
		wantStore  bool
		wantString string
	}{
		{"validation", invalidAmount("amount", "must be positive", "c-1", d("-1")), true, false, false, false, "invalid amount"},
		{"not found", notFound(ErrNotFound, "auction", "a-9"), false, true, false, false, "auction a-9 not found"},
		{"allocate partial", &StoreError{Op: "allocate", Committed: 2, Unit: "rows", Amount: &amount, Err: cause}, false, false, false, true, "2 rows committed"},
		{"cascade before first chunk", &StoreError{Op: "delete_auction", Committed: 0, Unit: "chunks", Err: cause}, false, false, true, true, "0 chunks committed"},
		{"no account", ErrNoAccount, false, false, false, false, "no account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.client, IsClientError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.wantStore, errors.Is(tt.err, ErrStore))
			assert.Contains(t, tt.err.Error(), tt.wantString)
		})
	}
}

func TestStoreError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&StoreError{Op: "rollback", Unit: "rows", Err: cause})

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
}

func TestNotFound_PassesOtherErrorsThrough(t *testing.T) {
	other := errors.New("boom")
	assert.Same(t, other, notFound(other, "group", "g-1"))
	assert.NoError(t, notFound(nil, "group", "g-1"))

	var nf *NotFoundError
	require.ErrorAs(t, notFound(ErrNotFound, "group", "g-1"), &nf)
	assert.Equal(t, "group", nf.Kind)
}
