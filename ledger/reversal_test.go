package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/chit-ledger/ledger"
)

func TestRollbackPayment_RoundTrip(t *testing.T) {
	// GIVEN: 2500 allocated over backlog (1000) and early (1500 of 2000)
	// WHEN: Both logs are rolled back
	// THEN: Every payment is back to Pending with nothing paid and no logs remain

	f := newFixture(t, 0)
	backlog, early, _ := threeObligations(t, f)
	res := f.pay(t, "c-1", "2500")
	require.Len(t, res.Steps, 2)

	second, err := f.svc.RollbackPayment(f.ctx, res.Steps[1].LogID)
	require.NoError(t, err)
	assert.Equal(t, early.ID, second.Payment.ID)
	assert.Equal(t, ledger.StatusPending, second.Payment.Status)
	assert.True(t, second.Removed.Amount.Equal(dec("1500")))

	first, err := f.svc.RollbackPayment(f.ctx, res.Steps[0].LogID)
	require.NoError(t, err)
	assert.Equal(t, backlog.ID, first.Payment.ID)
	assert.True(t, first.Payment.PendingAmount.Equal(dec("1000")))

	logs, err := f.svc.ListPaymentLogs(f.ctx, ledger.LogFilter{ClientID: "c-1"})
	require.NoError(t, err)
	assert.Empty(t, logs)
	payments, err := f.svc.ListPayments(f.ctx, ledger.PaymentFilter{ClientID: "c-1"})
	require.NoError(t, err)
	for _, p := range payments {
		assert.Equal(t, ledger.StatusPending, p.Status)
		assert.True(t, p.AmountPaid.IsZero())
	}
	f.requireConsistent(t)
}

func TestRollbackPayment_OlderLogWhileNewerStands(t *testing.T) {
	// GIVEN: Two receipts of 400 and 300 against one 1000 obligation
	// WHEN: The older 400 receipt is rolled back
	// THEN: Paid is 300, Partial, and the remaining log sums to paid

	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	older := f.pay(t, "c-1", "400")
	f.pay(t, "c-1", "300")

	res, err := f.svc.RollbackPayment(f.ctx, older.Steps[0].LogID)
	require.NoError(t, err)

	got := f.payment(t, p.ID)
	assert.True(t, got.AmountPaid.Equal(dec("300")))
	assert.True(t, got.PendingAmount.Equal(dec("700")))
	assert.Equal(t, ledger.StatusPartial, got.Status)
	assert.Equal(t, got.ID, res.Payment.ID)
	assert.True(t, got.AmountPaid.Equal(res.Payment.AmountPaid))
	f.requireConsistent(t)
}

func TestRollbackPayment_PaidBackToPartial(t *testing.T) {
	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	f.pay(t, "c-1", "600")
	last := f.pay(t, "c-1", "400")
	require.Equal(t, ledger.StatusPaid, f.payment(t, p.ID).Status)

	_, err := f.svc.RollbackPayment(f.ctx, last.Steps[0].LogID)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPartial, f.payment(t, p.ID).Status)
}

func TestRollbackPayment_UnknownLog_NotFound(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.RollbackPayment(f.ctx, "missing")

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "payment_log", nf.Kind)
}

func TestRollbackPayment_PaymentGone_NotFound(t *testing.T) {
	// GIVEN: A log whose payment has been deleted out from under it
	// WHEN: The log is rolled back
	// THEN: NotFound for the payment, and the log is left in place

	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	res := f.pay(t, "c-1", "100")
	require.NoError(t, f.store.Commit(f.ctx, testAccount, []ledger.Mutation{ledger.DeletePayment(p.ID)}))

	_, err := f.svc.RollbackPayment(f.ctx, res.Steps[0].LogID)

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "payment", nf.Kind)
	logs, err := f.svc.ListPaymentLogs(f.ctx, ledger.LogFilter{PaymentID: p.ID})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRollbackPayment_StoreFailure_LeavesBothUntouched(t *testing.T) {
	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	res := f.pay(t, "c-1", "250")
	f.store.FailAfter(0, errors.New("offline"))

	_, err := f.svc.RollbackPayment(f.ctx, res.Steps[0].LogID)

	var se *ledger.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "rollback", se.Op)
	require.NotNil(t, se.Amount)
	assert.True(t, se.Amount.Equal(dec("250")))

	f.store.FailAfter(-1, nil)
	assert.True(t, f.payment(t, p.ID).AmountPaid.Equal(dec("250")))
	f.requireConsistent(t)
}

// racingLocker runs a competing rollback of the same log before granting the lock.
type racingLocker struct {
	rival *ledger.Service
	logID ledger.PaymentLogID
	err   error
	ran   bool
}

func (l *racingLocker) Lock(ctx context.Context, _ string) (func(), error) {
	if !l.ran {
		l.ran = true
		_, l.err = l.rival.RollbackPayment(ctx, l.logID)
	}
	return func() {}, nil
}

func TestRollbackPayment_SameLogTwice_ReversedOnce(t *testing.T) {
	// GIVEN: Receipts of 400 and 300 against one 1000 obligation
	// WHEN: A second rollback of the 400 receipt completes while this one waits for the client lock
	// THEN: This one gets NotFound and the payment is reversed only once

	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	first := f.pay(t, "c-1", "400")
	f.pay(t, "c-1", "300")

	locker := &racingLocker{rival: f.svc, logID: first.Steps[0].LogID}
	svc := ledger.NewService(f.store, ledger.WithLocker(locker), ledger.WithClock(func() time.Time { return march1 }))

	_, err := svc.RollbackPayment(f.ctx, first.Steps[0].LogID)

	require.True(t, locker.ran)
	require.NoError(t, locker.err)
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "payment_log", nf.Kind)

	got := f.payment(t, p.ID)
	assert.True(t, got.AmountPaid.Equal(dec("300")), got.AmountPaid.String())
	assert.Equal(t, ledger.StatusPartial, got.Status)
	f.requireConsistent(t)
}

func TestRollbackPayment_OnCreditedPayment_StaysPaid(t *testing.T) {
	// GIVEN: 600 and 400 paid against 1000, then repriced down to 500
	// WHEN: The 400 receipt is rolled back
	// THEN: Paid 600 still covers 500, so the row stays Paid with a 100 credit

	f := newFixture(t, 0)
	p := f.seedPayment(t, "p-1", "c-1", "g-1", "2024-03", day(2024, time.March, 10), "1000")
	f.pay(t, "c-1", "600")
	last := f.pay(t, "c-1", "400")

	repriced := f.payment(t, p.ID)
	repriced.Reprice(dec("500"), march1)
	require.NoError(t, f.store.Commit(f.ctx, testAccount, []ledger.Mutation{ledger.PutPayment(repriced)}))
	require.True(t, f.payment(t, p.ID).Credit().Equal(dec("500")))

	res, err := f.svc.RollbackPayment(f.ctx, last.Steps[0].LogID)
	require.NoError(t, err)

	got := f.payment(t, p.ID)
	assert.True(t, got.AmountPaid.Equal(dec("600")), got.AmountPaid.String())
	assert.True(t, got.PendingAmount.Equal(dec("-100")), got.PendingAmount.String())
	assert.Equal(t, ledger.StatusPaid, got.Status)
	assert.True(t, got.Credit().Equal(dec("100")))
	assert.True(t, got.DisplayPending().IsZero())
	assert.Equal(t, ledger.StatusPaid, res.Payment.Status)
	f.requireConsistent(t)
}
