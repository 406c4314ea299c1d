package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// REVERSAL - Undo one allocation step
// =============================================================================

// RollbackResult is the payment after reversal and the log that was removed.
type RollbackResult struct {
	Payment Payment
	Removed PaymentLog
}

// RollbackPayment undoes the effect of one PaymentLog on its payment and
// deletes the log. The payment update and the log delete commit as one
// atomic batch.
//
// Logs are independent signed adjustments: an older log may be reversed while
// newer ones on the same payment stand. AmountPaid is floored at zero and the
// status is re-derived, so the sums stay consistent in any order.
//
// The log is read again once the client lock is held, so two rollbacks of
// the same log reverse it once and the second gets NotFound.
func (s *Service) RollbackPayment(ctx context.Context, id PaymentLogID) (RollbackResult, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return RollbackResult{}, err
	}
	entry, err := s.store.GetPaymentLog(ctx, account, id)
	if err != nil {
		return RollbackResult{}, notFound(err, "payment_log", string(id))
	}

	release, err := s.locker.Lock(ctx, clientLockKey(account, entry.ClientID))
	if err != nil {
		return RollbackResult{}, fmt.Errorf("lock client %s: %w", entry.ClientID, err)
	}
	defer release()

	if entry, err = s.store.GetPaymentLog(ctx, account, id); err != nil {
		return RollbackResult{}, notFound(err, "payment_log", string(id))
	}

	p, err := s.store.GetPayment(ctx, account, entry.PaymentID)
	if err != nil {
		return RollbackResult{}, notFound(err, "payment", string(entry.PaymentID))
	}

	before := p.Status
	p.Reverse(entry.Amount, s.now())

	if err := s.store.Commit(ctx, account, []Mutation{PutPayment(p), DeletePaymentLog(entry.ID)}); err != nil {
		s.logger(account).WithFields(logrus.Fields{
			"payment_log_id": entry.ID,
			"payment_id":     p.ID,
			"amount":         entry.Amount.String(),
		}).WithError(err).Error("rollback failed")
		amount := entry.Amount
		return RollbackResult{}, &StoreError{Op: "rollback", EntityID: string(entry.ID), Amount: &amount, Unit: "rows", Err: err}
	}

	s.logger(account).WithFields(logrus.Fields{
		"payment_log_id": entry.ID,
		"payment_id":     p.ID,
		"amount":         entry.Amount.String(),
		"status_before":  before,
		"status_after":   p.Status,
	}).Info("payment rolled back")
	return RollbackResult{Payment: p, Removed: entry}, nil
}
