/*
allocation.go - Bulk payment allocation

PURPOSE:
  Spreads one lump sum received from a client across that client's
  outstanding payments, in every group.

ORDER (must be reproduced exactly):
  1. backlog: due date strictly before the first day of the current month
  2. current: due date on or after it
  Each partition ascending by due date; backlog first. Ties break on chit
  month, then payment id, so a run is deterministic.

STEP:
  delta = min(remaining, row.pendingAmount)
  row.amountPaid += delta, row.pendingAmount -= delta, status re-derived,
  one PaymentLog{amount: delta}. Row update and log insert commit together
  as one atomic batch.

FAILURE:
  Validation (amount > 0, amount <= total outstanding) runs before anything
  is written. A store failure mid-run returns a StoreError whose Committed
  field counts the rows fully applied; later rows are untouched.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BulkPayment is one lump sum received from a client.
type BulkPayment struct {
	ClientID    ClientID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      PaymentMethod
}

// AllocationStep is one row touched by an allocation.
type AllocationStep struct {
	PaymentID    PaymentID
	LogID        PaymentLogID
	GroupID      GroupID
	ChitMonth    ChitMonth
	DueDate      time.Time
	Amount       decimal.Decimal
	PendingAfter decimal.Decimal
	Status       PaymentStatus
}

// AllocationResult lists the rows touched, in application order.
type AllocationResult struct {
	ClientID ClientID
	Amount   decimal.Decimal
	Steps    []AllocationStep
}

// OrderForAllocation returns payments in allocation order relative to now.
// The input slice is not modified.
func OrderForAllocation(payments []Payment, now time.Time) []Payment {
	cutoff := StartOfMonth(now)
	var backlog, current []Payment
	for _, p := range payments {
		if p.PaymentDueDate.Before(cutoff) {
			backlog = append(backlog, p)
		} else {
			current = append(current, p)
		}
	}
	sortByDue(backlog)
	sortByDue(current)
	return append(backlog, current...)
}

func sortByDue(ps []Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if !a.PaymentDueDate.Equal(b.PaymentDueDate) {
			return a.PaymentDueDate.Before(b.PaymentDueDate)
		}
		if a.ChitMonth != b.ChitMonth {
			return a.ChitMonth < b.ChitMonth
		}
		return a.ID < b.ID
	})
}

// TotalOutstanding sums the pending amount of payments that are not Paid.
func TotalOutstanding(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Outstanding() {
			total = total.Add(p.DisplayPending())
		}
	}
	return total
}

// AllocateBulkPayment distributes in.Amount over the client's outstanding payments.
func (s *Service) AllocateBulkPayment(ctx context.Context, in BulkPayment) (AllocationResult, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return AllocationResult{}, err
	}
	switch {
	case in.ClientID == "":
		return AllocationResult{}, invalid("client_id", "required")
	case !in.Amount.IsPositive():
		return AllocationResult{}, invalidAmount("amount", "must be positive", string(in.ClientID), in.Amount)
	case !in.Method.Valid():
		return AllocationResult{}, &ValidationError{Field: "method", Reason: fmt.Sprintf("unknown payment method %q", in.Method), EntityID: string(in.ClientID)}
	case in.PaymentDate.IsZero():
		return AllocationResult{}, invalid("payment_date", "required")
	}

	release, err := s.locker.Lock(ctx, clientLockKey(account, in.ClientID))
	if err != nil {
		return AllocationResult{}, fmt.Errorf("lock client %s: %w", in.ClientID, err)
	}
	defer release()

	outstanding, err := s.store.ListPayments(ctx, account, PaymentFilter{ClientID: in.ClientID, OutstandingOnly: true})
	if err != nil {
		return AllocationResult{}, err
	}
	if total := TotalOutstanding(outstanding); in.Amount.GreaterThan(total) {
		return AllocationResult{}, invalidAmount("amount", fmt.Sprintf("exceeds outstanding balance %s", total), string(in.ClientID), in.Amount)
	}

	now := s.now()
	result := AllocationResult{ClientID: in.ClientID, Amount: in.Amount}
	remaining := in.Amount

	for _, p := range OrderForAllocation(outstanding, now) {
		if !remaining.IsPositive() {
			break
		}
		delta := decimal.Min(remaining, p.PendingAmount)
		if !delta.IsPositive() {
			continue
		}
		p.Apply(delta, now)
		entry := NewPaymentLog(PaymentLogID(s.newID()), p, delta, in.PaymentDate, in.Method, now)

		if err := s.store.Commit(ctx, account, []Mutation{PutPayment(p), PutPaymentLog(entry)}); err != nil {
			s.logger(account).WithFields(logrus.Fields{
				"client_id":  in.ClientID,
				"payment_id": p.ID,
				"amount":     in.Amount.String(),
				"committed":  len(result.Steps),
			}).WithError(err).Error("allocation stopped part way")
			amount := in.Amount
			return result, &StoreError{
				Op:        "allocate",
				EntityID:  string(in.ClientID),
				Amount:    &amount,
				Committed: len(result.Steps),
				Unit:      "rows",
				Err:       err,
			}
		}

		remaining = remaining.Sub(delta)
		result.Steps = append(result.Steps, AllocationStep{
			PaymentID:    p.ID,
			LogID:        entry.ID,
			GroupID:      p.GroupID,
			ChitMonth:    p.ChitMonth,
			DueDate:      p.PaymentDueDate,
			Amount:       delta,
			PendingAfter: p.PendingAmount,
			Status:       p.Status,
		})
	}

	s.logger(account).WithFields(logrus.Fields{
		"client_id": in.ClientID,
		"amount":    in.Amount.String(),
		"rows":      len(result.Steps),
		"method":    in.Method,
	}).Info("bulk payment allocated")
	return result, nil
}

func clientLockKey(account AccountID, client ClientID) string {
	return fmt.Sprintf("chitledger:%s:client:%s", account, client)
}
