package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS PROJECTION
// =============================================================================

// DeriveStatus is the single source of truth for Payment.Status.
//
//	paid <= 0                 -> Pending
//	0 < paid < expected       -> Partial
//	paid >= expected          -> Paid
//
// It is total and idempotent. Pending wins when both paid and expected are zero.
func DeriveStatus(paid, expected decimal.Decimal) PaymentStatus {
	switch {
	case !paid.IsPositive():
		return StatusPending
	case paid.LessThan(expected):
		return StatusPartial
	default:
		return StatusPaid
	}
}

// =============================================================================
// INVARIANT CHECKS
// =============================================================================

// InvariantViolation describes a payment whose stored state disagrees with the
// ledger rules.
type InvariantViolation struct {
	PaymentID PaymentID
	Rule      string
	Detail    string
}

func (v InvariantViolation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.PaymentID, v.Rule, v.Detail)
}

// CheckPayment verifies the three payment invariants against the payment's logs.
// It returns nil when the payment is consistent.
func CheckPayment(p Payment, logs []PaymentLog) []InvariantViolation {
	var out []InvariantViolation

	if !p.AmountPaid.Add(p.PendingAmount).Equal(p.AmountExpected) {
		out = append(out, InvariantViolation{
			PaymentID: p.ID,
			Rule:      "paid_plus_pending",
			Detail:    fmt.Sprintf("%s + %s != %s", p.AmountPaid, p.PendingAmount, p.AmountExpected),
		})
	}

	sum := decimal.Zero
	for _, l := range logs {
		if l.PaymentID != p.ID {
			continue
		}
		sum = sum.Add(l.Amount)
	}
	if !sum.Equal(p.AmountPaid) {
		out = append(out, InvariantViolation{
			PaymentID: p.ID,
			Rule:      "logs_sum",
			Detail:    fmt.Sprintf("logs %s != paid %s", sum, p.AmountPaid),
		})
	}

	if want := DeriveStatus(p.AmountPaid, p.AmountExpected); p.Status != want {
		out = append(out, InvariantViolation{
			PaymentID: p.ID,
			Rule:      "status",
			Detail:    fmt.Sprintf("status %s, derived %s", p.Status, want),
		})
	}
	return out
}
