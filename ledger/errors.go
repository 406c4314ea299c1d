/*
errors.go - Error kinds of the payment ledger

ERROR CATEGORIES:
  1. ValidationError - bad input, rejected before any mutation
  2. NotFoundError   - referenced auction/payment/log/group/member is absent
  3. StoreError      - an atomic write failed after a mutation sequence began

PARTIAL FAILURE:
  A StoreError carries how many units (rows or chunks) had already committed.
  Allocation and reversal are NOT idempotent: re-running the same amount after
  a partial failure applies money twice. Callers must re-read the ledger and
  reconcile instead of retrying. The core never retries on its own.

USAGE:
  if errors.Is(err, ledger.ErrValidation) { ... 400 ... }

  var se *ledger.StoreError
  if errors.As(err, &se) {
      log.Printf("%d %s committed before failure", se.Committed, se.Unit)
  }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the sentinel behind every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the sentinel behind every NotFoundError.
	// Stores return it (bare) when a keyed document is absent.
	ErrNotFound = errors.New("not found")

	// ErrStore is the sentinel behind every StoreError.
	ErrStore = errors.New("store write failed")

	// ErrNoAccount is returned when an operation is called without an account in its context.
	ErrNoAccount = errors.New("no account in context")

	// ErrBatchTooLarge is returned by a store when a batch exceeds its operation ceiling.
	ErrBatchTooLarge = errors.New("batch exceeds operation limit")

	// ErrDuplicate is returned by a store when a unique key is violated.
	ErrDuplicate = errors.New("duplicate key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects a whole operation before anything is written.
type ValidationError struct {
	Field    string
	Reason   string
	EntityID string
	Amount   *decimal.Decimal // attempted amount, when money is involved
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.EntityID != "" {
		msg += fmt.Sprintf(" (id %s)", e.EntityID)
	}
	if e.Amount != nil {
		msg += fmt.Sprintf(" (amount %s)", e.Amount.String())
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidAmount(field, reason, entityID string, amount decimal.Decimal) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, EntityID: entityID, Amount: &amount}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "group", "auction", "payment", "payment_log", "member", "client"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// notFound converts a bare store ErrNotFound into a NotFoundError; other errors pass through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, ErrNotFound) {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// StoreError reports a failed write together with what had already committed.
type StoreError struct {
	Op        string // "allocate", "rollback", "delete_auction", ...
	EntityID  string
	Amount    *decimal.Decimal
	Committed int    // units durably applied before the failure
	Unit      string // "rows" or "chunks"
	Err       error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s committed before failure", e.Op, e.EntityID, e.Committed, e.Unit)
	if e.Amount != nil {
		msg += fmt.Sprintf(" (amount %s)", e.Amount.String())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrStore and the underlying cause.
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStore}
	}
	return []error{ErrStore, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the same call may simply be repeated.
// A StoreError from a money-moving operation never is.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Committed == 0 && se.Op != "allocate" && se.Op != "rollback"
	}
	return false
}
