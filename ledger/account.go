package ledger

import "context"

// accountKey is the context key carrying the caller's account.
type accountKey struct{}

// WithAccount returns a context scoped to account. Every Service operation
// reads the account from its context; there is no package-level current account.
func WithAccount(ctx context.Context, account AccountID) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFrom returns the account carried by ctx.
func AccountFrom(ctx context.Context) (AccountID, bool) {
	a, ok := ctx.Value(accountKey{}).(AccountID)
	return a, ok && a != ""
}

func requireAccount(ctx context.Context) (AccountID, error) {
	a, ok := AccountFrom(ctx)
	if !ok {
		return "", ErrNoAccount
	}
	return a, nil
}
