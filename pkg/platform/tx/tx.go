// Package tx carries a *sql.Tx through context so stores can join a
// transaction opened by the caller. The outbox store uses it to append
// events inside the same transaction that mutates the base locale row.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a transaction in the context. A nil tx leaves the context
// unchanged, so callers can pass through whatever they were given.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts the transaction, if one was attached.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
