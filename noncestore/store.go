// Package noncestore provides replay protection for payment authorizations.
// A nonce is recorded after its payment settles; any later request bearing
// the same nonce is rejected.
package noncestore

import (
	"context"
	"errors"
	"time"
)

// ErrNonceUsed is returned by MarkUsed when the nonce was already recorded.
var ErrNonceUsed = errors.New("noncestore: nonce already used")

// Usage records who spent a nonce and in which transaction.
type Usage struct {
	From            string
	TransactionHash string
	UsedAt          time.Time
}

// Store is the replay-protection contract. MarkUsed must be atomic per
// nonce: for any nonce, at most one caller may ever succeed. Production
// deployments substitute a shared, concurrency-safe backend; the in-memory
// MemoryStore is the reference implementation.
type Store interface {
	// IsUsed reports whether the nonce has been spent.
	IsUsed(ctx context.Context, nonce string) (bool, error)

	// MarkUsed records the nonce, failing with ErrNonceUsed if another
	// caller got there first.
	MarkUsed(ctx context.Context, nonce string, usage Usage) error

	// Reset clears all recorded nonces. Test use only.
	Reset(ctx context.Context) error
}
