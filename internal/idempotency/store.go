// Package idempotency remembers which gateway events have already been seen so
// duplicate deliveries can be dropped before any state is touched.
package idempotency

import (
	"context"
	"fmt"

	"paycore/internal/domain"
)

type Outcome int

const (
	FirstSeen Outcome = iota
	AlreadySeen
)

func (o Outcome) String() string {
	if o == AlreadySeen {
		return "already_seen"
	}
	return "first_seen"
}

// Store records keys for a bounded retention window. Remember is atomic: of any
// number of concurrent calls with the same key, exactly one observes FirstSeen.
type Store interface {
	Remember(ctx context.Context, key string) (Outcome, error)
	// Forget drops a key whose processing did not commit, so a retry is not
	// mistaken for a duplicate.
	Forget(ctx context.Context, key string) error
}

// EventKey identifies one status report for one payment.
func EventKey(transactionID string, status domain.PaymentStatus) string {
	return fmt.Sprintf("%s:%s", transactionID, status)
}
