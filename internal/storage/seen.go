// Package storage persists which deals have already been announced, so a
// restart does not re-notify the current offer.
package storage

import (
	"context"
	"time"
)

// NotifiedDeal is the persisted record of one announcement.
type NotifiedDeal struct {
	ID         string    `firestore:"-"`
	Title      string    `firestore:"title"`
	Vintage    int       `firestore:"vintage"`
	Price      float64   `firestore:"price"`
	NotifiedAt time.Time `firestore:"notifiedAt"`
}

// SeenStore records successful notifications. Implementations must treat
// MarkNotified for an already-recorded ID as a no-op.
type SeenStore interface {
	// LastNotified returns when id was last announced. The caller decides
	// whether that is recent enough to suppress; the store only answers
	// when.
	LastNotified(ctx context.Context, id string) (time.Time, bool, error)
	MarkNotified(ctx context.Context, deal NotifiedDeal) error
	// TrimOld deletes the oldest records beyond max, keeping the store
	// bounded.
	TrimOld(ctx context.Context, max int) error
	Close() error
}
