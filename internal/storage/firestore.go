package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const notifiedCollection = "notified_deals"

// FirestoreStore persists notified deals in a Firestore collection keyed
// by deal ID, so announcements survive process restarts.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) LastNotified(ctx context.Context, id string) (time.Time, bool, error) {
	doc, err := s.client.Collection(notifiedCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get document from Firestore: %w", err)
	}
	var rec NotifiedDeal
	if err := doc.DataTo(&rec); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal notified deal: %w", err)
	}
	return rec.NotifiedAt, true, nil
}

func (s *FirestoreStore) MarkNotified(ctx context.Context, deal NotifiedDeal) error {
	// Create, not Set: a concurrent or restarted writer must not refresh
	// the original notification time.
	_, err := s.client.Collection(notifiedCollection).Doc(deal.ID).Create(ctx, deal)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create document in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStore) TrimOld(ctx context.Context, max int) error {
	// Count a window of max+trimBatch docs ordered oldest-first; anything
	// before position len-max gets deleted.
	const trimBatch = 50

	iter := s.client.Collection(notifiedCollection).
		OrderBy("notifiedAt", firestore.Asc).
		Limit(max + trimBatch).
		Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate notified deals: %w", err)
		}
		refs = append(refs, doc.Ref)
	}
	if len(refs) <= max {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	for _, ref := range refs[:len(refs)-max] {
		if _, err := bw.Delete(ref); err != nil {
			return fmt.Errorf("failed to queue delete: %w", err)
		}
	}
	bw.End()
	slog.Info("Trimmed old notified deals", "deleted", len(refs)-max)
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
