package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calebmills/lastbottle-watcher/internal/dedup"
	"github.com/calebmills/lastbottle-watcher/internal/extract"
	"github.com/calebmills/lastbottle-watcher/internal/models"
	"github.com/calebmills/lastbottle-watcher/internal/storage"
)

// --- Fakes ---

type fakeSession struct {
	payloads    []extract.Payload
	next        int
	navigateErr error
	refreshErr  error
}

func (f *fakeSession) Navigate(_ context.Context) error { return f.navigateErr }

func (f *fakeSession) Refresh(_ context.Context) (extract.Payload, bool, error) {
	if f.refreshErr != nil {
		return extract.Payload{}, false, f.refreshErr
	}
	if f.next >= len(f.payloads) {
		return extract.Payload{}, false, nil
	}
	p := f.payloads[f.next]
	f.next++
	return p, true, nil
}

func (f *fakeSession) Close() error { return nil }

type fakeEnricher struct {
	calls int
	match *models.CatalogMatch
}

func (f *fakeEnricher) Enrich(_ context.Context, deal models.Deal) models.EnrichedDeal {
	f.calls++
	return models.EnrichedDeal{Deal: deal, VintageMatch: f.match}
}

type fakeNotifier struct {
	sent     []models.EnrichedDeal
	failNext int
}

func (f *fakeNotifier) Send(_ context.Context, deal models.EnrichedDeal) error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New("delivery failed")
	}
	f.sent = append(f.sent, deal)
	return nil
}

func dealPayload(title string) extract.Payload {
	return extract.DOMText(title, "$39.99", "https://www.lastbottle.com")
}

func newTestLoop(session PageSession, notif *fakeNotifier, store storage.SeenStore) (*Loop, *fakeEnricher) {
	enricher := &fakeEnricher{match: &models.CatalogMatch{Rating: 4.3, AveragePrice: 54.00}}
	l := NewLoop(LoopConfig{PollInterval: time.Millisecond, StartupRetries: 0},
		session, dedup.New(5*time.Minute), enricher, notif, store)
	l.jitter = func() time.Duration { return 0 }
	return l, enricher
}

// --- Tests ---

func TestRunCycle_NewDealNotifiedOnce(t *testing.T) {
	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
		dealPayload("Chateau Margaux 2015"),
	}}
	notif := &fakeNotifier{}
	store := storage.NewMemoryStore()
	l, enricher := newTestLoop(session, notif, store)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.runCycle(ctx); err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
	}

	if len(notif.sent) != 1 {
		t.Fatalf("Expected exactly 1 notification for a repeated deal, got %d", len(notif.sent))
	}
	if notif.sent[0].Title != "Chateau Margaux 2015" {
		t.Errorf("Title = %q", notif.sent[0].Title)
	}
	if enricher.calls != 1 {
		t.Errorf("Expected 1 enrichment, got %d", enricher.calls)
	}
	if _, found, _ := store.LastNotified(ctx, notif.sent[0].ID); !found {
		t.Error("Expected the notification to be committed to the store")
	}
}

func TestRunCycle_DistinctDealsBothNotified(t *testing.T) {
	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
		dealPayload("Opus One 2018"),
	}}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, storage.NewMemoryStore())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.runCycle(ctx); err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}
	}

	if len(notif.sent) != 2 {
		t.Fatalf("Expected 2 notifications for distinct deals, got %d", len(notif.sent))
	}
}

func TestRunCycle_FailedDeliveryRetriedNextCycle(t *testing.T) {
	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
		dealPayload("Chateau Margaux 2015"),
	}}
	notif := &fakeNotifier{failNext: 1}
	store := storage.NewMemoryStore()
	l, _ := newTestLoop(session, notif, store)

	ctx := context.Background()

	// First cycle: delivery fails, nothing must be committed.
	if err := l.runCycle(ctx); err == nil {
		t.Fatal("Expected the failed delivery to surface as a cycle error")
	}
	if len(notif.sent) != 0 {
		t.Fatalf("Expected no delivery yet, got %d", len(notif.sent))
	}

	// Second cycle: the deal is still live and still eligible.
	if err := l.runCycle(ctx); err != nil {
		t.Fatalf("Second cycle failed: %v", err)
	}
	if len(notif.sent) != 1 {
		t.Fatalf("Expected exactly 1 delivery after the retry, got %d", len(notif.sent))
	}
	if _, found, _ := store.LastNotified(ctx, notif.sent[0].ID); !found {
		t.Error("Expected the successful retry to be committed")
	}
}

func TestRunCycle_GenericTitleIgnored(t *testing.T) {
	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("New Deal"),
		dealPayload("Loading..."),
	}}
	notif := &fakeNotifier{}
	l, enricher := newTestLoop(session, notif, storage.NewMemoryStore())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.runCycle(ctx); err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}
	}

	if len(notif.sent) != 0 {
		t.Errorf("Expected no notifications for placeholder titles, got %d", len(notif.sent))
	}
	if enricher.calls != 0 {
		t.Errorf("Expected no enrichment for placeholder titles, got %d", enricher.calls)
	}
}

func TestRunCycle_EmptyPageIsQuiet(t *testing.T) {
	session := &fakeSession{}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, storage.NewMemoryStore())

	if err := l.runCycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(notif.sent) != 0 {
		t.Error("Expected no notification from an empty page")
	}
}

func TestRunCycle_StoreSuppressesAcrossRestart(t *testing.T) {
	// Simulate a restart: the store already knows the deal, the in-memory
	// tracker does not.
	store := storage.NewMemoryStore()
	dealID := extract.DealID("Chateau Margaux 2015", 2015)
	if err := store.MarkNotified(context.Background(), storage.NotifiedDeal{ID: dealID, NotifiedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
	}}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, store)

	if err := l.runCycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(notif.sent) != 0 {
		t.Error("Expected the persisted record to suppress re-notification")
	}
}

func TestRunCycle_RepeatedDealEligibleAfterWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
		dealPayload("Chateau Margaux 2015"),
	}}
	notif := &fakeNotifier{}
	store := storage.NewMemoryStore()
	enricher := &fakeEnricher{match: &models.CatalogMatch{Rating: 4.3}}
	l := NewLoop(LoopConfig{PollInterval: time.Millisecond, StartupRetries: 0},
		session, dedup.NewWithClock(5*time.Minute, clock), enricher, notif, store)
	l.jitter = func() time.Duration { return 0 }
	l.now = clock

	ctx := context.Background()
	if err := l.runCycle(ctx); err != nil {
		t.Fatalf("First cycle failed: %v", err)
	}

	// The same wine comes back after the window has elapsed; the store
	// record is stale and must not suppress it.
	now = now.Add(10 * time.Minute)
	if err := l.runCycle(ctx); err != nil {
		t.Fatalf("Second cycle failed: %v", err)
	}

	if len(notif.sent) != 2 {
		t.Fatalf("Expected re-notification after the window elapsed, got %d notifications", len(notif.sent))
	}
}

func TestRunCycle_StoreRecordSeedsTrackerInsideWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	// A previous run announced the deal 3 minutes ago.
	store := storage.NewMemoryStore()
	dealID := extract.DealID("Chateau Margaux 2015", 2015)
	if err := store.MarkNotified(context.Background(), storage.NotifiedDeal{
		ID:         dealID,
		NotifiedAt: now.Add(-3 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	session := &fakeSession{payloads: []extract.Payload{
		dealPayload("Chateau Margaux 2015"),
		dealPayload("Chateau Margaux 2015"),
	}}
	notif := &fakeNotifier{}
	enricher := &fakeEnricher{match: &models.CatalogMatch{Rating: 4.3}}
	l := NewLoop(LoopConfig{PollInterval: time.Millisecond, StartupRetries: 0},
		session, dedup.NewWithClock(5*time.Minute, clock), enricher, notif, store)
	l.jitter = func() time.Duration { return 0 }
	l.now = clock

	ctx := context.Background()
	if err := l.runCycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(notif.sent) != 0 {
		t.Fatal("Expected the 3-minute-old record to suppress inside the window")
	}

	// Suppression stays keyed to the original notification time: 2 more
	// minutes exhaust the window and the deal is eligible again.
	now = now.Add(2 * time.Minute)
	if err := l.runCycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(notif.sent) != 1 {
		t.Fatalf("Expected eligibility once the original window elapsed, got %d notifications", len(notif.sent))
	}
}

func TestRunCycle_RefreshErrorSurfaced(t *testing.T) {
	session := &fakeSession{refreshErr: errors.New("browser crashed")}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, storage.NewMemoryStore())

	if err := l.runCycle(context.Background()); err == nil {
		t.Fatal("Expected the refresh error to surface")
	}
	if len(notif.sent) != 0 {
		t.Error("Expected no notification after a refresh failure")
	}
}

func TestRun_FailsWhenPageNeverLoads(t *testing.T) {
	session := &fakeSession{navigateErr: errors.New("connection refused")}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, storage.NewMemoryStore())

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("Expected Run to fail when the initial load never succeeds")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	session := &fakeSession{}
	notif := &fakeNotifier{}
	l, _ := newTestLoop(session, notif, storage.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
