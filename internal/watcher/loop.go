package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/calebmills/lastbottle-watcher/internal/dedup"
	"github.com/calebmills/lastbottle-watcher/internal/extract"
	"github.com/calebmills/lastbottle-watcher/internal/models"
	"github.com/calebmills/lastbottle-watcher/internal/storage"
	"github.com/calebmills/lastbottle-watcher/internal/util"
)

const (
	heartbeatInterval = 60 * time.Second
	// storeMaxRecords bounds the persistent seen-store; trimmed lazily.
	storeMaxRecords = 500
	trimEvery       = 50
	startupBackoff  = 2 * time.Second
)

// Enricher augments a deal with catalog context, best effort.
type Enricher interface {
	Enrich(ctx context.Context, deal models.Deal) models.EnrichedDeal
}

// Notifier delivers one alert, handling its own retries.
type Notifier interface {
	Send(ctx context.Context, deal models.EnrichedDeal) error
}

type LoopConfig struct {
	PollInterval   time.Duration
	StartupRetries int
}

// Loop is the single sequential cycle driving the watcher: refresh,
// extract, dedup, enrich, notify, commit. At most one cycle runs at a
// time; a slow cycle delays the next rather than overlapping it.
type Loop struct {
	cfg      LoopConfig
	session  PageSession
	tracker  *dedup.Tracker
	enricher Enricher
	notifier Notifier
	store    storage.SeenStore

	jitter func() time.Duration
	now    func() time.Time

	cycles     int
	notified   int
	failures   int
	lastDealID string
}

func NewLoop(cfg LoopConfig, session PageSession, tracker *dedup.Tracker, enricher Enricher, notifier Notifier, store storage.SeenStore) *Loop {
	return &Loop{
		cfg:      cfg,
		session:  session,
		tracker:  tracker,
		enricher: enricher,
		notifier: notifier,
		store:    store,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
		},
		now: time.Now,
	}
}

// Run blocks until ctx is cancelled. The initial navigation is retried a
// few times; if the page never loads, Run fails so the supervisor can
// restart the process.
func (l *Loop) Run(ctx context.Context) error {
	err := util.RetryWithBackoff(ctx, l.cfg.StartupRetries, startupBackoff, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying initial page load", "attempt", attempt)
		}
		return l.session.Navigate(ctx)
	})
	if err != nil {
		return fmt.Errorf("initial page load failed: %w", err)
	}
	slog.Info("Watcher started", "poll_interval", l.cfg.PollInterval)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	timer := time.NewTimer(l.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watcher stopping", "cycles", l.cycles, "notified", l.notified)
			return ctx.Err()
		case <-heartbeat.C:
			slog.Info("Watcher heartbeat",
				"cycles", l.cycles,
				"notified", l.notified,
				"cycle_failures", l.failures,
				"tracked_deals", l.tracker.Len(),
				"last_deal_id", l.lastDealID)
		case <-timer.C:
			l.cycles++
			if err := l.runCycle(ctx); err != nil {
				if ctx.Err() != nil {
					slog.Info("Watcher stopping", "cycles", l.cycles, "notified", l.notified)
					return ctx.Err()
				}
				l.failures++
				slog.Warn("Cycle failed", "cycle", l.cycles, "error", err)
			}
			timer.Reset(l.nextDelay())
		}
	}
}

// nextDelay spaces reloads with a little jitter so the traffic pattern is
// not metronome-regular.
func (l *Loop) nextDelay() time.Duration {
	return l.cfg.PollInterval + l.jitter()
}

func (l *Loop) runCycle(ctx context.Context) error {
	payload, ok, err := l.session.Refresh(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	deal, ok := extract.Extract(payload, l.now().UTC())
	if !ok {
		return nil
	}
	if err := deal.Validate(); err != nil {
		slog.Debug("Dropping extracted candidate", "error", err)
		return nil
	}
	l.lastDealID = deal.ID

	if !l.tracker.ShouldNotify(deal.ID) {
		return nil
	}

	if l.store != nil {
		at, found, err := l.store.LastNotified(ctx, deal.ID)
		if err != nil {
			slog.Warn("Seen-store lookup failed, relying on in-memory dedup", "error", err)
		} else if found && l.now().Sub(at) < l.tracker.Window() {
			// Announced inside the window by a previous run; suppress
			// locally too, keyed to the original notification time so the
			// deal becomes eligible again on schedule.
			l.tracker.MarkNotifiedAt(deal.ID, at)
			return nil
		}
	}

	slog.Info("New deal detected", "title", deal.Title, "price", deal.Price, "deal_id", deal.ID)

	enriched := l.enricher.Enrich(ctx, *deal)

	if err := l.notifier.Send(ctx, enriched); err != nil {
		// No dedup commit: the deal stays eligible and the next cycle
		// retries delivery while the offer is still live.
		return fmt.Errorf("notification failed: %w", err)
	}

	l.notified++
	l.tracker.MarkNotified(deal.ID)
	l.commitToStore(ctx, deal)
	slog.Info("Notification sent", "title", deal.Title, "deal_id", deal.ID)
	return nil
}

func (l *Loop) commitToStore(ctx context.Context, deal *models.Deal) {
	if l.store == nil {
		return
	}
	record := storage.NotifiedDeal{
		ID:         deal.ID,
		Title:      deal.Title,
		Vintage:    deal.Vintage,
		Price:      deal.Price,
		NotifiedAt: deal.ObservedAt,
	}
	if err := l.store.MarkNotified(ctx, record); err != nil {
		slog.Warn("Failed to persist notified deal", "deal_id", deal.ID, "error", err)
		return
	}
	if l.notified%trimEvery == 0 {
		if err := l.store.TrimOld(ctx, storeMaxRecords); err != nil {
			slog.Warn("Failed to trim seen-store", "error", err)
		}
	}
}
