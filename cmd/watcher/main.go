package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/calebmills/lastbottle-watcher/internal/ai"
	"github.com/calebmills/lastbottle-watcher/internal/config"
	"github.com/calebmills/lastbottle-watcher/internal/dedup"
	"github.com/calebmills/lastbottle-watcher/internal/notifier"
	"github.com/calebmills/lastbottle-watcher/internal/storage"
	"github.com/calebmills/lastbottle-watcher/internal/vivino"
	"github.com/calebmills/lastbottle-watcher/internal/watcher"
)

func main() {
	slog.Info("Starting LastBottle watcher...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("Critical error initializing seen-store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	vivinoOpts := []vivino.Option{}
	aiClient, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Warn("Gemini client unavailable, using raw titles", "error", err)
	} else if aiClient != nil {
		slog.Info("Gemini title cleanup enabled", "model", cfg.GeminiModel)
		vivinoOpts = append(vivinoOpts, vivino.WithNamer(aiClient))
	}
	enricher := vivino.New(cfg.VivinoTimeout, cfg.UserAgent, vivinoOpts...)

	telegram := notifier.New(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyRetries)

	session, err := watcher.NewSession(watcher.SessionConfig{
		PageURL:   cfg.PageURL,
		UserAgent: cfg.UserAgent,
		SafeMode:  cfg.SafeMode,
		Headful:   cfg.Headful,
	})
	if err != nil {
		slog.Error("Critical error starting browser session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	loop := watcher.NewLoop(watcher.LoopConfig{
		PollInterval:   cfg.PollInterval,
		StartupRetries: cfg.StartupRetries,
	}, session, dedup.New(cfg.DedupWindow), enricher, telegram, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Watcher exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Watcher stopped.")
}

// newStore picks the persistence backend: Firestore when a project is
// configured, otherwise in-memory only.
func newStore(ctx context.Context, cfg *config.Config) (storage.SeenStore, error) {
	if cfg.ProjectID == "" {
		slog.Info("No GOOGLE_CLOUD_PROJECT set, notified deals will not persist across restarts")
		return storage.NewMemoryStore(), nil
	}
	slog.Info("Using Firestore seen-store", "project", cfg.ProjectID)
	return storage.NewFirestoreStore(ctx, cfg.ProjectID)
}
