package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PageURL          string
	TelegramBotToken string
	TelegramChatID   string

	PollInterval   time.Duration
	VivinoTimeout  time.Duration
	DedupWindow    time.Duration
	NotifyRetries  int
	StartupRetries int

	SafeMode  bool
	Headful   bool
	UserAgent string

	// Optional: persist notified deals across restarts.
	ProjectID string

	// Optional: clean scraped titles before catalog search.
	GeminiAPIKey string
	GeminiModel  string
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required but not set")
	}
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if chatID == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID environment variable is required but not set")
	}

	pageURL := os.Getenv("LASTBOTTLE_URL")
	if pageURL == "" {
		pageURL = "https://www.lastbottle.com"
	}

	pollInterval, err := durationEnv("POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	vivinoTimeout, err := durationEnv("VIVINO_TIMEOUT", 1500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	dedupWindow, err := durationEnv("DEDUP_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	notifyRetries, err := intEnv("NOTIFY_MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}
	startupRetries, err := intEnv("STARTUP_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	userAgent := os.Getenv("USER_AGENT")
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-2.0-flash"
	}

	return &Config{
		PageURL:          pageURL,
		TelegramBotToken: botToken,
		TelegramChatID:   chatID,
		PollInterval:     pollInterval,
		VivinoTimeout:    vivinoTimeout,
		DedupWindow:      dedupWindow,
		NotifyRetries:    notifyRetries,
		StartupRetries:   startupRetries,
		SafeMode:         boolEnv("SAFE_MODE", true),
		Headful:          boolEnv("HEADFUL", false),
		UserAgent:        userAgent,
		ProjectID:        os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      geminiModel,
	}, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Invalid boolean environment value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
