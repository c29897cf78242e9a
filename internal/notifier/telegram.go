// Package notifier delivers deal alerts to a Telegram chat through the
// Bot API.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmills/lastbottle-watcher/internal/models"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// retryBaseDelay is the first backoff step between delivery attempts.
const retryBaseDelay = 2 * time.Second

type Client struct {
	botToken   string
	chatID     string
	apiBaseURL string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

type Option func(*Client)

// WithBaseURL overrides the Bot API host, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.apiBaseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(botToken, chatID string, maxRetries int, opts ...Option) *Client {
	c := &Client{
		botToken:   botToken,
		chatID:     chatID,
		apiBaseURL: defaultAPIBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: maxRetries,
		retryDelay: retryBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// permanentError marks a failure that retrying cannot fix, like a rejected
// payload or a bad token.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Send delivers one alert message. Transient failures (network errors,
// 5xx, rate limits) are retried with backoff up to maxRetries; other API
// rejections fail immediately.
func (c *Client) Send(ctx context.Context, deal models.EnrichedDeal) error {
	return c.send(ctx, FormatMessage(deal), deal.ID)
}

func (c *Client) send(ctx context.Context, text, dealID string) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			slog.Info("Retrying notification delivery", "attempt", attempt, "delay", delay, "deal_id", dealID)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = c.sendMessage(ctx, text)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("telegram rejected message: %w", perm.err)
		}
		slog.Warn("Notification attempt failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) sendMessage(ctx context.Context, text string) error {
	payload := sendMessageRequest{
		ChatID:    c.chatID,
		Text:      text,
		ParseMode: "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &permanentError{fmt.Errorf("failed to marshal message: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBaseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var apiResp sendMessageResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("failed to parse telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return &permanentError{fmt.Errorf("status %d: %s", resp.StatusCode, apiResp.Description)}
	}
	return nil
}

// FormatMessage renders the Markdown alert body.
func FormatMessage(deal models.EnrichedDeal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🍷 *New Deal: %s*", escapeMarkdown(deal.Title))
	if deal.Vintage > 0 && !strings.Contains(deal.Title, fmt.Sprintf("%d", deal.Vintage)) {
		fmt.Fprintf(&b, " (%d)", deal.Vintage)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Deal Price: *$%.2f*\n", deal.Price)
	if deal.BottleSizeML > 0 && deal.BottleSizeML != 750 {
		fmt.Fprintf(&b, "Size: %dml\n", deal.BottleSizeML)
	}

	if m := deal.VintageMatch; m != nil && m.HasData() {
		b.WriteString(formatMatchLine("Vivino (vintage)", m))
	}
	if m := deal.OverallMatch; m != nil && m.HasData() {
		b.WriteString(formatMatchLine("Vivino (overall)", m))
	}

	if savings, ok := deal.Savings(); ok {
		if best := deal.BestMatch(); best != nil && best.AveragePrice > 0 {
			pct := savings / best.AveragePrice * 100
			fmt.Fprintf(&b, "\n💰 Save $%.2f (%.1f%% off Vivino avg)\n", savings, pct)
		}
	}

	if deal.URL != "" {
		fmt.Fprintf(&b, "\n[View Deal](%s)", deal.URL)
	}
	if link := deal.CatalogURL(); link != "" {
		fmt.Fprintf(&b, " | [Vivino](%s)", link)
	}

	return b.String()
}

func formatMatchLine(label string, m *models.CatalogMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", label)
	parts := make([]string, 0, 3)
	if m.Rating > 0 {
		parts = append(parts, fmt.Sprintf("%.1f⭐", m.Rating))
	}
	if m.AveragePrice > 0 {
		parts = append(parts, fmt.Sprintf("avg ($%.2f)", m.AveragePrice))
	}
	if m.RatingCount > 0 {
		parts = append(parts, fmt.Sprintf("%d reviews", m.RatingCount))
	}
	b.WriteString(strings.Join(parts, " — "))
	b.WriteString("\n")
	return b.String()
}

// escapeMarkdown neutralizes characters that break Telegram's legacy
// Markdown parser inside bold text.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")
	return replacer.Replace(s)
}
