// Package watcher runs the polling loop against a live browser session.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/calebmills/lastbottle-watcher/internal/extract"
)

// PageSession is one observable browser tab on the deal page.
//
// Cancellation is coarse-grained: Navigate and Refresh check ctx between
// operations, but an in-flight browser call runs to its own bounded
// timeout (30s) before the cancellation is observed. The driver API has
// no context plumbing below that.
type PageSession interface {
	// Navigate loads the page for the first time.
	Navigate(ctx context.Context) error
	// Refresh reloads the page and returns the freshest payload available,
	// preferring intercepted JSON over DOM text. The bool is false when the
	// page shows no candidate deal.
	Refresh(ctx context.Context) (extract.Payload, bool, error)
	Close() error
}

// blockedResourceTypes are never needed to read the deal; skipping them
// keeps reloads fast and the traffic footprint small.
var blockedResourceTypes = map[string]bool{
	"image": true,
	"media": true,
	"font":  true,
}

// analyticsHosts get dropped in safe mode so the constant reloads do not
// light up third-party trackers.
var analyticsHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.net",
	"facebook.com/tr",
	"hotjar.com",
	"segment.io",
	"mixpanel.com",
}

// dealEndpointHints mark API responses likely to carry the offer payload.
var dealEndpointHints = []string{"deal", "product", "offer", "api", "graphql"}

type SessionConfig struct {
	PageURL   string
	UserAgent string
	SafeMode  bool
	Headful   bool
}

// Session owns the playwright stack for one long-lived tab. Not safe for
// concurrent use; the loop is the only caller.
type Session struct {
	cfg     SessionConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page

	mu         sync.Mutex
	structured map[string]any
	blocked    int
}

func NewSession(cfg SessionConfig) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!cfg.Headful),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(cfg.UserAgent),
		Viewport:  &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s := &Session{cfg: cfg, pw: pw, browser: browser, page: page}

	if cfg.SafeMode {
		if err := page.Route("**/*", s.filterRequest); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to install request filter: %w", err)
		}
	}
	page.OnResponse(s.captureResponse)

	return s, nil
}

// filterRequest aborts requests for heavy assets and trackers, letting
// everything else through.
func (s *Session) filterRequest(route playwright.Route) {
	req := route.Request()
	if blockedResourceTypes[req.ResourceType()] || isAnalyticsURL(req.URL()) {
		s.mu.Lock()
		s.blocked++
		s.mu.Unlock()
		if err := route.Abort(); err != nil {
			slog.Debug("Failed to abort request", "url", req.URL(), "error", err)
		}
		return
	}
	if err := route.Continue(); err != nil {
		slog.Debug("Failed to continue request", "url", req.URL(), "error", err)
	}
}

func isAnalyticsURL(u string) bool {
	lower := strings.ToLower(u)
	for _, host := range analyticsHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// captureResponse stashes the latest JSON payload that looks like a deal
// endpoint. The loop drains it on the next Refresh.
func (s *Session) captureResponse(resp playwright.Response) {
	if resp.Status() != 200 || !isDealEndpoint(resp.URL()) {
		return
	}
	ct, _ := resp.HeaderValue("content-type")
	if !strings.Contains(strings.ToLower(ct), "json") {
		return
	}

	body, err := resp.Body()
	if err != nil {
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return
	}

	s.mu.Lock()
	s.structured = obj
	s.mu.Unlock()
	slog.Debug("Captured structured payload", "url", resp.URL())
}

func isDealEndpoint(u string) bool {
	lower := strings.ToLower(u)
	for _, hint := range dealEndpointHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func (s *Session) takeStructured() (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.structured == nil {
		return nil, false
	}
	obj := s.structured
	s.structured = nil
	return obj, true
}

func (s *Session) Navigate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(s.cfg.PageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.cfg.PageURL, err)
	}
	if s.cfg.SafeMode {
		s.mu.Lock()
		blocked := s.blocked
		s.mu.Unlock()
		slog.Info("Page loaded", "url", s.cfg.PageURL, "blocked_requests", blocked)
	}
	return nil
}

func (s *Session) Refresh(ctx context.Context) (extract.Payload, bool, error) {
	if err := ctx.Err(); err != nil {
		return extract.Payload{}, false, err
	}

	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30000),
	})
	if err != nil {
		return extract.Payload{}, false, fmt.Errorf("failed to reload page: %w", err)
	}

	if obj, ok := s.takeStructured(); ok {
		return extract.Structured(obj, s.page.URL()), true, nil
	}

	html, err := s.page.Content()
	if err != nil {
		return extract.Payload{}, false, fmt.Errorf("failed to read page content: %w", err)
	}
	payload, ok := extract.FromHTML(html, s.page.URL())
	return payload, ok, nil
}

func (s *Session) Close() error {
	var firstErr error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
