// Package vivino looks up rating and price context for a wine on the
// Vivino catalog. The catalog actively resists automated access, so every
// lookup carries a realistic browser fingerprint and paced requests, and a
// block or CAPTCHA is treated as an ordinary miss rather than an error.
package vivino

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/calebmills/lastbottle-watcher/internal/models"
	"github.com/calebmills/lastbottle-watcher/internal/util"
)

const defaultBaseURL = "https://www.vivino.com"

// Namer cleans a scraped offer title into a searchable wine name. A nil
// Namer leaves titles as-is.
type Namer interface {
	CleanWineName(ctx context.Context, raw string) (string, error)
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	timeout    time.Duration
	userAgent  string
	namer      Namer
	jitter     func() time.Duration
}

type Option func(*Client)

// WithBaseURL points the client at a different host, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithNamer attaches an optional title cleaner.
func WithNamer(n Namer) Option {
	return func(c *Client) { c.namer = n }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(timeout time.Duration, userAgent string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		// One paced request per 800ms fits a vintage query plus an overall
		// fallback inside the timeout without looking like a scraper burst.
		limiter:   rate.NewLimiter(rate.Every(800*time.Millisecond), 2),
		baseURL:   defaultBaseURL,
		timeout:   timeout,
		userAgent: userAgent,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(150 * time.Millisecond)))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse is the shape of the catalog's wine search endpoint.
type searchResponse struct {
	Matches []struct {
		Wine struct {
			Name          string  `json:"name"`
			AverageRating float64 `json:"average_rating"`
			RatingsCount  int     `json:"ratings_count"`
			URL           string  `json:"url"`
			Price         struct {
				Amount float64 `json:"amount"`
			} `json:"price"`
		} `json:"wine"`
	} `json:"matches"`
}

var stopTermsRegex = regexp.MustCompile(`(?i)\b(wine|red|white|rose|rosé|sparkling)\b`)

// normalizeQuery strips generic wine terms that hurt search relevance.
func normalizeQuery(name string) string {
	out := stopTermsRegex.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(out), " ")
}

// SearchURL returns a catalog search link for the wine, used as the
// notification fallback when no canonical detail URL was found.
func (c *Client) SearchURL(name string) string {
	return c.baseURL + "/search/wines?q=" + url.QueryEscape(normalizeQuery(name))
}

// Enrich augments a deal with catalog data, best effort. The whole call is
// bounded by the configured timeout; on any failure the deal comes back
// with empty catalog fields and the notification proceeds without them.
func (c *Client) Enrich(ctx context.Context, deal models.Deal) models.EnrichedDeal {
	enriched := models.EnrichedDeal{
		Deal:      deal,
		SearchURL: c.SearchURL(deal.Title),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := deal.Title
	if c.namer != nil {
		if cleaned, err := c.namer.CleanWineName(ctx, deal.Title); err != nil {
			slog.Warn("Wine name cleanup failed, using raw title", "title", deal.Title, "error", err)
		} else if cleaned != "" {
			name = cleaned
		}
	}

	// Vintage-specific profile first, overall profile as fallback.
	vintageQuery := normalizeQuery(name)
	overallQuery := util.StripVintage(vintageQuery)
	if deal.Vintage > 0 && !strings.Contains(vintageQuery, fmt.Sprintf("%d", deal.Vintage)) {
		vintageQuery = fmt.Sprintf("%s %d", vintageQuery, deal.Vintage)
	}

	vintageMatch, err := c.lookup(ctx, vintageQuery)
	if err != nil {
		slog.Warn("Catalog vintage lookup failed", "query", vintageQuery, "error", err)
	}
	enriched.VintageMatch = vintageMatch

	if overallQuery != vintageQuery && ctx.Err() == nil {
		overallMatch, err := c.lookup(ctx, overallQuery)
		if err != nil {
			slog.Warn("Catalog overall lookup failed", "query", overallQuery, "error", err)
		}
		enriched.OverallMatch = overallMatch
	}

	return enriched
}

// lookup runs one search query. A miss (no match, block, CAPTCHA) returns
// (nil, nil); only transport-level failures surface as errors, and the
// caller degrades on those too.
func (c *Client) lookup(ctx context.Context, query string) (*models.CatalogMatch, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.jitter()):
	}

	endpoint := fmt.Sprintf("%s/api/wines/search?q=%s&per_page=5", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setFingerprint(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		slog.Debug("Catalog blocked the request", "status", resp.StatusCode, "query", query)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if isBlockPage(body) {
		slog.Debug("Catalog served a challenge page", "query", query)
		return nil, nil
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse catalog search response: %w", err)
	}
	if len(result.Matches) == 0 {
		return nil, nil
	}

	wine := result.Matches[0].Wine
	match := &models.CatalogMatch{
		Rating:       wine.AverageRating,
		RatingCount:  wine.RatingsCount,
		AveragePrice: wine.Price.Amount,
	}
	if wine.URL != "" {
		match.URL = absoluteURL(c.baseURL, wine.URL)
	}
	if !match.HasData() {
		return nil, nil
	}
	return match, nil
}

// setFingerprint makes the request look like an ordinary browser session.
func (c *Client) setFingerprint(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("DNT", "1")
}

func isBlockPage(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "are you a human") ||
		strings.Contains(lower, "access denied")
}

func absoluteURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "/") {
		return base + ref
	}
	return base + "/" + ref
}
