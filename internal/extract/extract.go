// Package extract turns page snapshots into Deal records. Everything here
// is a pure function over its input; the browser session lives elsewhere.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/calebmills/lastbottle-watcher/internal/models"
	"github.com/calebmills/lastbottle-watcher/internal/util"
)

// PayloadKind tags which shape of snapshot a Payload carries.
type PayloadKind int

const (
	// PayloadStructured is a JSON object intercepted from the page's
	// network traffic.
	PayloadStructured PayloadKind = iota
	// PayloadDOMText is a pair of candidate title/price strings pulled out
	// of the rendered DOM.
	PayloadDOMText
)

// Payload is a snapshot of the monitored page in one of two shapes. A
// single Extract call consumes either shape.
type Payload struct {
	Kind       PayloadKind
	Structured map[string]any
	Title      string
	PriceText  string
	SourceURL  string
}

// Structured wraps an intercepted JSON object.
func Structured(obj map[string]any, sourceURL string) Payload {
	return Payload{Kind: PayloadStructured, Structured: obj, SourceURL: sourceURL}
}

// DOMText wraps candidate title and price text from DOM queries.
func DOMText(title, priceText, sourceURL string) Payload {
	return Payload{Kind: PayloadDOMText, Title: title, PriceText: priceText, SourceURL: sourceURL}
}

// genericTitles are placeholder strings the page shows between offers or
// while loading. A candidate matching one of these is not a deal.
var genericTitles = map[string]bool{
	"":                true,
	"new deal":        true,
	"deal of the day": true,
	"last bottle":     true,
	"lastbottle":      true,
	"lastbottle.com":  true,
	"loading":         true,
	"loading...":      true,
	"untitled":        true,
}

// IsGenericTitle reports whether a title is a placeholder rather than a
// wine name.
func IsGenericTitle(title string) bool {
	return genericTitles[strings.ToLower(strings.TrimSpace(title))]
}

var (
	punctRegex = regexp.MustCompile(`[^\w\s]`)
	spaceRegex = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases, folds accents, strips punctuation and
// collapses whitespace, so that cosmetic edits to the offer title do not
// change the deal identity.
func NormalizeTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(folder, s); err == nil {
		s = folded
	}
	s = punctRegex.ReplaceAllString(s, "")
	s = spaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DealID creates a stable identity for an offer from its normalized title
// and vintage. Two observations of the same wine and vintage always map to
// the same ID; a different wine or a different vintage never does (within
// sha256 collision bounds).
func DealID(title string, vintage int) string {
	vintageStr := "unknown"
	if vintage > 0 {
		vintageStr = fmt.Sprintf("%d", vintage)
	}
	key := NormalizeTitle(title) + "|" + vintageStr
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// bottle size words seen in offer titles
var bottleSizeRegex = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*(ml|l|liter|litre)s?\b`)

// ParseBottleSize finds a bottle size in the given text and returns it in
// milliliters. Defaults to the standard 750ml bottle.
func ParseBottleSize(text string) int {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "magnum") {
		return 1500
	}
	if strings.Contains(lower, "half bottle") || strings.Contains(lower, "demi") {
		return 375
	}
	m := bottleSizeRegex.FindStringSubmatch(text)
	if m == nil {
		return 750
	}
	v, ok := util.ParsePrice(m[1])
	if !ok {
		return 750
	}
	switch strings.ToLower(m[2]) {
	case "ml":
		return int(v)
	default: // liters
		return int(v * 1000)
	}
}

// Extract produces zero-or-one Deal from a page snapshot. A false return
// is the common case between offers, not an error.
func Extract(p Payload, now time.Time) (*models.Deal, bool) {
	var title string
	var price float64
	var priceOK bool

	switch p.Kind {
	case PayloadStructured:
		title, price, priceOK = fromStructured(p.Structured)
	case PayloadDOMText:
		title = strings.TrimSpace(p.Title)
		price, priceOK = util.ParsePrice(p.PriceText)
	}

	if IsGenericTitle(title) || !priceOK {
		return nil, false
	}

	vintage := util.ParseVintage(title)
	return &models.Deal{
		ID:           DealID(title, vintage),
		Title:        title,
		Vintage:      vintage,
		Price:        price,
		BottleSizeML: ParseBottleSize(title),
		URL:          p.SourceURL,
		ObservedAt:   now,
	}, true
}

func fromStructured(obj map[string]any) (title string, price float64, ok bool) {
	for _, k := range []string{"name", "title", "product_name"} {
		if s, found := stringField(obj, k); found {
			title = s
			break
		}
	}

	price, ok = PickLastBottlePrice(obj)
	if !ok {
		// Generic price fields only when no offer-specific price exists.
		for _, k := range []string{"price", "sale_price", "current_price"} {
			if v, found := numberField(obj, k); found && v > 0 {
				price, ok = v, true
				break
			}
		}
	}
	return title, price, ok
}

// lastBottleKeys are the key spellings the site has used for its own offer
// price across payload revisions.
var lastBottleKeys = []string{"last_bottle", "lastBottle", "lastBottlePrice", "last_bottle_price", "lb"}

// PickLastBottlePrice returns only the site's own offer price, never the
// "retail" or "best web" comparison prices. It handles both nested and
// flat payload shapes.
func PickLastBottlePrice(obj map[string]any) (float64, bool) {
	for _, k := range []string{"prices", "pricing", "priceInfo"} {
		sub, found := obj[k].(map[string]any)
		if !found {
			continue
		}
		for _, lk := range lastBottleKeys {
			if v, ok := numberField(sub, lk); ok && v > 0 {
				return v, true
			}
		}
	}
	for _, lk := range lastBottleKeys {
		if v, ok := numberField(obj, lk); ok && v > 0 {
			return v, true
		}
	}
	return 0, false
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, found := obj[key]
	if !found {
		return "", false
	}
	s, isStr := v.(string)
	if !isStr || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func numberField(obj map[string]any, key string) (float64, bool) {
	v, found := obj[key]
	if !found {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		return util.ParsePrice(n)
	}
	return 0, false
}
