package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Prioritized lookup chains. The page's markup changes often, so each
// field is tried against a list of selectors in order.
var (
	titleSelectors = []string{
		".product-title",
		".deal-title",
		"h1.product-title",
		"h1.title",
		"h1",
		"h2",
	}
	priceSelectors = []string{
		".last-bottle-price",
		".deal-price",
		".price .current",
		".our-price",
		".price",
		"[data-price]",
		"[data-lb-price]",
	}
)

var (
	moneyRegex = regexp.MustCompile(`[$€£]\s*[0-9][0-9,]*(?:\.[0-9]{2})?`)
	// "you save $x" banners sit next to the real price and must not win.
	youSaveRegex    = regexp.MustCompile(`(?i)you save.*?[$€£][0-9.,]+`)
	lastBottleRegex = regexp.MustCompile(`(?i)last\s*bottle[^$€£]*([$€£]\s*[0-9]+(?:\.[0-9]+)?)`)
)

// FromHTML locates candidate title and price text in a rendered page and
// returns them as a DOMText payload. The bool is false when no candidate
// pair is visible, which is the normal state between offers.
func FromHTML(html, sourceURL string) (Payload, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Payload{}, false
	}

	title := findTitle(doc)
	if title == "" {
		return Payload{}, false
	}

	priceText := findPriceText(doc)
	if priceText == "" {
		return Payload{}, false
	}

	return DOMText(title, priceText, sourceURL), true
}

func findTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		if s := strings.TrimSpace(doc.Find(sel).First().Text()); s != "" {
			return s
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func findPriceText(doc *goquery.Document) string {
	// The offer price is labelled "Last Bottle" next to the retail and
	// "best web" comparison prices; prefer an explicitly labelled value.
	holder := doc.Find(".follow-right .price-holder").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), "last bottle")
	})
	if holder.Length() > 0 {
		if m := moneyRegex.FindString(holder.First().Text()); m != "" {
			return m
		}
	}

	for _, sel := range priceSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		scrubbed := youSaveRegex.ReplaceAllString(node.Text(), "")
		if m := moneyRegex.FindString(scrubbed); m != "" {
			return m
		}
	}

	// Whole-document fallback: a price adjacent to "last bottle" text.
	if m := lastBottleRegex.FindStringSubmatch(doc.Text()); m != nil {
		return m[1]
	}
	return ""
}
