package models

import (
	"fmt"
	"time"
)

// Deal represents a single observed wine offer on the monitored page.
type Deal struct {
	// ID is derived deterministically from the normalized title and
	// vintage. It is the dedup key and stays stable across repeated
	// observations of the same offer.
	ID           string    `validate:"required"`
	Title        string    `validate:"required"`
	Vintage      int       // 0 when the title carries no year
	Price        float64   `validate:"gt=0"`
	BottleSizeML int       `validate:"gt=0"`
	URL          string    `validate:"required,url"`
	ObservedAt   time.Time `validate:"required"`
}

func (d Deal) String() string {
	if d.Vintage > 0 {
		return fmt.Sprintf("%s %d: $%.2f", d.Title, d.Vintage, d.Price)
	}
	return fmt.Sprintf("%s: $%.2f", d.Title, d.Price)
}

// CatalogMatch holds rating/price context for a wine from the external
// catalog. Zero values mean the field was not available.
type CatalogMatch struct {
	Rating       float64
	RatingCount  int
	AveragePrice float64
	URL          string
}

// HasData reports whether the match carries anything worth showing.
func (m *CatalogMatch) HasData() bool {
	return m != nil && (m.Rating > 0 || m.RatingCount > 0 || m.AveragePrice > 0)
}

// EnrichedDeal is a Deal plus optional catalog data. The catalog keeps a
// vintage-specific profile and an overall (all vintages) profile for most
// wines; either or both may be missing, and missing data never blocks a
// notification.
type EnrichedDeal struct {
	Deal

	VintageMatch *CatalogMatch
	OverallMatch *CatalogMatch

	// SearchURL links to a catalog search for the wine; used when neither
	// match carries a canonical detail URL.
	SearchURL string
}

// HasCatalogData reports whether any catalog field was found.
func (e EnrichedDeal) HasCatalogData() bool {
	return e.VintageMatch.HasData() || e.OverallMatch.HasData()
}

// BestMatch returns the vintage-specific profile when present, else the
// overall profile, else nil.
func (e EnrichedDeal) BestMatch() *CatalogMatch {
	if e.VintageMatch.HasData() {
		return e.VintageMatch
	}
	if e.OverallMatch.HasData() {
		return e.OverallMatch
	}
	return nil
}

// Savings returns the amount the deal price undercuts the catalog average
// price, preferring the vintage-specific average. The second return is
// false when no positive savings figure can be computed.
func (e EnrichedDeal) Savings() (float64, bool) {
	m := e.BestMatch()
	if m == nil || m.AveragePrice <= 0 {
		return 0, false
	}
	diff := m.AveragePrice - e.Price
	if diff <= 0 {
		return 0, false
	}
	return diff, true
}

// CatalogURL returns the best link into the catalog: the vintage match's
// detail URL, the overall match's, or the search-query fallback.
func (e EnrichedDeal) CatalogURL() string {
	if e.VintageMatch != nil && e.VintageMatch.URL != "" {
		return e.VintageMatch.URL
	}
	if e.OverallMatch != nil && e.OverallMatch.URL != "" {
		return e.OverallMatch.URL
	}
	return e.SearchURL
}
