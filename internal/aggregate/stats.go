package aggregate

import (
	"time"

	"pricewatch/models"
)

// CategoryCount is the number of products in one category.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats are the headline counts of the dashboard.
type Stats struct {
	Products     int             `json:"products"`
	Shops        int             `json:"shops"`
	Observations int             `json:"observations"`
	Panels       int             `json:"panels"`
	Categories   int             `json:"categories"`
	ByCategory   []CategoryCount `json:"by_category"`
}

// Summarize counts the snapshot. Categories are listed in order of first
// appearance; products without one count under the uncategorized label.
func Summarize(snap *models.Snapshot) Stats {
	s := Stats{
		Products:     len(snap.Products),
		Shops:        len(snap.Shops),
		Observations: len(snap.Prices),
		Panels:       len(snap.Panels),
		ByCategory:   make([]CategoryCount, 0),
	}
	pos := make(map[string]int)
	for _, p := range snap.Products {
		label := p.Fields.CategoryLabel()
		i, ok := pos[label]
		if !ok {
			i = len(s.ByCategory)
			pos[label] = i
			s.ByCategory = append(s.ByCategory, CategoryCount{Name: label})
		}
		s.ByCategory[i].Count++
	}
	s.Categories = len(s.ByCategory)
	return s
}

// View is everything the dashboard renders for one snapshot.
type View struct {
	Stats     Stats                           `json:"stats"`
	Histories []History                       `json:"histories"`
	Ranking   []ShopRank                      `json:"ranking"`
	Chart     Series                          `json:"chart"`
	Products  []models.Record[models.Product] `json:"products"`
	Shops     []models.Record[models.Shop]    `json:"shops"`
	Panels    []models.Record[models.Panel]   `json:"panels,omitempty"`
	Excluded  Exclusions                      `json:"excluded"`
	LoadedAt  time.Time                       `json:"loaded_at"`
}

// Build derives the full view. topN below zero selects DefaultTopSeries.
func Build(snap *models.Snapshot, topN int) View {
	if topN < 0 {
		topN = DefaultTopSeries
	}
	histories, excluded := priceHistories(snap)
	return View{
		Stats:     Summarize(snap),
		Histories: histories,
		Ranking:   ShopRanking(snap),
		Chart:     TopSeries(histories, topN),
		Products:  snap.Products,
		Shops:     snap.Shops,
		Panels:    snap.Panels,
		Excluded:  excluded,
		LoadedAt:  snap.LoadedAt,
	}
}
