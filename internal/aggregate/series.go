package aggregate

import (
	"sort"

	"pricewatch/models"
)

// DefaultTopSeries is the number of products charted when no count is set.
const DefaultTopSeries = 3

// SeriesProduct names one charted product.
type SeriesProduct struct {
	ProductID models.ID `json:"product_id"`
	Name      string    `json:"name"`
}

// SeriesRow holds the prices of every charted product on one date. Prices is
// aligned with Series.Products; nil marks a product without an entry on Date.
type SeriesRow struct {
	Date   string     `json:"date"`
	Prices []*float64 `json:"prices"`
}

// Series is the time aligned chart data set.
type Series struct {
	Products []SeriesProduct `json:"products"`
	Rows     []SeriesRow     `json:"rows"`
}

// Value returns the price of product i in the row, if any.
func (r SeriesRow) Value(i int) (float64, bool) {
	if i < 0 || i >= len(r.Prices) || r.Prices[i] == nil {
		return 0, false
	}
	return *r.Prices[i], true
}

// TopSeries charts the n histories with the most entries. Histories with the
// same number of entries keep their input order. When a product has several
// entries on one date the chronologically last one is used.
func TopSeries(histories []History, n int) Series {
	if n < 0 {
		n = 0
	}

	picked := make([]int, len(histories))
	for i := range picked {
		picked[i] = i
	}
	sort.SliceStable(picked, func(a, b int) bool {
		return len(histories[picked[a]].Entries) > len(histories[picked[b]].Entries)
	})
	if len(picked) > n {
		picked = picked[:n]
	}

	series := Series{
		Products: make([]SeriesProduct, 0, len(picked)),
		Rows:     make([]SeriesRow, 0),
	}
	byDate := make([]map[string]float64, len(picked))
	dateSet := make(map[string]struct{})
	for col, hi := range picked {
		h := histories[hi]
		series.Products = append(series.Products, SeriesProduct{ProductID: h.ProductID, Name: h.ProductName})
		byDate[col] = make(map[string]float64, len(h.Entries))
		for _, e := range h.Entries {
			byDate[col][e.Date] = e.Price
			dateSet[e.Date] = struct{}{}
		}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	// DateLayout sorts lexically in chronological order.
	sort.Strings(dates)

	for _, d := range dates {
		row := SeriesRow{Date: d, Prices: make([]*float64, len(picked))}
		for col := range picked {
			if p, ok := byDate[col][d]; ok {
				price := p
				row.Prices[col] = &price
			}
		}
		series.Rows = append(series.Rows, row)
	}
	return series
}
