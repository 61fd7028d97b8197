// Package aggregate derives the dashboard view models from a snapshot. All
// functions are pure and deterministic for a given input order.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"pricewatch/models"
)

// Trend classifies the movement between the last two entries of a history.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Entry is one priced observation in a product history.
type Entry struct {
	Date     string    `json:"date"`
	Observed time.Time `json:"observed"`
	Price    float64   `json:"price"`
	ShopID   models.ID `json:"shop_id,omitempty"`
	ShopName string    `json:"shop_name"`
}

// History is the price history of one product, ordered ascending by date.
type History struct {
	ProductID   models.ID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Category    string    `json:"category"`
	Entries     []Entry   `json:"entries"`
	Current     float64   `json:"current"`
	Lowest      float64   `json:"lowest"`
	Highest     float64   `json:"highest"`
	Trend       Trend     `json:"trend"`
}

// Exclusions counts observations left out of every aggregate. An
// observation missing both a price and a known product counts as missing
// price.
type Exclusions struct {
	UnresolvedProduct int `json:"unresolved_product"`
	MissingPrice      int `json:"missing_price"`
}

// key normalises an identifier for lookups. Identifiers are hex, so case
// does not distinguish records.
func key(id models.ID) string {
	return strings.ToLower(string(id))
}

type index struct {
	products map[string]*models.Record[models.Product]
	shops    map[string]*models.Record[models.Shop]
}

func newIndex(snap *models.Snapshot) index {
	idx := index{
		products: make(map[string]*models.Record[models.Product], len(snap.Products)),
		shops:    make(map[string]*models.Record[models.Shop], len(snap.Shops)),
	}
	for i := range snap.Products {
		if k := key(snap.Products[i].ID); k != "" {
			if _, dup := idx.products[k]; !dup {
				idx.products[k] = &snap.Products[i]
			}
		}
	}
	for i := range snap.Shops {
		if k := key(snap.Shops[i].ID); k != "" {
			if _, dup := idx.shops[k]; !dup {
				idx.shops[k] = &snap.Shops[i]
			}
		}
	}
	return idx
}

// qualified is an observation that takes part in aggregation.
type qualified struct {
	product *models.Record[models.Product]
	shop    *models.Record[models.Shop]
	obs     models.PriceObservation
	price   float64
}

// qualify resolves every observation and drops those without a price or a
// known product.
func qualify(snap *models.Snapshot, idx index) ([]qualified, Exclusions) {
	var (
		out []qualified
		ex  Exclusions
	)
	for _, rec := range snap.Prices {
		obs := rec.Fields
		if obs.Price == nil || math.IsNaN(*obs.Price) {
			ex.MissingPrice++
			continue
		}
		product, ok := idx.products[key(obs.Product.ID())]
		if !ok {
			ex.UnresolvedProduct++
			continue
		}
		out = append(out, qualified{
			product: product,
			shop:    idx.shops[key(obs.Shop.ID())],
			obs:     obs,
			price:   *obs.Price,
		})
	}
	return out, ex
}

// PriceHistories builds one history per product with qualifying
// observations, in order of the product's first observation.
func PriceHistories(snap *models.Snapshot) []History {
	h, _ := priceHistories(snap)
	return h
}

func priceHistories(snap *models.Snapshot) ([]History, Exclusions) {
	idx := newIndex(snap)
	obs, ex := qualify(snap, idx)

	buckets := make(map[string]*History)
	order := make([]string, 0)
	for _, q := range obs {
		k := key(q.product.ID)
		h, ok := buckets[k]
		if !ok {
			h = &History{
				ProductID:   q.product.ID,
				ProductName: q.product.Fields.Name,
				Category:    q.product.Fields.CategoryLabel(),
				Lowest:      math.Inf(1),
				Highest:     math.Inf(-1),
			}
			buckets[k] = h
			order = append(order, k)
		}

		entry := Entry{
			Observed: q.obs.ObservedOn(),
			Price:    q.price,
			ShopName: models.UnknownShopName,
		}
		entry.Date = entry.Observed.Format(models.DateLayout)
		if q.shop != nil {
			entry.ShopID = q.shop.ID
			entry.ShopName = q.shop.Fields.Name
		}
		h.Entries = append(h.Entries, entry)
		h.Lowest = math.Min(h.Lowest, q.price)
		h.Highest = math.Max(h.Highest, q.price)
	}

	out := make([]History, 0, len(order))
	for _, k := range order {
		h := buckets[k]
		sort.SliceStable(h.Entries, func(i, j int) bool {
			return h.Entries[i].Observed.Before(h.Entries[j].Observed)
		})
		h.Current = h.Entries[len(h.Entries)-1].Price
		h.Trend = trendOf(h.Entries)
		out = append(out, *h)
	}
	return out, ex
}

func trendOf(entries []Entry) Trend {
	if len(entries) < 2 {
		return TrendStable
	}
	last, prev := entries[len(entries)-1].Price, entries[len(entries)-2].Price
	switch {
	case last > prev:
		return TrendRising
	case last < prev:
		return TrendFalling
	default:
		return TrendStable
	}
}
