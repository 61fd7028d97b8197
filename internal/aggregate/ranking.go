package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"pricewatch/models"
)

// ShopRank is the mean observed price at one shop.
type ShopRank struct {
	ShopID   models.ID `json:"shop_id"`
	ShopName string    `json:"shop_name"`
	City     string    `json:"city,omitempty"`
	Mean     float64   `json:"mean"`
	Count    int       `json:"count"`
}

// ShopRanking averages the qualifying observations of every known shop and
// orders the shops by ascending mean. Equal means keep the order in which
// the shops were first observed.
func ShopRanking(snap *models.Snapshot) []ShopRank {
	idx := newIndex(snap)
	obs, _ := qualify(snap, idx)

	type acc struct {
		shop  *models.Record[models.Shop]
		sum   decimal.Decimal
		count int
	}
	sums := make(map[string]*acc)
	order := make([]string, 0)
	for _, q := range obs {
		if q.shop == nil {
			continue
		}
		k := key(q.shop.ID)
		a, ok := sums[k]
		if !ok {
			a = &acc{shop: q.shop, sum: decimal.Zero}
			sums[k] = a
			order = append(order, k)
		}
		a.sum = a.sum.Add(decimal.NewFromFloat(q.price))
		a.count++
	}

	out := make([]ShopRank, 0, len(order))
	for _, k := range order {
		a := sums[k]
		mean := a.sum.Div(decimal.NewFromInt(int64(a.count))).InexactFloat64()
		out = append(out, ShopRank{
			ShopID:   a.shop.ID,
			ShopName: a.shop.Fields.Name,
			City:     a.shop.Fields.City,
			Mean:     mean,
			Count:    a.count,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Mean < out[j].Mean })
	return out
}
