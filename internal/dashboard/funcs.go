package dashboard

import (
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/internal/aggregate"
)

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"price":      formatPrice,
		"trendArrow": trendArrow,
		"cell":       seriesCell,
	}
}

// formatPrice renders v with two decimals and a decimal comma.
func formatPrice(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	return strings.Replace(s, ".", ",", 1) + " €"
}

func trendArrow(t aggregate.Trend) string {
	switch t {
	case aggregate.TrendRising:
		return "↑"
	case aggregate.TrendFalling:
		return "↓"
	default:
		return "→"
	}
}

// seriesCell renders one chart value; gaps stay visibly empty.
func seriesCell(row aggregate.SeriesRow, i int) string {
	v, ok := row.Value(i)
	if !ok {
		return "–"
	}
	return formatPrice(v)
}
