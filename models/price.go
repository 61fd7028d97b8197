package models

import (
	"time"
)

// DateLayout is the calendar date format used by date fields.
const DateLayout = "2006-01-02"

// PriceObservation is a single recorded price of a product at a shop.
type PriceObservation struct {
	Product Reference `json:"produkt,omitempty"`
	Shop    Reference `json:"geschaeft,omitempty"`
	Price   *float64  `json:"preis,omitempty"`
	Date    string    `json:"datum,omitempty"`
	Remarks string    `json:"bemerkungen,omitempty"`
}

var epoch = time.Unix(0, 0).UTC()

// ObservedOn parses the observation date. Missing or unparseable dates map to
// the Unix epoch so they sort first.
func (o PriceObservation) ObservedOn() time.Time {
	return ParseDate(o.Date)
}

// ParseDate parses a YYYY-MM-DD value. Datetime values are accepted and
// truncated to their date part.
func ParseDate(s string) time.Time {
	if len(s) < len(DateLayout) {
		return epoch
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return epoch
	}
	return t
}
