package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/models"
)

// ValidationError reports a create request that is missing required input.
// No record is sent to the platform when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func trimProduct(p models.Product) models.Product {
	return models.Product{
		Name:        strings.TrimSpace(p.Name),
		Category:    strings.TrimSpace(p.Category),
		Brand:       strings.TrimSpace(p.Brand),
		Size:        strings.TrimSpace(p.Size),
		Description: strings.TrimSpace(p.Description),
	}
}

func validateProduct(p models.Product) error {
	if p.Name == "" {
		return invalid("produktname", "Bitte geben Sie einen Produktnamen ein")
	}
	return nil
}

func trimShop(s models.Shop) models.Shop {
	return models.Shop{
		Name:        strings.TrimSpace(s.Name),
		Chain:       strings.TrimSpace(s.Chain),
		Street:      strings.TrimSpace(s.Street),
		HouseNumber: strings.TrimSpace(s.HouseNumber),
		PostalCode:  strings.TrimSpace(s.PostalCode),
		City:        strings.TrimSpace(s.City),
		Notes:       strings.TrimSpace(s.Notes),
	}
}

func validateShop(s models.Shop) error {
	if s.Name == "" || s.City == "" {
		field := "geschaeftsname"
		if s.Name != "" {
			field = "stadt"
		}
		return invalid(field, "Bitte füllen Sie mindestens Name und Stadt aus")
	}
	return nil
}

// observationInput is the create payload of a price observation. Product and
// shop accept either a bare identifier or a record locator.
type observationInput struct {
	Product string     `json:"produkt" form:"produkt"`
	Shop    string     `json:"geschaeft" form:"geschaeft"`
	Price   priceInput `json:"preis" form:"preis"`
	Date    string     `json:"datum" form:"datum"`
	Remarks string     `json:"bemerkungen" form:"bemerkungen"`
}

// priceInput is a price as typed into the form. JSON clients may send a
// number or a string.
type priceInput string

func (p *priceInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = priceInput(s)
		return nil
	}
	*p = priceInput(data)
	return nil
}

// observation is a validated observationInput.
type observation struct {
	ProductID models.ID
	ShopID    models.ID
	Price     float64
	Date      string
	Remarks   string
}

func (in observationInput) validate() (observation, error) {
	var out observation

	out.ProductID = models.DecodeReference(strings.TrimSpace(in.Product))
	if out.ProductID == "" {
		return out, invalid("produkt", "Bitte wählen Sie ein Produkt aus")
	}
	out.ShopID = models.DecodeReference(strings.TrimSpace(in.Shop))
	if out.ShopID == "" {
		return out, invalid("geschaeft", "Bitte wählen Sie ein Geschäft aus")
	}

	price, err := parsePrice(string(in.Price))
	if err != nil {
		return out, invalid("preis", "Bitte geben Sie einen gültigen Preis ein")
	}
	if price.IsNegative() {
		return out, invalid("preis", "Der Preis darf nicht negativ sein")
	}
	out.Price = price.InexactFloat64()

	date, ok := calendarDate(in.Date)
	if !ok {
		return out, invalid("datum", "Bitte geben Sie ein gültiges Datum ein")
	}
	out.Date = date
	out.Remarks = strings.TrimSpace(in.Remarks)
	return out, nil
}

// calendarDate returns the YYYY-MM-DD part of raw. Datetime values are
// truncated.
func calendarDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(models.DateLayout) {
		return "", false
	}
	raw = raw[:len(models.DateLayout)]
	if _, err := time.Parse(models.DateLayout, raw); err != nil {
		return "", false
	}
	return raw, true
}

// parsePrice accepts a decimal comma as well as a point.
func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "€")
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return decimal.Decimal{}, errors.New("empty price")
	}
	return decimal.NewFromString(raw)
}
