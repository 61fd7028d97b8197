package models

import "strings"

// UnknownShopName is shown for observations whose shop cannot be resolved.
const UnknownShopName = "Unbekannt"

// Shop holds the fields of a record in the shops collection.
type Shop struct {
	Name        string `json:"geschaeftsname,omitempty"`
	Chain       string `json:"kette,omitempty"`
	Street      string `json:"strasse,omitempty"`
	HouseNumber string `json:"hausnummer,omitempty"`
	PostalCode  string `json:"postleitzahl,omitempty"`
	City        string `json:"stadt,omitempty"`
	Notes       string `json:"notizen,omitempty"`
}

// StreetLine joins street and house number.
func (s Shop) StreetLine() string {
	return strings.TrimSpace(s.Street + " " + s.HouseNumber)
}

// CityLine joins postal code and city.
func (s Shop) CityLine() string {
	return strings.TrimSpace(s.PostalCode + " " + s.City)
}
