package models

// UncategorizedLabel is used for products without a category.
const UncategorizedLabel = "Ohne Kategorie"

// ProductCategories is the fixed category list offered by the create form.
var ProductCategories = []string{
	"Lebensmittel",
	"Getraenke",
	"Haushalt",
	"Kosmetik",
	"Elektronik",
	"Sonstiges",
}

// Product holds the fields of a record in the products collection.
type Product struct {
	Name        string `json:"produktname,omitempty"`
	Category    string `json:"kategorie,omitempty"`
	Brand       string `json:"marke,omitempty"`
	Size        string `json:"groesse,omitempty"`
	Description string `json:"beschreibung,omitempty"`
}

// CategoryLabel returns the category or the uncategorized label.
func (p Product) CategoryLabel() string {
	if p.Category == "" {
		return UncategorizedLabel
	}
	return p.Category
}
