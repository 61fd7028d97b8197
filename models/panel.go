package models

// Panel holds the layout fields of the panel collection used by one
// deployment variant. Only the fields the dashboard reads are mapped.
type Panel struct {
	Label       string    `json:"beschriftung,omitempty"`
	Category    string    `json:"kategorie,omitempty"`
	Order       *float64  `json:"reihenfolge,omitempty"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
	Template    string    `json:"template,omitempty"`
	Display     string    `json:"darstellung,omitempty"`
	Description string    `json:"beschreibung,omitempty"`
	Parent      Reference `json:"uebergeordnetes_panel,omitempty"`
	CSSClass    string    `json:"css_class,omitempty"`
}
