package models

import "time"

// Snapshot is the full data set of one dashboard load. Panels is nil when
// the layout collection is not configured.
type Snapshot struct {
	Products []Record[Product]
	Shops    []Record[Shop]
	Prices   []Record[PriceObservation]
	Panels   []Record[Panel]
	LoadedAt time.Time
}
