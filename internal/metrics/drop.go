package metrics

import "pricewatch/logger"

// ExclusionReason identifies why a price observation was left out of the
// aggregates.
type ExclusionReason string

const (
	// ExclusionUnresolvedProduct marks observations whose product reference
	// does not match a loaded product.
	ExclusionUnresolvedProduct ExclusionReason = "unresolved_product"
	// ExclusionMissingPrice marks observations without a price.
	ExclusionMissingPrice ExclusionReason = "missing_price"
)

// EmitExclusionMetric records count observations excluded for reason. Zero
// counts are ignored.
func EmitExclusionMetric(log *logger.Log, reason ExclusionReason, count int) {
	if count <= 0 || !IsFeatureEnabled(FeatureDropCounters) {
		return
	}
	Init()
	excludedTotal.WithLabelValues(string(reason)).Add(float64(count))

	EmitMetric(log, "aggregate", "observations_excluded", count, "counter", logger.Fields{
		"reason": string(reason),
		"unit":   "count",
	})
}
