package metrics

import (
	"strings"
	"sync"

	"pricewatch/config"
)

// Feature groups metrics that can be switched off in configuration.
type Feature string

const (
	FeatureRequestCounters Feature = "request_counters"
	FeatureDropCounters    Feature = "drop_counters"
)

var (
	featuresMu sync.RWMutex
	features   = map[Feature]bool{
		FeatureRequestCounters: true,
		FeatureDropCounters:    true,
	}
)

// Configure applies the metric feature switches.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	features[FeatureRequestCounters] = cfg.RequestCounters
	features[FeatureDropCounters] = cfg.DropCounters
	featuresMu.Unlock()
}

// IsFeatureEnabled reports whether metrics of the given feature are emitted.
func IsFeatureEnabled(f Feature) bool {
	featuresMu.RLock()
	defer featuresMu.RUnlock()
	enabled, ok := features[f]
	return !ok || enabled
}

// featureForMetric maps a metric name onto the feature that governs it.
func featureForMetric(name string) (Feature, bool) {
	switch {
	case strings.HasPrefix(name, "livingapps_request"), name == "rate_limited":
		return FeatureRequestCounters, true
	case strings.HasPrefix(name, "observations_excluded"):
		return FeatureDropCounters, true
	default:
		return "", false
	}
}
