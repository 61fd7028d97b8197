package metrics

import (
	"net/http"
	"strings"

	"pricewatch/logger"
)

// IsRateLimited reports whether a response signals that the platform throttled
// the request.
func IsRateLimited(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit")
}

// ReportRateLimited emits a counter and a warning for a throttled request.
func ReportRateLimited(log *logger.Log, collection, method string, status int) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{
		"collection": collection,
		"method":     method,
		"status":     status,
	}
	EmitMetric(log, "livingapps_client", "rate_limited", int64(1), "counter", logger.Fields{
		"collection": collection,
		"method":     method,
		"unit":       "count",
	})
	log.WithComponent("livingapps_client").WithFields(fields).Warn("rate limit exceeded")
}
