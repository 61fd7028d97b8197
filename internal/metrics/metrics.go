// Registers:
//
//	#livingapps_requests_total{collection,method,status}
//	#livingapps_request_duration_seconds{collection,method}
//	#pricewatch_records_created_total{collection}
//	#pricewatch_observations_excluded_total{reason}
//	#pricewatch_snapshot_loads_total{result}
//	#go_* and process_* system metrics
//
// Handler exposes them for the dashboard router; Serve runs a dedicated
// listener when a Prometheus address is configured.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricewatch/logger"
)

var (
	once            sync.Once
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recordsCreated  *prometheus.CounterVec
	excludedTotal   *prometheus.CounterVec
	snapshotLoads   *prometheus.CounterVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		requestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livingapps_requests_total",
				Help: "Number of requests sent to the Living Apps REST API",
			},
			[]string{"collection", "method", "status"},
		)
		requestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livingapps_request_duration_seconds",
				Help:    "Latency of Living Apps REST API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection", "method"},
		)
		recordsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_records_created_total",
				Help: "Number of records created through the dashboard",
			},
			[]string{"collection"},
		)
		excludedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_observations_excluded_total",
				Help: "Price observations left out of aggregates",
			},
			[]string{"reason"},
		)
		snapshotLoads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_snapshot_loads_total",
				Help: "Dashboard data loads by result",
			},
			[]string{"result"},
		)

		registry.MustRegister(requestsTotal, requestDuration, recordsCreated, excludedTotal, snapshotLoads)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ObserveRequest records one outbound request. status is zero for transport
// failures.
func ObserveRequest(log *logger.Log, collection, method string, status int, duration time.Duration) {
	if !IsFeatureEnabled(FeatureRequestCounters) {
		return
	}
	Init()

	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	requestsTotal.WithLabelValues(collection, method, statusLabel).Inc()
	requestDuration.WithLabelValues(collection, method).Observe(duration.Seconds())

	EmitMetric(log, "livingapps_client", "livingapps_request_duration_ms", float64(duration)/float64(time.Millisecond), "gauge", logger.Fields{
		"collection": collection,
		"method":     method,
		"status":     statusLabel,
		"unit":       "milliseconds",
	})
}

// IncrementCreated counts a record created in collection.
func IncrementCreated(collection string) {
	Init()
	recordsCreated.WithLabelValues(collection).Inc()
}

// IncrementSnapshotLoad counts a dashboard load by its outcome.
func IncrementSnapshotLoad(ok bool) {
	Init()
	result := "success"
	if !ok {
		result = "failure"
	}
	snapshotLoads.WithLabelValues(result).Inc()
}
