package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type collectionStat struct {
	requests int64
	failures int64
	bytes    int64
}

var (
	warnCount     int64
	errorCount    int64
	snapshotLoads int64
	loadFailures  int64
	recordsMade   int64
	exports       int64
	collections   sync.Map // map[string]*collectionStat
	componentMu   sync.Mutex
	componentErrs = map[string]int64{}
)

func recordWarn() {
	atomic.AddInt64(&warnCount, 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorCount, 1)
	if component == "" {
		return
	}
	componentMu.Lock()
	componentErrs[component]++
	componentMu.Unlock()
}

// RecordRequest counts one outbound request against a collection.
func RecordRequest(collection string, size int, failed bool) {
	v, _ := collections.LoadOrStore(collection, &collectionStat{})
	cs := v.(*collectionStat)
	atomic.AddInt64(&cs.requests, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
	if failed {
		atomic.AddInt64(&cs.failures, 1)
	}
}

// RecordSnapshotLoad counts a dashboard data load.
func RecordSnapshotLoad(failed bool) {
	atomic.AddInt64(&snapshotLoads, 1)
	if failed {
		atomic.AddInt64(&loadFailures, 1)
	}
}

// RecordCreate counts a record created through the dashboard.
func RecordCreate() {
	atomic.AddInt64(&recordsMade, 1)
}

// RecordExport counts a finished export batch.
func RecordExport() {
	atomic.AddInt64(&exports, 1)
}

// CollectionReport holds the request counters of one collection.
type CollectionReport struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
	Bytes    int64 `json:"bytes"`
}

// Report is one runtime sample.
type Report struct {
	Timestamp     time.Time                   `json:"timestamp"`
	Warnings      int64                       `json:"warnings"`
	Errors        int64                       `json:"errors"`
	SnapshotLoads int64                       `json:"snapshot_loads"`
	LoadFailures  int64                       `json:"load_failures"`
	RecordsMade   int64                       `json:"records_created"`
	Exports       int64                       `json:"exports"`
	Goroutines    int                         `json:"goroutines"`
	CPUPercent    float64                     `json:"cpu_percent"`
	MemoryMB      float64                     `json:"memory_mb"`
	DiskMB        float64                     `json:"disk_mb"`
	NetBytesSent  uint64                      `json:"net_bytes_sent"`
	NetBytesRecv  uint64                      `json:"net_bytes_recv"`
	Collections   map[string]CollectionReport `json:"collections"`
	ErrorsBy      map[string]int64            `json:"errors_by_component"`
}

// ReportHandler receives every runtime report after it has been logged.
type ReportHandler func(context.Context, Report)

func startReport(ctx context.Context, log *Log, interval time.Duration, handlers []ReportHandler) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				r := CollectReport()
				logReport(log, r)
				for _, h := range handlers {
					if h != nil {
						h(ctx, r)
					}
				}
			}
		}
	}()
}

// StartReport begins periodic logging of system and request statistics until
// ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration, handlers ...ReportHandler) {
	if interval <= 0 {
		interval = time.Minute
	}
	startReport(ctx, log, interval, handlers)
}

// CollectReport samples the process and the counters recorded so far.
func CollectReport() Report {
	r := Report{
		Timestamp:     time.Now().UTC(),
		Warnings:      atomic.LoadInt64(&warnCount),
		Errors:        atomic.LoadInt64(&errorCount),
		SnapshotLoads: atomic.LoadInt64(&snapshotLoads),
		LoadFailures:  atomic.LoadInt64(&loadFailures),
		RecordsMade:   atomic.LoadInt64(&recordsMade),
		Exports:       atomic.LoadInt64(&exports),
		Goroutines:    runtime.NumGoroutine(),
		ErrorsBy:      map[string]int64{},
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		r.MemoryMB = float64(vm.Used) / 1024 / 1024
	}
	if du, err := disk.Usage("/"); err == nil && du != nil {
		r.DiskMB = float64(du.Used) / 1024 / 1024
	}
	if nc, err := gnet.IOCounters(false); err == nil && len(nc) > 0 {
		r.NetBytesSent = nc[0].BytesSent
		r.NetBytesRecv = nc[0].BytesRecv
	}

	r.Collections = CollectionTotals()

	componentMu.Lock()
	for k, v := range componentErrs {
		r.ErrorsBy[k] = v
	}
	componentMu.Unlock()
	return r
}

// CollectionTotals returns the request counters per collection.
func CollectionTotals() map[string]CollectionReport {
	out := map[string]CollectionReport{}
	collections.Range(func(k, v any) bool {
		cs := v.(*collectionStat)
		out[k.(string)] = CollectionReport{
			Requests: atomic.LoadInt64(&cs.requests),
			Failures: atomic.LoadInt64(&cs.failures),
			Bytes:    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	return out
}

func logReport(log *Log, r Report) {
	log.WithComponent("report").WithFields(Fields{
		"warnings":        r.Warnings,
		"errors":          r.Errors,
		"snapshot_loads":  r.SnapshotLoads,
		"load_failures":   r.LoadFailures,
		"records_created": r.RecordsMade,
		"exports":         r.Exports,
		"goroutines":      r.Goroutines,
		"cpu_percent":     r.CPUPercent,
		"memory_mb":       int64(r.MemoryMB),
		"disk_mb":         int64(r.DiskMB),
		"net_bytes_sent":  int64(r.NetBytesSent),
		"net_bytes_recv":  int64(r.NetBytesRecv),
		"collections":     r.Collections,
	}).Info("runtime report")
}
