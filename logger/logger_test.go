package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestStaticFieldsAndMetric(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.AddStaticFields(Fields{"service": "pricewatch"})

	log.LogMetric("client", "requests", 2, "", Fields{"collection": "prices"})

	var out map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if out["service"] != "pricewatch" {
		t.Fatalf("static field missing: %v", out)
	}
	if out["metric"] != "requests" || out["metric_type"] != "counter" || out["collection"] != "prices" {
		t.Fatalf("unexpected metric fields: %v", out)
	}
}

func TestCollectReportCountsRequests(t *testing.T) {
	RecordRequest("report-test", 10, false)
	RecordRequest("report-test", 5, true)

	r := CollectReport()
	stat, ok := r.Collections["report-test"]
	if !ok {
		t.Fatalf("collection missing from report: %v", r.Collections)
	}
	if stat.Requests != 2 || stat.Failures != 1 || stat.Bytes != 15 {
		t.Fatalf("unexpected collection stats: %+v", stat)
	}
}
