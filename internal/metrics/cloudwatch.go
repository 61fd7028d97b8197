package metrics

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pricewatch/config"
	"pricewatch/logger"
)

//go:embed CWdash.json
var dashboardTemplate string

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval bounds how often a single metric series is sent.
	cloudWatchPublishInterval = 30 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	metricPublishMu    sync.Mutex
	metricPublishTimes = map[string]time.Time{}
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "PriceWatch",
		dashboardName: "PriceWatch",
	})
}

func resetMetricPublishTimes() {
	metricPublishMu.Lock()
	metricPublishTimes = map[string]time.Time{}
	metricPublishMu.Unlock()
}

// InitCloudWatch initialises the CloudWatch client from cfg. The dashboard is
// created from the embedded CWdash.json definition. When the client cannot be
// created a warning is logged and publishing stays disabled.
func InitCloudWatch(ctx context.Context, cfg config.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{}
	if current := cwState.Load(); current != nil {
		state = *current
	}

	state.client = cloudwatch.NewFromConfig(awsCfg)
	if cfg.Namespace != "" {
		state.namespace = cfg.Namespace
	}
	if cfg.Dashboard != "" {
		state.dashboardName = cfg.Dashboard
	}
	if awsCfg.Region != "" {
		state.region = awsCfg.Region
	} else {
		state.region = region
	}

	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := CreateDashboardFromTemplate(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric locally, hands it to the registered handlers and
// publishes it to CloudWatch when configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	metricEvent, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	numericValue, ok := toFloat64(metricEvent.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metricEvent.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}

	publishMetricDatum(metricEvent, numericValue)
}

// CreateDashboardFromTemplate applies the embedded dashboard definition to the
// configured CloudWatch dashboard.
func CreateDashboardFromTemplate(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body := renderDashboard(dashboardTemplate, state.namespace, state.region)
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("dashboard template is not valid JSON after substitution")
	}

	_, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	if err != nil {
		return err
	}

	logger.GetLogger().WithComponent("cloudwatch").Debug("updated CloudWatch dashboard from template")
	return nil
}

func renderDashboard(body, namespace, region string) string {
	if namespace != "" {
		body = strings.ReplaceAll(body, "\"PriceWatch\"", fmt.Sprintf("%q", namespace))
	}
	if region != "" {
		body = strings.ReplaceAll(body, "\"eu-central-1\"", fmt.Sprintf("%q", region))
	}
	return body
}

// PublishReport sends a runtime report as a batch of CloudWatch metrics.
func PublishReport(ctx context.Context, r logger.Report) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, r.CPUPercent, nil),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, r.MemoryMB, nil),
		datum("DiskMB", cwtypes.StandardUnitMegabytes, r.DiskMB, nil),
		datum("Goroutines", cwtypes.StandardUnitCount, float64(r.Goroutines), nil),
		datum("Errors", cwtypes.StandardUnitCount, float64(r.Errors), nil),
		datum("Warnings", cwtypes.StandardUnitCount, float64(r.Warnings), nil),
		datum("SnapshotLoads", cwtypes.StandardUnitCount, float64(r.SnapshotLoads), nil),
		datum("LoadFailures", cwtypes.StandardUnitCount, float64(r.LoadFailures), nil),
		datum("RecordsCreated", cwtypes.StandardUnitCount, float64(r.RecordsMade), nil),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, float64(r.NetBytesSent), nil),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, float64(r.NetBytesRecv), nil),
	}
	for name, stats := range r.Collections {
		dims := []cwtypes.Dimension{{Name: aws.String("collection"), Value: aws.String(name)}}
		data = append(data,
			datum("CollectionRequests", cwtypes.StandardUnitCount, float64(stats.Requests), dims),
			datum("CollectionFailures", cwtypes.StandardUnitCount, float64(stats.Failures), dims),
		)
	}

	publishMetricsFunc(ctx, state, data)
}

func datum(name string, unit cwtypes.StandardUnit, value float64, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       unit,
		Value:      aws.Float64(value),
		Dimensions: dims,
	}
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := metric.Fields["unit"]; ok {
		if unitStr, ok := rawUnit.(string); ok {
			if parsedUnit, found := metricUnitFromString(unitStr); found {
				unit = parsedUnit
			} else {
				logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metric.Name, "unit": unitStr}).Debug("unsupported metric unit; defaulting to Count")
			}
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}
	for k, v := range metric.Fields {
		if k == "metric" || k == "metric_type" || k == "value" || k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	if !allowPublish(seriesKey(metric.Name, dims)) {
		return
	}

	ts := metric.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(ts),
	}}
	publishMetricsFunc(context.Background(), state, data)
}

func seriesKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteByte('|')
		b.WriteString(aws.ToString(d.Name))
		b.WriteByte('=')
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

// allowPublish reports whether the series may be published now and records
// the attempt when it may.
func allowPublish(key string) bool {
	now := timeNow()
	metricPublishMu.Lock()
	defer metricPublishMu.Unlock()
	if last, ok := metricPublishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	metricPublishTimes[key] = now
	return true
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil {
		return
	}
	if len(data) == 0 {
		logger.GetLogger().WithComponent("cloudwatch").Debug("no metric data to publish")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, d := range data {
		if d.MetricName != nil {
			names = append(names, *d.MetricName)
		}
	}

	logger.GetLogger().WithComponent("cloudwatch").WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case time.Duration:
		return float64(v) / float64(time.Millisecond), true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds", "ms":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
