// Package writer exports aggregated price histories to S3 as parquet files.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "pricewatch/config"
	"pricewatch/internal/aggregate"
	"pricewatch/logger"
)

// objectPutter is the part of the S3 client the exporter needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ExportResult describes one uploaded batch.
type ExportResult struct {
	BatchID string    `json:"batch_id"`
	Bucket  string    `json:"bucket"`
	Key     string    `json:"key"`
	Rows    int       `json:"rows"`
	Bytes   int       `json:"bytes"`
	At      time.Time `json:"exported_at"`
}

// Exporter uploads price histories to the configured bucket.
type Exporter struct {
	cfg     appconfig.S3Config
	version string
	client  objectPutter
	log     *logger.Log
	now     func() time.Time
}

// NewExporter loads the AWS configuration and builds an S3 backed exporter.
func NewExporter(ctx context.Context, cfg *appconfig.Config) (*Exporter, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s3cfg.AccessKeyID,
				s3cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_export").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent("s3_export").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 exporter initialized")

	return newExporter(s3cfg, cfg.Pricewatch.Version, client, log), nil
}

func newExporter(cfg appconfig.S3Config, version string, client objectPutter, log *logger.Log) *Exporter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Exporter{cfg: cfg, version: version, client: client, log: log, now: time.Now}
}

// Rows flattens histories into export rows.
func Rows(batchID string, histories []aggregate.History, exportedAt time.Time) []PriceRow {
	rows := make([]PriceRow, 0)
	for _, h := range histories {
		for _, e := range h.Entries {
			rows = append(rows, PriceRow{
				BatchID:     batchID,
				ProductID:   string(h.ProductID),
				ProductName: h.ProductName,
				Category:    h.Category,
				ShopID:      string(e.ShopID),
				ShopName:    e.ShopName,
				Date:        e.Date,
				ObservedAt:  e.Observed.UnixMilli(),
				Price:       e.Price,
				Current:     h.Current,
				Lowest:      h.Lowest,
				Highest:     h.Highest,
				Trend:       string(h.Trend),
				ExportedAt:  exportedAt.UnixMilli(),
			})
		}
	}
	return rows
}

// Export writes every history entry into one parquet object. Nothing is
// uploaded when there are no entries.
func (e *Exporter) Export(ctx context.Context, histories []aggregate.History) (*ExportResult, error) {
	now := e.now().UTC()
	batchID := uuid.New().String()
	log := e.log.WithComponent("s3_export").WithFields(logger.Fields{
		"batch_id":  batchID,
		"operation": "export",
	})

	rows := Rows(batchID, histories, now)
	result := &ExportResult{BatchID: batchID, Bucket: e.cfg.Bucket, Rows: len(rows), At: now}
	if len(rows) == 0 {
		log.Info("no price entries to export")
		return result, nil
	}

	data, err := encodeParquet(rows, e.cfg.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return nil, err
	}

	result.Key = e.objectKey(batchID, now)
	result.Bytes = len(data)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(result.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        e.cfg.Compression,
			"pricewatch-version": e.version,
			"row-count":          strconv.Itoa(len(rows)),
		},
	}
	if _, err := e.client.PutObject(ctx, input); err != nil {
		log.WithError(err).Error("failed to upload export")
		return nil, fmt.Errorf("failed to upload to S3 bucket %s: %w", e.cfg.Bucket, err)
	}

	logger.RecordExport()
	logger.LogDataFlowEntry(log, "aggregate", "s3", len(rows), "price_rows")
	log.WithFields(logger.Fields{"key": result.Key, "bytes": result.Bytes}).Info("price histories exported")
	return result, nil
}

// objectKey places the export under date partitions below the prefix.
func (e *Exporter) objectKey(batchID string, ts time.Time) string {
	prefix := strings.Trim(e.cfg.Prefix, "/")
	partition := fmt.Sprintf("year=%04d/month=%02d/day=%02d", ts.Year(), ts.Month(), ts.Day())
	filename := fmt.Sprintf("export_%s_%s.parquet", ts.Format("20060102150405"), batchID)
	if prefix == "" {
		return path.Join(partition, filename)
	}
	return path.Join(prefix, partition, filename)
}

// HistorySource supplies the histories for a scheduled export.
type HistorySource func(ctx context.Context) ([]aggregate.History, error)

// Run exports on every tick until ctx is cancelled. Failed runs are logged
// and retried on the next tick only.
func (e *Exporter) Run(ctx context.Context, interval time.Duration, source HistorySource) {
	if interval <= 0 || source == nil {
		return
	}
	log := e.log.WithComponent("s3_export")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithFields(logger.Fields{"interval": interval}).Info("scheduled export started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("scheduled export stopped")
			return
		case <-ticker.C:
			histories, err := source(ctx)
			if err != nil {
				log.WithError(err).Warn("scheduled export skipped; load failed")
				continue
			}
			if _, err := e.Export(ctx, histories); err != nil {
				log.WithError(err).Warn("scheduled export failed")
			}
		}
	}
}
