package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

const archivePageSize = 500

// Searcher reads stored audit events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// ArchiveConfig locates the bucket monthly audit archives are written to.
// Endpoint and UsePathStyle are for S3-compatible stores such as MinIO.
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether a bucket is configured
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// NewS3Client builds an S3 client. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg ArchiveConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Archiver copies one month of audit events to object storage as JSON lines
type Archiver struct {
	source   Searcher
	client   *s3.Client
	bucket   string
	prefix   string
	pageSize int
	logger   *observability.Logger
}

// NewArchiver creates an archiver reading from source and writing to client
func NewArchiver(source Searcher, client *s3.Client, cfg ArchiveConfig, logger *observability.Logger) *Archiver {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Archiver{
		source:   source,
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		pageSize: archivePageSize,
		logger:   logger.WithField("component", "audit_archive"),
	}
}

// ArchiveKey returns the object key for the month containing t
func (a *Archiver) ArchiveKey(t time.Time) string {
	t = t.UTC()
	key := fmt.Sprintf("%04d/%02d/billing-audit.jsonl", t.Year(), int(t.Month()))
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// ArchiveMonth uploads every event of the calendar month containing month,
// oldest first. Re-running it overwrites the same object.
func (a *Archiver) ArchiveMonth(ctx context.Context, month time.Time) (key string, count int, err error) {
	start := time.Date(month.UTC().Year(), month.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	key = a.ArchiveKey(start)

	ctx, span := observability.StartSpan(ctx, "audit.ArchiveMonth",
		attribute.String("s3.bucket", a.bucket),
		attribute.String("s3.key", key),
	)
	defer func() { observability.EndSpan(span, err) }()

	var events []*Event
	for offset := 0; ; offset += a.pageSize {
		page, err := a.source.Search(ctx, SearchFilter{
			StartTime: &start,
			EndTime:   &end,
			Limit:     a.pageSize,
			Offset:    offset,
		})
		if err != nil {
			return key, 0, fmt.Errorf("failed to read audit events: %w", err)
		}
		events = append(events, page...)
		if len(page) < a.pageSize {
			break
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return key, 0, fmt.Errorf("failed to encode audit event %d: %w", e.ID, err)
		}
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	span.SetAttributes(attribute.Int("audit.events", len(events)), attribute.Int("content.size", len(data)))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
			"event-count":     fmt.Sprint(len(events)),
		},
	})
	if err != nil {
		return key, 0, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":    key,
		"events": len(events),
	}).Info("Audit archive uploaded")
	return key, len(events), nil
}
