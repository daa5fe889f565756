package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// S3Exporter mirrors accepted evidence bundles into an object store so the
// external audit/explorer surface can read them without touching the
// resolver's database.
type S3Exporter struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// S3ExporterConfig holds exporter configuration.
type S3ExporterConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

func NewS3Exporter(ctx context.Context, cfg S3ExporterConfig) (*S3Exporter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &S3Exporter{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: slog.Default().With("component", "evidence-exporter"),
	}, nil
}

// Export uploads the bundle keyed by request id. Idempotent: re-exporting the
// same bundle overwrites with identical content.
func (e *S3Exporter) Export(ctx context.Context, bundle *contracts.EvidenceBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	key := e.prefix + bundle.RequestID + ".json"
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	e.logger.Info("evidence exported", "request_id", bundle.RequestID, "key", key)
	return nil
}
