// Package archive copies raw webhook payloads to S3 so deliveries can be
// audited or replayed after the database record is gone.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/domain"
)

// ErrNotFound is returned by Fetch when no archived payload exists.
var ErrNotFound = errors.New("archived payload not found")

// API is the subset of the S3 client used by the archiver.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archiver writes one object per webhook record.
type S3Archiver struct {
	client API
	bucket string
	prefix string
}

// New builds an archiver from the default AWS credential chain.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

// NewWithAPI builds an archiver over an existing client.
func NewWithAPI(api API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: api, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a record:
// <prefix><kind>/YYYY/MM/DD/<payload hash>.json
func (a *S3Archiver) Key(rec *domain.WebhookRecord) string {
	day := rec.CreatedAt.UTC().Format("2006/01/02")
	kind := strings.ToLower(string(rec.Kind))
	return a.prefix + path.Join(kind, day, rec.PayloadHash+".json")
}

// Archive stores the record's raw payload.
func (a *S3Archiver) Archive(ctx context.Context, rec *domain.WebhookRecord) error {
	if rec == nil || len(rec.Payload) == 0 {
		return nil
	}
	key := a.Key(rec)
	contentType := "application/json"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Payload),
		ContentType: &contentType,
		Metadata: map[string]string{
			"record-id": rec.ID,
			"kind":      string(rec.Kind),
		},
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Fetch reads back the archived payload for a record.
func (a *S3Archiver) Fetch(ctx context.Context, rec *domain.WebhookRecord) ([]byte, error) {
	key := a.Key(rec)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", a.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
