// Package archive keeps the raw connector responses that were fed to the
// translators, so a batch can be replayed later with syncctl.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"qbwc-sync/internal/config"
)

const contentTypeXML = "application/xml"

// Archiver stores one raw response and returns where it went.
type Archiver interface {
	Store(ctx context.Context, key string, body []byte) (string, error)
}

// New picks the S3 archive when a bucket is configured, the local one when a
// directory is, and otherwise discards responses.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	switch {
	case cfg.ArchiveS3Bucket != "":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3(client, cfg.ArchiveS3Bucket), nil
	case cfg.ArchiveDir != "":
		return NewLocal(cfg.ArchiveDir), nil
	default:
		return Nop{}, nil
	}
}

// Key lays responses out by day, then session.
func Key(sessionID, entityType string, at time.Time) string {
	at = at.UTC()
	return path.Join(
		at.Format("2006/01/02"),
		sanitizeKey(sessionID),
		fmt.Sprintf("%s-%d.xml", sanitizeKey(entityType), at.UnixNano()),
	)
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}

// Nop drops everything.
type Nop struct{}

func (Nop) Store(context.Context, string, []byte) (string, error) { return "", nil }

// Local writes responses under a base directory.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

func (l *Local) Store(_ context.Context, key string, body []byte) (string, error) {
	p := filepath.Join(l.baseDir, filepath.FromSlash(sanitizeKey(key)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

// S3 uploads responses to a bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

func (s *S3) Store(ctx context.Context, key string, body []byte) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentTypeXML),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// NewS3Client loads the default AWS credential chain, optionally pointed at a
// custom endpoint such as MinIO.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3Endpoint)
		}
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}
