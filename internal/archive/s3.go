package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yourorg/market-ingest/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// Uploader is the part of *s3manager.Uploader the archiver needs
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Archiver copies ingested capture files to an S3 bucket
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader Uploader
	logger   *zap.Logger
}

// NewS3Archiver creates an archiver from configuration
func NewS3Archiver(cfg config.ArchiveConfig, logger *zap.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3ArchiverWithUploader(cfg.Bucket, cfg.Prefix, s3manager.NewUploader(sess), logger), nil
}

// NewS3ArchiverWithUploader creates an archiver around an existing uploader
func NewS3ArchiverWithUploader(bucket, prefix string, uploader Uploader, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: uploader,
		logger:   logger,
	}
}

// Key returns the object key used for a capture file
func (a *S3Archiver) Key(filePath string) string {
	return path.Join(strings.Trim(a.prefix, "/"), filepath.Base(filePath))
}

// ArchiveFile uploads the file and returns its object key
func (a *S3Archiver) ArchiveFile(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	key := a.Key(filePath)
	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		a.logger.Error("Failed to upload capture file",
			zap.String("bucket", a.bucket),
			zap.String("key", key),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	return key, nil
}
