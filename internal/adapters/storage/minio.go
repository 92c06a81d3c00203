// Package storage archives dispute evidence in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds object storage settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectPutter is the subset of *minio.Client used for archiving.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// EvidenceArchive implements ports.EvidenceArchive on MinIO.
type EvidenceArchive struct {
	client ObjectPutter
	bucket string
	logger *zap.Logger
}

// NewMinIOClient connects and ensures the bucket exists.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return client, nil
}

// NewEvidenceArchive creates the archive on an existing client.
func NewEvidenceArchive(client ObjectPutter, bucket string, logger *zap.Logger) *EvidenceArchive {
	return &EvidenceArchive{client: client, bucket: bucket, logger: logger}
}

// ObjectKey returns disputes/<dispute id>/<uuid>-<sanitized file name>.
func ObjectKey(disputeID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "evidence"
	}
	return fmt.Sprintf("disputes/%s/%s-%s", disputeID, uuid.NewString(), name)
}

// Store uploads the file and returns its object key.
func (a *EvidenceArchive) Store(ctx context.Context, disputeID, fileName, contentType string, data []byte) (string, error) {
	key := ObjectKey(disputeID, fileName)

	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"dispute-id": disputeID},
		})
	if err != nil {
		return "", fmt.Errorf("failed to upload evidence to minio: %w", err)
	}

	a.logger.Info("Dispute evidence archived",
		zap.String("dispute_id", disputeID),
		zap.String("object_key", key),
		zap.Int64("size", info.Size),
	)
	return key, nil
}

var _ ports.EvidenceArchive = (*EvidenceArchive)(nil)
