package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
	opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.key, f.contentType = bucketName, objectName, opts.ContentType
	f.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestEvidenceArchive_Store(t *testing.T) {
	putter := &fakePutter{}
	archive := NewEvidenceArchive(putter, "evidence", zaptest.NewLogger(t))

	key, err := archive.Store(context.Background(), "dp_1", "receipt.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "evidence", putter.bucket)
	assert.Equal(t, key, putter.key)
	assert.True(t, strings.HasPrefix(key, "disputes/dp_1/"))
	assert.True(t, strings.HasSuffix(key, "-receipt.pdf"))
	assert.Equal(t, "application/pdf", putter.contentType)
	assert.Equal(t, []byte("%PDF"), putter.body)
}

func TestEvidenceArchive_StoreError(t *testing.T) {
	archive := NewEvidenceArchive(&fakePutter{err: errors.New("no bucket")}, "evidence", zaptest.NewLogger(t))

	_, err := archive.Store(context.Background(), "dp_1", "a.png", "image/png", []byte{1})
	assert.Error(t, err)
}

func TestObjectKey_StripsDirectories(t *testing.T) {
	key := ObjectKey("dp_2", `..\..\etc/passwd`)
	assert.True(t, strings.HasPrefix(key, "disputes/dp_2/"))
	assert.True(t, strings.HasSuffix(key, "-passwd"))
	assert.NotContains(t, key, "..")

	assert.True(t, strings.HasSuffix(ObjectKey("dp_3", ""), "-evidence"))
}
