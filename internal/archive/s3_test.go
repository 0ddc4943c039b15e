package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	bucket string
	key    string
	body   []byte
	err    error
}

func (u *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.bucket = aws.StringValue(input.Bucket)
	u.key = aws.StringValue(input.Key)
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.body = body
	return &s3manager.UploadOutput{Location: "s3://" + u.bucket + "/" + u.key}, nil
}

func TestArchiveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glbx-mdp3-20251201.ohlcv-1m.dbn.zst")
	require.NoError(t, os.WriteFile(path, []byte("capture"), 0o644))

	up := &fakeUploader{}
	a := NewS3ArchiverWithUploader("market-data", "captures/", up, zap.NewNop())

	key, err := a.ArchiveFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "captures/glbx-mdp3-20251201.ohlcv-1m.dbn.zst", key)
	assert.Equal(t, "market-data", up.bucket)
	assert.Equal(t, key, up.key)
	assert.Equal(t, "capture", string(up.body))
}

func TestArchiveKeyWithoutPrefix(t *testing.T) {
	a := NewS3ArchiverWithUploader("b", "", &fakeUploader{}, zap.NewNop())
	assert.Equal(t, "a.dbn.zst", a.Key("/data/a.dbn.zst"))
}

func TestArchiveFileErrors(t *testing.T) {
	a := NewS3ArchiverWithUploader("b", "p", &fakeUploader{err: errors.New("access denied")}, zap.NewNop())

	_, err := a.ArchiveFile(context.Background(), filepath.Join(t.TempDir(), "missing.dbn.zst"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "a.dbn.zst")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = a.ArchiveFile(context.Background(), path)
	assert.ErrorContains(t, err, "access denied")
}
