package capture

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestListFilesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "c.dbn.zst"))
	touch(t, filepath.Join(dir, "b.txt"))
	touch(t, filepath.Join(dir, "a.dbn.zst"))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.dbn.zst"),
		filepath.Join(dir, "c.dbn.zst"),
	}, files)
}

func TestListFilesIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.dbn.zst"), 0o755))
	touch(t, filepath.Join(dir, "nested.dbn.zst", "inner.dbn.zst"))
	touch(t, filepath.Join(dir, "glbx-mdp3-20251201.ohlcv-1m.dbn.zst"))
	touch(t, filepath.Join(dir, "manifest.json"))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "glbx-mdp3-20251201.ohlcv-1m.dbn.zst")}, files)
}

func TestListFilesEmptyDirectory(t *testing.T) {
	files, err := ListFiles(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestListFilesMissingDirectory(t *testing.T) {
	_, err := ListFiles(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
