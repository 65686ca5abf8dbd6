package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archives")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsFileAsBaseDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: file})
	require.Error(t, err)
}

func TestPutObjectWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(),
		"archives/100/run1/100.jsonl", "application/octet-stream",
		strings.NewReader(`{"id":1}`))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "archives/100/run1/100.jsonl"), uri)

	content, err := os.ReadFile(filepath.Join(dir, "archives/100/run1/100.jsonl"))
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(content))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(),
		"../escape.txt", "application/octet-stream", strings.NewReader("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "traversal")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "application/octet-stream", strings.NewReader("x"))
	require.Error(t, err)
}
