package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/w1np9uci/weibo-crawler/internal/archive/memory"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSnapshotUploadsArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := writeFile(t, dir, "100.jsonl", `{"id":1}`+"\n")
	seenPath := writeFile(t, dir, "100.seen", "1\n")

	store := memory.New()
	ts := time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC)

	uris, err := Snapshot(context.Background(), store, "archives", "100", ts, logPath, seenPath)
	require.NoError(t, err)
	require.Equal(t, []string{
		"mem://archives/100/20260214T083000Z/100.jsonl",
		"mem://archives/100/20260214T083000Z/100.seen",
	}, uris)

	content, ok := store.Object("archives/100/20260214T083000Z/100.jsonl")
	require.True(t, ok)
	require.Equal(t, `{"id":1}`+"\n", string(content))
}

func TestSnapshotSkipsMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := writeFile(t, dir, "100.jsonl", "{}\n")

	store := memory.New()
	uris, err := Snapshot(context.Background(), store, "archives", "100", time.Now(),
		logPath, filepath.Join(dir, "100.seen"))
	require.NoError(t, err)
	require.Len(t, uris, 1)
	require.Equal(t, 1, store.Len())
}

func TestSnapshotNilStoreIsNoop(t *testing.T) {
	t.Parallel()

	uris, err := Snapshot(context.Background(), nil, "archives", "100", time.Now(), "some/path")
	require.NoError(t, err)
	require.Nil(t, uris)
}
