// Package archive snapshots run artifacts (the append log and seen index) to
// a blob store after a run reaches a terminal state.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"
)

// Store writes one object and returns its URI. Implementations exist for the
// local filesystem, GCS, and an in-memory test double.
type Store interface {
	PutObject(ctx context.Context, objectPath string, contentType string, data io.Reader) (string, error)
}

// Snapshot uploads the two per-user artifacts under
// {prefix}/{uid}/{timestamp}/. Returns the URIs of the uploaded objects.
// Missing local files are skipped; a run with zero pages has nothing to
// snapshot.
func Snapshot(ctx context.Context, store Store, prefix, uid string, ts time.Time, localPaths ...string) ([]string, error) {
	if store == nil {
		return nil, nil
	}
	dir := path.Join(prefix, uid, ts.UTC().Format("20060102T150405Z"))
	uris := make([]string, 0, len(localPaths))
	for _, local := range localPaths {
		f, err := os.Open(local)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return uris, fmt.Errorf("open artifact %s: %w", local, err)
		}
		uri, err := store.PutObject(ctx, path.Join(dir, path.Base(local)), "application/octet-stream", f)
		closeErr := f.Close()
		if err != nil {
			return uris, fmt.Errorf("upload artifact %s: %w", local, err)
		}
		if closeErr != nil {
			return uris, fmt.Errorf("close artifact %s: %w", local, closeErr)
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
