package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

const (
	snapshotDir    = "snapshots/"
	snapshotLatest = "snapshots/LATEST"
)

// BlobStore is the object access the snapshot store and archiver need.
type BlobStore interface {
	domain.BlobWriter
	domain.BlobReader
}

// SnapshotStore implements domain.SnapshotStore. Each snapshot is written
// under snapshots/ with a sortable name, then LATEST is repointed at it.
type SnapshotStore struct {
	blobs BlobStore
}

func NewSnapshotStore(blobs BlobStore) *SnapshotStore {
	return &SnapshotStore{blobs: blobs}
}

func snapshotPath(at time.Time) string {
	return snapshotDir + at.UTC().Format("20060102T150405.000000000Z") + ".json"
}

// SaveSnapshot uploads data and returns its path.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, data []byte, at time.Time) (string, error) {
	path := snapshotPath(at)
	if err := upload(ctx, s.blobs, path, data, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: save snapshot: %w", err)
	}
	if err := s.blobs.Put(ctx, snapshotLatest, strings.NewReader(path), "text/plain"); err != nil {
		return "", fmt.Errorf("s3blob: point latest snapshot: %w", err)
	}
	return path, nil
}

// LatestSnapshot returns the snapshot LATEST points at. Without a pointer it
// falls back to the newest object under snapshots/, and returns
// domain.ErrNotFound when there is none.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) ([]byte, error) {
	pointer, err := s.read(ctx, snapshotLatest)
	switch {
	case err == nil:
		return s.read(ctx, strings.TrimSpace(string(pointer)))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	infos, err := s.blobs.List(ctx, snapshotDir)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	newest := ""
	for _, info := range infos {
		// Names sort by time.
		if strings.HasSuffix(info.Path, ".json") && info.Path > newest {
			newest = info.Path
		}
	}
	if newest == "" {
		return nil, fmt.Errorf("s3blob: no snapshot: %w", domain.ErrNotFound)
	}
	return s.read(ctx, newest)
}

func (s *SnapshotStore) read(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return data, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
