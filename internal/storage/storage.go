// Package storage keeps exported snapshots outside the database, either in
// a local directory or in an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when a snapshot key does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Extension is appended to every snapshot key.
const Extension = ".snap.zst"

// Object describes one stored snapshot.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// SnapshotStore persists snapshot blobs by key.
type SnapshotStore interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]Object, error)
}

// KeyFor builds the key a snapshot taken at t with the given id is stored
// under. Keys sort chronologically.
func KeyFor(t time.Time, id string) string {
	return t.UTC().Format("20060102T150405Z") + "-" + id + Extension
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid snapshot key %q", key)
	}
	return nil
}

// Local stores snapshots as files in one directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Put writes blob atomically: a temp file is renamed into place.
func (l *Local) Put(_ context.Context, key string, blob []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, key)); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(filepath.Join(l.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return blob, nil
}

// List returns stored snapshots, newest first.
func (l *Local) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var objects []Object
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		objects = append(objects, Object{Key: e.Name(), Size: info.Size(), LastModified: info.ModTime().UTC()})
	}
	sortNewestFirst(objects)
	return objects, nil
}

func sortNewestFirst(objects []Object) {
	slices.SortFunc(objects, func(a, b Object) int {
		return strings.Compare(b.Key, a.Key)
	})
}
