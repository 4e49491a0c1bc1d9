// Package blob stores immutable detail documents keyed by area slug.
package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ContentTypeJSON is the content type of detail feature collections.
const ContentTypeJSON = "application/json"

// Store writes whole documents by key. A second Put to the same key replaces
// the first.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// DetailKey returns the blob key for an area's detail feature collection.
func DetailKey(slug string) string {
	return slug + ".geojson"
}

// LocalStore keeps blobs as files under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Path returns the file path for key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Put writes body to a temp file and renames it over the target so readers
// never observe a partial document.
func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if key == "" || strings.Contains(key, "..") {
		return eris.Errorf("blob: invalid key %q", key)
	}

	dest := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return eris.Wrap(err, "blob: create directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".blob-*")
	if err != nil {
		return eris.Wrap(err, "blob: create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "blob: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "blob: close %s", key)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return eris.Wrapf(err, "blob: rename %s", key)
	}
	return nil
}
