// Package fsremote implements remote.Store over a local directory —
// the test-mode stand-in named in SPEC_FULL.md §6 ("--test" mode),
// playing the role the teacher's blobserver/memory package plays for
// its own tests: a real Storage implementation simple enough to run
// without network access, swapped in under the same interface as the
// production backend.
package fsremote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store persists objects as plain files under root, keyed by name.
// Object "ids" are a content hash of the name rather than anything
// B2-specific, since fsremote has no server-assigned file id.
type Store struct {
	root   string
	bucket string

	mu sync.Mutex
}

// Open creates (if necessary) root and returns a Store rooted there.
func Open(root, bucketName string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("remote/fsremote: create root %s: %w", root, err)
	}
	return &Store{root: root, bucket: bucketName}, nil
}

func (s *Store) BucketName() string { return s.bucket }

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func idFor(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Upload implements remote.Store.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.pathFor(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("remote/fsremote: mkdir for %s: %w", name, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("remote/fsremote: create %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("remote/fsremote: write %s: %w", name, err)
	}
	return idFor(name), nil
}

// Download implements remote.Store.
func (s *Store) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(name))
	if err != nil {
		return nil, fmt.Errorf("remote/fsremote: download %s: %w", name, err)
	}
	return f, nil
}

// Delete implements remote.Store. id is ignored; fsremote addresses
// objects solely by name.
func (s *Store) Delete(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remote/fsremote: delete %s: %w", name, err)
	}
	return nil
}

// Stat implements remote.Store, using the underlying file's mtime.
func (s *Store) Stat(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	fi, err := os.Stat(s.pathFor(name))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("remote/fsremote: stat %s: %w", name, err)
	}
	return fi.ModTime().UnixMilli(), true, nil
}
