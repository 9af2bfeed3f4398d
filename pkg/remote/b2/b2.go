// Package b2 implements remote.Store against a real Backblaze B2
// bucket, wrapping github.com/FiloSottile/b2 exactly the way the
// teacher's camlistore.org/pkg/blobserver/b2 does — one client, one
// resolved bucket, an optional "directory" prefix within it.
package b2

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/FiloSottile/b2"
)

// Store is a remote.Store backed by one B2 bucket.
type Store struct {
	client    *b2.Client
	bucket    *b2.BucketInfo
	dirPrefix string
}

// Config names the bucket and credentials to connect with. Bucket may
// carry a "bucket/sub/dir" form, matching the teacher's
// bucket-plus-directory-prefix convention; everything after the first
// "/" becomes dirPrefix. Cache, if set, records which bucket id each
// bucket name last resolved to (see AccountCache); Open only writes to
// it and never reads it, since the underlying client offers no way to
// skip the name resolution call itself.
type Config struct {
	AccountID      string
	ApplicationKey string
	Bucket         string
	Cache          *AccountCache
}

// Open authenticates against B2 and resolves the configured bucket,
// creating it if it does not already exist.
func Open(cfg Config) (*Store, error) {
	bucket := cfg.Bucket
	var dirPrefix string
	if parts := strings.SplitN(bucket, "/", 2); len(parts) > 1 {
		bucket, dirPrefix = parts[0], parts[1]
	}
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	client, err := b2.NewClient(cfg.AccountID, cfg.ApplicationKey, nil)
	if err != nil {
		return nil, fmt.Errorf("remote/b2: authenticate: %w", err)
	}
	bi, err := client.BucketByName(bucket, true)
	if err != nil {
		return nil, fmt.Errorf("remote/b2: resolve bucket %s: %w", bucket, err)
	}
	if cfg.Cache != nil {
		_ = cfg.Cache.Record(cfg.AccountID, bucket, bi.ID)
	}

	return &Store{client: client, bucket: bi, dirPrefix: dirPrefix}, nil
}

func (s *Store) BucketName() string { return s.bucket.Name }

func (s *Store) key(name string) string { return s.dirPrefix + name }

// Upload implements remote.Store. The B2 client API is fully
// synchronous and takes no context, so ctx is only consulted before
// starting the call.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fi, err := s.bucket.Upload(r, s.key(name), "")
	if err != nil {
		return "", fmt.Errorf("remote/b2: upload %s: %w", name, err)
	}
	return fi.ID, nil
}

// Download implements remote.Store.
func (s *Store) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, _, err := s.client.DownloadFileByName(s.bucket.Name, s.key(name))
	if err != nil {
		return nil, fmt.Errorf("remote/b2: download %s: %w", name, err)
	}
	return rc, nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.DeleteFile(id, s.key(name)); err != nil {
		return fmt.Errorf("remote/b2: delete %s: %w", name, err)
	}
	return nil
}

// Stat implements remote.Store.
func (s *Store) Stat(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	fi, err := s.bucket.GetFileInfoByName(s.key(name))
	if err == b2.FileNotFoundError {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("remote/b2: stat %s: %w", name, err)
	}
	return fi.UploadTimestamp.UnixMilli(), true, nil
}
