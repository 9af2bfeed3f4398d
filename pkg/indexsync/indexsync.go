// Package indexsync acquires and releases the secure index for one
// bucket, grounded on
// _examples/original_source/index/secure_index_factory.py's
// SecureIndexFactory (createIndex/storeIndex) and on the teacher's
// newFromConfig-style "resolve a remote-scoped name, then open local
// state" pattern in
// _examples/perkeep-perkeep/pkg/blobserver/b2/b2.go.
package indexsync

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blindsync/blindsync/pkg/cryptostream"
	"github.com/blindsync/blindsync/pkg/index"
	"github.com/blindsync/blindsync/pkg/remote"
	"github.com/blindsync/blindsync/pkg/rowstore/sqlite"
	"github.com/blindsync/blindsync/pkg/secureid"
	"github.com/blindsync/blindsync/pkg/stream"
)

const tempDownloadExt = ".bsync.index.download.tmp"

// Config carries the crypto and naming material the index file itself
// is stored under — the same pipeline a regular file upload uses
// (pkg/action.Upload), since the index is, from the remote store's
// point of view, just another encrypted object.
type Config struct {
	Test       bool
	Keyring    *cryptostream.Keyring
	Passphrase []byte
	SecureID   secureid.Params
	GzipLevel  int
}

func (c Config) gzipLevel() int {
	if c.GzipLevel == 0 {
		return gzip.DefaultCompression
	}
	return c.GzipLevel
}

// Handle wraps an acquired *index.Index with what Release needs to
// decide whether to push it back to the remote store.
type Handle struct {
	Index       *index.Index
	ForceUpload bool

	store      remote.Store
	localPath  string
	remoteName string
	cfg        Config
}

// remoteName is the secure name the bucket's own index object is
// stored under — secureName(bucket + "/index"), matching
// SecureIndexFactory.getName()'s `bucket_name + '\index'` (re-expressed
// with the project's normal forward-slash separator).
func remoteName(bucket string, p secureid.Params) (string, error) {
	return secureid.Name(bucket+"/index", p)
}

// Acquire fetches, compares, and opens the index for bucket, backed by
// the SQLite file at localPath. In test mode no network call is made;
// the factory works purely against localPath, exactly as the original
// does when run without a live B2 session.
func Acquire(ctx context.Context, store remote.Store, bucket, localPath string, cfg Config) (*Handle, error) {
	name, err := remoteName(bucket, cfg.SecureID)
	if err != nil {
		return nil, fmt.Errorf("indexsync: %w", err)
	}

	var localModTime int64
	localExists := false
	if fi, statErr := os.Stat(localPath); statErr == nil {
		localModTime = fi.ModTime().UnixMilli()
		localExists = true
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("indexsync: stat local index: %w", statErr)
	}

	forceUpload := true
	if !cfg.Test {
		remoteModTime, exists, statErr := store.Stat(ctx, name)
		if statErr != nil {
			return nil, fmt.Errorf("indexsync: stat remote index: %w", statErr)
		}
		if exists {
			if !localExists || remoteModTime > localModTime {
				if err := downloadIndex(ctx, store, name, localPath, cfg); err != nil {
					return nil, err
				}
			}
			forceUpload = remoteModTime < localModTime
		}
	}

	rowStore, err := sqlite.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("indexsync: open local index: %w", err)
	}
	idx, err := index.New(rowStore)
	if err != nil {
		rowStore.Close()
		return nil, fmt.Errorf("indexsync: load local index: %w", err)
	}

	return &Handle{
		Index:       idx,
		ForceUpload: forceUpload,
		store:       store,
		localPath:   localPath,
		remoteName:  name,
		cfg:         cfg,
	}, nil
}

// Release flushes h.Index and, if it changed (or ForceUpload was set
// on Acquire), re-uploads it to the remote store. In test mode the
// upload step is skipped, matching Acquire's network-free behavior.
func (h *Handle) Release(ctx context.Context) error {
	if err := h.Index.Flush(); err != nil {
		return fmt.Errorf("indexsync: flush: %w", err)
	}

	shouldUpload := h.Index.HasChanges() || h.ForceUpload
	if shouldUpload && !h.cfg.Test {
		if err := uploadIndex(ctx, h.store, h.remoteName, h.localPath, h.cfg); err != nil {
			return err
		}
	}
	return h.Index.Close()
}

func downloadIndex(ctx context.Context, store remote.Store, name, localPath string, cfg Config) error {
	rc, err := store.Download(ctx, name)
	if err != nil {
		return fmt.Errorf("indexsync: download index: %w", err)
	}
	defer rc.Close()

	decrypted, err := cryptostream.DecryptReader(rc, cfg.Keyring, cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("indexsync: decrypt index: %w", err)
	}
	decompressed, err := stream.NewDecompressReader(decrypted)
	if err != nil {
		return fmt.Errorf("indexsync: decompress index: %w", err)
	}
	defer decompressed.Close()

	tmpPath := localPath + tempDownloadExt
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("indexsync: create %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(out, decompressed); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("indexsync: write %s: %w", tmpPath, err)
	}
	out.Close()
	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("indexsync: finalize %s: %w", localPath, err)
	}
	return nil
}

func uploadIndex(ctx context.Context, store remote.Store, name, localPath string, cfg Config) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("indexsync: open local index for upload: %w", err)
	}
	defer f.Close()

	compressed, err := stream.NewCompressReader(f, cfg.gzipLevel())
	if err != nil {
		return fmt.Errorf("indexsync: compress index: %w", err)
	}
	encrypted, err := cryptostream.EncryptReader(compressed, cfg.Keyring)
	if err != nil {
		return fmt.Errorf("indexsync: encrypt index: %w", err)
	}

	if _, err := store.Upload(ctx, name, encrypted); err != nil {
		return fmt.Errorf("indexsync: upload index: %w", err)
	}

	// Backdate the local file's own mtime to now so the next Acquire's
	// comparison has a fresh baseline; the remote side's reported
	// mtime reflects the store's own clock (the FiloSottile/b2 client
	// exposes no custom file-info hook to stamp the upload with the
	// local mtime the way the original's raw b2_sdk call does), so
	// this keeps the two clocks from drifting apart indefinitely.
	now := time.Now()
	os.Chtimes(localPath, now, now)
	return nil
}
