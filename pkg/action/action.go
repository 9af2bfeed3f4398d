// Package action implements the four things a sync pass can do to one
// file: upload it, download it, delete it remotely, or delete it
// locally — grounded directly on
// _examples/original_source/sync/action.py's AbstractAction subclasses
// (B2UploadAction, B2DownloadAction, B2DeleteAction,
// LocalDeleteAction). The split between DoAction (skipped in dry-run)
// and DoReport (run after a successful DoAction, and in a dry run too,
// to keep dry-run output and counters consistent with a real pass)
// follows the original's
// AbstractAction.run exactly.
package action

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blindsync/blindsync/pkg/cryptostream"
	"github.com/blindsync/blindsync/pkg/folder"
	"github.com/blindsync/blindsync/pkg/index"
	"github.com/blindsync/blindsync/pkg/progress"
	"github.com/blindsync/blindsync/pkg/remote"
	"github.com/blindsync/blindsync/pkg/secureid"
	"github.com/blindsync/blindsync/pkg/stream"
)

// tempDownloadExt marks a download still being written; actions
// rename into place once the transfer completes so a crash never
// leaves a half-written file at the final path.
const tempDownloadExt = ".bsync.download.tmp"

// defaultLargeFileThreshold is B2's own cutover point for its large
// file API (b2_start_large_file and friends): uploads above this size
// benefit from being resumable, so that's where this module starts
// persisting a resume marker too.
const defaultLargeFileThreshold = 100 * 1024 * 1024

// Config carries the run-wide settings an action needs to do its
// work: whether this is a `--test` pass that must not touch the
// network, the crypto material, and the compression level.
type Config struct {
	Test       bool
	Keyring    *cryptostream.Keyring
	Passphrase []byte
	SecureID   secureid.Params
	GzipLevel  int

	// LargeFileThreshold is the byte count above which Upload persists
	// a `status = "uploading"` resume marker before transferring the
	// staged temp file. Zero means defaultLargeFileThreshold.
	LargeFileThreshold int64
}

func (c Config) largeFileThreshold() int64 {
	if c.LargeFileThreshold == 0 {
		return defaultLargeFileThreshold
	}
	return c.LargeFileThreshold
}

// Action is one unit of work a Scheduler runs.
type Action interface {
	// Bytes returns the size this action will transfer, for
	// scheduling and reporting; 0 for deletes.
	Bytes() int64

	// DoAction performs the transfer or deletion. It is skipped
	// entirely in a dry run.
	DoAction(ctx context.Context, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter) error

	// DoReport records the outcome with reporter and returns the
	// human-readable completion line. Called after a successful
	// DoAction and also in a dry run, where DoAction does not run, so a
	// dry run still produces the same narration. Not called when
	// DoAction fails.
	DoReport(reporter *progress.Reporter) string

	String() string
}

// Run executes a, honoring dryRun the way AbstractAction.run does:
// DoAction only runs for a real pass. A DoAction failure is recorded
// with reporter.Error and returned without calling DoReport; otherwise
// DoReport runs.
func Run(ctx context.Context, a Action, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter, dryRun bool) error {
	if !dryRun {
		if err := a.DoAction(ctx, store, idx, cfg, reporter); err != nil {
			reporter.Error(fmt.Sprintf("%s: %v", a, err))
			return err
		}
	}
	a.DoReport(reporter)
	return nil
}

// Upload encrypts and uploads one local file (or records one local
// directory) and updates the secure index with its new remote
// identity.
type Upload struct {
	Entity folder.PathEntity // source-side entity; NativePath is the local file
}

func (u *Upload) Bytes() int64 { return u.Entity.LatestVersion().Size }

func (u *Upload) DoAction(ctx context.Context, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter) error {
	e := u.Entity
	v := e.LatestVersion()

	if e.IsDir {
		idx.AddOrUpdate(index.Entry{Path: e.RelativePath, IsDir: true, ModTime: v.ModTime})
		return nil
	}

	secureName, err := secureid.Name(e.RelativePath, cfg.SecureID)
	if err != nil {
		return fmt.Errorf("action: secure name for %s: %w", e.RelativePath, err)
	}

	hashDigest := v.Hash
	remoteID := "test-" + secureName

	if !cfg.Test {
		tempPath := e.NativePath + folder.TempFileExt

		existing, hasRow := idx.Get(e.RelativePath)
		resuming := hasRow && existing.Uploading()
		if resuming {
			if _, err := os.Stat(tempPath); err != nil {
				resuming = false
			}
		}

		if resuming {
			hashDigest = existing.Hash
		} else {
			os.Remove(tempPath)
			if err := stageUpload(e.NativePath, tempPath, cfg, &hashDigest); err != nil {
				return fmt.Errorf("action: stage %s: %w", e.RelativePath, err)
			}
		}
		defer os.Remove(tempPath)

		// Above the large-file threshold, persist a resume marker
		// before the transfer starts: a crash mid-upload then finds
		// the staged temp file and its carried-over hash on the next
		// run instead of re-deriving them from scratch.
		if v.Size > cfg.largeFileThreshold() {
			idx.AddOrUpdate(index.Entry{
				Path: e.RelativePath, Size: v.Size, ModTime: v.ModTime, Hash: hashDigest,
				Status: index.StatusUploading,
			})
			if err := idx.Flush(); err != nil {
				return fmt.Errorf("action: flush resume marker for %s: %w", e.RelativePath, err)
			}
		}

		tf, err := os.Open(tempPath)
		if err != nil {
			return fmt.Errorf("action: open staged %s: %w", tempPath, err)
		}
		var transferred int64
		tracked := remote.NewProgressReader(tf, func(n int64) { transferred = n })

		id, err := store.Upload(ctx, secureName, tracked)
		tf.Close()
		if err != nil {
			return fmt.Errorf("action: upload %s: %w", e.RelativePath, err)
		}
		remoteID = id
		reporter.UpdateTransfer(1, transferred)
	} else {
		reporter.UpdateTransfer(1, v.Size)
	}

	idx.AddOrUpdate(index.Entry{
		Path: e.RelativePath, Size: v.Size, ModTime: v.ModTime, Hash: hashDigest,
		RemoteID: remoteID, RemoteName: secureName,
	})
	return nil
}

// stageUpload runs the compress+encrypt pipeline over srcPath and
// writes its output to tempPath, so the upload itself transfers from
// a stable file rather than a live pipe and can be resumed if the
// process dies before the transfer completes. If *hashDigest is
// empty on entry (the source couldn't cheaply produce one), it is
// filled in with the hash observed while staging.
func stageUpload(srcPath, tempPath string, cfg Config, hashDigest *string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	var src io.Reader = f
	var hr *stream.HashReader
	if *hashDigest == "" {
		hr = stream.NewHashReader(f)
		src = hr
	}

	compressed, err := stream.NewCompressReader(src, cfg.gzipLevel())
	if err != nil {
		return fmt.Errorf("compress %s: %w", srcPath, err)
	}
	encrypted, err := cryptostream.EncryptReader(compressed, cfg.Keyring)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", srcPath, err)
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tempPath, err)
	}
	if _, err := io.Copy(out, encrypted); err != nil {
		out.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempPath, err)
	}

	if hr != nil {
		*hashDigest = hr.HexDigest()
	}
	return nil
}

func (c Config) gzipLevel() int {
	if c.GzipLevel == 0 {
		return gzip.DefaultCompression
	}
	return c.GzipLevel
}

func (u *Upload) DoReport(reporter *progress.Reporter) string {
	text := "Uploaded " + u.Entity.RelativePath
	reporter.PrintCompletion(text)
	return text
}

func (u *Upload) String() string { return "upload: " + u.Entity.RelativePath }

// Download decrypts and writes one remote file (or creates one local
// directory) to localPath.
type Download struct {
	Entity    folder.PathEntity // remote-side entity; NativePath is the secure name
	LocalPath string
}

func (d *Download) Bytes() int64 { return d.Entity.LatestVersion().Size }

func (d *Download) DoAction(ctx context.Context, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter) error {
	e := d.Entity
	v := e.LatestVersion()

	if err := os.MkdirAll(filepath.Dir(d.LocalPath), 0o755); err != nil {
		return fmt.Errorf("action: mkdir for %s: %w", d.LocalPath, err)
	}

	if e.IsDir {
		if err := os.MkdirAll(d.LocalPath, 0o755); err != nil {
			return fmt.Errorf("action: mkdir %s: %w", d.LocalPath, err)
		}
	} else if cfg.Test {
		os.Remove(d.LocalPath)
		f, err := os.Create(d.LocalPath)
		if err != nil {
			return fmt.Errorf("action: create %s: %w", d.LocalPath, err)
		}
		f.Close()
		reporter.UpdateTransfer(1, v.Size)
	} else {
		rc, err := store.Download(ctx, e.NativePath)
		if err != nil {
			return fmt.Errorf("action: download %s: %w", e.RelativePath, err)
		}
		defer rc.Close()

		var transferred int64
		tracked := remote.NewProgressReader(rc, func(n int64) { transferred = n })

		decrypted, err := cryptostream.DecryptReader(tracked, cfg.Keyring, cfg.Passphrase)
		if err != nil {
			return fmt.Errorf("action: decrypt %s: %w", e.RelativePath, err)
		}
		decompressed, err := stream.NewDecompressReader(decrypted)
		if err != nil {
			return fmt.Errorf("action: decompress %s: %w", e.RelativePath, err)
		}
		defer decompressed.Close()

		tmpPath := d.LocalPath + tempDownloadExt
		out, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("action: create %s: %w", tmpPath, err)
		}
		if _, err := io.Copy(out, decompressed); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("action: write %s: %w", d.LocalPath, err)
		}
		out.Close()
		if err := os.Rename(tmpPath, d.LocalPath); err != nil {
			return fmt.Errorf("action: finalize %s: %w", d.LocalPath, err)
		}
		reporter.UpdateTransfer(1, transferred)
	}

	modTime := time.UnixMilli(v.ModTime)
	os.Chtimes(d.LocalPath, modTime, modTime)
	return nil
}

func (d *Download) DoReport(reporter *progress.Reporter) string {
	text := "Downloaded " + d.LocalPath
	reporter.PrintCompletion(text)
	return text
}

func (d *Download) String() string {
	return fmt.Sprintf("download: src=%s dst=%s", d.Entity.RelativePath, d.LocalPath)
}

// RemoteDelete removes a file's remote object and its secure-index
// entry.
type RemoteDelete struct {
	Entity folder.PathEntity // remote-side entity
}

func (a *RemoteDelete) Bytes() int64 { return 0 }

func (a *RemoteDelete) DoAction(ctx context.Context, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter) error {
	e := a.Entity
	if !e.IsDir && !cfg.Test {
		if err := store.Delete(ctx, e.LatestVersion().ID, e.NativePath); err != nil {
			return fmt.Errorf("action: delete remote %s: %w", e.RelativePath, err)
		}
	}
	idx.Remove(e.RelativePath)
	return nil
}

func (a *RemoteDelete) DoReport(reporter *progress.Reporter) string {
	reporter.UpdateDelete()
	text := "Deleted remote " + a.Entity.RelativePath
	reporter.PrintCompletion(text)
	return text
}

func (a *RemoteDelete) String() string { return "remote_delete: " + a.Entity.RelativePath }

// LocalDelete removes a local file or directory.
type LocalDelete struct {
	Path string
}

func (a *LocalDelete) Bytes() int64 { return 0 }

func (a *LocalDelete) DoAction(ctx context.Context, store remote.Store, idx *index.Index, cfg Config, reporter *progress.Reporter) error {
	if err := os.RemoveAll(a.Path); err != nil {
		return fmt.Errorf("action: delete local %s: %w", a.Path, err)
	}
	return nil
}

func (a *LocalDelete) DoReport(reporter *progress.Reporter) string {
	reporter.UpdateDelete()
	text := "Deleted local " + a.Path
	reporter.PrintCompletion(text)
	return text
}

func (a *LocalDelete) String() string { return "local_delete: " + a.Path }
