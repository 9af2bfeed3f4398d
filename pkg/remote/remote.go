// Package remote defines the contract between the sync engine and
// whatever object store actually holds the encrypted bytes, mirrored
// on the teacher's blobserver.Storage split between a narrow
// transport interface and swappable backends
// (_examples/perkeep-perkeep/pkg/blobserver/b2 for production,
// .../memory for a test stand-in).
package remote

import (
	"context"
	"io"
)

// Store is the minimal object-store contract the sync engine needs:
// objects addressed by an opaque secure name, with an opaque id
// returned on upload for later deletion. It says nothing about
// encryption, compression, or naming — those are the caller's job
// (pkg/cryptostream, pkg/stream, pkg/secureid).
type Store interface {
	// Upload stores r's bytes under name, returning the store's
	// identifier for the object (used later for Delete).
	Upload(ctx context.Context, name string, r io.Reader) (id string, err error)

	// Download opens a reader over the object stored under name. The
	// caller must Close it.
	Download(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the object. Some backends need only name,
	// others (B2) require the versioned id returned by Upload.
	Delete(ctx context.Context, id, name string) error

	// Stat reports name's stored modification time, in milliseconds
	// since the epoch, and whether it exists at all. Used by
	// pkg/indexsync to decide whether the remote copy of the index is
	// newer than the local one (spec §4.F).
	Stat(ctx context.Context, name string) (modTimeMillis int64, exists bool, err error)

	// BucketName identifies the backing bucket/root for logging and
	// the account-info cache key.
	BucketName() string
}

// ProgressFunc receives a running byte count as an upload or download
// proceeds.
type ProgressFunc func(bytesSoFar int64)

// progressReader calls fn after every successful Read, wrapping a
// stream the way the teacher's pkg/iohelp wrappers compose reader
// middleware (counting, hashing, rate limiting) around a stream.
type progressReader struct {
	io.Reader
	fn    ProgressFunc
	total int64
}

// NewProgressReader wraps r so that fn is called with a running total
// of bytes read. A nil fn makes this a no-op passthrough.
func NewProgressReader(r io.Reader, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{Reader: r, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.Reader.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.fn(p.total)
	}
	return n, err
}
