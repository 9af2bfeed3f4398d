// Package stream provides the pull-shaped adapters that the upload
// and download pipelines chain together: gzip compression and a
// content-hashing pass-through. Both are plain io.Reader wrappers so
// they compose with io.Copy, io.TeeReader, and the encrypt/decrypt
// streams in pkg/cryptostream.
package stream

import (
	"compress/gzip"
	"io"

	"github.com/blindsync/blindsync/pkg/ringbuf"
)

const chunkSize = 16 * 1024

// CompressReader wraps an upstream reader and yields its gzip-
// compressed bytes. Compressed output is buffered internally because
// gzip.Writer produces output in bursts that rarely line up with the
// caller's requested read size.
type CompressReader struct {
	upstream io.Reader
	buf      *ringbuf.Buffer
	gz       *gzip.Writer
	in       []byte
	done     bool
}

// NewCompressReader returns a reader over the gzip compression of
// upstream, using the given compression level (see compress/gzip
// level constants; gzip.DefaultCompression if unsure).
func NewCompressReader(upstream io.Reader, level int) (*CompressReader, error) {
	buf := ringbuf.New()
	gz, err := gzip.NewWriterLevel(buf, level)
	if err != nil {
		return nil, err
	}
	return &CompressReader{
		upstream: upstream,
		buf:      buf,
		gz:       gz,
		in:       make([]byte, chunkSize),
	}, nil
}

func (c *CompressReader) Read(p []byte) (int, error) {
	for !c.done && c.buf.Len() < len(p) {
		n, err := c.upstream.Read(c.in)
		if n > 0 {
			if _, werr := c.gz.Write(c.in[:n]); werr != nil {
				return 0, werr
			}
		}
		if err == io.EOF {
			if cerr := c.gz.Close(); cerr != nil {
				return 0, cerr
			}
			c.done = true
			break
		}
		if err != nil {
			return 0, err
		}
	}
	out := c.buf.Read(len(p))
	if len(out) == 0 {
		return 0, io.EOF
	}
	copy(p, out)
	return len(out), nil
}

// DecompressReader wraps an upstream reader of gzip-compressed bytes
// and yields the decompressed plaintext.
type DecompressReader struct {
	gz *gzip.Reader
}

// NewDecompressReader returns a reader over the decompression of
// upstream's gzip stream.
func NewDecompressReader(upstream io.Reader) (*DecompressReader, error) {
	gz, err := gzip.NewReader(upstream)
	if err != nil {
		return nil, err
	}
	return &DecompressReader{gz: gz}, nil
}

func (d *DecompressReader) Read(p []byte) (int, error) {
	return d.gz.Read(p)
}

// Close releases the underlying gzip.Reader's resources.
func (d *DecompressReader) Close() error {
	return d.gz.Close()
}
