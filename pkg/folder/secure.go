package folder

import (
	"fmt"
	"strings"

	"github.com/blindsync/blindsync/pkg/index"
)

// SecureFolder is a Folder backed by the secure index: it presents
// the remote side of the sync without ever talking to the remote
// store directly.
type SecureFolder struct {
	path   string // normalized, trailing "/" unless root
	idx    *index.Index
	bucket string
}

// NewSecureFolder builds a SecureFolder rooted at path (relative to
// the index's own root) over idx. bucket is carried for callers that
// need to resolve a PathEntity's native name into a remote object
// address; SecureFolder itself never contacts the remote store.
func NewSecureFolder(path string, idx *index.Index, bucket string) *SecureFolder {
	return &SecureFolder{path: normalizePath(path, true), idx: idx, bucket: bucket}
}

func (f *SecureFolder) Type() string { return "sec" }

func (f *SecureFolder) Bucket() string { return f.bucket }

func (f *SecureFolder) AllFiles(reporter Reporter) <-chan PathEntity {
	out := make(chan PathEntity)
	go func() {
		defer close(out)
		prefix := strings.ToLower(f.path)
		for _, e := range f.idx.GetAll() {
			if prefix != "" {
				key := strings.ToLower(e.Path)
				if key < prefix {
					continue
				}
				if !strings.HasPrefix(key, prefix) {
					break
				}
			}
			// Entries mid-upload are left out so they resume instead
			// of showing up as an existing remote file.
			if e.Status == index.StatusUploading {
				continue
			}
			version := Version{ID: e.RemoteID, Size: e.Size, ModTime: e.ModTime, Hash: e.Hash}
			out <- PathEntity{
				NativePath:   e.RemoteName,
				RelativePath: e.Path,
				IsDir:        e.IsDir,
				Versions:     []Version{version},
			}
		}
	}()
	return out
}

func (f *SecureFolder) FullPathFor(e PathEntity) string {
	if f.path == "" {
		return e.RelativePath
	}
	return strings.TrimSuffix(f.path, "/") + "/" + e.RelativePath
}

func (f *SecureFolder) UpdateHash(e *PathEntity) (string, error) {
	v := &e.Versions[0]
	if v.Hash != "" {
		return v.Hash, nil
	}
	if entry, ok := f.idx.Get(e.RelativePath); ok {
		v.Hash = entry.Hash
	}
	return v.Hash, nil
}

func (f *SecureFolder) String() string {
	return fmt.Sprintf("SecFolder: %s", f.path)
}
