// Package index implements the secure index: the durable map from a
// plaintext relative path to the secure (path-derived, salted)
// identity under which its bytes live in the remote store. It is
// grounded on the teacher's sorted key/value contract
// (camlistore.org/pkg/sorted.KeyValue, camlistore.org/pkg/sorted/kv.go)
// and its RWMutex-inversion locking style
// (camlistore.org/pkg/syncutil/lock.go), generalized to the delayed,
// coalesced writer described in SPEC_FULL.md §4.D and originally
// implemented in original_source/secure_index.py.
package index

// Entry is the in-memory value type for one path in the index. It is
// the plain counterpart to rowstore.Row, which is the row shape the
// durable store actually persists; translating between the two is
// this package's job alone (SPEC_FULL.md §9's object-relational
// split).
type Entry struct {
	Path       string
	IsDir      bool
	Size       int64
	ModTime    int64
	Hash       string
	RemoteID   string
	RemoteName string
	Status     string
}

// Uploaded reports whether this entry has ever been synced to the
// remote store under a secure identity.
func (e Entry) Uploaded() bool {
	return e.RemoteID != ""
}

// Uploading reports whether a large-file upload for this entry was in
// progress when the index was last durably flushed — the resume
// marker described in SPEC_FULL.md §4.I.
func (e Entry) Uploading() bool {
	return e.Status == StatusUploading
}

// StatusUploading is the sentinel Entry.Status value written before a
// large upload begins and cleared once it completes, so a crash
// mid-upload is visible on the next run.
const StatusUploading = "uploading"
