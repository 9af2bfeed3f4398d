// Package rowstore defines the narrow contract the secure index needs
// from its durable backing store, mirroring the split the teacher
// draws between a generic sorted key/value contract
// (camlistore.org/pkg/sorted.KeyValue) and its storage-specific
// implementations (camlistore.org/pkg/sorted/sqlite, .../sqlkv):
// pkg/index depends only on this interface, never on database/sql or
// a particular driver directly.
package rowstore

// Row is the durable shape of one secure-index entry — the "schema
// row" half of the object-relational split called for in spec §9
// (the plain value type lives in pkg/index as index.Entry).
type Row struct {
	Path       string
	IsDir      bool
	Size       int64
	ModTime    int64
	Hash       string // "" means NULL (not yet computed)
	RemoteID   string // "" means NULL (never uploaded)
	RemoteName string // "" means NULL (never uploaded)
	Status     string // "" or "uploading"
}

// Mutation is one durable change: either an upsert (Delete == false)
// or a delete-by-path (Delete == true, only Path is meaningful).
type Mutation struct {
	Delete bool
	Path   string
	Row    Row
}

// Store is the transactional, addressable row store behind the
// secure index (spec §6, "Embedded store"). Implementations must
// apply a batch atomically: either every mutation in the batch lands,
// or none do.
type Store interface {
	// LoadAll returns every row currently persisted, in no
	// particular order; pkg/index is responsible for sorting.
	LoadAll() ([]Row, error)

	// ApplyBatch durably applies every mutation in batch in a single
	// transaction. An empty batch is a no-op.
	ApplyBatch(batch []Mutation) error

	// Close releases the underlying connection.
	Close() error
}
