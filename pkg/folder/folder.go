package folder

// Reporter receives non-fatal problems encountered while walking a
// folder — a broken symlink, a file the process can't read — without
// aborting the walk. pkg/progress implements this.
type Reporter interface {
	LocalAccessError(path string)
	LocalPermissionError(path string)
}

// Folder is the interface to one side of a sync: a directory on disk,
// or the remote side read back out of the secure index. Both kinds
// expose files in the same sorted order so the diff engine can
// merge-walk them.
type Folder interface {
	// AllFiles streams every file and directory below the folder's
	// root, sorted by RelativePath (case-insensitive). The channel is
	// closed when the walk finishes; errors encountered along the way
	// are reported via reporter rather than terminating the stream.
	AllFiles(reporter Reporter) <-chan PathEntity

	// Type identifies the folder kind: "local" or "sec".
	Type() string

	// FullPathFor resolves a PathEntity's RelativePath to the
	// locally-addressable path under this folder's root. For a
	// SecureFolder this is folder-relative, not remote-bucket-
	// relative — callers resolve it through the index to a remote
	// identity separately.
	FullPathFor(e PathEntity) string

	// UpdateHash ensures e's latest version has its content hash
	// populated, computing it if necessary, and returns it.
	UpdateHash(e *PathEntity) (string, error)
}
