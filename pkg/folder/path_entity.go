// Package folder provides the two folder views the diff engine
// compares: LocalFolder (a directory on disk) and SecureFolder (the
// remote side, read back out of the secure index). It is grounded on
// _examples/original_source/sync/folder.py and
// _examples/original_source/sync/path_entity.py, generalized to Go's
// channel-based iteration in the style of the teacher's sorted-stream
// consumers (_examples/perkeep-perkeep/pkg/client/sync.go).
package folder

import "strings"

// Version holds one version of a file. Local files only ever have one
// version; the remote side could in principle carry history, but this
// module tracks only the live version the secure index knows about.
type Version struct {
	ID      string // local full path, or remote file id
	Size    int64
	ModTime int64 // Unix milliseconds
	Hash    string
}

// PathEntity describes one file or directory as seen by a Folder.
type PathEntity struct {
	NativePath   string // path usable for access: local path or remote name
	RelativePath string // normalized ("/"-separated) path relative to the folder root
	IsDir        bool
	Versions     []Version // most recent first
}

// LatestVersion returns the most recent version. Callers must not
// call it on a PathEntity with no versions.
func (e PathEntity) LatestVersion() Version {
	return e.Versions[0]
}

// Equal compares two entities the way the policy engine needs to:
// same kind (file vs. directory) and the same relative path, ignoring
// case.
func (e PathEntity) Equal(other PathEntity) bool {
	return e.IsDir == other.IsDir && strings.EqualFold(e.RelativePath, other.RelativePath)
}

// Less orders two entities by relative path, case-insensitively —
// the same ordering both Folder implementations must emit their
// streams in for the diff engine's merge-walk to be valid.
func (e PathEntity) Less(other PathEntity) bool {
	return strings.ToLower(e.RelativePath) < strings.ToLower(other.RelativePath)
}
