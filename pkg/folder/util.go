package folder

import "strings"

// TempFileExt marks in-progress encrypted uploads left behind by a
// crashed run; local walks skip them so a half-written temp file never
// shows up as a sync candidate. pkg/action writes files under this
// extension while staging each file upload's compress+encrypt output.
const TempFileExt = ".bsynctmp"

// normalizePath converts an OS path to the "/"-separated form used
// for comparison and storage, appending a trailing slash for
// directories. An empty path is returned unchanged (it denotes a
// folder's own root).
func normalizePath(path string, isDir bool) string {
	if path == "" {
		return path
	}
	normal := strings.ReplaceAll(path, `\`, "/")
	if isDir && !strings.HasSuffix(normal, "/") {
		normal += "/"
	}
	return normal
}
