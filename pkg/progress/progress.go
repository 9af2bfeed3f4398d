// Package progress implements the run-wide progress reporter: a set
// of mutex-guarded counters plus a line-oriented log of completed
// actions and non-fatal problems, in the style of the teacher's
// statsMutex-guarded counters in
// _examples/perkeep-perkeep/pkg/client/upload.go. It also implements
// folder.Reporter so folder walks can report access problems through
// the same object actions report through.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
)

// Reporter collects counters and messages for one sync run. All
// methods are safe for concurrent use by scheduler workers.
type Reporter struct {
	out   io.Writer
	quiet bool

	mu sync.Mutex

	filesTransferred int
	bytesTransferred int64
	filesDeleted     int
	errors           []string
	accessErrors     []string
	permissionErrors []string
	completions      []string
}

// New creates a Reporter that writes completion lines to out unless
// quiet is set, in which case only counters and errors accumulate.
func New(out io.Writer, quiet bool) *Reporter {
	return &Reporter{out: out, quiet: quiet}
}

// UpdateTransfer records files and bytes moved by one action.
func (r *Reporter) UpdateTransfer(files int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTransferred += files
	r.bytesTransferred += bytes
}

// UpdateDelete records one deletion (local or remote).
func (r *Reporter) UpdateDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesDeleted++
}

// PrintCompletion logs that one action finished successfully.
func (r *Reporter) PrintCompletion(text string) {
	r.mu.Lock()
	r.completions = append(r.completions, text)
	quiet := r.quiet
	out := r.out
	r.mu.Unlock()

	if !quiet && out != nil {
		fmt.Fprintln(out, text)
	}
}

// Error records a non-fatal error encountered while running an
// action. It does not stop the run; the caller decides whether an
// error is fatal.
func (r *Reporter) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

// LocalAccessError implements folder.Reporter.
func (r *Reporter) LocalAccessError(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessErrors = append(r.accessErrors, path)
}

// LocalPermissionError implements folder.Reporter.
func (r *Reporter) LocalPermissionError(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissionErrors = append(r.permissionErrors, path)
}

// Summary is a snapshot of the counters accumulated so far.
type Summary struct {
	FilesTransferred int
	BytesTransferred int64
	FilesDeleted     int
	Errors           []string
	AccessErrors     []string
	PermissionErrors []string
}

// Snapshot returns a copy of the current counters.
func (r *Reporter) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		FilesTransferred: r.filesTransferred,
		BytesTransferred: r.bytesTransferred,
		FilesDeleted:     r.filesDeleted,
		Errors:           append([]string(nil), r.errors...),
		AccessErrors:     append([]string(nil), r.accessErrors...),
		PermissionErrors: append([]string(nil), r.permissionErrors...),
	}
}

// String renders a one-line human-readable summary, e.g.
// "12 files transferred (340 MB), 3 deleted, 1 error(s)".
func (s Summary) String() string {
	msg := fmt.Sprintf("%d files transferred (%s), %d deleted",
		s.FilesTransferred, humanize.Bytes(uint64(s.BytesTransferred)), s.FilesDeleted)
	if n := len(s.Errors) + len(s.AccessErrors) + len(s.PermissionErrors); n > 0 {
		msg += fmt.Sprintf(", %d error(s)", n)
	}
	return msg
}
