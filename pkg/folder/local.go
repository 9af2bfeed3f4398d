package folder

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blindsync/blindsync/pkg/stream"
)

// LocalFolder is a Folder backed by a directory on disk.
type LocalFolder struct {
	root string // absolute, always ends with os.PathSeparator
}

// NewLocalFolder resolves path to an absolute directory root.
func NewLocalFolder(path string) (*LocalFolder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("folder: resolve %s: %w", path, err)
	}
	if !strings.HasSuffix(abs, string(os.PathSeparator)) {
		abs += string(os.PathSeparator)
	}
	return &LocalFolder{root: abs}, nil
}

// EnsurePresent creates the folder's root directory if it doesn't
// already exist, failing if the path exists but isn't a directory.
func (f *LocalFolder) EnsurePresent() error {
	info, err := os.Stat(f.root)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(f.root, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("folder: %s is not a directory", f.root)
	}
	return nil
}

func (f *LocalFolder) Type() string { return "local" }

func (f *LocalFolder) AllFiles(reporter Reporter) <-chan PathEntity {
	out := make(chan PathEntity)
	go func() {
		defer close(out)
		f.walk(f.root, reporter, out)
	}()
	return out
}

type walkItem struct {
	fullPath string
	sortKey  string
	isDir    bool
}

func (f *LocalFolder) walk(dir string, reporter Reporter, out chan<- PathEntity) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return // matches the teacher's log-and-continue-with-nothing-listed behavior
	}

	var items []walkItem
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasSuffix(name, TempFileExt) {
			continue
		}
		fullPath := filepath.Join(dir, name)

		info, statErr := os.Stat(fullPath)
		if statErr != nil {
			if reporter != nil {
				reporter.LocalAccessError(fullPath)
			}
			continue
		}
		if fh, openErr := os.Open(fullPath); openErr != nil {
			if errors.Is(openErr, fs.ErrPermission) {
				if reporter != nil {
					reporter.LocalPermissionError(fullPath)
				}
				continue
			}
		} else {
			fh.Close()
		}

		isDir := info.IsDir()
		if isDir {
			fullPath += string(os.PathSeparator)
		}
		items = append(items, walkItem{fullPath: fullPath, sortKey: strings.ToLower(filepath.ToSlash(fullPath)), isDir: isDir})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].sortKey < items[j].sortKey })

	for _, it := range items {
		pe, err := f.makePathEntity(it.fullPath, it.isDir)
		if err == nil {
			out <- pe
		}
		if it.isDir {
			f.walk(it.fullPath, reporter, out)
		}
	}
}

func (f *LocalFolder) makePathEntity(fullPath string, isDir bool) (PathEntity, error) {
	relative := strings.TrimPrefix(fullPath, f.root)
	normalRelative := normalizePath(relative, isDir)

	info, err := os.Stat(strings.TrimSuffix(fullPath, string(os.PathSeparator)))
	if err != nil {
		return PathEntity{}, err
	}
	var size int64
	if !isDir {
		size = info.Size()
	}

	version := Version{ID: fullPath, Size: size, ModTime: info.ModTime().UnixMilli()}
	return PathEntity{NativePath: fullPath, RelativePath: normalRelative, IsDir: isDir, Versions: []Version{version}}, nil
}

func (f *LocalFolder) FullPathFor(e PathEntity) string {
	return filepath.Join(f.root, filepath.FromSlash(e.RelativePath))
}

func (f *LocalFolder) UpdateHash(e *PathEntity) (string, error) {
	v := &e.Versions[0]
	if v.Hash != "" || e.IsDir {
		return v.Hash, nil
	}
	fh, err := os.Open(f.FullPathFor(*e))
	if err != nil {
		return "", fmt.Errorf("folder: hash %s: %w", e.RelativePath, err)
	}
	defer fh.Close()

	hr := stream.NewHashReader(fh)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return "", fmt.Errorf("folder: hash %s: %w", e.RelativePath, err)
	}
	v.Hash = hr.HexDigest()
	return v.Hash, nil
}

func (f *LocalFolder) String() string {
	return "LocalFolder: " + f.root
}
