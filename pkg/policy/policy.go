// Package policy turns one diff.Pair into zero or more actions,
// grounded on _examples/original_source/sync/policy.py's
// AbstractFileSyncPolicy/UpPolicy/DownPolicy/UpAndDeletePolicy/
// DownAndDeletePolicy hierarchy. Go has no abstract-class story, so
// the four original subclasses collapse into one Decide function
// parameterized by Direction and Keep — the same four behaviors,
// selected by a value instead of by which class was instantiated.
package policy

import (
	"fmt"
	"strconv"

	"github.com/blindsync/blindsync/pkg/action"
	"github.com/blindsync/blindsync/pkg/diff"
	"github.com/blindsync/blindsync/pkg/folder"
)

// Comparison is how deep to look before declaring two files
// different, matching the original's integer --compareVersions level
// exactly: each level includes every check below it.
type Comparison int

const (
	CompareKind    Comparison = 1 // file vs. directory only
	CompareSize    Comparison = 2 // + size
	CompareModTime Comparison = 3 // + modification time
	CompareHash    Comparison = 4 // + content hash
)

// ParseComparison parses the --comparison flag's value, defaulting to
// CompareHash (level 4) when s is empty, exactly as the original
// treats a missing --compareVersions.
func ParseComparison(s string) (Comparison, error) {
	if s == "" {
		return CompareHash, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("policy: invalid comparison level %q", s)
	}
	return Comparison(n), nil
}

// Direction selects which side is authoritative: Up syncs local
// changes to the remote store, Down syncs remote changes to disk.
type Direction int

const (
	Up Direction = iota
	Down
)

// Decide returns the actions implied by one diff.Pair. srcFolder and
// dstFolder are used to lazily compute a content hash when the
// comparison level requires it (folder.UpdateHash), mirroring
// AbstractFileSyncPolicy.__files_are_different's call into
// updateHashForSubFile on both sides; dstFolder also resolves the
// local target path of a transfer (FullPathFor).
//
// keep is the --keep flag: true leaves orphaned destination entries
// (and superseded remote objects) alone, false deletes them —
// UpAndDeletePolicy/DownAndDeletePolicy's shouldDeleteOld() selected by
// `args.delete`, inverted here to the "keep" spelling the CLI exposes.
func Decide(pair diff.Pair, srcFolder, dstFolder folder.Folder, comparison Comparison, direction Direction, keep bool) ([]action.Action, error) {
	if pair.Src == nil {
		if pair.Dst == nil || keep {
			return nil, nil
		}
		if direction == Up {
			return []action.Action{&action.RemoteDelete{Entity: *pair.Dst}}, nil
		}
		return []action.Action{&action.LocalDelete{Path: pair.Dst.NativePath}}, nil
	}

	if pair.Dst == nil {
		act, err := makeTransferAction(pair, dstFolder, direction)
		if err != nil {
			return nil, err
		}
		return []action.Action{act}, nil
	}

	if !filesAreDifferent(*pair.Src, *pair.Dst, srcFolder, dstFolder, comparison) {
		return nil, nil
	}

	act, err := makeTransferAction(pair, dstFolder, direction)
	if err != nil {
		return nil, err
	}
	if direction == Up && !keep {
		// UpAndDeletePolicy.shouldDeleteOld: the stale remote object
		// is being replaced, so remove it before the new upload lands
		// under its own secure name, in the same worker turn.
		return []action.Action{&action.RemoteDelete{Entity: *pair.Dst}, act}, nil
	}
	return []action.Action{act}, nil
}

func filesAreDifferent(src, dst folder.PathEntity, srcFolder, dstFolder folder.Folder, comparison Comparison) bool {
	if comparison >= CompareKind && src.IsDir != dst.IsDir {
		return true
	}
	if src.IsDir || dst.IsDir {
		return false
	}

	if comparison >= CompareSize {
		if src.LatestVersion().Size != dst.LatestVersion().Size {
			return true
		}
	}
	if comparison >= CompareModTime {
		if src.LatestVersion().ModTime != dst.LatestVersion().ModTime {
			return true
		}
	}
	if comparison >= CompareHash {
		h1, err1 := srcFolder.UpdateHash(&src)
		h2, err2 := dstFolder.UpdateHash(&dst)
		if err1 == nil && err2 == nil && h1 != "" && h2 != "" && h1 != h2 {
			return true
		}
	}
	return false
}

func makeTransferAction(pair diff.Pair, dstFolder folder.Folder, direction Direction) (action.Action, error) {
	switch direction {
	case Up:
		return &action.Upload{Entity: *pair.Src}, nil
	case Down:
		return &action.Download{Entity: *pair.Src, LocalPath: dstFolder.FullPathFor(*pair.Src)}, nil
	default:
		return nil, fmt.Errorf("policy: unknown direction %v", direction)
	}
}
