// Package diff merge-walks the sorted streams from two folders and
// emits one Pair per distinct path, grounded directly on the
// teacher's ListMissingDestinationBlobs
// (_examples/perkeep-perkeep/pkg/client/sync.go): a peek/take cursor
// over two sorted channels, generalized here from "missing-only" to
// the full source-only / destination-only / both three-way emission
// the policy engine needs.
package diff

import (
	"strings"

	"github.com/blindsync/blindsync/pkg/folder"
)

// Pair is one path as seen on both sides of a sync. Exactly one of
// Src/Dst is nil when the path exists on only one side.
type Pair struct {
	Path string
	Src  *folder.PathEntity
	Dst  *folder.PathEntity
}

// peeker buffers one value pulled off ch so it can be inspected
// without consuming it — the local counterpart to the teacher's
// blob.ChanPeeker, which this module doesn't import directly because
// that package drags in unrelated blobref machinery.
type peeker struct {
	ch  <-chan folder.PathEntity
	buf folder.PathEntity
	has bool
}

func newPeeker(ch <-chan folder.PathEntity) *peeker {
	return &peeker{ch: ch}
}

func (p *peeker) peek() (folder.PathEntity, bool) {
	if !p.has {
		v, ok := <-p.ch
		if !ok {
			return folder.PathEntity{}, false
		}
		p.buf, p.has = v, true
	}
	return p.buf, true
}

func (p *peeker) take() folder.PathEntity {
	v, ok := p.peek()
	if !ok {
		panic("diff: take on exhausted peeker")
	}
	p.has = false
	return v
}

// Pairs merge-walks src and dst — both assumed sorted by
// RelativePath, case-insensitively, as every Folder implementation
// guarantees — and emits one Pair per distinct path in sorted order.
// The returned channel is closed once both inputs are exhausted.
func Pairs(src, dst <-chan folder.PathEntity) <-chan Pair {
	out := make(chan Pair)
	go func() {
		defer close(out)

		sp := newPeeker(src)
		dp := newPeeker(dst)

		for {
			sv, sok := sp.peek()
			dv, dok := dp.peek()

			switch {
			case !sok && !dok:
				return
			case sok && !dok:
				e := sp.take()
				out <- Pair{Path: e.RelativePath, Src: &e}
			case !sok && dok:
				e := dp.take()
				out <- Pair{Path: e.RelativePath, Dst: &e}
			default:
				sKey, dKey := strings.ToLower(sv.RelativePath), strings.ToLower(dv.RelativePath)
				switch {
				case sKey == dKey:
					s, d := sp.take(), dp.take()
					out <- Pair{Path: s.RelativePath, Src: &s, Dst: &d}
				case sKey < dKey:
					e := sp.take()
					out <- Pair{Path: e.RelativePath, Src: &e}
				default:
					e := dp.take()
					out <- Pair{Path: e.RelativePath, Dst: &e}
				}
			}
		}
	}()
	return out
}
