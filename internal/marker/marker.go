// Package marker materializes text ranges as wrapper elements inside a
// parsed HTML tree and reverses that mutation exactly. Markers only ever
// wrap text; removing every marker and re-merging adjacent text nodes
// restores the tree to a state textually and structurally identical to the
// pre-marking one.
package marker

import (
	"fmt"
	"log/slog"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/dom"
	"github.com/dmelnik/readmark/internal/norm"
)

// IdentityAttr carries the highlight record id on persisted markers.
// Ephemeral markers (read-aloud) do not set it.
const IdentityAttr = "data-highlight-id"

// Options controls the wrapper elements a materialization inserts.
type Options struct {
	// Class is the CSS class of the wrapper, e.g. "highlight-marker
	// highlight-yellow" or the read-aloud class.
	Class string

	// ID, when non-empty, is written to the data-highlight-id attribute of
	// every wrapper so the DOM links back to the stored record.
	ID string
}

// Handle reverses one materialization. It remembers the wrappers that were
// inserted; Remove is safe to call any number of times.
type Handle struct {
	wrappers []*html.Node
	removed  bool
}

// Materialize resolves rng against root and wraps the covered text in
// marker elements. It returns nil when either endpoint fails to resolve to
// a text node or the range cannot be reconstructed. Stale descriptors are
// an expected condition on re-rendered content, so the caller logs and
// skips rather than failing the section.
func Materialize(rng *anchor.TextRange, root *html.Node, opts Options, log *slog.Logger) *Handle {
	if rng == nil || root == nil {
		return nil
	}

	startNode := dom.Resolve(rng.Start, root)
	endNode := dom.Resolve(rng.End, root)
	if startNode == nil || startNode.Type != html.TextNode ||
		endNode == nil || endNode.Type != html.TextNode {
		return nil
	}

	// Offsets may be stale if the content changed since capture.
	startOff := clamp(rng.StartOffset, len(startNode.Data))
	endOff := clamp(rng.EndOffset, len(endNode.Data))

	if rng.Text != "" && log != nil {
		got := coveredText(root, startNode, startOff, endNode, endOff)
		if norm.Normalize(got) != norm.Normalize(rng.Text) {
			log.Warn("highlight text mismatch, applying anyway",
				"want", rng.Text, "got", got, "section", rng.SectionID)
		}
	}

	h := &Handle{}

	if startNode == endNode {
		if startOff > endOff {
			startOff, endOff = endOff, startOff
		}
		if startOff == endOff {
			return nil
		}
		w, err := wrapTextSpan(startNode, startOff, endOff, opts)
		if err != nil {
			if log != nil {
				log.Warn("marker wrap failed", "error", err, "section", rng.SectionID)
			}
			return nil
		}
		h.wrappers = append(h.wrappers, w)
		return h
	}

	// Cross-node case: wrap the overlapping portion of every text node the
	// range intersects with its own marker element, so no wrapper ever
	// spans an element boundary.
	nodes := dom.TextNodes(root)
	startIdx, endIdx := -1, -1
	for i, tn := range nodes {
		if tn == startNode {
			startIdx = i
		}
		if tn == endNode {
			endIdx = i
		}
	}
	if startIdx < 0 || endIdx < 0 {
		return nil
	}
	if startIdx > endIdx {
		startIdx, endIdx = endIdx, startIdx
		startNode, endNode = endNode, startNode
		startOff, endOff = endOff, startOff
	}

	for i := startIdx; i <= endIdx; i++ {
		tn := nodes[i]
		lo, hi := 0, len(tn.Data)
		if tn == startNode {
			lo = startOff
		}
		if tn == endNode {
			hi = endOff
		}
		if lo >= hi {
			continue
		}
		w, err := wrapTextSpan(tn, lo, hi, opts)
		if err != nil {
			// Undo what was applied so far; never leave a partial marker.
			h.Remove()
			if log != nil {
				log.Warn("marker wrap failed", "error", err, "section", rng.SectionID)
			}
			return nil
		}
		h.wrappers = append(h.wrappers, w)
	}
	if len(h.wrappers) == 0 {
		return nil
	}
	return h
}

// Remove promotes the children of every wrapper back into its parent in
// place, removes the wrapper, and re-merges adjacent text nodes. Calling it
// on an already-removed handle is a no-op.
func (h *Handle) Remove() {
	if h == nil || h.removed {
		return
	}
	h.removed = true
	for _, w := range h.wrappers {
		parent := w.Parent
		if parent == nil {
			continue // already detached
		}
		for c := w.FirstChild; c != nil; c = w.FirstChild {
			w.RemoveChild(c)
			parent.InsertBefore(c, w)
		}
		parent.RemoveChild(w)
		dom.MergeText(parent)
	}
	h.wrappers = nil
}

// Wrappers returns the wrapper elements this handle tracks, one per text
// node the range intersected.
func (h *Handle) Wrappers() []*html.Node {
	if h == nil {
		return nil
	}
	return h.wrappers
}

// wrapTextSpan splits tn so that tn.Data[lo:hi] ends up as the sole text
// child of a fresh marker element inserted at the same position. The
// portions outside [lo, hi) stay as sibling text nodes.
func wrapTextSpan(tn *html.Node, lo, hi int, opts Options) (*html.Node, error) {
	parent := tn.Parent
	if parent == nil {
		return nil, fmt.Errorf("marker: text node is detached")
	}
	if lo < 0 || hi > len(tn.Data) || lo >= hi {
		return nil, fmt.Errorf("marker: span [%d,%d) out of bounds for %d bytes", lo, hi, len(tn.Data))
	}

	before, middle, after := tn.Data[:lo], tn.Data[lo:hi], tn.Data[hi:]

	w := newWrapper(opts)
	w.AppendChild(&html.Node{Type: html.TextNode, Data: middle})

	next := tn.NextSibling
	parent.RemoveChild(tn)
	if before != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, next)
	}
	parent.InsertBefore(w, next)
	if after != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, next)
	}
	return w, nil
}

func newWrapper(opts Options) *html.Node {
	w := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
	}
	if opts.Class != "" {
		dom.SetAttr(w, "class", opts.Class)
	}
	if opts.ID != "" {
		dom.SetAttr(w, IdentityAttr, opts.ID)
	}
	return w
}

func clamp(off, max int) int {
	if off < 0 {
		return 0
	}
	if off > max {
		return max
	}
	return off
}

// coveredText mirrors the capture-side computation for the integrity check.
func coveredText(root, startNode *html.Node, startOff int, endNode *html.Node, endOff int) string {
	if startNode == endNode {
		lo, hi := startOff, endOff
		if lo > hi {
			lo, hi = hi, lo
		}
		return startNode.Data[lo:hi]
	}
	var out string
	collecting := false
	for _, tn := range dom.TextNodes(root) {
		switch tn {
		case startNode:
			collecting = true
			out += tn.Data[startOff:]
		case endNode:
			if collecting {
				out += tn.Data[:endOff]
			}
			return out
		default:
			if collecting {
				out += tn.Data
			}
		}
	}
	return out
}
