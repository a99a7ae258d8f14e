// Package anchor captures spans of section content as serializable text
// ranges. A TextRange survives re-rendering of the section because its
// endpoints are structural paths rather than node pointers; see the dom
// package for the addressing scheme.
package anchor

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/dom"
	"github.com/dmelnik/readmark/internal/norm"
)

// TextRange denotes a span of section content independent of any single
// parsed tree. Offsets are byte offsets into the original (non-normalized)
// text of the node each path resolves to. Text holds the
// literal covered string and is used as a consistency check when the range
// is materialized later.
type TextRange struct {
	Start       string `json:"start"`
	StartOffset int    `json:"start_offset"`
	End         string `json:"end"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"text"`
	SectionID   string `json:"section_id"`
	ChapterID   string `json:"chapter_id"`
}

// Selection is an explicit snapshot of a user text selection: the boundary
// nodes and offsets as reported by the UI layer. Boundary nodes need not be
// text nodes; Capture descends to one when they are not.
type Selection struct {
	StartNode   *html.Node
	StartOffset int
	EndNode     *html.Node
	EndOffset   int
}

// Errors reported by Capture. Callers treat these as "no highlight this
// time", not as failures of the section.
var (
	ErrEmptySelection   = errors.New("anchor: selection is empty or collapsed")
	ErrOutsideRoot      = errors.New("anchor: selection lies outside the content root")
	ErrNoTextInBoundary = errors.New("anchor: selection boundary contains no text")
)

// Capture converts a live selection snapshot into a TextRange relative to
// root. This path is exact: boundaries are read directly, no text search is
// involved.
func Capture(sel Selection, root *html.Node, sectionID, chapterID string) (*TextRange, error) {
	if sel.StartNode == nil || sel.EndNode == nil {
		return nil, ErrEmptySelection
	}
	if sel.StartNode == sel.EndNode && sel.StartOffset == sel.EndOffset {
		return nil, ErrEmptySelection
	}
	if !dom.Contains(root, sel.StartNode) || !dom.Contains(root, sel.EndNode) {
		return nil, ErrOutsideRoot
	}

	startNode, startOff := sel.StartNode, sel.StartOffset
	if startNode.Type != html.TextNode {
		startNode = dom.FirstText(startNode)
		if startNode == nil {
			return nil, ErrNoTextInBoundary
		}
		startOff = 0
	}
	endNode, endOff := sel.EndNode, sel.EndOffset
	if endNode.Type != html.TextNode {
		endNode = dom.LastText(endNode)
		if endNode == nil {
			return nil, ErrNoTextInBoundary
		}
		endOff = len(endNode.Data)
	}

	startOff = clamp(startOff, len(startNode.Data))
	endOff = clamp(endOff, len(endNode.Data))

	text := coveredText(root, startNode, startOff, endNode, endOff)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptySelection
	}

	return &TextRange{
		Start:       dom.Describe(startNode, root),
		StartOffset: startOff,
		End:         dom.Describe(endNode, root),
		EndOffset:   endOff,
		Text:        text,
		SectionID:   sectionID,
		ChapterID:   chapterID,
	}, nil
}

// FindText locates the first occurrence of target in the section content
// under root, matching in normalized space so that whitespace irregularities
// on either side do not matter. Returns nil when the text is not present;
// narrated text is not always verbatim in the section, so a miss is an
// expected outcome, not an error.
func FindText(root *html.Node, target, sectionID, chapterID string) *TextRange {
	want := norm.Normalize(target)
	if want == "" {
		return nil
	}

	type entry struct {
		node      *html.Node
		normStart int
		normLen   int
	}

	var entries []entry
	var concat strings.Builder
	for _, tn := range dom.TextNodes(root) {
		n := norm.Normalize(tn.Data)
		if n == "" {
			continue
		}
		if concat.Len() > 0 {
			concat.WriteByte(' ')
		}
		entries = append(entries, entry{node: tn, normStart: concat.Len(), normLen: len(n)})
		concat.WriteString(n)
	}

	matchStart := strings.Index(concat.String(), want)
	if matchStart < 0 {
		return nil
	}
	matchEnd := matchStart + len(want) // exclusive

	var start, end *entry
	for i := range entries {
		e := &entries[i]
		if start == nil && matchStart >= e.normStart && matchStart < e.normStart+e.normLen {
			start = e
		}
		if matchEnd > e.normStart && matchEnd <= e.normStart+e.normLen {
			end = e
		}
	}
	if start == nil || end == nil {
		return nil
	}

	startOff := norm.MapIndex(start.node.Data, matchStart-start.normStart)
	endOff := norm.MapIndex(end.node.Data, matchEnd-end.normStart)
	// MapIndex may land just past a trailing whitespace run; pull the end
	// boundary back so the range covers exactly the matched words.
	lo := 0
	if end.node == start.node {
		lo = startOff
	}
	endOff = lo + len(strings.TrimRightFunc(end.node.Data[lo:endOff], unicode.IsSpace))

	// The joining space between nodes is synthetic: adjacent nodes with no
	// whitespace between them can match a spaced target without the document
	// containing it. Reject the match unless the covered text really
	// normalizes to the target.
	covered := coveredText(root, start.node, startOff, end.node, endOff)
	if norm.Normalize(covered) != want {
		return nil
	}

	return &TextRange{
		Start:       dom.Describe(start.node, root),
		StartOffset: startOff,
		End:         dom.Describe(end.node, root),
		EndOffset:   endOff,
		Text:        covered,
		SectionID:   sectionID,
		ChapterID:   chapterID,
	}
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

// coveredText concatenates the original text between (startNode, startOff)
// and (endNode, endOff) in document order under root.
func coveredText(root, startNode *html.Node, startOff int, endNode *html.Node, endOff int) string {
	if startNode == endNode {
		if startOff > endOff {
			startOff, endOff = endOff, startOff
		}
		return startNode.Data[startOff:endOff]
	}

	var buf strings.Builder
	collecting := false
	for _, tn := range dom.TextNodes(root) {
		switch tn {
		case startNode:
			collecting = true
			buf.WriteString(tn.Data[startOff:])
		case endNode:
			if collecting {
				buf.WriteString(tn.Data[:endOff])
			}
			return buf.String()
		default:
			if collecting {
				buf.WriteString(tn.Data)
			}
		}
	}
	return buf.String()
}
