// Package dom implements structural addressing of nodes inside a parsed
// HTML tree. A path describes the route from a content root to an element
// or text node as a sequence of (tag, same-tag sibling index) steps, e.g.
// "/div[1]/p[3]/text()[1]". When the target or one of its ancestors carries
// an id attribute the path is anchored there instead:
// "//*[@id=\"ch2\"]/p[3]/text()[1]". Paths survive re-parsing of the same
// markup, which is what makes stored highlights re-applicable.
package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Describe builds the structural path of n relative to root. It returns ""
// when n is root itself, and also "" when n is nil, detached, or not
// reachable from an element chain (the empty path resolves back to root, so
// callers that need a text node must check the node type after resolving).
func Describe(n, root *html.Node) string {
	if n == nil || root == nil {
		return ""
	}

	textSeg := ""
	if n.Type == html.TextNode {
		if n.Parent == nil {
			return ""
		}
		textSeg = fmt.Sprintf("/text()[%d]", textNodeIndex(n))
		n = n.Parent
	}

	var segs []string
	for cur := n; cur != root; cur = cur.Parent {
		if cur == nil || cur.Type != html.ElementNode {
			return ""
		}
		if id := Attr(cur, "id"); id != "" {
			// Anchor the path at the nearest id-carrying ancestor.
			segs = append(segs, fmt.Sprintf("//*[@id=%q]", id))
			reverse(segs)
			return strings.Join(segs, "") + textSeg
		}
		segs = append(segs, fmt.Sprintf("/%s[%d]", cur.Data, sameTagIndex(cur)))
	}
	reverse(segs)
	return strings.Join(segs, "") + textSeg
}

// Resolve evaluates a path against root and returns the addressed node, or
// nil when the path does not match anything. Paths may have been produced
// under different rooting assumptions (whole document vs. section subtree),
// so three interpretations are tried in order: the path as given, the path
// with a leading step naming root itself stripped, and the path with any
// absolute html/body prefix stripped. Malformed paths also yield nil; a
// missing node is never an error here.
func Resolve(path string, root *html.Node) *html.Node {
	if root == nil {
		return nil
	}
	p, ok := parsePath(path)
	if !ok {
		return nil
	}

	if p.id != "" {
		base := findByID(root, p.id)
		if base == nil {
			return nil
		}
		return applySteps(base, p.steps, p.textIndex)
	}

	// As given: steps descend from root.
	if n := applySteps(root, p.steps, p.textIndex); n != nil {
		return n
	}

	// Root-relative: the first step may name root itself.
	if len(p.steps) > 0 && root.Type == html.ElementNode && p.steps[0].tag == root.Data {
		if n := applySteps(root, p.steps[1:], p.textIndex); n != nil {
			return n
		}
	}

	// Absolute with the document prefix stripped: drop leading html/body
	// steps one at a time and retry.
	steps := p.steps
	for len(steps) > 0 && (steps[0].tag == "html" || steps[0].tag == "body") {
		steps = steps[1:]
		if n := applySteps(root, steps, p.textIndex); n != nil {
			return n
		}
	}

	return nil
}

type step struct {
	tag   string
	index int
}

type parsedPath struct {
	id        string
	steps     []step
	textIndex int // 0 means the target is an element
}

func parsePath(s string) (parsedPath, bool) {
	var p parsedPath
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "//*[@id=") {
		rest := s[len("//*[@id="):]
		if len(rest) < 2 || (rest[0] != '"' && rest[0] != '\'') {
			return p, false
		}
		quote := rest[0]
		end := strings.IndexByte(rest[1:], quote)
		if end < 0 {
			return p, false
		}
		p.id = rest[1 : 1+end]
		rest = rest[2+end:]
		if !strings.HasPrefix(rest, "]") {
			return p, false
		}
		s = rest[1:]
	}

	if s == "" {
		return p, true
	}
	if !strings.HasPrefix(s, "/") {
		return p, false
	}

	parts := strings.Split(s[1:], "/")
	for i, part := range parts {
		if part == "" {
			return p, false
		}
		name, idx, ok := splitIndexed(part)
		if !ok {
			return p, false
		}
		if name == "text()" {
			// text()[k] must be the final segment.
			if i != len(parts)-1 {
				return p, false
			}
			p.textIndex = idx
			return p, true
		}
		p.steps = append(p.steps, step{tag: name, index: idx})
	}
	return p, true
}

// splitIndexed splits "p[3]" into ("p", 3). A bare name defaults to index 1.
func splitIndexed(part string) (string, int, bool) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if part == "" {
			return "", 0, false
		}
		return part, 1, true
	}
	if !strings.HasSuffix(part, "]") {
		return "", 0, false
	}
	name := part[:open]
	idx, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || idx < 1 || name == "" {
		return "", 0, false
	}
	return name, idx, true
}

func applySteps(base *html.Node, steps []step, textIndex int) *html.Node {
	cur := base
	for _, st := range steps {
		cur = childByTagIndex(cur, st.tag, st.index)
		if cur == nil {
			return nil
		}
	}
	if textIndex > 0 {
		return textChild(cur, textIndex)
	}
	return cur
}

// childByTagIndex returns the idx-th (1-based) element child of n whose tag
// matches, in document order.
func childByTagIndex(n *html.Node, tag string, idx int) *html.Node {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			count++
			if count == idx {
				return c
			}
		}
	}
	return nil
}

// textChild returns the idx-th (1-based) text-node child of n.
func textChild(n *html.Node, idx int) *html.Node {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			count++
			if count == idx {
				return c
			}
		}
	}
	return nil
}

// sameTagIndex computes the 1-based index of n among its element siblings
// sharing the same tag. A sole child of its tag still gets index 1.
func sameTagIndex(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	return idx
}

// textNodeIndex computes the 1-based index of n among its parent's
// text-node children.
func textNodeIndex(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.TextNode {
			idx++
		}
	}
	return idx
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && Attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
