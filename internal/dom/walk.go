package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// SetAttr sets or replaces the named attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// TextNodes collects every text node under root in document order,
// including root itself if it is a text node.
func TextNodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			nodes = append(nodes, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return nodes
}

// FirstText returns the first text-node descendant of n in document order,
// or n itself when n is a text node. Returns nil if the subtree holds no text.
func FirstText(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.TextNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := FirstText(c); t != nil {
			return t
		}
	}
	return nil
}

// LastText returns the last text-node descendant of n in document order,
// or n itself when n is a text node.
func LastText(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.TextNode {
		return n
	}
	for c := n.LastChild; c != nil; c = c.PrevSibling {
		if t := LastText(c); t != nil {
			return t
		}
	}
	return nil
}

// Contains reports whether n is root or a descendant of root.
func Contains(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

// Text concatenates the text content of the subtree rooted at n, the
// equivalent of the DOM textContent property.
func Text(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// MergeText merges adjacent text-node children of parent and drops empty
// ones, the equivalent of the DOM normalize() call. Marker removal relies on
// this to restore the exact pre-marking text layout.
func MergeText(parent *html.Node) {
	var next *html.Node
	for c := parent.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type != html.TextNode {
			continue
		}
		if c.Data == "" {
			parent.RemoveChild(c)
			continue
		}
		for next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			after := next.NextSibling
			parent.RemoveChild(next)
			next = after
		}
	}
}
