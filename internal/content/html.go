package content

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// HTMLProvider handles standalone HTML files. The whole file becomes one
// section: the inner HTML of <body>, sanitized.
type HTMLProvider struct{}

func (p *HTMLProvider) Parse(r io.Reader, filename string) (*Document, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSuffix(strings.TrimSuffix(filename, ".html"), ".htm")
	if t := findElement(doc, "title"); t != nil {
		if s := strings.TrimSpace(nodeText(t)); s != "" {
			title = s
		}
	}

	body := findElement(doc, "body")
	if body == nil {
		return &Document{Title: title}, nil
	}
	sanitize(body)

	inner, err := innerHTML(body)
	if err != nil {
		return nil, err
	}

	id := sectionID(0)
	return &Document{
		Title: title,
		Sections: []Section{{
			ID:        id,
			ChapterID: id,
			Title:     title,
			HTML:      inner,
		}},
	}, nil
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

func innerHTML(n *html.Node) (string, error) {
	var buf strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// sanitize removes script and style elements and strips event handler
// attributes from the subtree rooted at n.
func sanitize(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style") {
			n.RemoveChild(c)
			continue
		}
		if c.Type == html.ElementNode {
			stripEventAttrs(c)
		}
		sanitize(c)
	}
}

func stripEventAttrs(n *html.Node) {
	cleaned := n.Attr[:0]
	for _, attr := range n.Attr {
		if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
			continue
		}
		cleaned = append(cleaned, attr)
	}
	n.Attr = cleaned
}
