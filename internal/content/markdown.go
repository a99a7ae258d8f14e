package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownProvider handles Markdown files using goldmark. The rendered HTML
// becomes a single section; the first heading supplies the title.
type MarkdownProvider struct{}

func (p *MarkdownProvider) Parse(r io.Reader, filename string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}

	md := goldmark.New()

	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	title := strings.TrimSuffix(strings.TrimSuffix(filename, ".md"), ".markdown")
	if h := firstMarkdownHeading(md, src); h != "" {
		title = h
	}

	id := sectionID(0)
	return &Document{
		Title: title,
		Sections: []Section{{
			ID:        id,
			ChapterID: id,
			Title:     title,
			HTML:      strings.TrimSpace(buf.String()),
		}},
	}, nil
}

// firstMarkdownHeading walks the goldmark AST for the first heading's text.
func firstMarkdownHeading(md goldmark.Markdown, src []byte) string {
	doc := md.Parser().Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			var buf bytes.Buffer
			for c := h.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					buf.Write(t.Value(src))
				}
			}
			if s := strings.TrimSpace(buf.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
