// Package content turns uploaded documents into navigable sections of
// sanitized HTML. A section is the scoping unit for highlight fetch/apply:
// its id is stable across re-parses of the same input, and its HTML parses
// into the content root that the anchoring machinery operates on.
package content

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/dom"
)

// Section is one navigable content unit of a document (an EPUB chapter, a
// PDF page, a whole Markdown file).
type Section struct {
	// ID is the stable section key highlights are stored under. It must be
	// deterministic for a given input, since stored location descriptors
	// are only valid against deterministically re-rendered content.
	ID string `json:"id"`

	// ChapterID identifies the chapter the section belongs to (the EPUB
	// spine href, or the section id itself for single-chapter formats).
	ChapterID string `json:"chapter_id"`

	Title string `json:"title,omitempty"`

	// HTML is the sanitized section markup. Scripts, styles and event
	// handler attributes never survive parsing.
	HTML string `json:"-"`
}

// Document is a parsed upload: a title and its ordered sections.
type Document struct {
	Title    string
	Sections []Section
}

// Provider converts raw document bytes into a Document.
type Provider interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists the file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".epub": true,
	".html": true,
	".htm":  true,
	".md":   true,
	".pdf":  true,
	".docx": true,
	".txt":  true,
}

// ForFile returns the provider for a filename.
func ForFile(filename string) (Provider, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".epub":
		return &EPUBProvider{}, nil
	case ".html", ".htm":
		return &HTMLProvider{}, nil
	case ".md", ".markdown":
		return &MarkdownProvider{}, nil
	case ".pdf":
		return &PDFProvider{}, nil
	case ".docx":
		return &DOCXProvider{}, nil
	case ".txt":
		return &TextProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks whether a filename can be parsed.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ParseRoot parses a section's HTML and returns its content root element.
// Parsing is deterministic: the same HTML always yields a structurally
// identical tree, which is what keeps stored descriptors resolvable.
func ParseRoot(sectionHTML string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(sectionHTML))
	if err != nil {
		return nil, fmt.Errorf("parse section html: %w", err)
	}
	body := findElement(doc, "body")
	if body == nil {
		return nil, fmt.Errorf("parse section html: no body element")
	}
	return body, nil
}

// RenderRoot serializes the children of a content root back to HTML, e.g.
// after markers have been materialized into it.
func RenderRoot(root *html.Node) (string, error) {
	var buf strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render section html: %w", err)
		}
	}
	return buf.String(), nil
}

// sectionID formats the deterministic id for the i-th (0-based) section of
// a single-stream document.
func sectionID(i int) string {
	return fmt.Sprintf("sec-%04d", i+1)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// firstHeadingText returns the text of the first h1-h6 under n, used as a
// section title fallback.
func firstHeadingText(n *html.Node) string {
	if n.Type == html.ElementNode && headingLevel(n.Data) > 0 {
		return strings.TrimSpace(dom.Text(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := firstHeadingText(c); t != "" {
			return t
		}
	}
	return ""
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}
