package content

import (
	"fmt"
	stdhtml "html"
	"io"
	"strings"
)

// TextProvider handles plain text files: blank-line-separated paragraphs
// become <p> elements in a single section.
type TextProvider struct{}

func (p *TextProvider) Parse(r io.Reader, filename string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}

	title := strings.TrimSuffix(filename, ".txt")
	body := paragraphsToHTML(string(data))
	if body == "" {
		return &Document{Title: title}, nil
	}

	id := sectionID(0)
	return &Document{
		Title: title,
		Sections: []Section{{
			ID:        id,
			ChapterID: id,
			Title:     title,
			HTML:      body,
		}},
	}, nil
}

// paragraphsToHTML wraps blank-line-separated paragraphs in escaped <p>
// elements. Used by the text and PDF providers, whose input is plain text.
func paragraphsToHTML(text string) string {
	var buf strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		buf.WriteString("<p>")
		buf.WriteString(stdhtml.EscapeString(para))
		buf.WriteString("</p>\n")
	}
	return strings.TrimSpace(buf.String())
}
