package content

import (
	"fmt"
	stdhtml "html"
	"io"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// DOCXProvider handles .docx files. Paragraphs become <p>/<h*> elements;
// the document splits into a new section at every Heading1.
type DOCXProvider struct{}

func (p *DOCXProvider) Parse(r io.Reader, filename string) (*Document, error) {
	// go-docx needs a ReadSeeker plus size, so spool to a temp file.
	tmp, err := os.CreateTemp("", "readmark-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, int64(size))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	out := &Document{Title: strings.TrimSuffix(filename, ".docx")}

	var cur strings.Builder
	curTitle := ""
	flush := func() {
		htmlBody := strings.TrimSpace(cur.String())
		cur.Reset()
		if htmlBody == "" {
			return
		}
		id := sectionID(len(out.Sections))
		out.Sections = append(out.Sections, Section{
			ID:        id,
			ChapterID: id,
			Title:     curTitle,
			HTML:      htmlBody,
		})
	}

	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		level := docxHeadingLevel(para)
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		if level == 1 {
			flush()
			curTitle = text
		}
		if level > 0 {
			fmt.Fprintf(&cur, "<h%d>%s</h%d>\n", level, stdhtml.EscapeString(text), level)
		} else {
			fmt.Fprintf(&cur, "<p>%s</p>\n", stdhtml.EscapeString(text))
		}
	}
	flush()

	if len(out.Sections) == 0 {
		return nil, fmt.Errorf("docx has no text content")
	}
	return out, nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := para.Properties.Style.Val
	for lvl := 1; lvl <= 6; lvl++ {
		if strings.EqualFold(style, fmt.Sprintf("Heading%d", lvl)) ||
			strings.EqualFold(style, fmt.Sprintf("heading %d", lvl)) {
			return lvl
		}
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
