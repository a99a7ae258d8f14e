package api

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/dmelnik/readmark/internal/highlight"
)

// handleExport produces a standalone HTML digest of a document's
// highlights, grouped by section in reading order. Notes are Markdown and
// are rendered to HTML.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	item := s.library.Get(docID)
	if item == nil {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	recs, err := s.store.ListDocument(r.Context(), docID)
	if err != nil {
		jsonError(w, "list highlights: "+err.Error(), http.StatusInternalServerError)
		return
	}

	bySection := make(map[string][]highlight.Record)
	for _, rec := range recs {
		bySection[rec.Range.SectionID] = append(bySection[rec.Range.SectionID], rec)
	}

	md := goldmark.New()
	var buf strings.Builder
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s - highlights</title></head><body>\n",
		stdhtml.EscapeString(item.Title))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", stdhtml.EscapeString(item.Title))

	for _, sec := range item.Sections {
		secRecs := bySection[sec.ID]
		if len(secRecs) == 0 {
			continue
		}
		title := sec.Title
		if title == "" {
			title = sec.ID
		}
		fmt.Fprintf(&buf, "<h2>%s</h2>\n", stdhtml.EscapeString(title))
		for _, rec := range secRecs {
			fmt.Fprintf(&buf, "<blockquote class=%q>%s</blockquote>\n",
				"highlight-"+rec.Color, stdhtml.EscapeString(rec.Range.Text))
			if rec.Note != "" {
				var note bytes.Buffer
				if err := md.Convert([]byte(rec.Note), &note); err == nil {
					fmt.Fprintf(&buf, "<div class=\"note\">%s</div>\n", note.String())
				}
			}
		}
	}

	buf.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(buf.String()))
}
