package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/content"
	"github.com/dmelnik/readmark/internal/dom"
)

// colorPattern restricts colors to CSS-class-safe tokens; the service does
// not own a palette.
var colorPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// createHighlightRequest carries either an explicit selection (descriptor
// paths plus offsets, as sampled by a client from its rendered view) or a
// quote string to locate by normalized text search.
type createHighlightRequest struct {
	SectionID string `json:"section_id"`
	Color     string `json:"color"`
	Note      string `json:"note"`

	Selection *struct {
		StartPath   string `json:"start_path"`
		StartOffset int    `json:"start_offset"`
		EndPath     string `json:"end_path"`
		EndOffset   int    `json:"end_offset"`
	} `json:"selection,omitempty"`

	Quote string `json:"quote,omitempty"`
}

func (s *Server) handleCreateHighlight(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	var req createHighlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Color == "" || !colorPattern.MatchString(req.Color) {
		jsonError(w, "color must be a css-class-safe token", http.StatusBadRequest)
		return
	}
	if req.Selection == nil && req.Quote == "" {
		jsonError(w, "either selection or quote is required", http.StatusBadRequest)
		return
	}

	sec := s.library.Section(docID, req.SectionID)
	if sec == nil {
		jsonError(w, "section not found", http.StatusNotFound)
		return
	}

	// Capture always runs against a clean render of the section: marker
	// elements from previously applied highlights must not leak into the
	// descriptors of a new one.
	root, err := content.ParseRoot(sec.HTML)
	if err != nil {
		jsonError(w, "render section: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var rng *anchor.TextRange
	if req.Selection != nil {
		sel := anchor.Selection{
			StartNode:   dom.Resolve(req.Selection.StartPath, root),
			StartOffset: req.Selection.StartOffset,
			EndNode:     dom.Resolve(req.Selection.EndPath, root),
			EndOffset:   req.Selection.EndOffset,
		}
		rng, err = anchor.Capture(sel, root, sec.ID, sec.ChapterID)
		if err != nil {
			jsonError(w, "capture selection: "+err.Error(), http.StatusUnprocessableEntity)
			return
		}
	} else {
		rng = anchor.FindText(root, req.Quote, sec.ID, sec.ChapterID)
		if rng == nil {
			jsonError(w, "quote not found in section", http.StatusUnprocessableEntity)
			return
		}
	}

	rec, err := s.manager.Create(r.Context(), docID, *rng, req.Color, req.Note)
	if err != nil {
		// The highlight was kept locally under a fabricated id; tell the
		// client both facts.
		writeJSON(w, http.StatusAccepted, map[string]any{
			"highlight": rec,
			"warning":   "highlight stored locally only: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"highlight": rec})
}

func (s *Server) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	var err error
	var recs any
	if sectionID := r.URL.Query().Get("section_id"); sectionID != "" {
		recs, err = s.store.List(r.Context(), docID, sectionID)
	} else {
		recs, err = s.store.ListDocument(r.Context(), docID)
	}
	if err != nil {
		jsonError(w, "list highlights: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"highlights": recs})
}

func (s *Server) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "highlightID")
	// Optimistic: cache and markers are updated regardless of what the
	// store call does; its failure is logged inside the manager.
	s.manager.Delete(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleRecolorHighlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "highlightID")

	var req struct {
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !colorPattern.MatchString(req.Color) {
		jsonError(w, "color must be a css-class-safe token", http.StatusBadRequest)
		return
	}

	if err := s.manager.Recolor(r.Context(), id, req.Color); err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "color": req.Color})
}
