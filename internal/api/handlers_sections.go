package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmelnik/readmark/internal/content"
)

// handleRenderSection returns a section's HTML with every stored highlight
// materialized into it. The section key check inside the manager discards
// stale fetches when requests for different sections interleave.
func (s *Server) handleRenderSection(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	sec := s.library.Section(docID, chi.URLParam(r, "sectionID"))
	if sec == nil {
		jsonError(w, "section not found", http.StatusNotFound)
		return
	}

	root, err := content.ParseRoot(sec.HTML)
	if err != nil {
		jsonError(w, "render section: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.manager.SectionRendered(r.Context(), docID, sec.ID, sec.ChapterID, root); err != nil {
		// The section is still readable without its highlights.
		s.log.Error("apply highlights failed", "doc", docID, "section", sec.ID, "error", err)
	}

	out, err := content.RenderRoot(root)
	if err != nil {
		jsonError(w, "render section: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":     docID,
		"section_id": sec.ID,
		"chapter_id": sec.ChapterID,
		"title":      sec.Title,
		"html":       out,
	})
}

// handleReadAloudAdvance moves the ephemeral "currently reading" marker to
// the given sentence and returns the annotated section HTML. A sentence
// that cannot be located is not an error: the section renders without a
// reading marker.
func (s *Server) handleReadAloudAdvance(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	sec := s.library.Section(docID, chi.URLParam(r, "sectionID"))
	if sec == nil {
		jsonError(w, "section not found", http.StatusNotFound)
		return
	}

	var req struct {
		Sentence string `json:"sentence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sentence == "" {
		jsonError(w, "sentence is required", http.StatusBadRequest)
		return
	}

	root, err := content.ParseRoot(sec.HTML)
	if err != nil {
		jsonError(w, "render section: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.manager.SectionRendered(r.Context(), docID, sec.ID, sec.ChapterID, root); err != nil {
		s.log.Error("apply highlights failed", "doc", docID, "section", sec.ID, "error", err)
	}

	located := s.readAloud.Advance(root, req.Sentence, sec.ID, sec.ChapterID)

	out, err := content.RenderRoot(root)
	if err != nil {
		jsonError(w, "render section: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":     docID,
		"section_id": sec.ID,
		"located":    located,
		"html":       out,
	})
}

func (s *Server) handleReadAloudStop(w http.ResponseWriter, r *http.Request) {
	s.readAloud.Stop()
	w.WriteHeader(http.StatusNoContent)
}
