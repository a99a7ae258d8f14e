package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmelnik/readmark/internal/content"
)

// handleUploadDocument registers a document: the upload is parsed into
// sections immediately and kept in the library. The document id defaults to
// a content-hash prefix so re-uploading the same file reattaches to its
// stored highlights.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !content.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	provider, err := content.ForFile(filename)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p, ok := provider.(*content.PDFProvider); ok {
		p.FallbackPdftotext = s.cfg.PDFFallbackPdftotext
	}

	doc, err := provider.Parse(bytes.NewReader(data), filename)
	if err != nil {
		jsonError(w, "parse document: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		docID = content.HashHex(data)[:16]
	}
	title := r.FormValue("title")
	if title == "" {
		title = doc.Title
	}

	s.library.Add(&content.Item{
		ID:       docID,
		Filename: filename,
		Title:    title,
		AddedAt:  time.Now(),
		Sections: doc.Sections,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"doc_id":   docID,
		"title":    title,
		"sections": len(doc.Sections),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.library.List()})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if !s.library.Delete(docID) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": docID})
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	item := s.library.Get(docID)
	if item == nil {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":   item.ID,
		"title":    item.Title,
		"sections": item.Sections,
	})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
