package highlight

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/dom"
	"github.com/dmelnik/readmark/internal/marker"
)

// MarkerClass is the CSS class shared by all persisted highlight wrappers.
// The color is appended as a second class, e.g. "highlight-marker
// highlight-yellow".
const MarkerClass = "highlight-marker"

// ColorClass builds the wrapper class list for a highlight color.
func ColorClass(color string) string {
	return MarkerClass + " highlight-" + color
}

// Manager keeps the in-memory highlight list for the active section
// consistent with the store and with the markers applied to the section's
// content tree. Descriptors are only valid within one render generation of
// one section, so every section render goes through SectionRendered, which
// re-fetches and re-applies from scratch.
type Manager struct {
	store Store
	log   *slog.Logger

	mu         sync.Mutex
	documentID string
	sectionID  string
	chapterID  string
	root       *html.Node

	records []Record
	handles map[string]*marker.Handle

	onSelection func(anchor.TextRange)
}

func NewManager(store Store, log *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		log:     log,
		handles: make(map[string]*marker.Handle),
	}
}

// OnSelectionReady registers a callback fired whenever CaptureSelection
// produces a qualifying range, for the UI layer to place its color menu.
func (m *Manager) OnSelectionReady(fn func(anchor.TextRange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSelection = fn
}

// SectionRendered installs a freshly rendered section as the active one,
// fetches its stored highlights, and applies them. A response that arrives
// after the active section has changed again is discarded.
func (m *Manager) SectionRendered(ctx context.Context, documentID, sectionID, chapterID string, root *html.Node) error {
	m.mu.Lock()
	m.clearLocked()
	m.documentID = documentID
	m.sectionID = sectionID
	m.chapterID = chapterID
	m.root = root
	m.records = nil
	m.mu.Unlock()

	recs, err := m.store.List(ctx, documentID, sectionID)
	if err != nil {
		return fmt.Errorf("list highlights: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.documentID != documentID || m.sectionID != sectionID {
		m.log.Info("discarding stale highlight fetch",
			"document", documentID, "section", sectionID, "active", m.sectionID)
		return nil
	}
	m.records = recs
	m.applyLocked()
	return nil
}

// ApplyAll re-applies every cached record to the active section root. Safe
// to call any number of times: a full reversal pass precedes application,
// so markers never double-wrap.
func (m *Manager) ApplyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked()
}

// ClearAll reverses every applied marker. Idempotent.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) applyLocked() {
	m.clearLocked()
	if m.root == nil {
		return
	}

	// Wrapping splits the wrapped text node into new siblings, which shifts
	// the text()[k] index of every node after the split point. Descriptors
	// were captured against the clean tree, so records are applied back to
	// front: a split only inserts nodes at or after the wrapped position, and
	// sibling indexes count preceding nodes only, leaving every descriptor
	// still to be applied untouched.
	pos := make(map[*html.Node]int)
	for i, n := range dom.TextNodes(m.root) {
		pos[n] = i
	}
	type pending struct {
		idx, pos, off int
	}
	queue := make([]pending, 0, len(m.records))
	for i, rec := range m.records {
		if rec.Range.SectionID != m.sectionID {
			continue
		}
		p := -1
		if n := dom.Resolve(rec.Range.Start, m.root); n != nil {
			p = pos[n]
		}
		queue = append(queue, pending{idx: i, pos: p, off: rec.Range.StartOffset})
	}
	sort.Slice(queue, func(a, b int) bool {
		if queue[a].pos != queue[b].pos {
			return queue[a].pos > queue[b].pos
		}
		return queue[a].off > queue[b].off
	})

	for _, q := range queue {
		rec := m.records[q.idx]
		rng := rec.Range
		h := marker.Materialize(&rng, m.root, marker.Options{
			Class: ColorClass(rec.Color),
			ID:    rec.ID,
		}, m.log)
		if h == nil {
			// Expected under drift; the rest of the set still applies.
			m.log.Warn("highlight did not apply", "id", rec.ID, "section", m.sectionID)
			continue
		}
		m.handles[rec.ID] = h
	}
}

func (m *Manager) clearLocked() {
	for id, h := range m.handles {
		h.Remove()
		delete(m.handles, id)
	}
}

// CaptureSelection converts a selection snapshot on the active section into
// a TextRange and notifies the selection-ready callback.
func (m *Manager) CaptureSelection(sel anchor.Selection) (*anchor.TextRange, error) {
	m.mu.Lock()
	root, sectionID, chapterID := m.root, m.sectionID, m.chapterID
	fn := m.onSelection
	m.mu.Unlock()

	if root == nil {
		return nil, fmt.Errorf("capture selection: no active section")
	}
	rng, err := anchor.Capture(sel, root, sectionID, chapterID)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		fn(*rng)
	}
	return rng, nil
}

// Create persists a new highlight and materializes it immediately. When the
// store call fails the highlight is still shown under a locally fabricated
// id so the user's action is not silently lost; the error is returned for
// the caller to surface.
func (m *Manager) Create(ctx context.Context, documentID string, rng anchor.TextRange, color, note string) (Record, error) {
	rec := Record{
		DocumentID: documentID,
		Range:      rng,
		Color:      color,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := m.store.Create(ctx, rec)
	if err != nil {
		rec.ID = NewID()
		m.log.Error("persist highlight failed, keeping local copy", "id", rec.ID, "error", err)
		m.adopt(rec)
		return rec, fmt.Errorf("persist highlight: %w", err)
	}
	m.adopt(created)
	return created, nil
}

// adopt appends a record to the cache and re-applies the active section so
// the new marker lands in the right order relative to its neighbors.
func (m *Manager) adopt(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	m.applyLocked()
}

// Delete removes a highlight optimistically: marker and cache first, then
// the store call, whose failure is only logged. A record whose marker never
// materialized is still removed from the cache and deleted remotely.
func (m *Manager) Delete(ctx context.Context, id string) {
	m.mu.Lock()
	if h, ok := m.handles[id]; ok {
		h.Remove()
		delete(m.handles, id)
	}
	for i, rec := range m.records {
		if rec.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.log.Error("delete highlight failed", "id", id, "error", err)
	}
}

// Recolor changes a highlight's color. The wrapper class carries the color,
// so the section is re-applied with the updated record; the store update is
// optimistic and rapid successive recolors are last-write-wins.
func (m *Manager) Recolor(ctx context.Context, id, color string) error {
	m.mu.Lock()
	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		m.records[i].Color = color
		m.applyLocked()
		break
	}
	m.mu.Unlock()

	if err := m.store.UpdateColor(ctx, id, color); err != nil {
		m.log.Error("update highlight color failed", "id", id, "error", err)
		return fmt.Errorf("update highlight color: %w", err)
	}
	return nil
}

// Records returns a copy of the cached records for the active document.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
