package highlight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/dom"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseBody(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "body" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f := find(c); f != nil {
				return f
			}
		}
		return nil
	}
	return find(doc)
}

// fakeStore is an in-memory Store with per-call failure switches.
type fakeStore struct {
	mu      sync.Mutex
	records []Record

	failList   bool
	failCreate bool
	failDelete bool
	failColor  bool

	deletes []string
	colors  []string
}

func (f *fakeStore) List(ctx context.Context, documentID, sectionID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("store down")
	}
	var out []Record
	for _, r := range f.records {
		if r.DocumentID == documentID && r.Range.SectionID == sectionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDocument(ctx context.Context, documentID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.records {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return Record{}, errors.New("store down")
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.failDelete {
		return errors.New("store down")
	}
	for i, r := range f.records {
		if r.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) UpdateColor(ctx context.Context, id, color string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colors = append(f.colors, color)
	if f.failColor {
		return errors.New("store down")
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Color = color
		}
	}
	return nil
}

func countMarkers(root *html.Node, class string) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.Contains(dom.Attr(n, "class"), class) {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}

func sectionRange(t *testing.T, root *html.Node, sectionID string, startOff, endOff int) anchor.TextRange {
	t.Helper()
	text := dom.FirstText(root)
	rng, err := anchor.Capture(anchor.Selection{
		StartNode: text, StartOffset: startOff,
		EndNode: text, EndOffset: endOff,
	}, root, sectionID, "ch")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return *rng
}

func TestSectionRendered_AppliesStoredHighlights(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	// Seed the store via a capture on a throwaway parse of the same markup.
	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	rng := sectionRange(t, seed, "sec-1", 0, 5)
	st.records = append(st.records, Record{ID: "h1", DocumentID: "doc", Range: rng, Color: "yellow"})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countMarkers(root, MarkerClass); got != 1 {
		t.Errorf("expected 1 marker, got %d", got)
	}
	if got := len(m.Records()); got != 1 {
		t.Errorf("expected 1 cached record, got %d", got)
	}
}

func TestSectionRendered_TwoHighlightsInSameTextNode(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	// Both ranges were captured against the clean paragraph; applying the
	// first splits the text node the second one addresses.
	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records,
		Record{ID: "h1", DocumentID: "doc", Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow"},
		Record{ID: "h2", DocumentID: "doc", Range: sectionRange(t, seed, "sec-1", 11, 16), Color: "green"},
	)

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countMarkers(root, MarkerClass); got != 2 {
		t.Errorf("expected 2 markers, got %d", got)
	}
	if got := countMarkers(root, "highlight-yellow"); got != 1 {
		t.Errorf("expected 1 yellow marker, got %d", got)
	}
	if got := countMarkers(root, "highlight-green"); got != 1 {
		t.Errorf("expected 1 green marker, got %d", got)
	}
	if got := dom.Text(root); got != "alpha beta gamma" {
		t.Errorf("text content changed: %q", got)
	}
}

func TestSectionRendered_ReapplyDoesNotDoubleWrap(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 6, 10), Color: "green",
	})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ApplyAll()
	m.ApplyAll()
	if got := countMarkers(root, MarkerClass); got != 1 {
		t.Errorf("expected 1 marker after repeated apply, got %d", got)
	}
	if got := dom.Text(root); got != "alpha beta gamma" {
		t.Errorf("text content changed: %q", got)
	}
}

func TestSectionRendered_StoreFailure(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{failList: true}
	m := NewManager(st, discardLogger())

	root := parseBody(t, `<p>content</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err == nil {
		t.Error("expected an error when the store list fails")
	}
	if got := countMarkers(root, MarkerClass); got != 0 {
		t.Errorf("expected no markers, got %d", got)
	}
}

func TestCreate_PersistsAndMaterializes(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rng := sectionRange(t, parseBody(t, `<p>alpha beta gamma</p>`), "sec-1", 0, 5)
	rec, err := m.Create(ctx, "doc", rng, "yellow", "a note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected an assigned id")
	}
	if got := countMarkers(root, MarkerClass); got != 1 {
		t.Errorf("expected 1 marker, got %d", got)
	}
	if len(st.records) != 1 {
		t.Errorf("expected 1 stored record, got %d", len(st.records))
	}
}

func TestCreate_StoreFailureKeepsLocalCopy(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{failCreate: true}
	m := NewManager(st, discardLogger())

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rng := sectionRange(t, parseBody(t, `<p>alpha beta gamma</p>`), "sec-1", 0, 5)
	rec, err := m.Create(ctx, "doc", rng, "yellow", "")
	if err == nil {
		t.Fatal("expected the store error to surface")
	}
	if rec.ID == "" {
		t.Error("expected a locally fabricated id")
	}
	if got := countMarkers(root, MarkerClass); got != 1 {
		t.Errorf("expected the local highlight to show, got %d markers", got)
	}
	if got := len(m.Records()); got != 1 {
		t.Errorf("expected 1 cached record, got %d", got)
	}
}

func TestCreate_OtherSectionNotMaterialized(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rng := sectionRange(t, parseBody(t, `<p>other section text</p>`), "sec-2", 0, 5)
	if _, err := m.Create(ctx, "doc", rng, "blue", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countMarkers(root, MarkerClass); got != 0 {
		t.Errorf("expected no markers on the active section, got %d", got)
	}
}

func TestCaptureSelection_NotifiesCallback(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	var notified []anchor.TextRange
	m.OnSelectionReady(func(rng anchor.TextRange) { notified = append(notified, rng) })

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := dom.FirstText(root)
	rng, err := m.CaptureSelection(anchor.Selection{
		StartNode: text, StartOffset: 0,
		EndNode: text, EndOffset: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rng.Text != "alpha" || rng.SectionID != "sec-1" {
		t.Errorf("unexpected range: %+v", rng)
	}
	if len(notified) != 1 || notified[0].Text != "alpha" {
		t.Errorf("selection-ready callback not fired: %v", notified)
	}

	// A collapsed selection neither captures nor notifies.
	if _, err := m.CaptureSelection(anchor.Selection{
		StartNode: text, StartOffset: 2, EndNode: text, EndOffset: 2,
	}); err == nil {
		t.Error("expected an error for a collapsed selection")
	}
	if len(notified) != 1 {
		t.Errorf("callback fired on rejected selection: %v", notified)
	}
}

func TestDelete_OptimisticOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow",
	})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st.failDelete = true
	m.Delete(ctx, "h1")

	if got := countMarkers(root, MarkerClass); got != 0 {
		t.Errorf("expected marker removed despite store failure, got %d", got)
	}
	if got := len(m.Records()); got != 0 {
		t.Errorf("expected empty cache, got %d records", got)
	}
	if len(st.deletes) != 1 || st.deletes[0] != "h1" {
		t.Errorf("expected delete attempted for h1, got %v", st.deletes)
	}
}

func TestDelete_RecordWithoutMarker(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	// The record's descriptor does not resolve, so it never materializes.
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: anchor.TextRange{
			Start: "/p[9]/text()[1]", End: "/p[9]/text()[1]",
			StartOffset: 0, EndOffset: 3, SectionID: "sec-1",
		},
		Color: "yellow",
	})

	root := parseBody(t, `<p>alpha</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countMarkers(root, MarkerClass); got != 0 {
		t.Fatalf("expected no markers for stale descriptor, got %d", got)
	}

	m.Delete(ctx, "h1")
	if got := len(m.Records()); got != 0 {
		t.Errorf("expected record removed from cache, got %d", got)
	}
	if len(st.deletes) != 1 {
		t.Errorf("expected store delete still attempted, got %v", st.deletes)
	}
}

func TestRecolor_SwapsMarkerClass(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow",
	})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Recolor(ctx, "h1", "green"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := countMarkers(root, "highlight-green"); got != 1 {
		t.Errorf("expected 1 green marker, got %d", got)
	}
	if got := countMarkers(root, "highlight-yellow"); got != 0 {
		t.Errorf("expected no yellow markers, got %d", got)
	}
	if got := m.Records()[0].Color; got != "green" {
		t.Errorf("cache color: expected green, got %q", got)
	}
}

func TestRecolor_RapidSuccessionLastWriteWins(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	m := NewManager(st, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow",
	})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range []string{"green", "blue", "pink"} {
		if err := m.Recolor(ctx, "h1", c); err != nil {
			t.Fatalf("recolor %s: %v", c, err)
		}
	}
	if got := countMarkers(root, MarkerClass); got != 1 {
		t.Errorf("expected exactly 1 marker, got %d", got)
	}
	if got := countMarkers(root, "highlight-pink"); got != 1 {
		t.Errorf("expected the final color to win, got %d pink markers", got)
	}
	if got := st.records[0].Color; got != "pink" {
		t.Errorf("store color: expected pink, got %q", got)
	}
}

func TestRecolor_StoreFailureKeepsOptimisticColor(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{failColor: true}
	m := NewManager(st, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow",
	})

	root := parseBody(t, `<p>alpha beta gamma</p>`)
	if err := m.SectionRendered(ctx, "doc", "sec-1", "ch", root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Recolor(ctx, "h1", "green"); err == nil {
		t.Error("expected the store error to surface")
	}
	if got := countMarkers(root, "highlight-green"); got != 1 {
		t.Errorf("expected the optimistic color applied, got %d green markers", got)
	}
}

func TestSectionRendered_StaleFetchDiscarded(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}

	// A store whose List blocks until another section has become active.
	release := make(chan struct{})
	slow := &slowStore{fakeStore: st, release: release, listing: make(chan struct{})}
	m := NewManager(slow, discardLogger())

	seed := parseBody(t, `<p>alpha beta gamma</p>`)
	st.records = append(st.records, Record{
		ID: "h1", DocumentID: "doc",
		Range: sectionRange(t, seed, "sec-1", 0, 5), Color: "yellow",
	})

	rootOne := parseBody(t, `<p>alpha beta gamma</p>`)
	rootTwo := parseBody(t, `<p>second section</p>`)

	done := make(chan error, 1)
	go func() {
		done <- m.SectionRendered(ctx, "doc", "sec-1", "ch", rootOne)
	}()
	<-slow.listing

	// The user has already moved on before the first fetch returns.
	if err := m.SectionRendered(ctx, "doc", "sec-2", "ch", rootTwo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := countMarkers(rootOne, MarkerClass); got != 0 {
		t.Errorf("stale fetch applied markers to the abandoned section: %d", got)
	}
	if got := len(m.Records()); got != 0 {
		t.Errorf("stale fetch populated the cache: %d records", got)
	}
}

// slowStore delays the first List call until release is closed, to simulate
// a fetch outliving its section.
type slowStore struct {
	*fakeStore
	release <-chan struct{}
	listing chan struct{}

	mu    sync.Mutex
	first bool
}

func (s *slowStore) List(ctx context.Context, documentID, sectionID string) ([]Record, error) {
	s.mu.Lock()
	block := !s.first
	s.first = true
	s.mu.Unlock()
	if block {
		close(s.listing)
		<-s.release
	}
	return s.fakeStore.List(ctx, documentID, sectionID)
}
