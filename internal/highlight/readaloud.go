package highlight

import (
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/marker"
)

// ReadAloudClass is the CSS class of the ephemeral "currently reading"
// wrapper. Read-aloud markers carry no identity attribute and are never
// persisted.
const ReadAloudClass = "reading-marker"

// ReadAloud tracks the single ephemeral marker that follows narration.
// Exactly one sentence is marked at a time; advancing swaps the marker.
type ReadAloud struct {
	log *slog.Logger

	mu     sync.Mutex
	handle *marker.Handle
}

func NewReadAloud(log *slog.Logger) *ReadAloud {
	return &ReadAloud{log: log}
}

// Advance moves the marker to sentence within the section under root. The
// previous marker is reversed first. A sentence that cannot be located only
// logs; narration continues without a visible marker. Advance reports
// whether a marker is now shown.
func (r *ReadAloud) Advance(root *html.Node, sentence, sectionID, chapterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handle.Remove()
	r.handle = nil

	rng := anchor.FindText(root, sentence, sectionID, chapterID)
	if rng == nil {
		r.log.Info("read-aloud sentence not found in section", "section", sectionID)
		return false
	}

	h := marker.Materialize(rng, root, marker.Options{Class: ReadAloudClass}, r.log)
	if h == nil {
		return false
	}
	r.handle = h
	return true
}

// Stop reverses the current marker, if any. Called on narration stop and on
// section change. Idempotent.
func (r *ReadAloud) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle.Remove()
	r.handle = nil
}
