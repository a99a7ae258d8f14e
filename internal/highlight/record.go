// Package highlight orchestrates durable highlights and the ephemeral
// read-aloud marker over section content: capture on selection, optimistic
// persistence, and (re)application of stored records whenever a section is
// rendered.
package highlight

import (
	"context"
	"time"

	"github.com/dmelnik/readmark/internal/anchor"
)

// Record is a persisted highlight: a text range plus identity, color and an
// optional free-text note (Markdown).
type Record struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"document_id"`
	Range      anchor.TextRange `json:"range"`
	Color      string           `json:"color"`
	Note       string           `json:"note,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Store is the persistence boundary for highlight records. Implementations
// live in internal/store (local SQLite and remote HTTP).
type Store interface {
	// List returns the records for one section of a document.
	List(ctx context.Context, documentID, sectionID string) ([]Record, error)

	// ListDocument returns every record of a document across sections.
	ListDocument(ctx context.Context, documentID string) ([]Record, error)

	// Create persists a new record and returns it with its assigned id.
	Create(ctx context.Context, rec Record) (Record, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error

	// UpdateColor changes the color of a record by id.
	UpdateColor(ctx context.Context, id, color string) error
}
