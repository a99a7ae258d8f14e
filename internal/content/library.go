package content

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Item is a registered document in the library.
type Item struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	AddedAt  time.Time `json:"added_at"`

	// Sections in reading order. Not serialized in listings.
	Sections []Section `json:"-"`
}

// Library is a thread-safe in-memory registry of parsed documents.
// Highlights are durable in the store; documents are re-registered by
// re-uploading, so the registry itself does not persist.
type Library struct {
	mu   sync.Mutex
	docs map[string]*Item
}

func NewLibrary() *Library {
	return &Library{docs: make(map[string]*Item)}
}

func (l *Library) Add(item *Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[item.ID] = item
}

func (l *Library) Get(id string) *Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.docs[id]
}

// Section returns one section of a registered document, or nil.
func (l *Library) Section(docID, sectionID string) *Section {
	l.mu.Lock()
	defer l.mu.Unlock()
	item := l.docs[docID]
	if item == nil {
		return nil
	}
	for i := range item.Sections {
		if item.Sections[i].ID == sectionID {
			return &item.Sections[i]
		}
	}
	return nil
}

// List returns all registered documents sorted by added time, newest first.
func (l *Library) List() []*Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Item, 0, len(l.docs))
	for _, item := range l.docs {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out
}

func (l *Library) Delete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.docs[id]; !ok {
		return false
	}
	delete(l.docs, id)
	return true
}

// HashHex computes the SHA-256 of data as a hex string; its prefix serves
// as the default document id, so re-uploading the same file lands on the
// same id and its stored highlights.
func HashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
