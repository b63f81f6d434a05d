package search

import "sync"

// matchIndexTriple is one (store, folder, uid) membership entry (§4.4.6).
type matchIndexTriple struct {
	storeID  string
	folderID int64
	uid      string
}

// MatchIndex is an opaque set of (store, folder_id, uid) triples
// consulted by the `(in-match-index P)` operator. The specification
// addresses an index by pointer identity; this implementation
// substitutes a registered integer Handle (see store.Store.
// NextMatchIndexHandle), an Open Question resolution recorded in
// DESIGN.md. Each method takes the index's own mutex, so single calls
// are safe from any goroutine; a search that needs the set to stay fixed
// while it runs still relies on the caller to serialize Add/Remove
// against it.
type MatchIndex struct {
	Handle int64

	mu    sync.Mutex
	items map[matchIndexTriple]bool
}

// NewMatchIndex creates an empty index registered under handle.
func NewMatchIndex(handle int64) *MatchIndex {
	return &MatchIndex{Handle: handle, items: make(map[matchIndexTriple]bool)}
}

// Add inserts one (storeID, folderID, uid) triple.
func (m *MatchIndex) Add(storeID string, folderID int64, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[matchIndexTriple{storeID, folderID, uid}] = true
}

// Remove deletes one triple, if present.
func (m *MatchIndex) Remove(storeID string, folderID int64, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, matchIndexTriple{storeID, folderID, uid})
}

// Contains reports whether the triple is a member.
func (m *MatchIndex) Contains(storeID string, folderID int64, uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[matchIndexTriple{storeID, folderID, uid}]
}

// Len reports the number of triples currently held.
func (m *MatchIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// MoveFrom merges src into m and empties src ("move-from-existing merges
// two indexes, draining the source" — §4.4.6).
func (m *MatchIndex) MoveFrom(src *MatchIndex) {
	if src == m {
		return
	}
	src.mu.Lock()
	items := src.items
	src.items = make(map[matchIndexTriple]bool)
	src.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range items {
		m.items[t] = true
	}
}
