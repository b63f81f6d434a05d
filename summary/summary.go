package summary

import (
	"context"
	"sync"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/store"
)

// Counters mirrors the folder record's incrementally maintained counters
// (§4.3: "saved, unread, deleted, junk, junk_not_deleted, visible").
type Counters struct {
	Saved          int64
	Unread         int64
	Deleted        int64
	Junk           int64
	JunkNotDeleted int64
	Visible        int64
}

// Summary is the soft in-memory uid -> MessageInfo cache for one folder,
// backed by the store database for load-on-demand and persistence (§4.3).
// A folder has at most one Summary.
type Summary struct {
	st     *store.Store
	folder string

	mu       sync.Mutex
	entries  map[string]*entry
	removed  map[string]bool // tombstones: evicted, pending deletion on Save
	pending  *changeSet
	counters Counters

	listenersMu sync.Mutex
	listeners   []func(ChangeInfo)
}

// Open binds a Summary to an existing folder record, reconciling its
// counters from the store database.
func Open(ctx context.Context, st *store.Store, folder string) (*Summary, error) {
	if _, err := st.ReadFolder(ctx, folder); err != nil {
		return nil, err
	}
	s := &Summary{
		st:      st,
		folder:  folder,
		entries: make(map[string]*entry),
		removed: make(map[string]bool),
		pending: newChangeSet(),
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// PeekLoaded returns the cached entry for uid without touching disk.
func (s *Summary) PeekLoaded(uid string) (Handle, bool) {
	s.mu.Lock()
	e, ok := s.entries[uid]
	s.mu.Unlock()
	if !ok {
		return Handle{}, false
	}
	return Handle{e: e}, true
}

// Get returns the cached entry for uid, loading it from the store
// database on a cache miss.
func (s *Summary) Get(ctx context.Context, uid string) (Handle, error) {
	if h, ok := s.PeekLoaded(uid); ok {
		return h, nil
	}
	rec, err := s.st.ReadMessage(ctx, s.folder, uid)
	if err != nil {
		return Handle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[uid]; ok {
		return Handle{e: e}, nil // raced with a concurrent load; keep the winner
	}
	e := &entry{sum: s, info: infoFromRecord(rec)}
	s.entries[uid] = e
	delete(s.removed, uid)
	return Handle{e: e}, nil
}

// Add inserts info into the cache without touching disk and marks it
// dirty. When force is false and uid is already cached, the existing
// entry is returned unchanged.
func (s *Summary) Add(info MessageInfo, force bool) Handle {
	s.mu.Lock()
	e, exists := s.entries[info.UID]
	if exists && !force {
		s.mu.Unlock()
		return Handle{e: e}
	}
	isNew := !exists
	e = &entry{sum: s, info: info, dirty: true}
	s.entries[info.UID] = e
	delete(s.removed, info.UID)
	if isNew {
		s.adjustForEntry(info.Flags, +1)
		s.pending.markAdded(info.UID)
	} else {
		s.pending.markChanged(info.UID)
	}
	s.mu.Unlock()
	return Handle{e: e}
}

// GetInfoFlags looks up uid's flags, consulting the cache first and
// falling back to the store database. ok is false if uid is unknown.
func (s *Summary) GetInfoFlags(ctx context.Context, uid string) (flags store.Flags, ok bool, err error) {
	if h, cached := s.PeekLoaded(uid); cached {
		return h.Flags(), true, nil
	}
	rec, err := s.st.ReadMessage(ctx, s.folder, uid)
	if err != nil {
		if exterrors.Is(err, exterrors.KindNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return rec.Flags, true, nil
}

// RemoveUID evicts uid from the cache and records a tombstone that Save
// turns into a deletion.
func (s *Summary) RemoveUID(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[uid]; ok {
		e.mu.RLock()
		flags := e.info.Flags
		e.mu.RUnlock()
		s.adjustForEntry(flags, -1)
		delete(s.entries, uid)
	}
	s.removed[uid] = true
	s.pending.markRemoved(uid)
}

// Clear evicts every cached entry, tombstoning all of them for deletion
// on the next Save.
func (s *Summary) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid := range s.entries {
		s.removed[uid] = true
		s.pending.markRemoved(uid)
	}
	s.entries = make(map[string]*entry)
	s.counters = Counters{}
}

// Save flushes dirty entries and tombstones to the store database and
// reconciles folder counters, all under a single transaction.
func (s *Summary) Save(ctx context.Context) error {
	s.mu.Lock()
	var dirty []*entry
	for _, e := range s.entries {
		e.mu.RLock()
		if e.dirty {
			dirty = append(dirty, e)
		}
		e.mu.RUnlock()
	}
	var tombstones []string
	for uid := range s.removed {
		tombstones = append(tombstones, uid)
	}
	s.mu.Unlock()

	if len(dirty) == 0 && len(tombstones) == 0 {
		return s.reconcileCounters(ctx)
	}

	adapter := s.st.Adapter()
	if err := adapter.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			adapter.Abort()
		}
	}()

	for _, e := range dirty {
		e.mu.Lock()
		rec := e.info.toRecord()
		e.mu.Unlock()
		if err := s.st.WriteMessage(ctx, s.folder, rec); err != nil {
			return err
		}
		e.mu.Lock()
		e.dirty = false
		e.mu.Unlock()
	}
	if len(tombstones) > 0 {
		if err := s.st.DeleteMessages(ctx, s.folder, tombstones); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for _, uid := range tombstones {
		delete(s.removed, uid)
	}
	s.mu.Unlock()

	if err := s.reconcileCountersTx(ctx); err != nil {
		return err
	}

	if err := adapter.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Load reloads counters from the store database (§4.3: "load — ...
// reloads counters from C2").
func (s *Summary) Load(ctx context.Context) error {
	return s.reconcileCounters(ctx)
}

func (s *Summary) reconcileCounters(ctx context.Context) error {
	return s.reconcileCountersTx(ctx)
}

func (s *Summary) reconcileCountersTx(ctx context.Context) error {
	total, err := s.st.CountMessages(ctx, s.folder, store.CountTotal)
	if err != nil {
		return err
	}
	unread, err := s.st.CountMessages(ctx, s.folder, store.CountUnread)
	if err != nil {
		return err
	}
	deleted, err := s.st.CountMessages(ctx, s.folder, store.CountDeleted)
	if err != nil {
		return err
	}
	junk, err := s.st.CountMessages(ctx, s.folder, store.CountJunk)
	if err != nil {
		return err
	}
	junkNotDeleted, err := s.st.CountMessages(ctx, s.folder, store.CountJunkNotDeleted)
	if err != nil {
		return err
	}
	visible, err := s.st.CountMessages(ctx, s.folder, store.CountNotJunkNotDeleted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.counters = Counters{
		Saved:          total,
		Unread:         unread,
		Deleted:        deleted,
		Junk:           junk,
		JunkNotDeleted: junkNotDeleted,
		Visible:        visible,
	}
	s.mu.Unlock()
	return nil
}

// Counters returns a snapshot of the current incremental counters.
func (s *Summary) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// adjustForEntry folds one whole entry's flags into the counters: sign is
// +1 when flags becomes newly cached (Add), -1 when it is evicted
// (RemoveUID/Clear).
func (s *Summary) adjustForEntry(flags store.Flags, sign int) {
	s.counters.Saved += int64(sign)
	if !flags.Has(store.FlagSeen) {
		s.counters.Unread += int64(sign)
	}
	if flags.Has(store.FlagDeleted) {
		s.counters.Deleted += int64(sign)
	}
	if flags.Has(store.FlagJunk) {
		s.counters.Junk += int64(sign)
	}
}

// adjustForFlagChange updates counters for an in-place flag mutation on
// an already-cached, already-counted entry.
func (s *Summary) adjustForFlagChange(old, next store.Flags) {
	if old.Has(store.FlagSeen) != next.Has(store.FlagSeen) {
		if next.Has(store.FlagSeen) {
			s.counters.Unread--
		} else {
			s.counters.Unread++
		}
	}
	if old.Has(store.FlagDeleted) != next.Has(store.FlagDeleted) {
		if next.Has(store.FlagDeleted) {
			s.counters.Deleted++
		} else {
			s.counters.Deleted--
		}
	}
	if old.Has(store.FlagJunk) != next.Has(store.FlagJunk) {
		if next.Has(store.FlagJunk) {
			s.counters.Junk++
		} else {
			s.counters.Junk--
		}
	}
}

// noteFlagsChanged updates incremental counters for a flag transition on
// an already-cached, already-counted entry.
func (s *Summary) noteFlagsChanged(uid string, old, next store.Flags) {
	s.mu.Lock()
	s.adjustForFlagChange(old, next)
	s.mu.Unlock()
}

// noteChanged marks uid as changed in the pending coalesced signal.
func (s *Summary) noteChanged(uid string) {
	s.mu.Lock()
	s.pending.markChanged(uid)
	s.mu.Unlock()
}

// OnChanged registers a listener invoked by DrainEvents with the
// coalesced ChangeInfo accumulated since the previous drain.
func (s *Summary) OnChanged(fn func(ChangeInfo)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// DrainEvents collapses every mutation observed since the last drain into
// one ChangeInfo, dispatches it to registered listeners, and returns it.
// Per Design Notes §9, in a non-event-loop environment the caller is
// responsible for invoking this explicitly.
func (s *Summary) DrainEvents() ChangeInfo {
	s.mu.Lock()
	ci := s.pending.drain()
	s.mu.Unlock()

	if ci.Empty() {
		return ci
	}

	s.listenersMu.Lock()
	listeners := append([]func(ChangeInfo){}, s.listeners...)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(ci)
	}
	return ci
}

// Folder returns the name of the folder this Summary is bound to.
func (s *Summary) Folder() string { return s.folder }
