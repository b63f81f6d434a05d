package search

import (
	"context"
	"strconv"
	"sync"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/store"
)

// SearchItem is one row of a StoreSearch result set (§4.5: "get_items —
// returns [SearchItem{folder_id, uid, additional_values[]}]").
type SearchItem struct {
	FolderName       string
	FolderID         int64
	UID              string
	AdditionalValues []string
}

// FolderOps are the folder-provided fallback services §4.6 requires:
// header/body scans callable even when the folder has no fast index
// ("may return ALL if unsupported"). The addressbook lookup is not part
// of FolderOps; it is set on StoreSearch through SetAddressbookContains.
type FolderOps struct {
	SearchHeader func(ctx context.Context, headerName string, words []string) ([]string, error)
	SearchBody   func(ctx context.Context, words []string) ([]string, error)
}

// DefaultFolderOps returns every UID in folder regardless of the query,
// the "may return ALL if unsupported" fallback of §4.6 for a folder with
// no fast header/body index of its own.
func DefaultFolderOps(st *store.Store, folderName string) FolderOps {
	allUIDs := func(ctx context.Context) ([]string, error) {
		var uids []string
		err := st.ReadMessages(ctx, folderName, func(rec store.MessageRecord) error {
			uids = append(uids, rec.UID)
			return nil
		})
		return uids, err
	}
	return FolderOps{
		SearchHeader: func(ctx context.Context, _ string, _ []string) ([]string, error) {
			return allUIDs(ctx)
		},
		SearchBody: func(ctx context.Context, _ []string) ([]string, error) {
			return allUIDs(ctx)
		},
	}
}

// StoreSearch binds one owning store, an expression, a set of
// participating folders, optional additional columns, and any number of
// in-scope match indexes (§4.5).
type StoreSearch struct {
	st *store.Store

	mu                sync.Mutex
	expr              string
	compiled          *Compiled
	folders           map[string]FolderOps
	additionalColumns []string
	matchIndexes      map[int64]*MatchIndex
	addressbook       func(ctx context.Context, bookUID, email string) (bool, error)

	results []SearchItem
	ready   bool
}

// NewStoreSearch creates an unconfigured search bound to st.
func NewStoreSearch(st *store.Store) *StoreSearch {
	return &StoreSearch{
		st:           st,
		folders:      make(map[string]FolderOps),
		matchIndexes: make(map[int64]*MatchIndex),
	}
}

// SetExpression parses and compiles expr, invalidating any prior result
// index (§4.5: "Any change to ... expression ... since the last rebuild
// causes get_items / get_uids to fail with NOT_INITIALIZED").
func (s *StoreSearch) SetExpression(expr string) error {
	node, err := Parse(expr)
	if err != nil {
		return err
	}
	compiled, err := Compile(node)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expr = expr
	s.compiled = compiled
	s.ready = false
	return nil
}

// AddFolder registers a participating folder with its fallback ops.
func (s *StoreSearch) AddFolder(name string, ops FolderOps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[name] = ops
	s.ready = false
}

// RemoveFolder unregisters a folder.
func (s *StoreSearch) RemoveFolder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, name)
	s.ready = false
}

// ListFolders returns the names of currently participating folders.
func (s *StoreSearch) ListFolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.folders))
	for name := range s.folders {
		names = append(names, name)
	}
	return names
}

// SetAdditionalColumns declares extra envelope columns to stringify into
// every result item (§4.4.3).
func (s *StoreSearch) SetAdditionalColumns(cols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.additionalColumns = append([]string(nil), cols...)
	s.ready = false
}

// DupAdditionalColumns returns a copy of the configured additional column
// list.
func (s *StoreSearch) DupAdditionalColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.additionalColumns...)
}

// SetAddressbookContains wires the session-provided
// addressbook_contains_sync callback (§4.6).
func (s *StoreSearch) SetAddressbookContains(fn func(ctx context.Context, bookUID, email string) (bool, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressbook = fn
}

// AddMatchIndex brings idx into scope for `(in-match-index P)`.
func (s *StoreSearch) AddMatchIndex(idx *MatchIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchIndexes[idx.Handle] = idx
}

// ListMatchIndexes returns the handles currently in scope.
func (s *StoreSearch) ListMatchIndexes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]int64, 0, len(s.matchIndexes))
	for h := range s.matchIndexes {
		handles = append(handles, h)
	}
	return handles
}

// GetMatchThreadsKind inspects the compiled expression for a
// `match-threads` operator and returns its mode and subject-linkage flag
// (§4.5: "get_match_threads_kind").
func (s *StoreSearch) GetMatchThreadsKind() (mode string, noSubject, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled == nil {
		return "", false, false
	}
	return s.compiled.Thread.Mode, s.compiled.Thread.NoSubject, s.compiled.Thread.Present
}

func additionalValue(rec store.MessageRecord, col string) string {
	switch col {
	case "subject":
		return rec.Subject
	case "from":
		return rec.From
	case "to":
		return rec.To
	case "cc":
		return rec.Cc
	case "mlist":
		return rec.MList
	case "dsent":
		return strconv.FormatInt(rec.DSent, 10)
	case "dreceived":
		return strconv.FormatInt(rec.DReceived, 10)
	case "size":
		return strconv.FormatInt(rec.Size, 10)
	case "flags":
		return strconv.FormatInt(int64(rec.Flags), 10)
	default:
		return ""
	}
}

// Rebuild compiles and executes the query, storing a fresh result index
// (§4.5). Any prior result is replaced only on success.
func (s *StoreSearch) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	compiled := s.compiled
	folders := make(map[string]FolderOps, len(s.folders))
	for k, v := range s.folders {
		folders[k] = v
	}
	cols := append([]string(nil), s.additionalColumns...)
	matchIndexes := make(map[int64]*MatchIndex, len(s.matchIndexes))
	for h, idx := range s.matchIndexes {
		matchIndexes[h] = idx
	}
	addressbook := s.addressbook
	s.mu.Unlock()

	if compiled == nil {
		return exterrors.New(exterrors.KindNotInitialized, "search: no expression set")
	}
	storeID := s.st.ID().String()

	var rawMatches []SearchItem
	for name, ops := range folders {
		folderRec, err := s.st.ReadFolder(ctx, name)
		if err != nil {
			return err
		}
		evalCtx := &EvalContext{
			StoreID:             storeID,
			FolderID:            folderRec.FolderID,
			FolderName:          name,
			MatchIndexes:        matchIndexes,
			AddressbookContains: addressbookAdapter(ctx, addressbook),
			HeaderSearch: func(headerName string, words []string) ([]string, error) {
				if ops.SearchHeader == nil {
					return nil, nil
				}
				return ops.SearchHeader(ctx, headerName, words)
			},
			BodySearch: func(words []string) ([]string, error) {
				if ops.SearchBody == nil {
					return nil, nil
				}
				return ops.SearchBody(ctx, words)
			},
		}
		if err := compiled.Prepare(evalCtx); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return exterrors.Wrap(exterrors.KindCancelled, err, "search: rebuild cancelled")
		}

		var cbErr error
		err = s.st.QueryMessages(ctx, name, compiled.SQL, compiled.Args, func(rec store.MessageRecord) error {
			ok, err := compiled.Eval(rec, evalCtx)
			if err != nil {
				cbErr = err
				return err
			}
			if !ok {
				return nil
			}
			item := SearchItem{FolderName: name, FolderID: folderRec.FolderID, UID: rec.UID}
			for _, col := range cols {
				item.AdditionalValues = append(item.AdditionalValues, additionalValue(rec, col))
			}
			rawMatches = append(rawMatches, item)
			return nil
		})
		if cbErr != nil {
			return cbErr
		}
		if err != nil {
			return err
		}
	}

	results := rawMatches
	if compiled.Thread.Present {
		expanded, err := s.expandThreads(ctx, compiled.Thread, rawMatches, folders)
		if err != nil {
			return err
		}
		results = expanded
	}

	s.mu.Lock()
	s.results = results
	s.ready = true
	s.mu.Unlock()
	return nil
}

func addressbookAdapter(ctx context.Context, fn func(context.Context, string, string) (bool, error)) func(string, string) (bool, error) {
	if fn == nil {
		return nil
	}
	return func(bookUID, email string) (bool, error) { return fn(ctx, bookUID, email) }
}

// GetItems returns the current result set, or NOT_INITIALIZED if no
// successful rebuild has happened since the last configuration change.
func (s *StoreSearch) GetItems() ([]SearchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, exterrors.New(exterrors.KindNotInitialized, "search: rebuild required")
	}
	return append([]SearchItem(nil), s.results...), nil
}

// GetUIDs returns the UIDs of the result set belonging to one folder.
func (s *StoreSearch) GetUIDs(folderName string) ([]string, error) {
	items, err := s.GetItems()
	if err != nil {
		return nil, err
	}
	var uids []string
	for _, it := range items {
		if it.FolderName == folderName {
			uids = append(uids, it.UID)
		}
	}
	return uids, nil
}
