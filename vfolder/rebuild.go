package vfolder

import (
	"context"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/search"
	"github.com/camelmail/camelstore/store"
)

type realCandidate struct {
	folder string
	uid    string
}

// gatherCandidates enumerates the base population a non-thread-aware
// rebuild evaluates the expression against: every message of a directly
// sourced real folder, or only the CURRENT membership of a nested
// VeeFolder source (so nesting narrows, rather than rescanning the
// nested vFolder's own sources in full).
func (v *VeeFolder) gatherCandidates(ctx context.Context, sources []Source) ([]realCandidate, error) {
	var out []realCandidate
	for _, src := range sources {
		if src.VFolder != nil {
			for _, e := range src.VFolder.snapshotEntries() {
				out = append(out, realCandidate{folder: e.folder, uid: e.uid})
			}
			continue
		}
		folderName := src.Folder.Folder()
		err := v.st.ReadMessages(ctx, folderName, func(rec store.MessageRecord) error {
			out = append(out, realCandidate{folder: folderName, uid: rec.UID})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *VeeFolder) snapshotEntries() []vEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]vEntry, 0, len(v.vsummary))
	for _, e := range v.vsummary {
		out = append(out, e)
	}
	return out
}

// RefreshInfoSync blocks until the vFolder's membership reflects its
// current sources and expression (§4.8.1: "refresh_info_sync — blocking
// rebuild against current sources and expression").
func (v *VeeFolder) RefreshInfoSync(ctx context.Context) error {
	v.mu.Lock()
	sources := append([]Source(nil), v.sources...)
	compiled := v.compiled
	v.mu.Unlock()

	if compiled == nil {
		return exterrors.New(exterrors.KindNotInitialized, "vfolder: no expression set")
	}

	stopMetrics := trackRebuild()
	failed := true
	defer func() { stopMetrics(failed) }()

	var matched []realCandidate
	if compiled.Thread.Present {
		items, err := v.rebuildThreadAware(ctx, compiled)
		if err != nil {
			v.log.Error("vfolder rebuild failed", err, "vfolder", v, "mode", "thread")
			return err
		}
		matched = items
	} else {
		items, err := v.rebuildDirect(ctx, sources, compiled)
		if err != nil {
			v.log.Error("vfolder rebuild failed", err, "vfolder", v, "mode", "direct")
			return err
		}
		matched = items
	}

	v.log.DebugMsg("vfolder rebuild", "vfolder", v, "matched", len(matched))
	v.applyNewMembership(matched)
	failed = false
	return nil
}

func (v *VeeFolder) rebuildDirect(ctx context.Context, sources []Source, compiled *search.Compiled) ([]realCandidate, error) {
	candidates, err := v.gatherCandidates(ctx, sources)
	if err != nil {
		return nil, err
	}

	byFolder := make(map[string][]realCandidate)
	for _, c := range candidates {
		byFolder[c.folder] = append(byFolder[c.folder], c)
	}

	storeID := v.st.ID().String()
	var matched []realCandidate
	for folderName, group := range byFolder {
		folderRec, err := v.st.ReadFolder(ctx, folderName)
		if err != nil {
			return nil, err
		}
		evalCtx := &search.EvalContext{
			StoreID:    storeID,
			FolderID:   folderRec.FolderID,
			FolderName: folderName,
		}
		ops := v.folderOpsFor(folderName)
		evalCtx.HeaderSearch = func(name string, words []string) ([]string, error) {
			return ops.SearchHeader(ctx, name, words)
		}
		evalCtx.BodySearch = func(words []string) ([]string, error) {
			return ops.SearchBody(ctx, words)
		}
		if err := compiled.Prepare(evalCtx); err != nil {
			return nil, err
		}
		for _, c := range group {
			rec, err := v.st.ReadMessage(ctx, folderName, c.uid)
			if err != nil {
				return nil, err
			}
			ok, err := compiled.Eval(rec, evalCtx)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, c)
			}
		}
	}
	return matched, nil
}

// rebuildThreadAware implements §4.8.3: thread candidates are fetched
// from every source "recursively expanded to real folders", so this
// rebuilds via a StoreSearch scoped to the full underlying folders
// (not narrowed to a nested vFolder's current membership), matching the
// spec's wording for the match-threads case specifically.
func (v *VeeFolder) rebuildThreadAware(ctx context.Context, compiled *search.Compiled) ([]realCandidate, error) {
	names := v.realFolderNames()
	ss := search.NewStoreSearch(v.st)
	if err := ss.SetExpression(v.expr); err != nil {
		return nil, err
	}
	for _, name := range names {
		ss.AddFolder(name, v.folderOpsFor(name))
	}
	if err := ss.Rebuild(ctx); err != nil {
		return nil, err
	}
	items, err := ss.GetItems()
	if err != nil {
		return nil, err
	}
	out := make([]realCandidate, len(items))
	for i, it := range items {
		out[i] = realCandidate{folder: it.FolderName, uid: it.UID}
	}
	return out, nil
}

// applyNewMembership diffs matched against the current vsummary, updates
// it, and stages a coalesced ChangeInfo for delivery.
func (v *VeeFolder) applyNewMembership(matched []realCandidate) {
	storeID := v.st.ID().String()

	v.mu.Lock()
	newReverse := make(map[string]string, len(matched))
	newSummary := make(map[string]vEntry, len(matched))
	for _, c := range matched {
		vuid := MakeVUID(storeID, c.folder, c.uid)
		newReverse[c.folder+"\x00"+c.uid] = vuid
		newSummary[vuid] = vEntry{folder: c.folder, uid: c.uid}
	}

	v.changeMu.Lock()
	for vuid := range v.vsummary {
		if _, still := newSummary[vuid]; !still {
			v.pending.markRemoved(vuid)
		}
	}
	for vuid := range newSummary {
		if _, existed := v.vsummary[vuid]; !existed {
			v.pending.markAdded(vuid)
		}
	}
	v.changeMu.Unlock()

	v.vsummary = newSummary
	v.reverse = newReverse
	v.ready = true
	v.mu.Unlock()

	v.drainAndEmit()
}
