package vfolder

import (
	"context"

	"github.com/camelmail/camelstore/search"
	"github.com/camelmail/camelstore/summary"
)

// OnChanged registers fn to receive every coalesced ChangeInfo this
// vFolder emits (including when it is itself nested as a source of an
// outer VeeFolder).
func (v *VeeFolder) OnChanged(fn func(ChangeInfo)) {
	v.listenersMu.Lock()
	defer v.listenersMu.Unlock()
	v.listeners = append(v.listeners, fn)
}

func (v *VeeFolder) drainAndEmit() {
	v.changeMu.Lock()
	ci := v.pending.drain()
	v.changeMu.Unlock()
	if ci.Empty() {
		return
	}
	v.listenersMu.Lock()
	listeners := append([]func(ChangeInfo){}, v.listeners...)
	v.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ci)
	}
}

// ScheduleRebuild schedules a background rebuild, coalescing with any
// rebuild already in flight (§4.8.2: "A pending rebuild is a single
// coalesced task per vFolder; scheduling during one already in flight
// sets a re-run bit").
func (v *VeeFolder) ScheduleRebuild(ctx context.Context) {
	v.rebuildMu.Lock()
	v.rerunPending = true
	v.rebuildMu.Unlock()

	go func() {
		v.sf.Do("rebuild", func() (interface{}, error) {
			for {
				v.rebuildMu.Lock()
				if !v.rerunPending {
					v.rebuildMu.Unlock()
					return nil, nil
				}
				v.rerunPending = false
				v.rebuildMu.Unlock()
				if err := v.RefreshInfoSync(ctx); err != nil {
					return nil, err
				}
			}
		})
	}()
}

// handleFolderSourceChange implements §4.8.2 for a directly sourced real
// folder: removed source uids drop their vFolder entry; changed source
// uids are re-evaluated singly; added uids schedule a rebuild when
// auto_update is on.
func (v *VeeFolder) handleFolderSourceChange(ctx context.Context, key string, src *summary.Summary, ci summary.ChangeInfo) {
	if !v.sourceActive(key) {
		return
	}
	folderName := src.Folder()

	for _, uid := range ci.Removed {
		v.dropEntry(folderName, uid)
	}

	v.mu.Lock()
	compiled := v.compiled
	autoUpdate := v.autoUpdate
	v.mu.Unlock()

	if compiled != nil {
		for _, uid := range ci.Changed {
			if !autoUpdate && !compiled.Thread.Present {
				continue // mirrored in place; membership recomputed only on refresh_info_sync
			}
			v.reevaluateSingle(ctx, compiled, folderName, uid)
		}
	}

	if len(ci.Added) > 0 && autoUpdate {
		v.ScheduleRebuild(ctx)
	}
}

// handleVFolderSourceChange implements §4.8.2's nested-propagation rule
// for a VeeFolder source. The inner vFolder's vUIDs are not translated
// one by one: our vsummary already stores the fully resolved real
// (folder, uid) for VFolder sources, via gatherCandidates'
// snapshotEntries, so any non-empty change in the inner vFolder schedules
// a rebuild (when auto_update is on) rather than a single-item
// re-evaluation.
func (v *VeeFolder) handleVFolderSourceChange(ctx context.Context, key string, src *VeeFolder, ci ChangeInfo) {
	if !v.sourceActive(key) {
		return
	}
	v.mu.Lock()
	autoUpdate := v.autoUpdate
	v.mu.Unlock()
	if !ci.Empty() && autoUpdate {
		v.ScheduleRebuild(ctx)
	}
}

// reevaluateSingle re-runs the compiled expression against exactly one
// source message and adds/updates/removes its vFolder entry accordingly
// (§4.8.2's per-message "Changed" handling).
func (v *VeeFolder) reevaluateSingle(ctx context.Context, compiled *search.Compiled, folderName, uid string) {
	rec, err := v.st.ReadMessage(ctx, folderName, uid)
	if err != nil {
		v.dropEntry(folderName, uid)
		return
	}
	folderRec, err := v.st.ReadFolder(ctx, folderName)
	if err != nil {
		return
	}
	ops := v.folderOpsFor(folderName)
	evalCtx := &search.EvalContext{
		StoreID:    v.st.ID().String(),
		FolderID:   folderRec.FolderID,
		FolderName: folderName,
		HeaderSearch: func(name string, words []string) ([]string, error) {
			return ops.SearchHeader(ctx, name, words)
		},
		BodySearch: func(words []string) ([]string, error) {
			return ops.SearchBody(ctx, words)
		},
	}
	if err := compiled.Prepare(evalCtx); err != nil {
		return
	}
	ok, err := compiled.Eval(rec, evalCtx)
	if err != nil {
		return
	}

	key := folderName + "\x00" + uid
	v.mu.Lock()
	vuid, present := v.reverse[key]
	v.mu.Unlock()

	switch {
	case ok && present:
		v.changeMu.Lock()
		v.pending.markChanged(vuid)
		v.changeMu.Unlock()
		v.drainAndEmit()
	case ok && !present:
		vuid = MakeVUID(v.st.ID().String(), folderName, uid)
		v.mu.Lock()
		v.vsummary[vuid] = vEntry{folder: folderName, uid: uid}
		v.reverse[key] = vuid
		v.mu.Unlock()
		v.changeMu.Lock()
		v.pending.markAdded(vuid)
		v.changeMu.Unlock()
		v.drainAndEmit()
	case !ok && present:
		v.dropEntry(folderName, uid)
	}
}

func (v *VeeFolder) dropEntry(folderName, uid string) {
	key := folderName + "\x00" + uid
	v.mu.Lock()
	vuid, present := v.reverse[key]
	if present {
		delete(v.reverse, key)
		delete(v.vsummary, vuid)
	}
	v.mu.Unlock()
	if !present {
		return
	}
	v.changeMu.Lock()
	v.pending.markRemoved(vuid)
	v.changeMu.Unlock()
	v.drainAndEmit()
}
