package vfolder

import (
	"context"

	"github.com/camelmail/camelstore/framework/exterrors"
	"github.com/camelmail/camelstore/store"
	"github.com/camelmail/camelstore/summary"
)

// GetUIDs returns every vUID currently in the vFolder, or
// KindNotInitialized if no rebuild has succeeded yet.
func (v *VeeFolder) GetUIDs() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ready {
		return nil, exterrors.New(exterrors.KindNotInitialized, "vfolder: rebuild required")
	}
	uids := make([]string, 0, len(v.vsummary))
	for vuid := range v.vsummary {
		uids = append(uids, vuid)
	}
	return uids, nil
}

// Resolve translates a vUID into its real (folder, uid), per the
// indirection of §4.8. ok is false for a vUID this vFolder does not (or
// no longer) carry — callers must never act on a stale vUID (§4.8.4).
func (v *VeeFolder) Resolve(vuid string) (folder, uid string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, present := v.vsummary[vuid]
	return e.folder, e.uid, present
}

// SummaryLookup resolves the Summary owning a real source folder, so flag
// mutation on a vMessage can be mirrored onto its source message info
// through the same Handle-based API the folder's own consumers use,
// rather than writing the store directly.
type SummaryLookup func(folderName string) (*summary.Summary, bool)

// SetFlags mirrors a system-flag mutation on the vMessage named by vuid
// onto its source message info (§4.8.1: "Flag mutation on a vMessageInfo
// is mirrored to the source message info").
func (v *VeeFolder) SetFlags(ctx context.Context, vuid string, flags store.Flags, lookup SummaryLookup) error {
	folder, uid, ok := v.Resolve(vuid)
	if !ok {
		return exterrors.New(exterrors.KindNotFound, "vfolder: unknown vuid %q", vuid)
	}
	src, ok := lookup(folder)
	if !ok {
		return exterrors.New(exterrors.KindInvalid, "vfolder: no summary bound for source folder %q", folder)
	}
	h, err := src.Get(ctx, uid)
	if err != nil {
		return err
	}
	h.SetFlags(flags)
	return nil
}

// MarkDeleted sets the DELETED system flag on the source message behind
// vuid (§4.8.4: "Marking a vMessage DELETED marks the source message
// DELETED").
func (v *VeeFolder) MarkDeleted(ctx context.Context, vuid string, lookup SummaryLookup) error {
	folder, uid, ok := v.Resolve(vuid)
	if !ok {
		return exterrors.New(exterrors.KindNotFound, "vfolder: unknown vuid %q", vuid)
	}
	src, ok := lookup(folder)
	if !ok {
		return exterrors.New(exterrors.KindInvalid, "vfolder: no summary bound for source folder %q", folder)
	}
	h, err := src.Get(ctx, uid)
	if err != nil {
		return err
	}
	h.SetFlags(h.Flags() | store.FlagDeleted)
	return nil
}

// Expunge is forbidden on a VeeFolder (§4.8.4, §8.3): callers must
// expunge source folders directly.
func (v *VeeFolder) Expunge(ctx context.Context) error {
	return exterrors.New(exterrors.KindInvalid, "vfolder: expunge is forbidden; expunge source folders instead")
}
