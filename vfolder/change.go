package vfolder

import "sort"

// ChangeInfo aggregates added/changed/removed vUID sets for one coalesced
// vFolder change signal, the vUID-space analogue of summary.ChangeInfo
// (§4.8.2).
type ChangeInfo struct {
	Added   []string
	Changed []string
	Removed []string
}

// Empty reports whether the signal carries no vUIDs at all.
func (c ChangeInfo) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

type changeState int

const (
	stateNone changeState = iota
	stateAdded
	stateChanged
	stateRemoved
)

// changeSet is the same coalescing idiom as summary.changeSet, reapplied
// to vUIDs: a vUID added then removed within one batch cancels out, and
// an add followed by a change stays an add from an outside observer's
// perspective.
type changeSet struct {
	vuids map[string]changeState
}

func newChangeSet() *changeSet {
	return &changeSet{vuids: make(map[string]changeState)}
}

func (c *changeSet) markAdded(vuid string) {
	c.vuids[vuid] = stateAdded
}

func (c *changeSet) markChanged(vuid string) {
	if c.vuids[vuid] == stateAdded {
		return
	}
	c.vuids[vuid] = stateChanged
}

func (c *changeSet) markRemoved(vuid string) {
	if c.vuids[vuid] == stateAdded {
		delete(c.vuids, vuid)
		return
	}
	c.vuids[vuid] = stateRemoved
}

func (c *changeSet) drain() ChangeInfo {
	var ci ChangeInfo
	for vuid, st := range c.vuids {
		switch st {
		case stateAdded:
			ci.Added = append(ci.Added, vuid)
		case stateChanged:
			ci.Changed = append(ci.Changed, vuid)
		case stateRemoved:
			ci.Removed = append(ci.Removed, vuid)
		}
	}
	sort.Strings(ci.Added)
	sort.Strings(ci.Changed)
	sort.Strings(ci.Removed)
	for k := range c.vuids {
		delete(c.vuids, k)
	}
	return ci
}
