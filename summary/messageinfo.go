// Package summary implements the per-folder in-memory message-info cache
// of §4.3: load-on-demand from the store database, dirty tracking, and
// coalesced change-signal emission.
package summary

import (
	"sync"

	"github.com/camelmail/camelstore/store"
)

// MessageInfo is a snapshot of one message's summary fields (§3.2). It is
// immutable once returned by Handle.Snapshot — callers that want to
// mutate state go through Handle's setters, which serialize on the
// entry's own lock rather than this struct's fields directly.
type MessageInfo struct {
	UID         string
	Flags       store.Flags
	Subject     string
	From        string
	To          string
	Cc          string
	MList       string
	DSent       int64
	DReceived   int64
	Size        int64
	Part        string
	Labels      []string
	UserTags    []store.UserTag
	CInfo       string
	BData       string
	UserHeaders string
	Preview     string
}

func infoFromRecord(rec store.MessageRecord) MessageInfo {
	return MessageInfo{
		UID:         rec.UID,
		Flags:       rec.Flags,
		Subject:     rec.Subject,
		From:        rec.From,
		To:          rec.To,
		Cc:          rec.Cc,
		MList:       rec.MList,
		DSent:       rec.DSent,
		DReceived:   rec.DReceived,
		Size:        rec.Size,
		Part:        rec.Part,
		Labels:      append([]string(nil), rec.Labels...),
		UserTags:    append([]store.UserTag(nil), rec.UserTags...),
		CInfo:       rec.CInfo,
		BData:       rec.BData,
		UserHeaders: rec.UserHeaders,
		Preview:     rec.Preview,
	}
}

func (m MessageInfo) toRecord() store.MessageRecord {
	return store.MessageRecord{
		UID:         m.UID,
		Flags:       m.Flags,
		Subject:     m.Subject,
		From:        m.From,
		To:          m.To,
		Cc:          m.Cc,
		MList:       m.MList,
		DSent:       m.DSent,
		DReceived:   m.DReceived,
		Size:        m.Size,
		Part:        m.Part,
		Labels:      append([]string(nil), m.Labels...),
		UserTags:    append([]store.UserTag(nil), m.UserTags...),
		CInfo:       m.CInfo,
		BData:       m.BData,
		UserHeaders: m.UserHeaders,
		Preview:     m.Preview,
	}
}

// entry is the cache-resident, mutable home of one MessageInfo. Mutations
// serialize on mu; reads may proceed concurrently through RLock (§5
// "MessageInfo objects are refcounted; mutations serialize on a per-info
// lock; reads may proceed concurrently" — Go's GC retires the refcount,
// the lock discipline is what we keep).
type entry struct {
	mu    sync.RWMutex
	sum   *Summary
	info  MessageInfo
	dirty bool
}

// Handle is a cache entry reference handed to callers of Get/Add/PeekLoaded.
// It is safe to share across goroutines.
type Handle struct {
	e *entry
}

// Snapshot copies the current info under a read lock.
func (h Handle) Snapshot() MessageInfo {
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	return h.e.info
}

// Flags returns the current flags.
func (h Handle) Flags() store.Flags {
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	return h.e.info.Flags
}

// SetFlags replaces the flags wholesale and marks the entry dirty,
// updating the owning Summary's counters and pending ChangeInfo.
func (h Handle) SetFlags(f store.Flags) {
	h.e.mu.Lock()
	old := h.e.info.Flags
	h.e.info.Flags = f
	h.e.dirty = true
	uid := h.e.info.UID
	h.e.mu.Unlock()

	if old != f {
		h.e.sum.noteFlagsChanged(uid, old, f)
	}
	h.e.sum.noteChanged(uid)
}

// SetSize updates the cached size and marks the entry dirty.
func (h Handle) SetSize(n int64) {
	h.e.mu.Lock()
	h.e.info.Size = n
	h.e.dirty = true
	uid := h.e.info.UID
	h.e.mu.Unlock()
	h.e.sum.noteChanged(uid)
}

// SetLabels replaces the label set and marks the entry dirty.
func (h Handle) SetLabels(labels []string) {
	h.e.mu.Lock()
	h.e.info.Labels = append([]string(nil), labels...)
	h.e.dirty = true
	uid := h.e.info.UID
	h.e.mu.Unlock()
	h.e.sum.noteChanged(uid)
}

// SetUserTag sets (or clears, when value is "") one user tag and marks
// the entry dirty.
func (h Handle) SetUserTag(name, value string) {
	h.e.mu.Lock()
	tags := h.e.info.UserTags[:0:0]
	found := false
	for _, t := range h.e.info.UserTags {
		if t.Name == name {
			found = true
			if value != "" {
				tags = append(tags, store.UserTag{Name: name, Value: value})
			}
			continue
		}
		tags = append(tags, t)
	}
	if !found && value != "" {
		tags = append(tags, store.UserTag{Name: name, Value: value})
	}
	h.e.info.UserTags = tags
	h.e.dirty = true
	uid := h.e.info.UID
	h.e.mu.Unlock()
	h.e.sum.noteChanged(uid)
}
