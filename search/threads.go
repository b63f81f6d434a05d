package search

import (
	"context"
	"strconv"

	"github.com/camelmail/camelstore/store"
	"github.com/camelmail/camelstore/thread"
)

// threadCandidate is one message gathered for thread-membership expansion,
// carrying enough envelope data to feed thread.Build plus the folder
// identity needed to translate back into a SearchItem.
type threadCandidate struct {
	folderName string
	folderID   int64
	item       thread.Item
}

// expandThreads performs the second pass described by §4.4.4: gather every
// message across the participating folders as thread-building material,
// run the thread forest, and select the subset implied by kind.Mode
// (single/all/replies/replies_parents), honoring kind.NoSubject.
func (s *StoreSearch) expandThreads(ctx context.Context, kind ThreadInfo, matches []SearchItem, folders map[string]FolderOps) ([]SearchItem, error) {
	candidates, err := s.gatherThreadCandidates(ctx, folders)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return matches, nil
	}

	items := make([]thread.Item, len(candidates))
	for i, c := range candidates {
		items[i] = c.item
	}

	flags := thread.Flags(0)
	if !kind.NoSubject {
		flags |= thread.FlagSubject
	}
	root := thread.Build(items, flags)

	nodeForIndex := make(map[int]*thread.Node, len(items))
	ptrToIndex := make(map[*thread.Item]int, len(items))
	for i := range items {
		ptrToIndex[&items[i]] = i
	}

	parentOf := make(map[*thread.Node]*thread.Node)
	var walk func(n, parent *thread.Node)
	walk = func(n, parent *thread.Node) {
		for cur := n; cur != nil; cur = cur.Next {
			parentOf[cur] = parent
			if cur.Item != nil {
				if idx, ok := ptrToIndex[cur.Item]; ok {
					nodeForIndex[idx] = cur
				}
			}
			walk(cur.Child, cur)
		}
	}
	walk(root, nil)

	key := func(folderID int64, uid string) string {
		return strconv.FormatInt(folderID, 10) + ":" + uid
	}
	matchedIdx := make(map[int]bool)
	byKey := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byKey[key(c.folderID, c.item.UID)] = i
	}
	for _, m := range matches {
		if idx, ok := byKey[key(m.FolderID, m.UID)]; ok {
			matchedIdx[idx] = true
		}
	}

	descendants := func(n *thread.Node) []*thread.Node {
		var out []*thread.Node
		var rec func(*thread.Node)
		rec = func(n *thread.Node) {
			if n == nil {
				return
			}
			out = append(out, n)
			for c := n.Child; c != nil; c = c.Next {
				rec(c)
			}
		}
		rec(n)
		return out
	}
	rootOf := func(n *thread.Node) *thread.Node {
		for {
			p, ok := parentOf[n]
			if !ok || p == nil {
				return n
			}
			n = p
		}
	}

	resultIdx := make(map[int]bool)
	for idx := range matchedIdx {
		n, ok := nodeForIndex[idx]
		if !ok {
			resultIdx[idx] = true
			continue
		}
		switch kind.Mode {
		case "all":
			for _, d := range descendants(rootOf(n)) {
				if i, ok := ptrToIndex[d.Item]; ok {
					resultIdx[i] = true
				}
			}
		case "replies":
			for _, d := range descendants(n) {
				if i, ok := ptrToIndex[d.Item]; ok {
					resultIdx[i] = true
				}
			}
		case "replies_parents":
			for _, d := range descendants(n) {
				if i, ok := ptrToIndex[d.Item]; ok {
					resultIdx[i] = true
				}
			}
			for cur := parentOf[n]; cur != nil; cur = parentOf[cur] {
				if i, ok := ptrToIndex[cur.Item]; ok {
					resultIdx[i] = true
				}
			}
		default: // "single": only messages whose whole thread is themselves alone
			whole := descendants(rootOf(n))
			if len(whole) == 1 {
				resultIdx[idx] = true
			}
		}
	}

	originalByKey := make(map[string]SearchItem, len(matches))
	for _, m := range matches {
		originalByKey[key(m.FolderID, m.UID)] = m
	}

	var out []SearchItem
	for idx := range resultIdx {
		c := candidates[idx]
		k := key(c.folderID, c.item.UID)
		if orig, ok := originalByKey[k]; ok {
			out = append(out, orig)
			continue
		}
		out = append(out, SearchItem{FolderName: c.folderName, FolderID: c.folderID, UID: c.item.UID})
	}
	return out, nil
}

// gatherThreadCandidates reads every message in every participating
// folder, reduced to the envelope fields thread.Build needs (§4.4.4:
// subject, message-id, references, dates). This is a full scan: building
// a cross-folder thread forest cannot be narrowed by the original query's
// SQL fragment, since replies living outside the match set must still be
// considered as thread material.
func (s *StoreSearch) gatherThreadCandidates(ctx context.Context, folders map[string]FolderOps) ([]threadCandidate, error) {
	var candidates []threadCandidate
	for name := range folders {
		folderRec, err := s.st.ReadFolder(ctx, name)
		if err != nil {
			return nil, err
		}
		err = s.st.ReadMessages(ctx, name, func(rec store.MessageRecord) error {
			ownID, refIDs := DecodePart(rec.Part)
			candidates = append(candidates, threadCandidate{
				folderName: name,
				folderID:   folderRec.FolderID,
				item: thread.Item{
					UID:        rec.UID,
					Subject:    rec.Subject,
					MessageID:  ownID,
					References: refIDs,
					DSent:      rec.DSent,
					DReceived:  rec.DReceived,
				},
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}
