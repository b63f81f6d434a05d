package search

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camelmail/camelstore/store"
)

func openTestStore(t *testing.T, folders ...string) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, f := range folders {
		_, err := st.WriteFolder(context.Background(), store.FolderRecord{Name: f})
		require.NoError(t, err)
	}
	return st
}

func TestGetItemsFailsBeforeFirstRebuild(t *testing.T) {
	st := openTestStore(t, "INBOX")
	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(match-all #t)`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))

	_, err := s.GetItems()
	require.Error(t, err)
}

func TestRebuildNarrowsBySystemFlag(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi", Flags: store.FlagSeen}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "2", Subject: "bye"}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(system-flag "Seen")`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	require.NoError(t, s.Rebuild(ctx))

	uids, err := s.GetUIDs("INBOX")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, uids)
}

func TestRebuildAppliesAdditionalColumns(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi"}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(match-all #t)`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	s.SetAdditionalColumns([]string{"subject"})
	require.NoError(t, s.Rebuild(ctx))

	items, err := s.GetItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, []string{"hi"}, items[0].AdditionalValues)
}

func TestRebuildAcrossMultipleFolders(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX", "Archive")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "apple"}))
	require.NoError(t, st.WriteMessage(ctx, "Archive", store.MessageRecord{UID: "9", Subject: "apple pie"}))
	require.NoError(t, st.WriteMessage(ctx, "Archive", store.MessageRecord{UID: "10", Subject: "orange"}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(header-contains "subject" "apple")`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	s.AddFolder("Archive", DefaultFolderOps(st, "Archive"))
	require.NoError(t, s.Rebuild(ctx))

	items, err := s.GetItems()
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestAddingFolderInvalidatesReadiness(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX", "Archive")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "x"}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(match-all #t)`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	require.NoError(t, s.Rebuild(ctx))

	s.AddFolder("Archive", DefaultFolderOps(st, "Archive"))
	_, err := s.GetItems()
	require.Error(t, err)
}

func TestMatchThreadsRepliesExpandsBeyondRawMatches(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")

	rootID := HashMessageID("root@example.org")
	replyID := HashMessageID("reply@example.org")

	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{
		UID: "1", Subject: "hello", Flags: store.FlagFlagged,
		Part: EncodePart(rootID, nil), DSent: 100,
	}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{
		UID: "2", Subject: "Re: hello",
		Part: EncodePart(replyID, []uint64{rootID}), DSent: 200,
	}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(match-threads "replies" (system-flag "Flagged"))`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	require.NoError(t, s.Rebuild(ctx))

	uids, err := s.GetUIDs("INBOX")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, uids)
}

func TestMatchThreadsSingleExcludesThreadedMessages(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")

	rootID := HashMessageID("root2@example.org")
	replyID := HashMessageID("reply2@example.org")
	loneID := HashMessageID("lone@example.org")

	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{
		UID: "1", Subject: "hello", Flags: store.FlagFlagged,
		Part: EncodePart(rootID, nil), DSent: 100,
	}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{
		UID: "2", Subject: "Re: hello",
		Part: EncodePart(replyID, []uint64{rootID}), DSent: 200,
	}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{
		UID: "3", Subject: "lonely", Flags: store.FlagFlagged,
		Part: EncodePart(loneID, nil), DSent: 300,
	}))

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(match-threads "single" (system-flag "Flagged"))`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	require.NoError(t, s.Rebuild(ctx))

	uids, err := s.GetUIDs("INBOX")
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, uids)
}

func TestInMatchIndexUsesRegisteredHandle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1"}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "2"}))

	idx := NewMatchIndex(st.NextMatchIndexHandle())
	folderRec, err := st.ReadFolder(ctx, "INBOX")
	require.NoError(t, err)
	idx.Add(st.ID().String(), folderRec.FolderID, "1")

	s := NewStoreSearch(st)
	require.NoError(t, s.SetExpression(`(in-match-index `+strconv.FormatInt(idx.Handle, 10)+`)`))
	s.AddFolder("INBOX", DefaultFolderOps(st, "INBOX"))
	s.AddMatchIndex(idx)
	require.NoError(t, s.Rebuild(ctx))

	uids, err := s.GetUIDs("INBOX")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, uids)
}
