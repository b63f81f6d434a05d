package vfolder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camelmail/camelstore/search"
	"github.com/camelmail/camelstore/store"
	"github.com/camelmail/camelstore/summary"
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

func openTestSummary(t *testing.T, st *store.Store, folder string) *summary.Summary {
	t.Helper()
	sum, err := summary.Open(context.Background(), st, folder)
	require.NoError(t, err)
	return sum
}

func TestAddFolderRebuildsMembership(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi", Flags: store.FlagSeen}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "2", Subject: "bye"}))

	sum := openTestSummary(t, st, "INBOX")
	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(system-flag "Seen")`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 1)

	folder, uid, ok := v.Resolve(uids[0])
	require.True(t, ok)
	require.Equal(t, "INBOX", folder)
	require.Equal(t, "1", uid)
}

func TestAddFolderDedupesByKey(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	sum := openTestSummary(t, st, "INBOX")
	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-all #t)`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsSkipRebuild))
	require.Len(t, v.snapshotSources(), 1)
}

func TestGetUIDsFailsBeforeFirstRebuild(t *testing.T) {
	st := openTestStore(t, "INBOX")
	v := New(st, "vf1", nil)
	_, err := v.GetUIDs()
	require.Error(t, err)
}

func TestSourceChangeAddedSchedulesRebuild(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	sum := openTestSummary(t, st, "INBOX")

	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-all #t)`, AddFlagsNone))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 0)

	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "new"}))
	sum.Add(summary.MessageInfo{UID: "1", Subject: "new"}, true)
	sum.DrainEvents()

	require.Eventually(t, func() bool {
		uids, err := v.GetUIDs()
		return err == nil && len(uids) == 1
	}, time.Second, time.Millisecond)
}

func TestRemoveFolderDropsMembership(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi"}))
	sum := openTestSummary(t, st, "INBOX")

	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-all #t)`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 1)

	require.NoError(t, v.RemoveFolder(ctx, Source{Folder: sum}, AddFlagsNone))
	uids, err = v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 0)
}

func TestNestedVeeFolder(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi", Flags: store.FlagSeen}))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "2", Subject: "bye"}))
	sum := openTestSummary(t, st, "INBOX")

	inner := New(st, "inner", nil)
	require.NoError(t, inner.SetExpression(ctx, `(match-all #t)`, AddFlagsSkipRebuild))
	require.NoError(t, inner.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))
	innerUIDs, err := inner.GetUIDs()
	require.NoError(t, err)
	require.Len(t, innerUIDs, 2)

	outer := New(st, "outer", nil)
	require.NoError(t, outer.SetExpression(ctx, `(system-flag "Seen")`, AddFlagsSkipRebuild))
	require.NoError(t, outer.AddFolder(ctx, Source{VFolder: inner}, AddFlagsNone))

	outerUIDs, err := outer.GetUIDs()
	require.NoError(t, err)
	require.Len(t, outerUIDs, 1)

	folder, uid, ok := outer.Resolve(outerUIDs[0])
	require.True(t, ok)
	require.Equal(t, "INBOX", folder)
	require.Equal(t, "1", uid)

	require.Equal(t, []string{"INBOX"}, outer.realFolderNames())
}

func TestSetFlagsMirrorsToSource(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi"}))
	sum := openTestSummary(t, st, "INBOX")

	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-all #t)`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 1)

	lookup := func(folder string) (*summary.Summary, bool) {
		if folder == "INBOX" {
			return sum, true
		}
		return nil, false
	}
	require.NoError(t, v.SetFlags(ctx, uids[0], store.FlagSeen, lookup))

	h, err := sum.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, h.Flags().Has(store.FlagSeen))
}

func TestMarkDeletedMirrorsToSource(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "1", Subject: "hi"}))
	sum := openTestSummary(t, st, "INBOX")

	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-all #t)`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)

	lookup := func(folder string) (*summary.Summary, bool) {
		return sum, folder == "INBOX"
	}
	require.NoError(t, v.MarkDeleted(ctx, uids[0], lookup))

	h, err := sum.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, h.Flags().Has(store.FlagDeleted))
}

func TestExpungeIsForbidden(t *testing.T) {
	st := openTestStore(t, "INBOX")
	v := New(st, "vf1", nil)
	err := v.Expunge(context.Background())
	require.Error(t, err)
}

func TestMatchThreadsRebuild(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "INBOX")
	rootID := search.HashMessageID("<root@x>")
	replyID := search.HashMessageID("<reply@x>")
	otherID := search.HashMessageID("<other@x>")
	root := store.MessageRecord{UID: "1", Subject: "root", Part: search.EncodePart(rootID, nil)}
	reply := store.MessageRecord{UID: "2", Subject: "root", Part: search.EncodePart(replyID, []uint64{rootID})}
	other := store.MessageRecord{UID: "3", Subject: "unrelated", Part: search.EncodePart(otherID, nil)}
	require.NoError(t, st.WriteMessage(ctx, "INBOX", root))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", reply))
	require.NoError(t, st.WriteMessage(ctx, "INBOX", other))

	sum := openTestSummary(t, st, "INBOX")
	v := New(st, "vf1", nil)
	require.NoError(t, v.SetExpression(ctx, `(match-threads "all" (header-contains "subject" "root"))`, AddFlagsSkipRebuild))
	require.NoError(t, v.AddFolder(ctx, Source{Folder: sum}, AddFlagsNone))

	uids, err := v.GetUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 2)

	var gotFolder string
	for _, vuid := range uids {
		folder, _, ok := v.Resolve(vuid)
		require.True(t, ok)
		gotFolder = folder
	}
	require.Equal(t, "INBOX", gotFolder)
}
