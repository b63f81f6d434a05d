package summary

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camelmail/camelstore/store"
)

func openTestSummary(t *testing.T) (*store.Store, *Summary) {
	t.Helper()
	st, err := store.Open(":memory:", store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.WriteFolder(context.Background(), store.FolderRecord{Name: "INBOX"})
	require.NoError(t, err)

	sum, err := Open(context.Background(), st, "INBOX")
	require.NoError(t, err)
	return st, sum
}

func TestPeekLoadedMissesWithoutDiskAccess(t *testing.T) {
	_, sum := openTestSummary(t)
	_, ok := sum.PeekLoaded("1")
	require.False(t, ok)
}

func TestAddThenPeekLoaded(t *testing.T) {
	_, sum := openTestSummary(t)
	h := sum.Add(MessageInfo{UID: "1", Subject: "hi"}, false)
	require.Equal(t, "hi", h.Snapshot().Subject)

	h2, ok := sum.PeekLoaded("1")
	require.True(t, ok)
	require.Equal(t, "hi", h2.Snapshot().Subject)
}

func TestAddWithoutForceKeepsExisting(t *testing.T) {
	_, sum := openTestSummary(t)
	sum.Add(MessageInfo{UID: "1", Subject: "first"}, false)
	sum.Add(MessageInfo{UID: "1", Subject: "second"}, false)

	h, _ := sum.PeekLoaded("1")
	require.Equal(t, "first", h.Snapshot().Subject)
}

func TestAddWithForceReplaces(t *testing.T) {
	_, sum := openTestSummary(t)
	sum.Add(MessageInfo{UID: "1", Subject: "first"}, false)
	sum.Add(MessageInfo{UID: "1", Subject: "second"}, true)

	h, _ := sum.PeekLoaded("1")
	require.Equal(t, "second", h.Snapshot().Subject)
}

func TestSaveFlushesDirtyEntriesToStore(t *testing.T) {
	ctx := context.Background()
	st, sum := openTestSummary(t)

	sum.Add(MessageInfo{UID: "1", Subject: "hi"}, false)
	require.NoError(t, sum.Save(ctx))

	rec, err := st.ReadMessage(ctx, "INBOX", "1")
	require.NoError(t, err)
	require.Equal(t, "hi", rec.Subject)
}

func TestGetLoadsFromStoreOnMiss(t *testing.T) {
	ctx := context.Background()
	st, sum := openTestSummary(t)

	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "7", Subject: "from db"}))

	h, err := sum.Get(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "from db", h.Snapshot().Subject)

	// Now cached.
	_, ok := sum.PeekLoaded("7")
	require.True(t, ok)
}

func TestGetInfoFlagsConsultsCacheThenStore(t *testing.T) {
	ctx := context.Background()
	st, sum := openTestSummary(t)

	require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: "5", Flags: store.FlagSeen}))
	flags, ok, err := sum.GetInfoFlags(ctx, "5")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, flags.Has(store.FlagSeen))

	_, ok, err = sum.GetInfoFlags(ctx, "no-such-uid")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveUIDTombstonesAndSaveDeletes(t *testing.T) {
	ctx := context.Background()
	st, sum := openTestSummary(t)

	sum.Add(MessageInfo{UID: "1"}, false)
	require.NoError(t, sum.Save(ctx))

	sum.RemoveUID("1")
	_, ok := sum.PeekLoaded("1")
	require.False(t, ok)

	require.NoError(t, sum.Save(ctx))
	_, err := st.ReadMessage(ctx, "INBOX", "1")
	require.Error(t, err)
}

func TestClearTombstonesEveryCachedEntry(t *testing.T) {
	ctx := context.Background()
	_, sum := openTestSummary(t)

	sum.Add(MessageInfo{UID: "1"}, false)
	sum.Add(MessageInfo{UID: "2"}, false)
	require.NoError(t, sum.Save(ctx))

	sum.Clear()
	require.NoError(t, sum.Save(ctx))

	_, ok := sum.PeekLoaded("1")
	require.False(t, ok)
	n, err := sum.st.CountMessages(ctx, "INBOX", store.CountTotal)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestDrainEventsCoalescesAddThenChange(t *testing.T) {
	_, sum := openTestSummary(t)
	h := sum.Add(MessageInfo{UID: "1"}, false)
	h.SetSize(10)
	h.SetSize(20)

	ci := sum.DrainEvents()
	require.Equal(t, []string{"1"}, ci.Added)
	require.Empty(t, ci.Changed)
	require.Empty(t, ci.Removed)
}

func TestDrainEventsAddThenRemoveCancelsOut(t *testing.T) {
	_, sum := openTestSummary(t)
	sum.Add(MessageInfo{UID: "1"}, false)
	sum.RemoveUID("1")

	ci := sum.DrainEvents()
	require.True(t, ci.Empty())
}

func TestOnChangedListenerReceivesDrainedSignal(t *testing.T) {
	_, sum := openTestSummary(t)
	var got ChangeInfo
	sum.OnChanged(func(ci ChangeInfo) { got = ci })

	sum.Add(MessageInfo{UID: "1"}, false)
	sum.DrainEvents()

	require.Equal(t, []string{"1"}, got.Added)
}

func TestSetFlagsUpdatesCountersIncrementally(t *testing.T) {
	_, sum := openTestSummary(t)
	h := sum.Add(MessageInfo{UID: "1"}, false)
	require.Equal(t, int64(1), sum.Counters().Unread)

	h.SetFlags(store.FlagSeen)
	require.Equal(t, int64(0), sum.Counters().Unread)
}

// TestConcurrentSummaryStress mirrors §8.4 scenario 6: several workers
// repeatedly fetch, mutate, save, unload, and re-fetch overlapping UIDs.
// It asserts the invariant of §8.1 — every read observes a MessageInfo
// whose UID matches the one requested — and that no goroutine deadlocks.
func TestConcurrentSummaryStress(t *testing.T) {
	ctx := context.Background()
	st, sum := openTestSummary(t)

	uids := []string{"100", "101", "102"}
	for _, uid := range uids {
		require.NoError(t, st.WriteMessage(ctx, "INBOX", store.MessageRecord{UID: uid}))
	}

	const workers = 4
	const iterations = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	errCh := make(chan error, workers)

	for w := 0; w < workers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				uid := uids[(worker+i)%len(uids)]

				h, err := sum.Get(ctx, uid)
				if err != nil {
					errCh <- err
					return
				}
				if h.Snapshot().UID != uid {
					errCh <- errMismatch(uid, h.Snapshot().UID)
					return
				}
				h.SetSize(int64(i))
				if err := sum.Save(ctx); err != nil {
					errCh <- err
					return
				}
				sum.RemoveUID(uid)

				h2, err := sum.Get(ctx, uid)
				if err != nil {
					errCh <- err
					return
				}
				if h2.Snapshot().UID != uid {
					errCh <- errMismatch(uid, h2.Snapshot().UID)
					return
				}
			}
		}(w)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

type mismatchError struct{ want, got string }

func (e *mismatchError) Error() string {
	return "uid mismatch: want " + e.want + " got " + e.got
}

func errMismatch(want, got string) error {
	return &mismatchError{want: want, got: got}
}
