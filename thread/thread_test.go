package thread

import "testing"

func mustChild(t *testing.T, n *Node) *Node {
	t.Helper()
	if n == nil {
		t.Fatalf("expected a node, got nil")
	}
	return n
}

// TestOnlyLeavesPromotesEarliestChild mirrors the teacher fixture
// misc/test-folder-thread.c's only-leaves scenario: four items all
// reference a message-id ("10") that belongs to no item in the set, so
// the synthetic empty container that would otherwise hold them gets
// elided in favor of promoting its chronologically earliest child to
// the root, with the remaining three becoming its flat, non-nested
// children.
func TestOnlyLeavesPromotesEarliestChild(t *testing.T) {
	items := []Item{
		{UID: "2", Subject: "s2", MessageID: 20, References: []uint64{10}, DSent: 17000020, DReceived: 170000200},
		{UID: "3", Subject: "s3", MessageID: 30, References: []uint64{10}, DSent: 17000030, DReceived: 170000300},
		{UID: "4", Subject: "s4", MessageID: 40, References: []uint64{10}, DSent: 17000040, DReceived: 170000400},
		{UID: "5", Subject: "s5", MessageID: 50, References: []uint64{10}, DSent: 17000050, DReceived: 170000400},
	}

	for _, flags := range []Flags{0, FlagSort} {
		root := Build(append([]Item(nil), items...), flags)
		checkOnlyLeavesTree(t, root)
	}

	// Order in the input slice must not matter.
	shuffled := []Item{items[3], items[2], items[1], items[0]}
	for _, flags := range []Flags{0, FlagSort} {
		root := Build(append([]Item(nil), shuffled...), flags)
		checkOnlyLeavesTree(t, root)
	}
}

func checkOnlyLeavesTree(t *testing.T, root *Node) {
	t.Helper()
	root = mustChild(t, root)
	if CountNodes(root) != 4 {
		t.Fatalf("expected 4 nodes, got %d", CountNodes(root))
	}
	if root.Item == nil || root.Item.UID != "2" {
		t.Fatalf("expected root item uid 2, got %+v", root.Item)
	}
	if root.Next != nil {
		t.Fatalf("root must have no siblings")
	}

	n := mustChild(t, root.Child)
	if n.Child != nil {
		t.Fatalf("expected a leaf")
	}
	n = mustChild(t, n.Next)
	if n.Child != nil {
		t.Fatalf("expected a leaf")
	}
	n = mustChild(t, n.Next)
	if n.Child != nil {
		t.Fatalf("expected a leaf")
	}
	if n.Next != nil {
		t.Fatalf("expected exactly 3 children of root")
	}
}

func TestBuildLinksByReferenceChain(t *testing.T) {
	items := []Item{
		{UID: "1", MessageID: 1, DSent: 100},
		{UID: "2", MessageID: 2, References: []uint64{1}, DSent: 200},
		{UID: "3", MessageID: 3, References: []uint64{1, 2}, DSent: 300},
	}
	root := Build(items, 0)
	root = mustChild(t, root)
	if root.Item.UID != "1" {
		t.Fatalf("expected root uid 1, got %s", root.Item.UID)
	}
	child := mustChild(t, root.Child)
	if child.Item.UID != "2" {
		t.Fatalf("expected child uid 2, got %s", child.Item.UID)
	}
	grandchild := mustChild(t, child.Child)
	if grandchild.Item.UID != "3" {
		t.Fatalf("expected grandchild uid 3, got %s", grandchild.Item.UID)
	}
}

func TestBuildIgnoresCyclicReferences(t *testing.T) {
	items := []Item{
		{UID: "1", MessageID: 1, References: []uint64{2}, DSent: 100},
		{UID: "2", MessageID: 2, References: []uint64{1}, DSent: 200},
	}
	root := Build(items, 0)
	// Neither item may become an ancestor of the other; both surface as
	// roots rather than deadlocking or losing a message.
	count := CountNodes(root)
	if count != 2 {
		t.Fatalf("expected both items present exactly once, got %d nodes", count)
	}
}

func TestGroupBySubjectAttachesUnreferencedReplies(t *testing.T) {
	items := []Item{
		{UID: "1", MessageID: 1, Subject: "hello", DSent: 100},
		{UID: "2", MessageID: 2, Subject: "Re: hello", DSent: 200},
		{UID: "3", MessageID: 3, Subject: "Re: Re: hello", DSent: 300},
	}
	root := Build(items, FlagSubject)
	root = mustChild(t, root)
	if root.Item.UID != "1" {
		t.Fatalf("expected earliest item (1) promoted to root, got %s", root.Item.UID)
	}
	if CountNodes(root) != 3 {
		t.Fatalf("expected all 3 items grouped under one subject, got %d", CountNodes(root))
	}
}

func TestNormalizeSubjectStripsReplyAndForwardPrefixes(t *testing.T) {
	cases := map[string]string{
		"Re: hello":          "hello",
		"RE: hello":          "hello",
		"Re[2]: hello":       "hello",
		"Fwd: Re: hello":     "hello",
		"  hello  ":          "hello",
		"hello":              "hello",
		"Re: Fw: Re: hello!": "hello!",
	}
	for in, want := range cases {
		if got := normalizeSubject(in); got != want {
			t.Errorf("normalizeSubject(%q) = %q, want %q", in, got, want)
		}
	}
}
