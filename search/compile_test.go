package search

import (
	"testing"

	"github.com/camelmail/camelstore/store"
)

func mustParseCompile(t *testing.T, expr string) *Compiled {
	t.Helper()
	n, err := Parse(expr)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	c, err := Compile(n)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return c
}

func evalOne(t *testing.T, c *Compiled, rec store.MessageRecord) bool {
	t.Helper()
	ctx := &EvalContext{}
	if err := c.Prepare(ctx); err != nil {
		t.Fatalf("prepare error: %v", err)
	}
	ok, err := c.Eval(rec, ctx)
	if err != nil {
		t.Fatalf("eval error: %v", err)
	}
	return ok
}

func TestHeaderContainsMatchesCaseInsensitively(t *testing.T) {
	c := mustParseCompile(t, `(header-contains "subject" "HELLO")`)
	if !evalOne(t, c, store.MessageRecord{Subject: "say hello world"}) {
		t.Fatalf("expected match")
	}
	if evalOne(t, c, store.MessageRecord{Subject: "goodbye"}) {
		t.Fatalf("expected no match")
	}
	if c.SQL == "1" {
		t.Fatalf("expected a real SQL narrowing fragment for header-contains")
	}
}

func TestHeaderMatchesIsExact(t *testing.T) {
	c := mustParseCompile(t, `(header-matches "subject" "hello")`)
	if !evalOne(t, c, store.MessageRecord{Subject: "  Hello  "}) {
		t.Fatalf("expected trimmed case-insensitive exact match")
	}
	if evalOne(t, c, store.MessageRecord{Subject: "hello world"}) {
		t.Fatalf("expected no match for a superset string")
	}
}

func TestSystemFlagCompilesSQLAndResidual(t *testing.T) {
	c := mustParseCompile(t, `(system-flag "Seen")`)
	if c.SQL == "1" {
		t.Fatalf("expected system-flag to narrow via SQL")
	}
	if !evalOne(t, c, store.MessageRecord{Flags: store.FlagSeen}) {
		t.Fatalf("expected seen message to match")
	}
	if evalOne(t, c, store.MessageRecord{}) {
		t.Fatalf("expected unset flag not to match")
	}
}

func TestNotNegatesResidualAndSQL(t *testing.T) {
	c := mustParseCompile(t, `(not (system-flag "Seen"))`)
	if c.SQL != "(NOT ((flags & ?) = ?))" {
		t.Fatalf("expected negated SQL narrowing, got %q", c.SQL)
	}
	if evalOne(t, c, store.MessageRecord{Flags: store.FlagSeen}) {
		t.Fatalf("expected negation to exclude seen message")
	}
	if !evalOne(t, c, store.MessageRecord{}) {
		t.Fatalf("expected negation to include unseen message")
	}
}

func TestAndNarrowsUsingOnlyConstrainedChildren(t *testing.T) {
	c := mustParseCompile(t, `(and (system-flag "Seen") (header-soundex "subject" "Robert"))`)
	if c.SQL == "1" {
		t.Fatalf("expected AND to narrow via the SQL-expressible system-flag child")
	}
	if !evalOne(t, c, store.MessageRecord{Flags: store.FlagSeen, Subject: "Rupert"}) {
		t.Fatalf("expected both residual predicates to hold")
	}
	if evalOne(t, c, store.MessageRecord{Flags: 0, Subject: "Rupert"}) {
		t.Fatalf("expected AND to fail when one child fails")
	}
}

func TestOrFallsBackToUnconstrainedWhenAnyChildIsResidualOnly(t *testing.T) {
	c := mustParseCompile(t, `(or (system-flag "Seen") (header-soundex "subject" "Robert"))`)
	if c.SQL != "1" {
		t.Fatalf("expected OR to fall back to the unconstrained sentinel, got %q", c.SQL)
	}
	if !evalOne(t, c, store.MessageRecord{Subject: "Rupert"}) {
		t.Fatalf("expected residual-only branch to still be evaluated")
	}
}

func TestOrNarrowsWhenEveryChildIsSQLExpressible(t *testing.T) {
	c := mustParseCompile(t, `(or (system-flag "Seen") (system-flag "Flagged"))`)
	if c.SQL == "1" {
		t.Fatalf("expected OR of two SQL-expressible children to narrow")
	}
}

func TestComparisonOverSize(t *testing.T) {
	c := mustParseCompile(t, `(> (get-size) 10)`)
	if !evalOne(t, c, store.MessageRecord{Size: 20 * 1024}) {
		t.Fatalf("expected larger message to match")
	}
	if evalOne(t, c, store.MessageRecord{Size: 1024}) {
		t.Fatalf("expected smaller message not to match")
	}
}

func TestMessageIDPredicateMatchesOwnAndReferences(t *testing.T) {
	c := mustParseCompile(t, `(message-id "match@example.org")`)
	part := EncodePart(HashMessageID("other@example.org"), []uint64{HashMessageID("match@example.org")})
	if !evalOne(t, c, store.MessageRecord{Part: part}) {
		t.Fatalf("expected match against a reference hash")
	}
}

func TestUnknownOperatorFailsToCompile(t *testing.T) {
	n, err := Parse(`(not-a-real-operator "x")`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Compile(n); err == nil {
		t.Fatalf("expected compile error for unknown operator")
	}
}

func TestFolderHeaderScanIsMemoizedPerPrepare(t *testing.T) {
	calls := 0
	c := mustParseCompile(t, `(header-contains "x-custom" "word")`)
	ctx := &EvalContext{
		HeaderSearch: func(name string, words []string) ([]string, error) {
			calls++
			return []string{"1"}, nil
		},
	}
	if err := c.Prepare(ctx); err != nil {
		t.Fatalf("prepare error: %v", err)
	}
	for _, uid := range []string{"1", "2", "3"} {
		if _, err := c.Eval(store.MessageRecord{UID: uid}, ctx); err != nil {
			t.Fatalf("eval error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the folder header scan to run exactly once, ran %d times", calls)
	}
}

func TestMatchThreadsRecordsThreadInfo(t *testing.T) {
	c := mustParseCompile(t, `(match-threads "replies" (system-flag "Seen"))`)
	if !c.Thread.Present || c.Thread.Mode != "replies" || c.Thread.NoSubject {
		t.Fatalf("unexpected thread info: %+v", c.Thread)
	}
}

func TestMatchThreadsNoSubjectPrefix(t *testing.T) {
	c := mustParseCompile(t, `(match-threads "no-subject,all" (system-flag "Seen"))`)
	if !c.Thread.Present || c.Thread.Mode != "all" || !c.Thread.NoSubject {
		t.Fatalf("unexpected thread info: %+v", c.Thread)
	}
}

func TestSoundexGroupsSimilarSoundingNames(t *testing.T) {
	if soundex("Robert") != soundex("Rupert") {
		t.Fatalf("expected Robert and Rupert to share a soundex code")
	}
	if soundex("Robert") == soundex("Gonzalez") {
		t.Fatalf("expected unrelated names to differ")
	}
}
