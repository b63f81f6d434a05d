package search

import "testing"

func TestHashMessageIDIsCaseSensitiveLocalPart(t *testing.T) {
	a := HashMessageID("<Abc@Example.com>")
	b := HashMessageID("<abc@Example.com>")
	if a == b {
		t.Fatalf("expected local-part case to matter, got equal hashes")
	}
}

func TestHashMessageIDIsCaseInsensitiveHostPart(t *testing.T) {
	a := HashMessageID("<abc@Example.com>")
	b := HashMessageID("<abc@example.COM>")
	if a != b {
		t.Fatalf("expected host-part case to be ignored, got %d != %d", a, b)
	}
}

func TestHashMessageIDStripsAngleBrackets(t *testing.T) {
	a := HashMessageID("<id@host>")
	b := HashMessageID("id@host")
	if a != b {
		t.Fatalf("expected angle brackets to be stripped, got %d != %d", a, b)
	}
}

func TestSplitJoinHashRoundTrips(t *testing.T) {
	h := HashMessageID("roundtrip@example.org")
	hi, lo := SplitHash(h)
	if JoinHash(hi, lo) != h {
		t.Fatalf("split/join did not round trip")
	}
}

func TestEncodeDecodePartRoundTrips(t *testing.T) {
	own := HashMessageID("own@example.org")
	refs := []uint64{HashMessageID("r1@example.org"), HashMessageID("r2@example.org")}

	encoded := EncodePart(own, refs)
	gotOwn, gotRefs := DecodePart(encoded)

	if gotOwn != own {
		t.Fatalf("own id mismatch: got %d want %d", gotOwn, own)
	}
	if len(gotRefs) != len(refs) {
		t.Fatalf("ref count mismatch: got %d want %d", len(gotRefs), len(refs))
	}
	for i := range refs {
		if gotRefs[i] != refs[i] {
			t.Fatalf("ref %d mismatch: got %d want %d", i, gotRefs[i], refs[i])
		}
	}
}

func TestDecodePartHandlesTruncatedInput(t *testing.T) {
	ownID, refs := DecodePart("123 456 789")
	if ownID != JoinHash(123, 456) {
		t.Fatalf("unexpected own id from truncated input")
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs from a dangling trailing field, got %v", refs)
	}
}

func TestDecodePartHandlesEmptyInput(t *testing.T) {
	ownID, refs := DecodePart("")
	if ownID != 0 || refs != nil {
		t.Fatalf("expected zero value for empty input, got %d %v", ownID, refs)
	}
}
