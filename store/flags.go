package store

import (
	"sort"
	"strconv"
	"strings"
)

// Flags is the 32-bit message flag bitset of §3.2. System bits occupy the
// low 16 bits (mirroring evolution-data-server's CAMEL_MESSAGE_* layout,
// see SPEC_FULL.md §3.7). User-defined flags are not bits of this type:
// they are kept by name in a message record's Labels, which is what the
// search package's user-flag operator consults.
type Flags uint32

const (
	FlagSeen Flags = 1 << iota
	FlagDeleted
	FlagAnswered
	FlagFlagged
	FlagDraft
	FlagAttachments
	FlagJunk
	FlagJunkLearn
	FlagSecure
	FlagNotJunk
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Set returns f with bits in add set.
func (f Flags) Set(add Flags) Flags { return f | add }

// Clear returns f with bits in remove cleared.
func (f Flags) Clear(remove Flags) Flags { return f &^ remove }

// UserTag is one name/value pair of a message's user-defined tags (§3.2).
type UserTag struct {
	Name  string
	Value string
}

// EncodeUserTags serializes tags as the spec's "count-prefixed name/value
// pairs" wire form: "<n>\n<name1>\n<value1>\n...". Order is preserved.
func EncodeUserTags(tags []UserTag) string {
	if len(tags) == 0 {
		return "0"
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(tags)))
	for _, t := range tags {
		b.WriteByte('\n')
		b.WriteString(t.Name)
		b.WriteByte('\n')
		b.WriteString(t.Value)
	}
	return b.String()
}

// DecodeUserTags parses the wire form produced by EncodeUserTags.
// Malformed input yields the pairs successfully parsed so far rather than
// an error, consistent with this library's tolerant stance on opaque
// driver-owned strings (§3.2: bdata/cinfo/userheaders are "opaque strings
// reserved for ... driver use").
func DecodeUserTags(s string) []UserTag {
	parts := strings.Split(s, "\n")
	if len(parts) == 0 {
		return nil
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return nil
	}
	tags := make([]UserTag, 0, n)
	for i := 0; i < n; i++ {
		ni := 1 + i*2
		vi := ni + 1
		if vi >= len(parts) {
			break
		}
		tags = append(tags, UserTag{Name: parts[ni], Value: parts[vi]})
	}
	return tags
}

// UserTagValue looks up a tag by case-sensitive name.
func UserTagValue(tags []UserTag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// SortUserTags orders tags by name, used so EncodeUserTags output is
// deterministic across writers that build the slice in varying order.
func SortUserTags(tags []UserTag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
}

// EncodeLabels serializes a label set as the spec's space-separated form.
func EncodeLabels(labels []string) string { return strings.Join(labels, " ") }

// DecodeLabels parses the space-separated label form. Empty input yields
// a nil (not empty non-nil) slice so callers can len()-check cheaply.
func DecodeLabels(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
