package vcard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicAttributes(t *testing.T) {
	text := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:John Doe\r\nN:Doe;John;;;\r\nEND:VCARD\r\n"
	v := Parse(text)
	require.True(t, v.IsParsed())

	fn, ok := v.Attribute("FN")
	require.True(t, ok)
	require.Equal(t, "John Doe", fn.Value())

	n, ok := v.Attribute("N")
	require.True(t, ok)
	require.Equal(t, []string{"Doe", "John", "", "", ""}, n.Values)
}

func TestLazyParseUIDFastPath(t *testing.T) {
	v := Construct("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane\r\nEND:VCARD\r\n", "preset-uid-1")
	require.False(t, v.IsParsed())

	uid, ok := v.Attribute("UID")
	require.True(t, ok)
	require.Equal(t, "preset-uid-1", uid.Value())
	require.False(t, v.IsParsed(), "UID fast path must not force a full parse")

	fn, ok := v.Attribute("FN")
	require.True(t, ok)
	require.Equal(t, "Jane", fn.Value())
	require.True(t, v.IsParsed())
}

func TestFoldedLineUnfolding(t *testing.T) {
	text := "BEGIN:VCARD\r\nVERSION:3.0\r\nNOTE:this is a long\r\n  note that was folded\r\nEND:VCARD\r\n"
	v := Parse(text)
	note, ok := v.Attribute("NOTE")
	require.True(t, ok)
	require.Equal(t, "this is a long note that was folded", note.Value())
}

func TestCategoriesSplitsOnComma(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nCATEGORIES:Work,Friends,VIP\r\nEND:VCARD\r\n")
	cat, ok := v.Attribute("CATEGORIES")
	require.True(t, ok)
	require.Equal(t, []string{"Work", "Friends", "VIP"}, cat.Values)
}

func TestSingleValueTypedNeverSplitsOnSemicolon(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nTZ:-05;00\r\nEND:VCARD\r\n")
	tz, ok := v.Attribute("TZ")
	require.True(t, ok)
	require.Equal(t, []string{"-05;00"}, tz.Values)
}

func TestBackslashEscapes(t *testing.T) {
	v := Parse(`BEGIN:VCARD` + "\r\n" + `VERSION:3.0` + "\r\n" + `NOTE:line one\nline two\; semi\, comma` + "\r\n" + `END:VCARD` + "\r\n")
	note, _ := v.Attribute("NOTE")
	require.Equal(t, "line one\nline two; semi, comma", note.Value())
}

func TestMalformedInputNeverFailsStructurally(t *testing.T) {
	v := Parse("this is not a vcard at all\r\njust garbage\r\n")
	require.NotNil(t, v)
	require.True(t, v.IsParsed())
}

func TestVersionCacheInvalidatesOnAddAndRemove(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:A\r\nEND:VCARD\r\n")
	require.Equal(t, Version30, v.Version())

	v.RemoveAttribute("VERSION")
	require.Equal(t, VersionUnknown, v.Version())
	v.AddAttribute(Attribute{Name: "VERSION", Values: []string{"4.0"}})
	require.Equal(t, Version40, v.Version(), "cache must refresh after VERSION add, not just remove")
}

func TestConvert30To40ImppRename(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\nX-AIM:jd42\r\nEND:VCARD\r\n")
	v40 := Convert(v, Version40)
	require.Equal(t, Version40, v40.Version())

	impp, ok := v40.Attribute("IMPP")
	require.True(t, ok)
	require.Equal(t, "aim:jd42", impp.Value())

	_, hasXAIM := v40.Attribute("X-AIM")
	require.False(t, hasXAIM)
}

func TestConvertRoundTripScenario5(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\nX-AIM:jd42\r\nEND:VCARD\r\n")
	v40 := Convert(v, Version40)
	back := Convert(v40, Version30)

	xaim, ok := back.Attribute("X-AIM")
	require.True(t, ok)
	require.Equal(t, "jd42", xaim.Value())
	require.Equal(t, Version30, back.Version())
}

func TestConvertGroupKindRoundTrip(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Mailing List\r\nX-EVOLUTION-LIST:TRUE\r\nEND:VCARD\r\n")
	v40 := Convert(v, Version40)
	kind, ok := v40.Attribute("KIND")
	require.True(t, ok)
	require.Equal(t, "group", kind.Value())

	back := Convert(v40, Version30)
	list, ok := back.Attribute("X-EVOLUTION-LIST")
	require.True(t, ok)
	require.Equal(t, "TRUE", list.Value())
}

func TestConvertSameVersionClones(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane\r\nEND:VCARD\r\n")
	clone := Convert(v, Version30)
	require.Equal(t, v.Attributes, clone.Attributes)
}

func TestSerializeRoundTripPreservesSemantics(t *testing.T) {
	text := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\nNOTE:hello\\, world\r\nEND:VCARD\r\n"
	v := Parse(text)
	out := Serialize(v, Version30)

	reparsed := Parse(out)
	fn, ok := reparsed.Attribute("FN")
	require.True(t, ok)
	require.Equal(t, "Jane Doe", fn.Value())

	note, ok := reparsed.Attribute("NOTE")
	require.True(t, ok)
	require.Equal(t, "hello, world", note.Value())

	require.True(t, strings.HasPrefix(out, "BEGIN:VCARD\r\n"))
	require.True(t, strings.HasSuffix(out, "END:VCARD"))
}

func TestSerializeFoldsLongLines(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane\r\nEND:VCARD\r\n")
	v.AddAttribute(Attribute{Name: "NOTE", Values: []string{strings.Repeat("x", 200)}})
	out := Serialize(v, Version30)

	for _, line := range strings.Split(strings.TrimSuffix(out, "END:VCARD"), "\r\n") {
		line = strings.TrimPrefix(line, " ")
		require.LessOrEqual(t, len(line), 75)
	}
}

func TestSerializeCategoriesUsesComma(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:3.0\r\nCATEGORIES:Work,Friends\r\nEND:VCARD\r\n")
	out := Serialize(v, Version30)
	require.Contains(t, out, "CATEGORIES:Work,Friends")
}

func TestSerializeRewritesDatesFor40(t *testing.T) {
	v := Parse("BEGIN:VCARD\r\nVERSION:4.0\r\nBDAY:1990-05-12\r\nEND:VCARD\r\n")
	out := Serialize(v, Version40)
	require.Contains(t, out, "BDAY:19900512")
}
