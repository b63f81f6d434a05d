package vcard

import (
	"strings"
)

// Serialize renders v as wire text for version ver (§4.9.2, §6.3):
// CRLF line endings, 75-column folding with one leading space on
// continuation lines, no trailing CRLF after END:VCARD.
func Serialize(v *VCard, ver CardVersion) string {
	v.ensureParsed()
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\n")
	writeFolded(&b, "VERSION:"+ver.String())

	for _, a := range v.Attributes {
		if a.NamedFold("VERSION") {
			continue
		}
		writeFolded(&b, serializeAttributeLine(a, ver))
	}
	b.WriteString("END:VCARD")
	return b.String()
}

func serializeAttributeLine(a Attribute, ver CardVersion) string {
	var head strings.Builder
	if a.Group != "" {
		head.WriteString(a.Group)
		head.WriteByte('.')
	}
	head.WriteString(a.Name)

	for _, p := range a.Params {
		head.WriteByte(';')
		writeParam(&head, p, ver)
	}
	head.WriteByte(':')

	sep := byte(';')
	if isCategories(a.Name) {
		sep = ','
	}
	values := make([]string, len(a.Values))
	for i, val := range a.Values {
		values[i] = rewriteValueForVersion(a.Name, val, ver)
	}
	for i, val := range values {
		if i > 0 {
			head.WriteByte(sep)
		}
		head.WriteString(escapeValue(val))
	}
	return head.String()
}

func writeParam(b *strings.Builder, p Param, ver CardVersion) {
	if ver == Version21 {
		// 2.1 has no NAME=VALUE syntax for TYPE; bare values only.
		for i, v := range p.Values {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(v)
		}
		return
	}
	b.WriteString(p.Name)
	b.WriteByte('=')
	b.WriteString(strings.Join(p.Values, ","))
}

var dateRewriteAttrs = map[string]bool{
	"BDAY": true, "ANNIVERSARY": true, "DEATHDATE": true,
}

// rewriteValueForVersion applies §4.9.2's 4.0-only value rewrites:
// YYYY-MM-DD -> YYYYMMDD for date properties.
func rewriteValueForVersion(name, value string, ver CardVersion) string {
	if ver == Version40 && dateRewriteAttrs[strings.ToUpper(name)] {
		return strings.ReplaceAll(value, "-", "")
	}
	return value
}

func escapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			// dropped: CRLF is the line-ending delimiter in all three
			// wire versions, never a literal value byte.
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// writeFolded appends line, CRLF-folded at 75 octets with a single
// leading space on each continuation (§6.3).
func writeFolded(b *strings.Builder, line string) {
	const width = 75
	for len(line) > width {
		b.WriteString(line[:width])
		b.WriteString("\r\n ")
		line = line[width:]
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}
