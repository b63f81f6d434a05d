package vcard

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
)

// VCard is an ordered list of attributes (§3.4). It supports lazy
// construction: Parse stores the source text and defers materializing
// Attributes until the first access (§4.9.4).
type VCard struct {
	raw        string
	parsed     bool
	Attributes []Attribute

	// presetUID lets a caller supply the UID out-of-band at
	// construction so GetAttribute("UID") is O(1) without forcing a
	// full parse (§4.9.4).
	presetUID string

	// versionCache memoizes Version(); invalidated on any VERSION
	// mutation (add or remove) per the resolved Open Question in
	// DESIGN.md — the reference implementation only invalidated on
	// removal, which the specification calls out as a bug.
	versionCache    CardVersion
	versionCacheSet bool
}

// Construct stores text for lazy parsing, optionally seeding uid so
// Attribute("UID") resolves without materializing the rest.
func Construct(text string, uid string) *VCard {
	return &VCard{raw: text, presetUID: uid}
}

// Parse eagerly parses text into a VCard (equivalent to
// Construct(text, "").ensureParsed()).
func Parse(text string) *VCard {
	v := Construct(text, "")
	v.ensureParsed()
	return v
}

// IsParsed reports whether the backing text has been materialized into
// Attributes yet (§4.9.4).
func (v *VCard) IsParsed() bool { return v.parsed }

func (v *VCard) ensureParsed() {
	if v.parsed {
		return
	}
	v.Attributes = parseAttributes(v.raw)
	v.parsed = true
}

// Attribute returns the first attribute named name (case-insensitive),
// materializing the vCard first unless name is "UID" and a preset UID
// was supplied at construction (§4.9.4).
func (v *VCard) Attribute(name string) (Attribute, bool) {
	if !v.parsed && strings.EqualFold(name, "UID") && v.presetUID != "" {
		return Attribute{Name: "UID", Values: []string{v.presetUID}}, true
	}
	v.ensureParsed()
	for _, a := range v.Attributes {
		if a.NamedFold(name) {
			return a, true
		}
	}
	return Attribute{}, false
}

// AllAttributes returns every attribute named name (case-insensitive).
func (v *VCard) AllAttributes(name string) []Attribute {
	v.ensureParsed()
	var out []Attribute
	for _, a := range v.Attributes {
		if a.NamedFold(name) {
			out = append(out, a)
		}
	}
	return out
}

// AddAttribute appends attr, materializing the vCard first. Adding a
// VERSION attribute invalidates the cached Version() result (see
// convert.go) — the resolved Open Question in DESIGN.md requires
// invalidation on any VERSION mutation, not just removal.
func (v *VCard) AddAttribute(attr Attribute) {
	v.ensureParsed()
	v.Attributes = append(v.Attributes, attr)
	if attr.NamedFold("VERSION") {
		v.versionCacheSet = false
	}
}

// RemoveAttribute drops every attribute named name (case-insensitive),
// reporting whether anything was removed. Removing a VERSION attribute
// invalidates the cached Version() result.
func (v *VCard) RemoveAttribute(name string) bool {
	v.ensureParsed()
	kept := v.Attributes[:0]
	removed := false
	for _, a := range v.Attributes {
		if a.NamedFold(name) {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	v.Attributes = kept
	if removed && strings.EqualFold(name, "VERSION") {
		v.versionCacheSet = false
	}
	return removed
}

// unfoldLines joins RFC-2425 folded continuation lines (a line starting
// with SP or HT) onto the preceding logical line, tolerating CR, LF, and
// CRLF endings.
func unfoldLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	physical := strings.Split(text, "\n")

	var logical []string
	for _, line := range physical {
		if len(logical) > 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			logical[len(logical)-1] += line[1:]
			continue
		}
		// Quoted-printable soft break (§4.9.1): a lone trailing '=' means
		// the next physical line continues this value. Keep the '=' and
		// the newline intact — mime/quotedprintable's reader decodes
		// "=\n" soft breaks natively.
		if len(logical) > 0 {
			prev := logical[len(logical)-1]
			if strings.HasSuffix(prev, "=") && !strings.HasSuffix(prev, "==") {
				logical[len(logical)-1] = prev + "\n" + line
				continue
			}
		}
		logical = append(logical, line)
	}
	return logical
}

// parseAttributes is the tolerant, silent-repair parser of §4.9.1:
// malformed input never fails structurally, at worst producing an empty
// attribute list.
func parseAttributes(text string) []Attribute {
	var attrs []Attribute
	for _, line := range unfoldLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if upper == "BEGIN:VCARD" || upper == "END:VCARD" {
			continue
		}
		attr, ok := parseAttributeLine(line)
		if !ok {
			continue
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

// parseAttributeLine parses one logical (already unfolded) attribute
// line: [group "."] name *(";" param) ":" value-list.
func parseAttributeLine(line string) (Attribute, bool) {
	colon := findUnquotedColon(line)
	if colon == -1 {
		return Attribute{}, false
	}
	head := line[:colon]
	valueText := line[colon+1:]

	parts := strings.Split(head, ";")
	groupAndName := parts[0]
	group, name := "", groupAndName
	if dot := strings.IndexByte(groupAndName, '.'); dot != -1 {
		group, name = groupAndName[:dot], groupAndName[dot+1:]
	}
	if name == "" {
		return Attribute{}, false
	}

	attr := Attribute{Group: group, Name: name}
	encoding := EncodingRaw
	charset := ""

	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		pname, pvalues := parseParamSegment(raw)
		switch {
		case strings.EqualFold(pname, "ENCODING"):
			for _, v := range pvalues {
				switch strings.ToUpper(v) {
				case "B", "BASE64":
					encoding = EncodingBase64
				case "QUOTED-PRINTABLE":
					encoding = EncodingQuotedPrintable
				}
			}
		case strings.EqualFold(pname, "CHARSET"):
			if len(pvalues) > 0 && !strings.EqualFold(pvalues[0], "utf-8") {
				charset = pvalues[0]
			}
		default:
			attr.AddParam(pname, pvalues...)
		}
	}

	attr.Values = splitValues(attr.Name, decodeValue(valueText, encoding, charset))
	return attr, true
}

// parseParamSegment parses one ";"-separated parameter segment, which is
// either "NAME=VALUE(,VALUE)*" or a bare legacy-2.1 value, which becomes
// TYPE= (or ENCODING= when it names a known encoding token).
func parseParamSegment(seg string) (name string, values []string) {
	if eq := strings.IndexByte(seg, '='); eq != -1 {
		name = strings.TrimSpace(seg[:eq])
		rest := seg[eq+1:]
		values = splitParamValues(rest)
		return name, values
	}
	bare := strings.Trim(seg, `"`)
	switch strings.ToUpper(bare) {
	case "B", "BASE64":
		return "ENCODING", []string{"BASE64"}
	case "QUOTED-PRINTABLE":
		return "ENCODING", []string{"QUOTED-PRINTABLE"}
	default:
		return "TYPE", []string{bare}
	}
}

func splitParamValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// findUnquotedColon finds the ":" that ends the parameter region,
// ignoring ones inside a double-quoted parameter value.
func findUnquotedColon(s string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

// decodeValue applies the attribute's encoding (base64/quoted-printable)
// ahead of escape/value splitting.
func decodeValue(s string, enc Encoding, charset string) string {
	switch enc {
	case EncodingBase64:
		s = strings.Join(strings.Fields(s), "")
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
			return string(decoded)
		}
		return s
	case EncodingQuotedPrintable:
		decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
		if err != nil {
			return s
		}
		_ = charset // charset re-encoding to UTF-8 is out of scope: no transcoding library in the pack
		return string(decoded)
	default:
		return s
	}
}

// splitValues splits a decoded value-list on ";" (default), "," for
// CATEGORIES, or not at all for single-value-typed attributes (§4.9.1),
// honoring backslash escapes \n \r \; \, \\; unknown escapes keep their
// backslash.
func splitValues(name, s string) []string {
	sep := byte(';')
	switch {
	case isSingleValueTyped(name):
		return []string{unescape(s)}
	case isCategories(name):
		sep = ','
	}

	var out []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			switch c {
			case 'n', 'N':
				cur.WriteByte('\n')
			case 'r', 'R':
				cur.WriteByte('\r')
			case ';':
				cur.WriteByte(';')
			case ',':
				cur.WriteByte(',')
			case '\\':
				cur.WriteByte('\\')
			default:
				cur.WriteByte('\\')
				cur.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == sep {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if escaped {
		cur.WriteByte('\\')
	}
	out = append(out, cur.String())
	return out
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			switch c {
			case 'n', 'N':
				b.WriteByte('\n')
			case 'r', 'R':
				b.WriteByte('\r')
			case ';':
				b.WriteByte(';')
			case ',':
				b.WriteByte(',')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte('\\')
				b.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}
