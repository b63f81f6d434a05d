package vcard

import "strings"

// CardVersion identifies one of the three wire versions this codec
// speaks (§4.9).
type CardVersion int

const (
	VersionUnknown CardVersion = iota
	Version21
	Version30
	Version40
)

func (v CardVersion) String() string {
	switch v {
	case Version21:
		return "2.1"
	case Version30:
		return "3.0"
	case Version40:
		return "4.0"
	default:
		return ""
	}
}

func parseVersion(s string) CardVersion {
	switch strings.TrimSpace(s) {
	case "2.1":
		return Version21
	case "3.0":
		return Version30
	case "4.0":
		return Version40
	default:
		return VersionUnknown
	}
}

// Version returns the vCard's declared VERSION, memoized until a VERSION
// attribute is added or removed (§4.9.4, Open Question resolved in
// DESIGN.md: invalidate on any VERSION mutation).
func (v *VCard) Version() CardVersion {
	if v.versionCacheSet {
		return v.versionCache
	}
	ver := VersionUnknown
	if attr, ok := v.Attribute("VERSION"); ok {
		ver = parseVersion(attr.Value())
	}
	v.versionCache = ver
	v.versionCacheSet = true
	return ver
}

// rename30to40 maps a 3.0 property or parameter name to its 4.0
// equivalent; rename40to30 is its inverse. Grounded on
// e_vcard_convert_get_30_40_rename_hash's table (§4.9.3).
var rename30to40 = map[string]string{
	"X-EVOLUTION-ANNIVERSARY":    "ANNIVERSARY",
	"X-EVOLUTION-SOCIALPROFILE":  "SOCIALPROFILE",
	"X-EVOLUTION-SOURCE":         "SOURCE",
	"X-EVOLUTION-KIND":           "KIND",
	"X-EVOLUTION-XML":            "XML",
	"X-EVOLUTION-GENDER":         "GENDER",
	"X-EVOLUTION-IMPP":           "IMPP",
	"X-EVOLUTION-LANG":           "LANG",
	"X-EVOLUTION-MEMBER":         "MEMBER",
	"X-EVOLUTION-RELATED":        "RELATED",
	"X-EVOLUTION-CLIENTPIDMAP":   "CLIENTPIDMAP",
	"X-EVOLUTION-CALADRURI":      "CALADRURI",
	"X-EVOLUTION-BIRTHPLACE":     "BIRTHPLACE",
	"X-EVOLUTION-DEATHPLACE":     "DEATHPLACE",
	"X-EVOLUTION-DEATHDATE":      "DEATHDATE",
	"X-EVOLUTION-EXPERTISE":      "EXPERTISE",
	"X-EVOLUTION-HOBBY":          "HOBBY",
	"X-EVOLUTION-INTEREST":       "INTEREST",
	"X-EVOLUTION-ORG-DIRECTORY":  "ORG-DIRECTORY",
	"X-EVOLUTION-CONTACT-URI":    "CONTACT-URI",
	"X-EVOLUTION-CREATED":        "CREATED",
	"X-EVOLUTION-GRAMGENDER":     "GRAMGENDER",
	"X-EVOLUTION-PRONOUNS":       "PRONOUNS",
	"X-EVOLUTION-LANGUAGE":       "LANGUAGE",
	"X-EVOLUTION-PREF":           "PREF",
	"X-EVOLUTION-ALTID":          "ALTID",
	"X-EVOLUTION-PID":            "PID",
	"X-EVOLUTION-MEDIATYPE":      "MEDIATYPE",
	"X-EVOLUTION-CALSCALE":       "CALSCALE",
	"X-EVOLUTION-SORT-AS":        "SORT-AS",
}

var rename40to30 = invert(rename30to40)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func lookupFold(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// imppSchemes maps a legacy X-<service> attribute name to its 4.0 IMPP
// URI scheme prefix (§4.9.3's `X-AIM ↔ IMPP:aim:` example and siblings).
var imppSchemes = map[string]string{
	"X-AIM":         "aim:",
	"X-GADUGADU":    "gadugadu:",
	"X-GOOGLE-TALK": "googletalk:",
	"X-GROUPWISE":   "groupwise:",
	"X-ICQ":         "icq:",
	"X-JABBER":      "jabber:",
	"X-MATRIX":      "matrix:",
	"X-MSN":         "msn:",
	"X-SKYPE":       "skype:",
	"X-TWITTER":     "twitter:",
	"X-YAHOO":       "yahoo:",
}

func imppSchemeForAttr(name string) (string, bool) {
	for k, v := range imppSchemes {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func imppAttrForScheme(scheme string) (string, bool) {
	for k, v := range imppSchemes {
		if strings.EqualFold(v, scheme) {
			return k, true
		}
	}
	return "", false
}

// Convert returns a new VCard expressing v's attributes for to. A direct
// 2.1↔4.0 conversion is routed through 3.0 (§4.9.3: "2.1→3.0→4.0 is
// applied for 2.1→4.0; 4.0→2.1 downgrades through 3.0").
func Convert(v *VCard, to CardVersion) *VCard {
	from := v.Version()
	if from == VersionUnknown {
		from = Version30
	}
	if from == to {
		return cloneCard(v)
	}

	switch {
	case from == Version21 && to == Version40:
		return Convert(Convert(v, Version30), Version40)
	case from == Version40 && to == Version21:
		return Convert(Convert(v, Version30), Version21)
	case from == Version21 && to == Version30:
		return convert21to30(v)
	case from == Version30 && to == Version21:
		return convert30to21(v)
	case from == Version30 && to == Version40:
		return convert30to40(v)
	case from == Version40 && to == Version30:
		return convert40to30(v)
	default:
		return cloneCard(v)
	}
}

func cloneCard(v *VCard) *VCard {
	v.ensureParsed()
	out := &VCard{parsed: true}
	out.Attributes = append([]Attribute(nil), v.Attributes...)
	return out
}

func setVersion(v *VCard, ver CardVersion) {
	v.RemoveAttribute("VERSION")
	v.AddAttribute(Attribute{Name: "VERSION", Values: []string{ver.String()}})
}

// 2.1 and 3.0 share the same property/parameter namespace in this codec
// (the X-EVOLUTION-* renames are 3.0↔4.0 specific); the only structural
// difference carried across is the VERSION tag and encoding defaults, so
// these two directions are encoding-normalizing clones.
func convert21to30(v *VCard) *VCard {
	out := cloneCard(v)
	setVersion(out, Version30)
	return out
}

func convert30to21(v *VCard) *VCard {
	out := cloneCard(v)
	setVersion(out, Version21)
	return out
}

func convert30to40(v *VCard) *VCard {
	out := &VCard{parsed: true}
	wasGroup := false
	for _, a := range v.Attributes {
		if scheme, ok := imppSchemeForAttr(a.Name); ok {
			a.Name = "IMPP"
			if len(a.Values) > 0 {
				a.Values = []string{scheme + a.Values[0]}
			}
		} else if renamed, ok := lookupFold(rename30to40, a.Name); ok {
			a.Name = renamed
		} else if strings.EqualFold(a.Name, "X-EVOLUTION-LIST") {
			wasGroup = true
			continue
		}
		out.Attributes = append(out.Attributes, a)
	}
	if wasGroup {
		out.Attributes = append(out.Attributes, Attribute{Name: "KIND", Values: []string{"group"}})
	}
	setVersion(out, Version40)
	return out
}

func convert40to30(v *VCard) *VCard {
	out := &VCard{parsed: true}
	isGroup := false
	for _, a := range v.Attributes {
		if a.NamedFold("KIND") && strings.EqualFold(a.Value(), "group") {
			isGroup = true
			continue
		}
		if a.NamedFold("IMPP") && len(a.Values) > 0 {
			if scheme, rest, ok := strings.Cut(a.Values[0], ":"); ok {
				if attrName, known := imppAttrForScheme(scheme + ":"); known {
					a.Name = attrName
					a.Values = []string{rest}
					out.Attributes = append(out.Attributes, a)
					continue
				}
			}
		}
		if renamed, ok := lookupFold(rename40to30, a.Name); ok {
			a.Name = renamed
		}
		out.Attributes = append(out.Attributes, a)
	}
	if isGroup {
		out.Attributes = append(out.Attributes, Attribute{Name: "X-EVOLUTION-LIST", Values: []string{"TRUE"}})
	}
	setVersion(out, Version30)
	return out
}
