// Package vcard implements the vCard codec (§4.9): a tolerant
// line-based parser across versions 2.1/3.0/4.0, three version-specific
// serializers, and a bidirectional converter between them.
package vcard

import "strings"

// Encoding is the wire encoding tag of one attribute's raw value text.
type Encoding int

const (
	EncodingRaw Encoding = iota
	EncodingBase64
	EncodingQuotedPrintable
)

// Param is one attribute parameter: a case-insensitive name and an
// ordered list of values. Adding a second Param with an existing name
// merges its values into the first instead of appending a new Param
// (§3.4's parameter uniqueness rule) — see Attribute.AddParam.
type Param struct {
	Name   string
	Values []string
}

func (p *Param) hasValueFold(v string) bool {
	for _, existing := range p.Values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// Attribute is one vCard property line: optional group, name, parameters
// and an ordered list of string values. Values are stored already decoded
// from any base64/quoted-printable encoding; the attribute does not
// record which encoding its raw text was read in.
type Attribute struct {
	Group  string
	Name   string
	Params []Param
	Values []string
}

// singleValueTyped lists the attributes whose value is never split on
// ";" even though ";" is the default separator (§4.9.1).
var singleValueTyped = map[string]bool{
	"KEY": true, "LOGO": true, "PHOTO": true, "SOUND": true, "TZ": true,
}

func isSingleValueTyped(name string) bool {
	return singleValueTyped[strings.ToUpper(name)]
}

func isCategories(name string) bool {
	return strings.EqualFold(name, "CATEGORIES")
}

// Param looks up a parameter by case-insensitive name.
func (a *Attribute) Param(name string) (Param, bool) {
	for _, p := range a.Params {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Param{}, false
}

// ParamValues is a convenience wrapper around Param returning just the
// value list, or nil if the parameter is absent.
func (a *Attribute) ParamValues(name string) []string {
	p, ok := a.Param(name)
	if !ok {
		return nil
	}
	return p.Values
}

// AddParam adds name=values, merging into an existing same-named
// parameter (values deduplicated case-insensitively) per §3.4.
func (a *Attribute) AddParam(name string, values ...string) {
	for i := range a.Params {
		if strings.EqualFold(a.Params[i].Name, name) {
			for _, v := range values {
				if !a.Params[i].hasValueFold(v) {
					a.Params[i].Values = append(a.Params[i].Values, v)
				}
			}
			return
		}
	}
	a.Params = append(a.Params, Param{Name: name, Values: append([]string(nil), values...)})
}

// RemoveParam drops a parameter by case-insensitive name. Reports whether
// anything was removed.
func (a *Attribute) RemoveParam(name string) bool {
	for i := range a.Params {
		if strings.EqualFold(a.Params[i].Name, name) {
			a.Params = append(a.Params[:i], a.Params[i+1:]...)
			return true
		}
	}
	return false
}

// Value returns the first value, or "" if the attribute has none.
func (a *Attribute) Value() string {
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// NamedFold reports whether the attribute's name matches name,
// case-insensitively (§3.4: "attribute ... names ... compare
// case-insensitively").
func (a *Attribute) NamedFold(name string) bool {
	return strings.EqualFold(a.Name, name)
}
