// Package cookies implements Component D: multi-format cookie ingestion
// and deterministic, insertion-ordered header rendering.
//
// Grounded on original_source/src/schemas/cookies.rs's NetscapeCookie and
// its from_json/from_netscape_json/from_key_value_json auto-detection
// chain. Go's map iteration order is as unspecified as Rust's HashMap, so
// where the original relied on whatever order a HashMap happened to walk
// in, this package is explicit: a Record's order is the order it was
// built in, and flat-object ingestion preserves the source JSON's own key
// order by decoding with json.Decoder.Token rather than into a map.
package cookies

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Record is a single cookie. Name and Value are the only fields required
// by ingestion; the rest are optional attributes carried through from a
// rich-record source and otherwise left zero.
type Record struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         *string `json:"domain,omitempty"`
	Path           *string `json:"path,omitempty"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
	HostOnly       *bool   `json:"hostOnly,omitempty"`
	HTTPOnly       *bool   `json:"httpOnly,omitempty"`
	Secure         *bool   `json:"secure,omitempty"`
	Session        *bool   `json:"session,omitempty"`
	SameSite       *string `json:"sameSite,omitempty"`
	StoreID        *string `json:"storeId,omitempty"`
}

// List is an ordered list of cookie Records. Order is insertion order and
// is what Render emits in.
type List []Record

// FromJSON auto-detects one of three supported shapes, in priority order:
//  1. a flat JSON object of name -> value pairs (minimal cookies, no
//     domain/path; source key order preserved),
//  2. a JSON array of rich records,
//  3. a single rich record object.
//
// The first shape that parses wins; this mirrors
// NetscapeCookie::from_json's fallback chain exactly.
func FromJSON(data []byte) (List, error) {
	if list, ok := tryFlatObject(data); ok {
		return list, nil
	}
	if list, ok := tryRecordArray(data); ok {
		return list, nil
	}
	if list, ok := tryRecord(data); ok {
		return list, nil
	}
	return nil, errors.New("cookies: could not parse as a flat name/value object, an array of records, or a single record")
}

// tryFlatObject decodes data as a JSON object whose values are all
// strings, preserving the object's own key order via json.Decoder.Token.
func tryFlatObject(data []byte) (List, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, false
	}

	var list List
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		list = append(list, Record{Name: key, Value: value})
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, false
	}
	if err := drainTrailing(dec); err != nil {
		return nil, false
	}
	return list, true
}

// tryRecordArray decodes data as a JSON array of rich Records.
func tryRecordArray(data []byte) (List, bool) {
	var list List
	if err := strictUnmarshal(data, &list); err != nil {
		return nil, false
	}
	return list, true
}

// tryRecord decodes data as a single rich Record, wrapped in a one-element
// List, requiring at least a name to avoid accepting an empty object as a
// cookie.
func tryRecord(data []byte) (List, bool) {
	var rec Record
	if err := strictUnmarshal(data, &rec); err != nil {
		return nil, false
	}
	if rec.Name == "" {
		return nil, false
	}
	return List{rec}, true
}

// strictUnmarshal decodes data fully into v, rejecting trailing garbage
// after the single JSON value (Go's json.Unmarshal already does this).
func strictUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// drainTrailing reports an error if there is any non-whitespace data left
// in dec's stream after decoding one JSON value.
func drainTrailing(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return errors.New("cookies: trailing data after object")
		}
		return err
	}
	return nil
}

// Render joins the list as "{name}={value}" pairs separated by "; ", in
// list order — the exact format the Direct resolver puts in the Cookie
// header.
func (l List) Render() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = r.Name + "=" + r.Value
	}
	return strings.Join(parts, "; ")
}

// FromPairs builds a List from an ordered slice of (name, value) pairs,
// used when a caller already has deterministic order (e.g. a
// fetchcontext baseline built from config) and wants to skip JSON
// round-tripping.
func FromPairs(pairs [][2]string) List {
	list := make(List, len(pairs))
	for i, p := range pairs {
		list[i] = Record{Name: p[0], Value: p[1]}
	}
	return list
}

// Extend appends other's records after l's own, in order — the additive
// "cookies extend" composition rule from Component B.
func (l List) Extend(other List) List {
	out := make(List, 0, len(l)+len(other))
	out = append(out, l...)
	out = append(out, other...)
	return out
}
