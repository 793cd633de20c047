package matrix

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// wireOverrides lists attribute names whose wire form cannot be derived by
// the lower-snake rule.
var wireOverrides = map[string]string{
	"Heroes":             "m.heroes",
	"JoinedMemberCount":  "m.joined_member_count",
	"InvitedMemberCount": "m.invited_member_count",
}

// WireName returns the JSON name used on the wire for a Go attribute name.
// Names in the override table map to their Matrix namespaced keys; all others
// are converted to lower_snake_case, keeping runs of capitals (acronyms such
// as ID or TS) together as one word.
func WireName(attr string) string {
	if name, ok := wireOverrides[attr]; ok {
		return name
	}

	runes := []rune(attr)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SetPresence is the presence state a client advertises while syncing.
type SetPresence int

const (
	SetPresenceOffline SetPresence = iota + 1
	SetPresenceOnline
	SetPresenceUnavailable
)

var setPresenceNames = map[SetPresence]string{
	SetPresenceOffline:     "offline",
	SetPresenceOnline:      "online",
	SetPresenceUnavailable: "unavailable",
}

func (p SetPresence) String() string {
	return setPresenceNames[p]
}

// ParseSetPresence converts the lowercase wire text to a SetPresence.
func ParseSetPresence(text string) (SetPresence, error) {
	for value, name := range setPresenceNames {
		if name == text {
			return value, nil
		}
	}
	return 0, &InvalidEnumError{Enum: "SetPresence", Value: text}
}

// MarshalText implements encoding.TextMarshaler.
func (p SetPresence) MarshalText() ([]byte, error) {
	name, ok := setPresenceNames[p]
	if !ok {
		return nil, &InvalidEnumError{Enum: "SetPresence", Value: strconv.Itoa(int(p))}
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *SetPresence) UnmarshalText(text []byte) error {
	value, err := ParseSetPresence(string(text))
	if err != nil {
		return err
	}
	*p = value
	return nil
}

// JSONObject is an open JSON object whose schema is defined by the event
// type. Numbers are held as json.Number so their literal text survives a
// round trip.
type JSONObject map[string]any

// UnmarshalJSON decodes an object, keeping numbers as json.Number.
func (o *JSONObject) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if !isObject(data) {
		return errNotObject
	}
	var m map[string]any
	if err := decodeNumbers(data, &m); err != nil {
		return err
	}
	*o = m
	return nil
}

// String returns the value under key if it is a string.
func (o JSONObject) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok
}

// Extra holds every wire field an event type does not name, with its value
// decoded verbatim (objects as map[string]any, arrays as []any, numbers as
// json.Number). A named optional field whose value has the wrong shape is
// kept here too.
//
// Decoding always yields json.Number for numbers, so a value built with Go
// numeric types (Extra{"n": 5}) is encoded correctly but decodes back as
// json.Number("5"). Use json.Number when the value must compare equal after
// a round trip.
type Extra map[string]any

// Get returns the value stored under key.
func (e Extra) Get(key string) (any, bool) {
	v, ok := e[key]
	return v, ok
}

// fieldSpec binds one named wire field to a Go struct field.
type fieldSpec struct {
	wire     string
	required bool
	decode   func(raw json.RawMessage) error
	// encode returns the encoded value and whether the field is present.
	encode func() (json.RawMessage, bool, error)
}

// splitObject decodes data into the named fields and returns everything else.
// A null optional field, or one whose value does not decode, is kept in the
// remainder so it can be written back. Only required fields fail the decode.
func splitObject(typeName string, data []byte, fields []fieldSpec) (Extra, error) {
	if !isObject(data) {
		return nil, &DecodeError{Type: typeName, Err: errNotObject}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Type: typeName, Err: err}
	}

	for _, f := range fields {
		value, ok := raw[f.wire]
		if !ok || isNull(value) {
			if f.required {
				return nil, &DecodeError{Type: typeName, Field: f.wire, Err: errMissingField}
			}
			continue
		}
		if err := f.decode(value); err != nil {
			if f.required {
				return nil, &DecodeError{Type: typeName, Field: f.wire, Err: err}
			}
			continue
		}
		delete(raw, f.wire)
	}

	if len(raw) == 0 {
		return nil, nil
	}
	extra := make(Extra, len(raw))
	for key, value := range raw {
		var v any
		if err := decodeNumbers(value, &v); err != nil {
			return nil, &DecodeError{Type: typeName, Field: key, Err: err}
		}
		extra[key] = v
	}
	return extra, nil
}

// mergeObject writes the named fields in table order followed by the extra
// entries in key order.
func mergeObject(typeName string, fields []fieldSpec, extra Extra) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	named := make(map[string]struct{}, len(fields))
	first := true
	writeMember := func(key string, value []byte) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		encodedKey, err := marshalJSON(key)
		if err != nil {
			return err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}

	for _, f := range fields {
		value, present, err := f.encode()
		if err != nil {
			return nil, &DecodeError{Type: typeName, Field: f.wire, Err: err}
		}
		if !present {
			continue
		}
		named[f.wire] = struct{}{}
		if err := writeMember(f.wire, value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, dup := named[key]; dup {
			return nil, &DecodeError{Type: typeName, Field: key, Err: ErrAmbiguousField}
		}
		value, err := marshalJSON(extra[key])
		if err != nil {
			return nil, &DecodeError{Type: typeName, Field: key, Err: err}
		}
		if err := writeMember(key, value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func requiredField[T any](wire string, target *T) fieldSpec {
	return fieldSpec{
		wire:     wire,
		required: true,
		decode: func(raw json.RawMessage) error {
			return json.Unmarshal(raw, target)
		},
		encode: func() (json.RawMessage, bool, error) {
			b, err := marshalJSON(*target)
			return b, true, err
		},
	}
}

func optionalField[T any](wire string, target **T) fieldSpec {
	return fieldSpec{
		wire: wire,
		decode: func(raw json.RawMessage) error {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return err
			}
			*target = v
			return nil
		},
		encode: func() (json.RawMessage, bool, error) {
			if *target == nil {
				return nil, false, nil
			}
			b, err := marshalJSON(*target)
			return b, true, err
		},
	}
}

// contentField is a required open object. A nil object is written as {}.
func contentField(wire string, target *JSONObject) fieldSpec {
	return fieldSpec{
		wire:     wire,
		required: true,
		decode: func(raw json.RawMessage) error {
			return target.UnmarshalJSON(raw)
		},
		encode: func() (json.RawMessage, bool, error) {
			if *target == nil {
				return json.RawMessage("{}"), true, nil
			}
			b, err := marshalJSON(map[string]any(*target))
			return b, true, err
		},
	}
}

// optionalObjectField is an open object where nil means absent and an empty
// non-nil map means present-but-empty.
func optionalObjectField(wire string, target *JSONObject) fieldSpec {
	return fieldSpec{
		wire: wire,
		decode: func(raw json.RawMessage) error {
			return target.UnmarshalJSON(raw)
		},
		encode: func() (json.RawMessage, bool, error) {
			if *target == nil {
				return nil, false, nil
			}
			b, err := marshalJSON(map[string]any(*target))
			return b, true, err
		},
	}
}

// marshalJSON is json.Marshal without HTML escaping, so message bodies keep
// their literal <, > and & characters.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
