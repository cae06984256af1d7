// Package canonical implements the bytes-stable representation used to
// hash and sign structured values: sorted-key objects, order-preserving
// arrays, ASCII-escaped strings, and a hard ban on floating point. The
// rules are too specific (floats rejected, fixed-point decimals, RFC3339
// microsecond instants) for an off-the-shelf JSON marshaller to enforce,
// so the encoder is owned here behind a small exported surface.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Value is the maximal set of Go types accepted into canonical encoding.
// Callers build this from their own typed structs (see internal/events)
// before handing it to ToBytes/Hash.
type Value = any

// Date represents an ISO calendar date with no time component.
type Date struct {
	Year, Month, Day int
}

func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: int(m), Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Bytes represents an opaque byte string, canonicalized as base64.
type Bytes []byte

// Map is an ordered-on-encode object. Keys are sorted byte-wise on output
// regardless of insertion order.
type Map map[string]Value

// List preserves input order on encode.
type List []Value

// Err is returned for any value canonicalization cannot represent.
type Err struct {
	Type string
}

func (e *Err) Error() string {
	return fmt.Sprintf("canonical: unsupported type %s", e.Type)
}

// ToObj normalizes an arbitrary Go value into the canonical intermediate
// form (key-sorted orderedMap / []any / scalars, with dates, instants,
// uuids, bytes and fixed-point values turned into text) used for both
// hashing and JSON emission. It rejects float32/float64 anywhere in the
// tree.
func ToObj(v Value) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Map:
		out := make(map[string]Value, len(t))
		for k, val := range t {
			conv, err := ToObj(val)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return sortedMap(out), nil
	case map[string]Value:
		out := make(map[string]Value, len(t))
		for k, val := range t {
			conv, err := ToObj(val)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return sortedMap(out), nil
	case List:
		out := make([]Value, len(t))
		for i, val := range t {
			conv, err := ToObj(val)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case []Value:
		out := make([]Value, len(t))
		for i, val := range t {
			conv, err := ToObj(val)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return t, nil
	case uint64:
		return t, nil
	case float32, float64:
		return nil, &Err{Type: fmt.Sprintf("%T", t)}
	case Date:
		return rawText(t.String()), nil
	case time.Time:
		return rawText(isoUTCMicro(t)), nil
	case Bytes:
		return rawText(base64.StdEncoding.EncodeToString(t)), nil
	case []byte:
		return rawText(base64.StdEncoding.EncodeToString(t)), nil
	case uuid.UUID:
		return rawText(t.String()), nil
	case FixedPoint:
		return rawText(t.String()), nil
	default:
		return nil, &Err{Type: fmt.Sprintf("%T", t)}
	}
}

// rawText marks a string so the JSON encoder below emits it as a JSON
// string without further interpretation (dates/instants/uuids/bytes all
// canonicalize to fixed text forms before reaching the encoder).
type rawText string

// orderedMap preserves a fixed key order for deterministic JSON emission.
type orderedMap struct {
	keys   []string
	values map[string]Value
}

func sortedMap(m map[string]Value) orderedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return orderedMap{keys: keys, values: m}
}

func isoUTCMicro(t time.Time) string {
	u := t.UTC()
	return u.Format("2006-01-02T15:04:05.000000") + "Z"
}

// ToBytes produces the canonical byte representation of v: sorted-key JSON,
// no whitespace, ASCII-escaped strings, floats rejected.
func ToBytes(v Value) ([]byte, error) {
	obj, err := ToObj(v)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = appendValue(buf, obj)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case orderedMap:
		buf = append(buf, '{')
		for i, k := range t.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := appendString(buf, k)
			if err != nil {
				return nil, err
			}
			buf = kb
			buf = append(buf, ':')
			var err2 error
			buf, err2 = appendValue(buf, t.values[k])
			if err2 != nil {
				return nil, err2
			}
		}
		buf = append(buf, '}')
		return buf, nil
	case []Value:
		buf = append(buf, '[')
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, ']')
		return buf, nil
	case string:
		return appendString(buf, t)
	case rawText:
		return appendString(buf, string(t))
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case int:
		return appendInt(buf, int64(t)), nil
	case int64:
		return appendInt(buf, t), nil
	case uint64:
		return append(buf, fmt.Sprintf("%d", t)...), nil
	default:
		return nil, &Err{Type: fmt.Sprintf("%T", t)}
	}
}

func appendInt(buf []byte, n int64) []byte {
	return append(buf, fmt.Sprintf("%d", n)...)
}

// appendString ASCII-escapes a string the way encoding/json does, plus
// forcing non-ASCII runes to \uXXXX so the output never depends on the
// consumer's UTF-8 handling.
func appendString(buf []byte, s string) ([]byte, error) {
	escaped, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(escaped))
	for _, r := range string(escaped) {
		if r > 127 {
			out = append(out, fmt.Sprintf(`\u%04x`, r)...)
			continue
		}
		out = append(out, byte(r))
	}
	return append(buf, out...), nil
}

// FromBytes parses canonical JSON bytes back into Map/List/scalar values,
// the inverse of ToBytes. Numbers decode to int64 (a fractional literal is
// rejected, matching the encoder's ban on floats). Used by callers that
// persisted ToBytes output verbatim (e.g. the ledger store) and need the
// typed tree back to recompute a hash or re-derive a signature.
func FromBytes(b []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return fromJSONValue(raw)
}

func fromJSONValue(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return nil, &Err{Type: "non-integer number " + t.String()}
	case string:
		return t, nil
	case bool:
		return t, nil
	case map[string]any:
		out := Map{}
		for k, val := range t {
			conv, err := fromJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case []any:
		out := make(List, len(t))
		for i, val := range t {
			conv, err := fromJSONValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	default:
		return nil, &Err{Type: fmt.Sprintf("%T", t)}
	}
}

// Hash returns H(v) = SHA-256(canonical_bytes(v)), lowercase hex-64.
func Hash(v Value) (string, error) {
	b, err := ToBytes(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash panics on canonicalization error; only safe for values already
// known-canonicalizable (e.g. policy manifests assembled in-process).
func MustHash(v Value) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// ZeroHash is the genesis prev_hash, 64 '0' characters.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// FixedPoint is a decimal value canonicalized as fixed-point text (no
// exponent, no trailing-zero ambiguity). The core otherwise deals
// exclusively in integer minor units; FixedPoint exists for the rare
// payload field (e.g. an externally-reported FX rate on a supplier
// contract) that genuinely needs a decimal rather than an integer.
type FixedPoint struct {
	Unscaled int64
	Scale    uint8
}

func (f FixedPoint) String() string {
	if f.Scale == 0 {
		return fmt.Sprintf("%d", f.Unscaled)
	}
	neg := f.Unscaled < 0
	u := f.Unscaled
	if neg {
		u = -u
	}
	s := fmt.Sprintf("%0*d", int(f.Scale)+1, u)
	cut := len(s) - int(f.Scale)
	whole, frac := s[:cut], s[cut:]
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, whole, frac)
}
