package dispatch

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Fields is the raw request payload: a decoded JSON object or the values of a
// multipart form.
type Fields map[string]any

// timestampLayouts are tried in order when parsing caller timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// DecodeFields parses a JSON request body. Numbers are kept exact so ids such
// as 2220001 survive untouched. An empty body yields empty Fields.
func DecodeFields(body []byte) (Fields, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Fields{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &InvalidFieldError{Field: "body", Reason: "malformed JSON"}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &InvalidFieldError{Field: "body", Reason: "trailing data after JSON object"}
	}

	switch v := raw.(type) {
	case map[string]any:
		return Fields(v), nil
	case nil:
		return Fields{}, nil
	default:
		return nil, &InvalidFieldError{Field: "body", Reason: "expected a JSON object"}
	}
}

// FormFields converts multipart/url-encoded values, keeping the first value
// of each key.
func FormFields(values map[string][]string) Fields {
	f := make(Fields, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			f[k] = vs[0]
		}
	}
	return f
}

// Present reports whether key holds a value other than null or "".
// Numeric zero and false count as present.
func (f Fields) Present(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// Missing returns the keys that are not Present, in argument order.
func (f Fields) Missing(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if !f.Present(k) {
			out = append(out, k)
		}
	}
	return out
}

// Text renders a scalar field as a string. ok is false when the field is
// empty; objects and arrays are rejected.
func (f Fields) Text(key string) (string, bool, error) {
	if !f.Present(key) {
		return "", false, nil
	}
	switch v := f[key].(type) {
	case string:
		return v, true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case interface{ String() string }:
		// json.Number
		return v.String(), true, nil
	default:
		return "", false, &InvalidFieldError{Field: key, Reason: "expected a scalar value"}
	}
}

// OptionalText is Text returning nil for empty fields.
func (f Fields) OptionalText(key string) (*string, error) {
	s, ok, err := f.Text(key)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// Float parses a numeric field given as a JSON number or numeric string.
func (f Fields) Float(key string) (*float64, error) {
	if !f.Present(key) {
		return nil, nil
	}

	var (
		n   float64
		err error
	)
	switch v := f[key].(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		n, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case interface{ Float64() (float64, error) }:
		n, err = v.Float64()
	default:
		err = errors.New("not a number")
	}
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, &InvalidFieldError{Field: key, Reason: "expected a number"}
	}
	return &n, nil
}

// Int parses an integer identifier field.
func (f Fields) Int(key string) (int64, bool, error) {
	s, ok, err := f.Text(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false, &InvalidFieldError{Field: key, Reason: "expected an integer"}
	}
	return n, true, nil
}

// Time parses the first present key among keys, falling back to now.
// Unix seconds are accepted as numbers.
func (f Fields) Time(now time.Time, keys ...string) (time.Time, error) {
	for _, key := range keys {
		if !f.Present(key) {
			continue
		}
		raw, _, err := f.Text(key)
		if err != nil {
			return time.Time{}, err
		}
		return parseTimestamp(key, raw)
	}
	return now, nil
}

func parseTimestamp(key, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, &InvalidFieldError{Field: key, Reason: "unrecognised timestamp format"}
}

// Value returns the raw value of key, or nil when empty.
func (f Fields) Value(key string) any {
	if !f.Present(key) {
		return nil
	}
	return f[key]
}
