package record

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Payload is the structured body of a record or the evidence behind a vote.
// Values are whatever encoding/json produces: nil, bool, float64, string,
// []any, map[string]any. Callers may also store Go ints and nested Payloads.
type Payload map[string]any

// Number returns the numeric value at key.
// JSON numbers, Go integer and float kinds, json.Number and numeric strings
// are accepted. Missing or non-numeric values report ok=false.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// NumberOr returns the numeric value at key, or def when absent.
func (p Payload) NumberOr(key string, def float64) float64 {
	if n, ok := p.Number(key); ok {
		return n
	}
	return def
}

// String returns the string value at key.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Len returns the length of the array, object or string at key.
// Missing keys and scalar values have length 0.
func (p Payload) Len(key string) int {
	v, ok := p[key]
	if !ok || v == nil {
		return 0
	}
	switch val := v.(type) {
	case string:
		return len(val)
	case []any:
		return len(val)
	case map[string]any:
		return len(val)
	case Payload:
		return len(val)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return 0
}

// Strings returns the string elements of the array at key.
// Non-string elements are skipped.
func (p Payload) Strings(key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, elem := range val {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep copy made through a JSON round trip.
// The copy holds only JSON-native value types.
func (p Payload) Clone() (Payload, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ParsePayload decodes a JSON object. Empty input yields an empty payload;
// a JSON null yields an empty payload as well.
func ParsePayload(data []byte) (Payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}
