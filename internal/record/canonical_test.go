package record

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"zero", 0, "0"},
		{"null", nil, "null"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{1, 2, 3}, "[1,2,3]"},
		{"simple object", Payload{"a": 1}, `{"a":1}`},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.9, "0.9"},
		{5, "5"},
		{-0.0, "0"},
		{12.5, "12.5"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
		{0.000001, "0.000001"},
		{123456789012345680000, "123456789012345680000"},
		{-3.25e-9, "-3.25e-9"},
	}
	for _, tt := range tests {
		got, err := MarshalCanonical(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), "input %v", tt.in)
	}
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := MarshalCanonical(Payload{"x": f})
		assert.Error(t, err)
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Payload{
		"zebra": 1,
		"alpha": 2,
		"beta":  3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Payload{
		"z": map[string]any{
			"b": 1,
			"a": 2,
		},
		"a": 3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000: UTF-16 order differs from UTF-8
	obj := Payload{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	expected := "{\"\U00010000\":2,\"\uE000\":1}"
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	got, err := MarshalCanonical("a<b>&\"c\"\\\n \x01")
	require.NoError(t, err)
	assert.Equal(t, "\"a<b>&\\\"c\\\"\\\\\\n \\u0001\"", string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301" // e + combining acute
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalStructUsesJSONTags(t *testing.T) {
	type finding struct {
		Repo  string `json:"repo"`
		Count int    `json:"count"`
	}
	got, err := MarshalCanonical(finding{Repo: "acme/api", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"repo":"acme/api"}`, string(got))
}

func TestMarshalCanonicalMatchesDecodedJSON(t *testing.T) {
	// Evidence that went through a JSON round trip must encode the same as
	// the original Go value, otherwise stored votes would fingerprint
	// differently from freshly submitted ones.
	original := Payload{
		"symbol":     "BTC",
		"return_pct": 12.75,
		"volume":     3,
		"tags":       []any{"spot", "usd"},
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)
	var decoded Payload
	require.NoError(t, json.Unmarshal(data, &decoded))

	a, err := MarshalCanonical(original)
	require.NoError(t, err)
	b, err := MarshalCanonical(decoded)
	require.NoError(t, err)
	if diff := cmp.Diff(string(a), string(b)); diff != "" {
		t.Errorf("canonical mismatch (-original +decoded):\n%s", diff)
	}
}
