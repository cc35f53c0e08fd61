package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHashDeterminism(t *testing.T) {
	evidence := Payload{"repo": "acme/api", "secret_keywords": []any{"AWS_SECRET"}}

	h1, err := EventHash(evidence)
	require.NoError(t, err)
	h2, err := EventHash(evidence)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "EventHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestEventHashOrderIndependent(t *testing.T) {
	// Two agents serializing the same observation with different field order.
	a := []byte(`{"tx_hash":"0xabc","value":25000000,"token":"USDT","meta":{"chain":1,"block":99}}`)
	b := []byte(`{"meta":{"block":99,"chain":1},"token":"USDT","tx_hash":"0xabc","value":25000000}`)

	var pa, pb Payload
	require.NoError(t, json.Unmarshal(a, &pa))
	require.NoError(t, json.Unmarshal(b, &pb))

	assert.Equal(t, MustEventHash(pa), MustEventHash(pb))
}

func TestEventHashChangesWithContent(t *testing.T) {
	h1 := MustEventHash(Payload{"new_repos": 5})
	h2 := MustEventHash(Payload{"new_repos": 6})
	h3 := MustEventHash(Payload{"new_repo": 5})

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestEventHashIntAndFloatAgree(t *testing.T) {
	// 5 from Go code and 5.0 from a JSON decoder describe the same event.
	assert.Equal(t, MustEventHash(Payload{"n": 5}), MustEventHash(Payload{"n": 5.0}))
}

func TestEventHashDomainSeparated(t *testing.T) {
	canonical, err := MarshalCanonical(Payload{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainEvent, canonical), MustEventHash(Payload{"a": 1}))
	assert.NotEqual(t, hashWithDomain("other/v1", canonical), MustEventHash(Payload{"a": 1}))
}

func TestMustEventHashPanicsOnNaN(t *testing.T) {
	assert.Panics(t, func() {
		var zero float64
		MustEventHash(Payload{"x": zero / zero})
	})
}
