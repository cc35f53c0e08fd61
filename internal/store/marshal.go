package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/sovereign/internal/record"
)

// marshalPayload converts a payload to JSON TEXT for storage.
// Uses json.Encoder with HTML escaping disabled so stored text matches what
// agents wrote. A nil payload is stored as "{}".
func marshalPayload(p record.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalPayload parses JSON TEXT into a payload.
// Returns an empty (non-nil) payload for empty input.
func unmarshalPayload(data string) (record.Payload, error) {
	p, err := record.ParsePayload([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
