package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEvent separates event fingerprints from any other hash we compute.
// Version suffix enables future algorithm migration.
const DomainEvent = "sovereign/event/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventHash fingerprints evidence describing a real-world event.
// The result is a pure function of the evidence content: two payloads with
// the same keys and values hash identically whatever order they were built
// or serialized in.
func EventHash(evidence any) (string, error) {
	canonical, err := MarshalCanonical(evidence)
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventHash is EventHash for values known to be encodable.
// Panics on error; intended for tests and constant evidence.
func MustEventHash(evidence any) string {
	h, err := EventHash(evidence)
	if err != nil {
		panic(err)
	}
	return h
}
