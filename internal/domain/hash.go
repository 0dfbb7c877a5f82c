package domain

import (
	"encoding/json"
	"hash/fnv"
)

// maxHashInput bounds how much serialized payload feeds the fingerprint.
// Dedup only needs a stable, cheap digest, not a cryptographic one.
const maxHashInput = 512

// HashText returns a stable FNV-32a fingerprint of s, truncated to
// maxHashInput bytes.
func HashText(s string) uint32 {
	if len(s) > maxHashInput {
		s = s[:maxHashInput]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// HashPayload fingerprints an arbitrary JSON-serializable payload.
// A nil or unserializable payload hashes to the empty-string fingerprint,
// which keeps repeated deliveries of the same broken payload deduplicated.
func HashPayload(v any) uint32 {
	if v == nil {
		return HashText("")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return HashText("")
	}
	return HashText(string(data))
}
