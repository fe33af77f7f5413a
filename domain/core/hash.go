package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex digits, enough for log lines
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Domain-specific hash types
type (
	ConfigHash  Hash
	StateHash   Hash
	CodeVersion Hash
)

// String conversions
func (h ConfigHash) String() string  { return Hash(h).String() }
func (h StateHash) String() string   { return Hash(h).String() }
func (h CodeVersion) String() string { return Hash(h).String() }

// HashJSON hashes the canonical JSON encoding of v. Callers are responsible for
// making v deterministic (sorted slices, no maps with unordered iteration).
func HashJSON(v interface{}) (Hash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode for hashing: %w", err)
	}
	return NewHash(data), nil
}

// ComputeConfigHash hashes the parameters that change a run's results.
func ComputeConfigHash(pairs, offset uint64, moduli []uint64, searchBound, fixRadius uint64) ConfigHash {
	var data strings.Builder
	fmt.Fprintf(&data, "pairs:%d|offset:%d|moduli:", pairs, offset)
	for i, m := range moduli {
		if i > 0 {
			data.WriteByte(',')
		}
		fmt.Fprintf(&data, "%d", m)
	}
	fmt.Fprintf(&data, "|bound:%d|radius:%d", searchBound, fixRadius)
	return ConfigHash(NewHash([]byte(data.String())))
}
