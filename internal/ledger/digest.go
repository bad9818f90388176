package ledger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// DigestSize is the width of a record commitment in bytes.
const DigestSize = sha256.Size

// Digest is the fixed-width SHA-256 commitment of an encrypted payload.
// The zero value is reserved and never a valid commitment.
type Digest [DigestSize]byte

var zeroDigest Digest

// DigestOf returns the SHA-256 digest of data.
func DigestOf(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// ParseDigest decodes a hex digest, with or without a leading "0x".
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("parse digest: %w", err)
	}
	if len(raw) != DigestSize {
		return Digest{}, fmt.Errorf("parse digest: got %d bytes, want %d", len(raw), DigestSize)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// IsZero reports whether the digest is the reserved zero value.
func (d Digest) IsZero() bool { return d == zeroDigest }

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// String returns the lowercase hex encoding.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// MarshalJSON encodes the digest as a hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a hex string, accepting an optional "0x" prefix.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
