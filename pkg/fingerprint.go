package dupwalk

import (
	"bytes"
	"encoding/hex"
	"time"
)

// Digest is the raw content digest; it is the reverse map key.
type Digest [DigestSize]byte

// Fingerprint is an immutable content digest plus the time it was computed.
// Equality and ordering look at the digest only.
type Fingerprint struct {
	Digest   Digest
	Computed time.Time
}

// NewFingerprint copies sum into a Fingerprint stamped with computed.
func NewFingerprint(sum []byte, computed time.Time) Fingerprint {
	var fp Fingerprint
	copy(fp.Digest[:], sum)
	fp.Computed = computed
	return fp
}

// Equal reports whether both fingerprints carry the same digest
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Digest == other.Digest
}

// Compare orders fingerprints by digest bytes
func (f Fingerprint) Compare(other Fingerprint) int {
	return bytes.Compare(f.Digest[:], other.Digest[:])
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f.Digest[:])
}

// IsZero is true for the zero value.
func (f Fingerprint) IsZero() bool {
	return f.Digest == Digest{} && f.Computed.IsZero()
}
