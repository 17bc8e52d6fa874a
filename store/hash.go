package store

import (
	"crypto/md5" //nolint:gosec // MD5 is the content address, not a security primitive
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// HashType represents a hash algorithm used for content verification.
type HashType string

const (
	// HashNone indicates no hash.
	HashNone HashType = ""

	// HashMD5 is the MD5 hash algorithm. Clip and blob addresses start with it.
	HashMD5 HashType = "md5"

	// HashSHA256 is the SHA-256 hash algorithm.
	HashSHA256 HashType = "sha256"

	// HashBLAKE3 is the BLAKE3 hash algorithm.
	HashBLAKE3 HashType = "blake3"
)

// String returns the string representation of the hash type.
func (h HashType) String() string {
	return string(h)
}

// NewHash creates a new hash.Hash for the given hash type.
// Returns nil if the hash type is not supported.
func NewHash(t HashType) hash.Hash {
	switch t {
	case HashMD5:
		return md5.New() //nolint:gosec
	case HashSHA256:
		return sha256.New()
	case HashBLAKE3:
		return blake3.New()
	default:
		return nil
	}
}

// HashReader returns the hex digest of everything read from r.
func HashReader(r io.Reader, t HashType) (string, error) {
	h := NewHash(t)
	if h == nil {
		return "", ErrNotSupported
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex digest of data, or "" for an unsupported type.
func HashBytes(data []byte, t HashType) string {
	h := NewHash(t)
	if h == nil {
		return ""
	}

	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashSet holds multiple hash values for an object.
type HashSet map[HashType]string

// Get returns the hash value for the given type, or empty string if not present.
func (hs HashSet) Get(t HashType) string {
	if hs == nil {
		return ""
	}
	return hs[t]
}

// Equal reports whether the sets share at least one hash type and every
// shared type has the same value.
func (hs HashSet) Equal(other HashSet) bool {
	if hs == nil || other == nil {
		return false
	}

	foundCommon := false
	for t, v := range hs {
		if ov, ok := other[t]; ok {
			foundCommon = true
			if v != ov {
				return false
			}
		}
	}

	return foundCommon
}
