package sim

import (
	"crypto/md5" //nolint:gosec // MD5 is the content address, not a security primitive
	"encoding/base32"

	"github.com/zeebo/blake3"
)

// Addresses have the form <md5 half> "G" <blake3 half>. Both halves are
// unpadded base32hex. The canonical form is the raw digest bytes.
const (
	md5Size       = md5.Size
	secondSize    = 10
	canonicalSize = md5Size + secondSize
	addressSep    = "G"
)

var addressEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

var (
	md5Len    = addressEncoding.EncodedLen(md5Size)
	secondLen = addressEncoding.EncodedLen(secondSize)
)

// Domain keys for the second address half. A clip and a blob with the same
// bytes get different addresses.
var (
	clipDomainKey = domainKey("omnicas.sim.clip")
	blobDomainKey = domainKey("omnicas.sim.blob")
)

func domainKey(name string) [32]byte {
	var k [32]byte
	copy(k[:], name)
	return k
}

func keyedSum(key [32]byte, data []byte) []byte {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("sim: blake3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return h.Sum(nil)[:secondSize]
}

// address derives a content address from data. A non-empty nonce replaces
// data as the input of the second half.
func address(key [32]byte, data []byte, nonce string) string {
	first := md5.Sum(data) //nolint:gosec
	second := data
	if nonce != "" {
		second = []byte(nonce)
	}
	return addressEncoding.EncodeToString(first[:]) + addressSep + addressEncoding.EncodeToString(keyedSum(key, second))
}

func clipAddress(descriptor []byte, nonce string) string {
	return address(clipDomainKey, descriptor, nonce)
}

func blobAddress(data []byte) string {
	return address(blobDomainKey, data, "")
}

// canonical returns the binary form of an address, or false when id is not
// well formed.
func canonical(id string) ([]byte, bool) {
	if len(id) != md5Len+len(addressSep)+secondLen || id[md5Len:md5Len+1] != addressSep {
		return nil, false
	}
	first, err := addressEncoding.DecodeString(id[:md5Len])
	if err != nil {
		return nil, false
	}
	second, err := addressEncoding.DecodeString(id[md5Len+1:])
	if err != nil {
		return nil, false
	}
	return append(first, second...), true
}

// fromCanonical is the inverse of canonical.
func fromCanonical(b []byte) (string, bool) {
	if len(b) != canonicalSize {
		return "", false
	}
	return addressEncoding.EncodeToString(b[:md5Size]) + addressSep + addressEncoding.EncodeToString(b[md5Size:]), true
}

// validAddress reports whether id is a well-formed address.
func validAddress(id string) bool {
	_, ok := canonical(id)
	return ok
}
