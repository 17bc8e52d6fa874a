package store

import (
	"bytes"
	"testing"
)

func TestHashBytes(t *testing.T) {
	data := []byte("hello world")

	tests := []struct {
		hashType HashType
		expected string
	}{
		{HashMD5, "5eb63bbbe01eeed093cb22bb8f5acdc3"},
		{HashSHA256, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}

	for _, tt := range tests {
		t.Run(string(tt.hashType), func(t *testing.T) {
			if result := HashBytes(data, tt.hashType); result != tt.expected {
				t.Errorf("HashBytes(%s) = %s, want %s", tt.hashType, result, tt.expected)
			}
		})
	}
}

func TestHashBLAKE3MatchesReader(t *testing.T) {
	data := []byte("fixed content")
	sum, err := HashReader(bytes.NewReader(data), HashBLAKE3)
	if err != nil {
		t.Fatalf("HashReader failed: %v", err)
	}
	if len(sum) != 64 {
		t.Errorf("BLAKE3 hex length = %d, want 64", len(sum))
	}
	if sum != HashBytes(data, HashBLAKE3) {
		t.Error("HashReader and HashBytes disagree")
	}
}

func TestHashUnsupported(t *testing.T) {
	if result := HashBytes([]byte("x"), HashType("crc")); result != "" {
		t.Errorf("HashBytes with unsupported type = %q, want empty", result)
	}
	if _, err := HashReader(bytes.NewReader(nil), HashType("crc")); err != ErrNotSupported {
		t.Errorf("HashReader error = %v, want ErrNotSupported", err)
	}
}

func TestHashSetEqual(t *testing.T) {
	a := HashSet{HashMD5: "x", HashSHA256: "y"}
	if !a.Equal(HashSet{HashMD5: "x"}) {
		t.Error("sets with a matching common hash should be equal")
	}
	if a.Equal(HashSet{HashMD5: "z"}) {
		t.Error("sets with a differing common hash should not be equal")
	}
	if a.Equal(HashSet{HashBLAKE3: "x"}) {
		t.Error("sets without a common hash should not be equal")
	}
	if a.Get(HashBLAKE3) != "" {
		t.Error("Get of missing type should be empty")
	}
}
