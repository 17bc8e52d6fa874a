package sim

import (
	"bytes"
	"testing"
)

func TestAddress(t *testing.T) {
	data := []byte("descriptor")

	id := clipAddress(data, "")
	if !validAddress(id) {
		t.Fatalf("clipAddress returned malformed %q", id)
	}
	if again := clipAddress(data, ""); again != id {
		t.Errorf("clipAddress not deterministic: %s vs %s", id, again)
	}
	if blob := blobAddress(data); blob == id {
		t.Error("clip and blob addresses collide for the same bytes")
	}
	if nonced := clipAddress(data, "nonce"); nonced == id {
		t.Error("nonce did not change the address")
	}
	if other := clipAddress([]byte("descriptor2"), ""); other == id {
		t.Error("different content produced the same address")
	}
}

func TestCanonical(t *testing.T) {
	id := blobAddress([]byte("payload"))

	b, ok := canonical(id)
	if !ok {
		t.Fatalf("canonical(%q) failed", id)
	}
	if len(b) != canonicalSize {
		t.Errorf("canonical length = %d, want %d", len(b), canonicalSize)
	}
	back, ok := fromCanonical(b)
	if !ok || back != id {
		t.Errorf("fromCanonical = %q, %t, want %q", back, ok, id)
	}

	if _, ok := fromCanonical(bytes.Repeat([]byte{1}, canonicalSize-1)); ok {
		t.Error("fromCanonical accepted a short id")
	}
}

func TestValidAddress(t *testing.T) {
	valid := clipAddress([]byte("x"), "")
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"short", valid[:len(valid)-1], false},
		{"bad separator", valid[:md5Len] + "H" + valid[md5Len+1:], false},
		{"lowercase", valid[:md5Len] + "G" + "zzzzzzzzzzzzzzzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validAddress(tt.id); got != tt.want {
				t.Errorf("validAddress(%q) = %t, want %t", tt.id, got, tt.want)
			}
		})
	}
}
