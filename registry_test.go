package omnicas

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, b := &Pool{conn: "a"}, &Clip{}

	if err := r.Register(7, a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(3, b); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(7, b); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register(duplicate) = %v, want ErrAlreadyRegistered", err)
	}
	if err := r.Register(0, b); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Register(0) = %v, want ErrInvalidHandle", err)
	}

	got, err := LookupAs[*Pool](r, 7)
	if err != nil {
		t.Fatalf("LookupAs failed: %v", err)
	}
	if got != a {
		t.Error("LookupAs returned a different wrapper")
	}
	if _, err := LookupAs[*Pool](r, 3); !IsWrongReference(err) {
		t.Errorf("LookupAs(wrong type) = %v, want wrong reference", err)
	}

	if hs := r.Handles(); !slices.Equal(hs, []Handle{3, 7}) {
		t.Errorf("Handles() = %v, want [3 7]", hs)
	}

	if !r.Remove(7) {
		t.Error("Remove(7) = false")
	}
	if r.Remove(7) {
		t.Error("second Remove(7) = true")
	}
	if _, err := r.Lookup(7); !IsWrongReference(err) {
		t.Errorf("Lookup after Remove = %v, want wrong reference", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			if err := r.Register(h, h); err != nil {
				t.Errorf("Register(%d) failed: %v", h, err)
				return
			}
			if _, err := r.Lookup(h); err != nil {
				t.Errorf("Lookup(%d) failed: %v", h, err)
			}
			r.Remove(h)
		}(Handle(i))
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after concurrent removes", r.Len())
	}
}
