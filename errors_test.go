package omnicas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTranslate(t *testing.T) {
	if err := translate("Clip.Write", nil); err != nil {
		t.Errorf("translate(nil) = %v", err)
	}

	err := translate("Clip.Write", ErrCodeClipNotFound)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("translate(code) = %T, want *Error", err)
	}
	if e.Op != "Clip.Write" || e.Code != ErrCodeClipNotFound || e.Class != ClassServer {
		t.Errorf("translate(code) = %+v", e)
	}

	native := &Error{Code: ErrCodeTagTree, Message: "cannot delete top tag"}
	err = translate("Tag.Delete", native)
	if !errors.As(err, &e) || e.Op != "Tag.Delete" || e.Class != ClassClient {
		t.Errorf("translate(*Error) = %+v", err)
	}
	if native.Op != "" {
		t.Error("translate modified the engine error")
	}

	err = translate("Clip.Write", context.Canceled)
	if !errors.Is(err, ErrCodeSDKInternal) || !errors.Is(err, context.Canceled) {
		t.Errorf("translate(foreign) = %v", err)
	}

	wrapped := fmt.Errorf("store: %w", ErrCodeOnHold)
	if err := translate("Pool.ClipDelete", wrapped); !errors.Is(err, ErrCodeOnHold) {
		t.Errorf("translate(wrapped code) = %v", err)
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Op: "Pool.ClipOpen", Code: ErrCodeClipNotFound, Message: "abc"}
	s := err.Error()
	for _, want := range []string{"Pool.ClipOpen", "clip not found", "abc", "-10021"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		notFound  bool
		retention bool
		class     ErrorClass
	}{
		{ErrCodeClipNotFound, true, false, ClassServer},
		{ErrCodeTagNotFound, true, false, ClassClient},
		{ErrCodeAttrNotFound, true, false, ClassClient},
		{ErrCodePathNotFound, true, false, ClassClient},
		{ErrCodeProfileClipNotFound, true, false, ClassClient},
		{ErrCodeRetentionNotExpired, false, true, ClassServer},
		{ErrCodeRetentionOutOfBounds, false, true, ClassClient},
		{ErrCodeOnHold, false, true, ClassServer},
		{ErrCodeNoPool, false, false, ClassNetwork},
		{ErrCodeStream, false, false, ClassClient},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := translate("op", tt.code)
			if got := IsNotFound(err); got != tt.notFound {
				t.Errorf("IsNotFound = %t, want %t", got, tt.notFound)
			}
			if got := IsRetentionError(err); got != tt.retention {
				t.Errorf("IsRetentionError = %t, want %t", got, tt.retention)
			}
			if got := ErrorClassOf(err); got != tt.class {
				t.Errorf("ErrorClassOf = %v, want %v", got, tt.class)
			}
		})
	}

	if ErrorClassOf(errors.New("plain")) != 0 {
		t.Error("ErrorClassOf(plain) != 0")
	}
}

func TestNewError(t *testing.T) {
	err := NewError("Session.OpenPool", ErrorInfo{Code: ErrCodeAuthentication, SystemError: 13, Message: "denied"})
	if err.Class != ClassServer {
		t.Errorf("Class = %v, want server", err.Class)
	}
	info := err.Info()
	if info.Code != ErrCodeAuthentication || info.SystemError != 13 || info.Message != "denied" {
		t.Errorf("Info() = %+v", info)
	}
	if !errors.Is(err, &Error{Code: ErrCodeAuthentication}) {
		t.Error("errors.Is(*Error with same code) = false")
	}
}
