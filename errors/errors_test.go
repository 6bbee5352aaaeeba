package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"failed to connect", ErrFailedToConnect, true},
		{"resource not ready", ErrResourceNotReady, true},
		{"orchestration unavailable", ErrOrchestrationUnavailable, true},
		{"back pressure", ErrBackPressureExceeded, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped connect error", fmt.Errorf("register: %w", ErrFailedToConnect), true},
		{"timeout in message", errors.New("dial tcp: i/o timeout"), true},
		{"connection refused in message", errors.New("dial tcp 127.0.0.1:5896: connection refused"), true},
		{"invalid configuration", ErrInvalidConfiguration, false},
		{"encoder error", ErrEncoder, false},
		{"arbitrary error", errors.New("something else"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", test.err, got, test.expected)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	if !IsInvalid(ErrInvalidConfiguration) {
		t.Error("ErrInvalidConfiguration should be invalid")
	}
	if !IsInvalid(fmt.Errorf("capacity: %w", ErrInvalidConfiguration)) {
		t.Error("wrapped ErrInvalidConfiguration should be invalid")
	}
	if IsInvalid(ErrFailedToConnect) {
		t.Error("ErrFailedToConnect should not be invalid")
	}
	if IsInvalid(nil) {
		t.Error("nil should not be invalid")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrEncoder) {
		t.Error("ErrEncoder should be fatal")
	}
	if IsFatal(ErrBackPressureExceeded) {
		t.Error("ErrBackPressureExceeded should not be fatal")
	}
	if IsFatal(nil) {
		t.Error("nil should not be fatal")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"invalid configuration", ErrInvalidConfiguration, ErrorInvalid},
		{"encoder failure", ErrEncoder, ErrorFatal},
		{"connect failure", ErrFailedToConnect, ErrorTransient},
		{"unknown defaults to transient", errors.New("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("Classify(%v) = %v, want %v", test.err, got, test.expected)
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	wrapped := Wrap(base, "Sender", "Send", "enqueue payload")
	if wrapped.Error() != "Sender.Send: enqueue payload failed: boom" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("Wrap must preserve the error chain")
	}

	if Wrap(nil, "Sender", "Send", "enqueue payload") != nil {
		t.Error("Wrap(nil) must return nil")
	}

	transient := WrapTransient(base, "Registrar", "Register", "dial")
	var ce *ClassifiedError
	if !errors.As(transient, &ce) {
		t.Fatal("WrapTransient must produce a ClassifiedError")
	}
	if ce.Class != ErrorTransient {
		t.Errorf("expected transient class, got %v", ce.Class)
	}
	if ce.Component != "Registrar" || ce.Operation != "Register" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}

	invalid := WrapInvalid(ErrInvalidConfiguration, "Client", "New", "validate capacity")
	if !IsInvalid(invalid) {
		t.Error("WrapInvalid result must classify as invalid")
	}

	fatal := WrapFatal(ErrEncoder, "Sender", "SendImage", "encode frame")
	if !IsFatal(fatal) {
		t.Error("WrapFatal result must classify as fatal")
	}
	if !errors.Is(fatal, ErrEncoder) {
		t.Error("WrapFatal must preserve the sentinel")
	}
}
