package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCode(t *testing.T) {
	meta := MetadataFor(CodeInsufficientStock)
	if meta.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", meta.HTTPStatus)
	}
	if !meta.DetailsAllowed {
		t.Fatal("insufficient stock must expose remediation details")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("BOGUS"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(CodeDependency, cause, "stock update failed")

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be discoverable")
	}
	typed := As(fmt.Errorf("outer: %w", err))
	if typed == nil || typed.Code() != CodeDependency {
		t.Fatalf("expected typed error through wrapping, got %v", typed)
	}
}

func TestWithDetailsRoundTrip(t *testing.T) {
	details := map[string]any{"available": 3, "requested": 5}
	err := New(CodeInsufficientStock, "not enough units").WithDetails(details)

	got, ok := err.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", err.Details())
	}
	if got["available"] != 3 {
		t.Fatalf("unexpected details: %v", got)
	}
}

func TestAsOnPlainError(t *testing.T) {
	if As(errors.New("plain")) != nil {
		t.Fatal("plain errors must not coerce")
	}
}
