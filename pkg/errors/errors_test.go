package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeAccountLocked, http.StatusForbidden},
		{CodeActivationCode, http.StatusUnprocessableEntity},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NO_SUCH_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "calling downstream")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	typed := New(CodeNotFound, "missing user")
	wrapped := fmt.Errorf("outer: %w", typed)

	found := As(wrapped)
	if found == nil || found.Code() != CodeNotFound {
		t.Fatalf("expected typed error in chain, got %v", found)
	}
	if !IsCode(wrapped, CodeNotFound) {
		t.Fatalf("expected IsCode to match through the chain")
	}
	if IsCode(wrapped, CodeConflict) {
		t.Fatalf("expected IsCode to reject other codes")
	}
}

func TestAsReturnsNilForUntypedError(t *testing.T) {
	if As(stdErrors.New("plain")) != nil {
		t.Fatalf("expected nil for untyped error")
	}
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "validation failed").WithDetails(map[string]string{"email": "is required"})
	details, ok := err.Details().(map[string]string)
	if !ok || details["email"] != "is required" {
		t.Fatalf("expected details to round trip, got %v", err.Details())
	}
}

func TestDumpFlattensChain(t *testing.T) {
	cause := stdErrors.New("root")
	err := Wrap(CodeInternal, cause, "wrapped")

	dump := Dump(err)
	if dump.Code != CodeInternal {
		t.Fatalf("expected code in dump, got %s", dump.Code)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("expected full chain in dump, got %v", dump.Chain)
	}
}
