package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestCodeOfWalksWrappedChain(t *testing.T) {
	base := New(CodeNotFound, "no such tx")
	wrapped := fmt.Errorf("lookup: %w", base)

	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("expected %s, got %s", CodeNotFound, got)
	}
	if !stdErrors.Is(wrapped, New(CodeNotFound, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors must map to UNKNOWN")
	}
}

func TestRegisterAndAttributes(t *testing.T) {
	const code Code = "TEST_ONLY_CODE"
	Register(code, Attributes{Message: "test", Severity: SeverityWarning, Retryable: true, Alert: true})

	err := New(code, "")
	if err.Message() != "test" {
		t.Fatalf("expected default message from registry, got %q", err.Message())
	}
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityWarning {
		t.Fatalf("unexpected attributes: retry=%v alert=%v sev=%s", err.Retryable(), err.ShouldAlert(), err.Severity())
	}

	overridden := New(code, "x", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if overridden.Retryable() || overridden.ShouldAlert() || overridden.Severity() != SeverityInfo {
		t.Fatalf("options should override registry defaults")
	}
}

func TestMetadataAndMessage(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeUpstreamFailure, cause, "quote request failed", WithMetadata("status", "502"))

	if v, ok := MetadataValue(fmt.Errorf("outer: %w", err), "status"); !ok || v != "502" {
		t.Fatalf("expected metadata status=502, got %q (%v)", v, ok)
	}
	if MessageOf(err) != "quote request failed" {
		t.Fatalf("unexpected message %q", MessageOf(err))
	}
	if MessageOf(cause) != "connection reset" {
		t.Fatalf("plain error message should be Error()")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("wrapped cause should be reachable")
	}
}
