package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeReportWriteFailed, cause, "write report", WithMetadata("run_id", "run-1"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if got := err.Error(); got != "[REPORT_WRITE_FAILED] write report: disk full" {
		t.Fatalf("unexpected message: %s", got)
	}
	if md := err.Metadata(); md["run_id"] != "run-1" {
		t.Fatalf("unexpected metadata: %#v", md)
	}

	wrapped := fmt.Errorf("stage reflection: %w", err)
	if CodeOf(wrapped) != CodeReportWriteFailed {
		t.Fatalf("expected code through fmt wrapping, got %s", CodeOf(wrapped))
	}
	if !HasCode(wrapped, CodeReportWriteFailed) {
		t.Fatalf("expected HasCode to match")
	}
	if HasCode(wrapped, CodeDeliveryFailed) {
		t.Fatalf("unexpected code match")
	}
}

func TestDefaultsFromRegistry(t *testing.T) {
	err := New(CodeDeliveryFailed, "")
	if err.Message() != "failed to deliver report" {
		t.Fatalf("unexpected default message: %s", err.Message())
	}
	if err.Retryable() {
		t.Fatalf("delivery failures should not be retried")
	}
	if !err.ShouldAlert() {
		t.Fatalf("delivery failures should alert")
	}
	if !RetryableError(New(CodeStageFailed, "")) {
		t.Fatalf("stage failures should be retryable")
	}
}

func TestOverridesWinOverRegistry(t *testing.T) {
	err := New(CodeStageFailed, "market", WithRetryable(false), WithAlert(false), WithSeverity(SeverityCritical))
	if err.Retryable() || err.ShouldAlert() {
		t.Fatalf("expected overrides to disable retry and alert")
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
}

func TestPlainErrorsFallBackToUnknown(t *testing.T) {
	plain := stdErrors.New("boom")
	if CodeOf(plain) != CodeUnknown {
		t.Fatalf("expected unknown code")
	}
	if RetryableError(plain) || ShouldAlert(plain) {
		t.Fatalf("plain errors should not be retryable or alert")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should map to unknown")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "SEARCH_THROTTLED"
	Register(code, Attributes{Message: "search throttled", Severity: SeverityWarning, Retryable: true})

	err := New(code, "")
	if err.Message() != "search throttled" || !err.Retryable() {
		t.Fatalf("unexpected registered attributes: %+v", AttributesOf(code))
	}
}
