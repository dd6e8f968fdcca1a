package errors

import (
	"fmt"
	"testing"
)

func TestExitCodeUnwrapsTypedErrors(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected 0 for nil error, got %d", got)
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeSigner, "no keys"))
	if got := ExitCode(wrapped); got != int(CodeSigner) {
		t.Fatalf("expected signer exit code, got %d", got)
	}
	if got := ExitCode(fmt.Errorf("plain")); got != int(CodeInternal) {
		t.Fatalf("expected internal exit code, got %d", got)
	}
}

func TestWrapMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeUnavailable, "estimate", fmt.Errorf("timeout"))
	if err.Error() != "estimate: timeout" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if TypeName(CodeBroadcast) != "broadcast_error" {
		t.Fatalf("unexpected type name: %s", TypeName(CodeBroadcast))
	}
}
