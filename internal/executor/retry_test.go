package executor

import (
	"errors"
	"testing"
	"time"

	"github.com/basket/graphrun/internal/storeerr"
)

func TestIsTransient_ClassifiesByKind(t *testing.T) {
	if !isTransient(storeerr.WrapTransient(errors.New("disk full"))) {
		t.Error("WrapTransient error should be transient")
	}
	if isTransient(storeerr.NewNotFound("run", "r1")) {
		t.Error("NotFound error should not be transient")
	}
	if isTransient(errors.New("plain")) {
		t.Error("unclassified error should not be transient")
	}
}

func TestBackoffDelay_GrowsAndCapsAtMax(t *testing.T) {
	d1 := backoffDelay("r1", 1)
	d2 := backoffDelay("r1", 2)
	d3 := backoffDelay("r1", 10)

	if d1 < retryBaseDelay || d1 >= retryBaseDelay+retryBaseDelay/2+time.Millisecond {
		t.Fatalf("attempt 1 delay %v out of expected [base, base+jitter] range", d1)
	}
	if d2 <= d1 {
		t.Fatalf("attempt 2 delay %v should exceed attempt 1 delay %v", d2, d1)
	}
	if d3 > retryMaxDelay {
		t.Fatalf("attempt 10 delay %v exceeds retryMaxDelay %v", d3, retryMaxDelay)
	}
}

func TestBackoffDelay_DeterministicForSameInput(t *testing.T) {
	a := backoffDelay("run-x", 2)
	b := backoffDelay("run-x", 2)
	if a != b {
		t.Fatalf("backoffDelay is not deterministic: %v vs %v", a, b)
	}
}

func TestErrorFingerprint_NormalizesCaseAndWhitespace(t *testing.T) {
	a := errorFingerprint("  Connection Reset  ")
	b := errorFingerprint("connection reset")
	if a != b {
		t.Fatalf("fingerprints differ for equivalent messages: %q vs %q", a, b)
	}
}

func TestErrorFingerprint_DifferentMessagesDiffer(t *testing.T) {
	a := errorFingerprint("timeout")
	b := errorFingerprint("connection refused")
	if a == b {
		t.Fatal("distinct error messages produced the same fingerprint")
	}
}
