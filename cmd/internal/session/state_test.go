package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]State]bool{
		{StateConnected, StateAuthenticating}:        true,
		{StateAuthenticating, StateAuthenticated}:    true,
		{StateAuthenticated, StateProcessingVectors}: true,
		{StateConnected, StateClosed}:                true,
		{StateAuthenticating, StateClosed}:           true,
		{StateAuthenticated, StateClosed}:            true,
		{StateProcessingVectors, StateClosed}:        true,
	}

	states := []State{StateConnected, StateAuthenticating, StateAuthenticated, StateProcessingVectors, StateClosed}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s)=%v want=%v", from, to, got, want)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if got := StateProcessingVectors.String(); got != "processing_vectors" {
		t.Fatalf("String()=%q", got)
	}
	if got := State(99).String(); got != "unknown" {
		t.Fatalf("String()=%q want unknown", got)
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: "completed"},
		{err: fmt.Errorf("handshake: %w", ErrHashMismatch), want: "hash_mismatch"},
		{err: fmt.Errorf("handshake: %w", ErrUnknownLogin), want: "unknown_login"},
		{err: protoErr("batch.count", ErrBatchBounds, nil), want: "batch_bounds"},
		{err: protoErr("batch.data", ErrTransport, errors.New("EOF")), want: "transport"},
		{err: errors.New("boom"), want: "internal"},
	}

	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v)=%q want=%q", tc.err, got, tc.want)
		}
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	cause := errors.New("unexpected EOF")
	err := protoErr("batch.size", ErrTransport, cause)

	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if got, want := err.Error(), "batch.size: transport failure: unexpected EOF"; got != want {
		t.Fatalf("Error()=%q want=%q", got, want)
	}
	if Rejected(err) {
		t.Fatalf("transport failure reported as rejection")
	}
}
