package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKindSentinel(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(KindTransport, "publish", "broker rejected message", cause)

	if !errors.Is(err, ErrTransport) {
		t.Error("expected error to match ErrTransport")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("transport error must not match ErrValidation")
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(KindValidation, "build action", "missing fields: ActionType", nil)
	want := "build action: missing fields: ActionType"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	bare := &Error{Kind: KindConfiguration}
	if bare.Error() != "configuration" {
		t.Errorf("expected kind as fallback message, got %q", bare.Error())
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", NewError(KindConfiguration, "", "no bus", nil))
	if got := KindOf(wrapped); got != KindConfiguration {
		t.Errorf("expected configuration, got %q", got)
	}

	if got := KindOf(fmt.Errorf("receive: %w", ErrMalformedMessage)); got != KindMalformedMessage {
		t.Errorf("expected malformed_message, got %q", got)
	}

	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind, got %q", got)
	}
}

func TestEnvelopeClone(t *testing.T) {
	env := &Envelope{Topic: TopicAction, Payload: []byte(`{"ActionType":"camera"}`), Key: "camera"}
	c := env.Clone()
	c.Payload[0] = 'X'
	if env.Payload[0] != '{' {
		t.Error("clone shares payload backing array with original")
	}
}
