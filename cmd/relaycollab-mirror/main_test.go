package main

import (
	"testing"
	"time"
)

func TestFloatEnvParsesValue(t *testing.T) {
	t.Setenv("RELAYCOLLAB_TEST_FLOAT", "0.35")
	got := floatEnv("RELAYCOLLAB_TEST_FLOAT", 0.1)
	if got != 0.35 {
		t.Fatalf("expected 0.35, got %f", got)
	}
}

func TestFloatEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("RELAYCOLLAB_TEST_FLOAT_BAD", "oops")
	got := floatEnv("RELAYCOLLAB_TEST_FLOAT_BAD", 0.25)
	if got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("RELAYCOLLAB_TEST_BASE_URL", "  ")
	if got := envOrDefault("RELAYCOLLAB_TEST_BASE_URL", "http://fallback"); got != "http://fallback" {
		t.Fatalf("expected blank value to fall back, got %q", got)
	}
	t.Setenv("RELAYCOLLAB_TEST_BASE_URL", " http://collab.internal ")
	if got := envOrDefault("RELAYCOLLAB_TEST_BASE_URL", "http://fallback"); got != "http://collab.internal" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestDurationEnvTrimsAndParses(t *testing.T) {
	t.Setenv("RELAYCOLLAB_TEST_DEBOUNCE", " 250ms ")
	if got := durationEnv("RELAYCOLLAB_TEST_DEBOUNCE", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
}
