package main

import (
	"os"
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("PORTALSYNC_TEST_INT", "42")
	got := intEnv("PORTALSYNC_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("PORTALSYNC_TEST_INT_BAD", "not-a-number")
	got := intEnv("PORTALSYNC_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("PORTALSYNC_TEST_DURATION", "150ms")
	got := durationEnv("PORTALSYNC_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("PORTALSYNC_TEST_INT_UNSET")
	_ = os.Unsetenv("PORTALSYNC_TEST_DURATION_UNSET")

	if got := intEnv("PORTALSYNC_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("PORTALSYNC_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}

func TestCartDSNFromEnvPrecedence(t *testing.T) {
	t.Setenv("PORTALSYNC_CART_DSN", "postgres://localhost/portal")
	t.Setenv("PORTALSYNC_DATA_DIR", "/var/lib/portal")
	if got := cartDSNFromEnv(); got != "postgres://localhost/portal" {
		t.Fatalf("dsn = %q", got)
	}

	t.Setenv("PORTALSYNC_CART_DSN", "")
	if got := cartDSNFromEnv(); got != "file:///var/lib/portal" {
		t.Fatalf("dsn = %q", got)
	}

	t.Setenv("PORTALSYNC_DATA_DIR", "")
	if got := cartDSNFromEnv(); got != "memory://" {
		t.Fatalf("dsn = %q", got)
	}
}
