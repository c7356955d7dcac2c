package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvDefaults(t *testing.T) {
	if got := GetEnv("GATEKEEPER_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv default: got %q", got)
	}
	t.Setenv("GATEKEEPER_TEST_SET", "value")
	if got := GetEnv("GATEKEEPER_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("GetEnv set: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("GATEKEEPER_TEST_INT", "42")
	if got := GetEnvInt("GATEKEEPER_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt: got %d", got)
	}
	t.Setenv("GATEKEEPER_TEST_INT", "not-a-number")
	if got := GetEnvInt("GATEKEEPER_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt invalid: got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("GATEKEEPER_TEST_BOOL", "true")
	if !GetEnvBool("GATEKEEPER_TEST_BOOL", false) {
		t.Fatal("GetEnvBool: expected true")
	}
	t.Setenv("GATEKEEPER_TEST_BOOL", "nope")
	if !GetEnvBool("GATEKEEPER_TEST_BOOL", true) {
		t.Fatal("GetEnvBool invalid: expected default true")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("GATEKEEPER_TEST_DUR", "90m")
	if got := GetEnvDuration("GATEKEEPER_TEST_DUR", time.Hour); got != 90*time.Minute {
		t.Fatalf("GetEnvDuration: got %v", got)
	}
	t.Setenv("GATEKEEPER_TEST_DUR", "soon")
	if got := GetEnvDuration("GATEKEEPER_TEST_DUR", time.Hour); got != time.Hour {
		t.Fatalf("GetEnvDuration invalid: got %v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if got := GetLogLevel(); got != logrus.DebugLevel {
		t.Fatalf("GetLogLevel: got %v", got)
	}
	t.Setenv("LOG_LEVEL", "")
	if got := GetLogLevel(); got != logrus.InfoLevel {
		t.Fatalf("GetLogLevel default: got %v", got)
	}
}
