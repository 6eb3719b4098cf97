// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireWindows(t)
//	    testutil.RequireEngineLibrary(t)
//	    ...
//	}
package testutil

import (
	"os"
	"runtime"
	"testing"
)

// EngineEnvVar names the environment variable pointing at the engine
// shared library for integration tests.
const EngineEnvVar = "SOFTVOICE_ENGINE_PATH"

// RequireEngineLibrary skips the test unless the SOFTVOICE_ENGINE_PATH
// environment variable points at an existing engine library. It returns the
// resolved path.
func RequireEngineLibrary(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv(EngineEnvVar)
	if p == "" {
		tb.Skipf("engine library not configured; set %s to run this test", EngineEnvVar)
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("engine library not found at %s=%q: %v", EngineEnvVar, p, err)
	}

	return p
}

// RequireWindows skips the test on hosts that cannot load the native engine.
func RequireWindows(tb testing.TB) {
	tb.Helper()

	if runtime.GOOS != "windows" {
		tb.Skipf("native engine requires windows; running on %s", runtime.GOOS)
	}
}

// SilencePCM16 returns n frames of 16-bit silence as raw little-endian bytes.
func SilencePCM16(n int) []byte {
	return make([]byte, n*2)
}

// SilencePCM8 returns n frames of 8-bit unsigned silence (centered at 128).
func SilencePCM8(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 128
	}

	return b
}
