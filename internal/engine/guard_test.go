package engine

import (
	"errors"
	"testing"
)

func TestGuardedPassesResult(t *testing.T) {
	rc, err := guarded("test", func() int32 { return 7 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != 7 {
		t.Fatalf("rc = %d, want 7", rc)
	}
}

func TestGuardedAbsorbsPanic(t *testing.T) {
	rc, err := guarded("test", func() int32 { panic("access violation") })
	if !errors.Is(err, ErrEngineFault) {
		t.Fatalf("err = %v, want ErrEngineFault", err)
	}
	if rc != -1 {
		t.Fatalf("rc = %d, want -1", rc)
	}
}
