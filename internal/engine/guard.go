package engine

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrEngineFault is returned when a call into foreign engine code faulted.
// The fault is absorbed at this boundary and never propagated as a crash;
// this is the single trust seam between the host and the 1990s engine.
var ErrEngineFault = errors.New("engine: foreign call faulted")

// guarded runs one foreign call and converts any panic escaping it into an
// ErrEngineFault result. Keep these call sites tiny: nothing but the
// foreign invocation belongs inside fn.
func guarded(name string, fn func() int32) (rc int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine call faulted", "call", name, "panic", fmt.Sprint(r))
			rc = -1
			err = fmt.Errorf("%w: %s: %v", ErrEngineFault, name, r)
		}
	}()
	return fn(), nil
}
