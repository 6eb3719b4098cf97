//go:build !windows

package main

import (
	"errors"

	"github.com/tgeczy/softvoice-wrapper/internal/config"
	"github.com/tgeczy/softvoice-wrapper/internal/doctor"
	"github.com/tgeczy/softvoice-wrapper/internal/engine"
	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

var errNativeUnsupported = errors.New("the native engine requires windows; use --mock elsewhere")

func newNativeEngineFactory(config.Config) (func(dev waveout.Device) (engine.Engine, error), func(), error) {
	return nil, nil, errNativeUnsupported
}

// entryPointProbe returns nil on hosts that cannot load the library, which
// makes the doctor skip the probe.
func entryPointProbe(string) doctor.ProbeFunc {
	return nil
}
