package main

import (
	"github.com/tgeczy/softvoice-wrapper/internal/config"
	"github.com/tgeczy/softvoice-wrapper/internal/engine"
	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// engineFactory returns the engine constructor handed to the bridge, plus
// an optional unload hook run after final release.
func engineFactory(cfg config.Config, useMock bool) (func(dev waveout.Device) (engine.Engine, error), func(), error) {
	if useMock {
		return func(dev waveout.Device) (engine.Engine, error) {
			return engine.NewMock(dev), nil
		}, nil, nil
	}

	return newNativeEngineFactory(cfg)
}
