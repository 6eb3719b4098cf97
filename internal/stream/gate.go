package stream

import "sync/atomic"

// Gate tracks which utterance generation is live. Two counters cover two
// roles: "active" gates audio capture, "current" gates delivery to the
// consumer. Capture is closed slightly before the consumer finishes
// draining, so stale audio from an aborted utterance can never sneak in
// after cancellation.
type Gate struct {
	active  atomic.Uint32
	current atomic.Uint32
}

// Begin marks gen as both the capturing and the delivering generation.
func (g *Gate) Begin(gen uint32) {
	g.current.Store(gen)
	g.active.Store(gen)
}

// CloseCapture stops audio capture while leaving the delivery side open so
// already-queued audio can still drain.
func (g *Gate) CloseCapture() {
	g.active.Store(0)
}

// CloseAll stops both capture and delivery, as on stop or teardown.
func (g *Gate) CloseAll() {
	g.active.Store(0)
	g.current.Store(0)
}

// Active returns the generation currently eligible for capture, zero if
// capture is gated off.
func (g *Gate) Active() uint32 { return g.active.Load() }

// Current returns the generation currently eligible for delivery, zero if
// nothing may be delivered.
func (g *Gate) Current() uint32 { return g.current.Load() }

// CaptureEligible reports whether captured audio should be queued right
// now, and under which generation tag.
func (g *Gate) CaptureEligible() (uint32, bool) {
	gen := g.active.Load()
	if gen == 0 || gen != g.current.Load() {
		return 0, false
	}
	return gen, true
}
