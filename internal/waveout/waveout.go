// Package waveout models the platform audio-output surface the legacy
// speech engine writes to, and the interception layer that diverts those
// calls into the capture pipeline instead of real hardware.
package waveout

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Format describes the raw PCM layout announced by the engine on open.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign returns the byte size of one sample frame (all channels).
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the playback data rate for the format.
// A fallback of 22050 is used if the format is incomplete, matching the
// engine's usual 11025 Hz 16-bit mono output.
func (f Format) BytesPerSecond() int {
	bps := f.SampleRate * f.BlockAlign()
	if bps <= 0 {
		return 22050
	}
	return bps
}

// Valid reports whether the format carries enough information to interpret
// PCM data.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && (f.BitsPerSample == 8 || f.BitsPerSample == 16)
}

// Handle identifies an open output device to the engine. The interceptor
// fabricates handle values; they carry no meaning beyond identity and are
// never used to decide whether a call came from the engine.
type Handle uintptr

// Header is one buffer submitted through the device, mirroring the
// platform's wave header: payload plus prepared/done bookkeeping flags.
type Header struct {
	Data     []byte
	Prepared bool
	Done     bool
}

// Device is the audio-output entry-point surface.
type Device interface {
	Open(deviceID int, f Format, cb Callback) (Handle, error)
	PrepareHeader(h Handle, hdr *Header) error
	Write(h Handle, hdr *Header) error
	UnprepareHeader(h Handle, hdr *Header) error
	Reset(h Handle) error
	Close(h Handle) error
}

// Sink receives PCM buffers diverted away from real hardware.
type Sink interface {
	// Push hands one captured buffer to the capture pipeline. It may block
	// the calling goroutine briefly for pacing, and returns false when the
	// buffer was not captured (capture gated off).
	Push(data []byte) bool
}

// ErrClosed is returned for operations on a handle that is not open.
var ErrClosed = errors.New("waveout: device not open")

// ErrNoDevice is returned when a non-engine call cannot be forwarded
// because no real device was configured.
var ErrNoDevice = errors.New("waveout: no forwarding device configured")

// Interceptor implements Device. Calls that originate from the wrapped
// engine are answered synthetically and their audio diverted into the Sink;
// every other caller is forwarded untouched to the real device.
type Interceptor struct {
	// FromEngine decides whether the current call originates from the
	// wrapped engine. It is resolved per call site, never from the handle
	// value (the engine only ever sees handles this layer fabricated).
	FromEngine func() bool

	// Forward is the real device for non-engine callers. May be nil.
	Forward Device

	sink Sink

	mu     sync.Mutex
	open   bool
	format Format
	cb     Callback

	formatKnown atomic.Bool
}

// NewInterceptor returns an interceptor diverting engine audio into sink.
func NewInterceptor(sink Sink, fromEngine func() bool) *Interceptor {
	return &Interceptor{
		FromEngine: fromEngine,
		sink:       sink,
	}
}

func (i *Interceptor) fromEngine() bool {
	return i.FromEngine != nil && i.FromEngine()
}

// handle fabricates the engine-visible device handle. Identity of the
// interceptor itself is enough; there is only one capture session.
func (i *Interceptor) handle() Handle { return 1 }

// Open records the engine's requested PCM format and completion callback
// and reports success without touching hardware.
func (i *Interceptor) Open(deviceID int, f Format, cb Callback) (Handle, error) {
	if !i.fromEngine() {
		if i.Forward == nil {
			return 0, ErrNoDevice
		}
		return i.Forward.Open(deviceID, f, cb)
	}

	i.mu.Lock()
	i.open = true
	i.format = f
	i.cb = cb
	i.mu.Unlock()
	i.formatKnown.Store(f.Valid())

	notify(cb, MsgOpen, nil)
	return i.handle(), nil
}

// PrepareHeader marks the buffer prepared without driver involvement.
func (i *Interceptor) PrepareHeader(h Handle, hdr *Header) error {
	if !i.fromEngine() {
		if i.Forward == nil {
			return ErrNoDevice
		}
		return i.Forward.PrepareHeader(h, hdr)
	}
	if hdr != nil {
		hdr.Prepared = true
	}
	return nil
}

// UnprepareHeader clears the prepared flag.
func (i *Interceptor) UnprepareHeader(h Handle, hdr *Header) error {
	if !i.fromEngine() {
		if i.Forward == nil {
			return ErrNoDevice
		}
		return i.Forward.UnprepareHeader(h, hdr)
	}
	if hdr != nil {
		hdr.Prepared = false
	}
	return nil
}

// Write is the capture entry point. The buffer is handed to the sink; the
// completion notification fires whether or not the buffer was captured, so
// the engine's internal state machine never stalls on a gated-off write.
func (i *Interceptor) Write(h Handle, hdr *Header) error {
	if !i.fromEngine() {
		if i.Forward == nil {
			return ErrNoDevice
		}
		return i.Forward.Write(h, hdr)
	}
	if hdr == nil {
		return ErrClosed
	}

	if len(hdr.Data) > 0 && i.sink != nil {
		// Push applies gating and pacing; a false return means the buffer
		// was discarded, which still counts as played from the engine's
		// point of view.
		i.sink.Push(hdr.Data)
	}

	hdr.Done = true
	i.mu.Lock()
	cb := i.cb
	i.mu.Unlock()
	notify(cb, MsgDone, hdr)
	return nil
}

// Reset succeeds without doing anything for the engine's caller.
func (i *Interceptor) Reset(h Handle) error {
	if !i.fromEngine() {
		if i.Forward == nil {
			return ErrNoDevice
		}
		return i.Forward.Reset(h)
	}
	return nil
}

// Close signals the registered completion mechanism so the engine believes
// the device closed cleanly.
func (i *Interceptor) Close(h Handle) error {
	if !i.fromEngine() {
		if i.Forward == nil {
			return ErrNoDevice
		}
		return i.Forward.Close(h)
	}

	i.mu.Lock()
	cb := i.cb
	i.open = false
	i.mu.Unlock()

	notify(cb, MsgClose, nil)
	return nil
}

// Format returns the PCM format learned from the most recent engine open
// call, and whether one has been observed yet.
func (i *Interceptor) Format() (Format, bool) {
	if !i.formatKnown.Load() {
		return Format{}, false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.format, true
}
