package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Engine status codes delivered through the window-message protocol.
const (
	codeStarted = 1000
	codeDone    = 1001
	codeError   = 1002

	// Message IDs below the user-message range are platform traffic
	// (timers, commands) that can carry the same status values by
	// accident and must never be treated as engine events.
	msgUserBase = 0x0400
)

// EntryPoints carries the resolved addresses of the engine's exports.
// Resolving them by name is the host loader's job; this binding only calls
// them. Optional entry points are zero when the engine build lacks them.
type EntryPoints struct {
	OpenSpeech  uintptr // (outHandle *int32, window, msg, voice, flags) int32
	CloseSpeech uintptr // (handle) int32
	Abort       uintptr // (handle) int32
	TTS         uintptr // (handle, text, 0, 0, window, 0, 0, 0) int32

	// SetLanguage switches voice without reopening. Optional.
	SetLanguage uintptr

	// Setters maps each parameter to its (handle, value) int32 setter.
	// Missing parameters are reported as ErrUnsupportedParam.
	Setters map[Param]uintptr

	// Window is the opaque message-window value handed to OpenSpeech so
	// the engine has somewhere to post its status codes.
	Window uintptr
}

func (ep EntryPoints) validate() error {
	if ep.OpenSpeech == 0 || ep.CloseSpeech == 0 || ep.Abort == 0 || ep.TTS == 0 {
		return errors.New("engine: required entry point missing")
	}
	return nil
}

// Native drives the legacy engine through resolved entry-point addresses.
// Every foreign call runs under the guarded boundary. The engine's
// window-message completion protocol enters through Notify and leaves as
// Events; the binding reproduces the original driver's learned-message
// filtering so unrelated platform messages cannot fake a completion.
type Native struct {
	ep     EntryPoints
	handle int32
	events chan Event

	// registeredMsg is the engine's registered sync-message ID, zero when
	// the registration was unavailable. activeMsg is the ID actually
	// observed from the engine, learned from traffic.
	registeredMsg uint32
	activeMsg     atomic.Uint32
}

// NewNative binds the resolved entry points. registeredMsg may be zero.
func NewNative(ep EntryPoints, registeredMsg uint32) (*Native, error) {
	if err := ep.validate(); err != nil {
		return nil, err
	}
	return &Native{
		ep:            ep,
		events:        make(chan Event, 16),
		registeredMsg: registeredMsg,
	}, nil
}

// Events delivers translated completion notifications.
func (n *Native) Events() <-chan Event { return n.events }

// Notify is the inlet for the engine's completion protocol. The host glue
// forwards every (messageID, statusCode) pair arriving at the message
// window; Notify filters and translates the ones that are really from the
// engine.
func (n *Native) Notify(msgID uint32, code int) {
	if code != codeStarted && code != codeDone && code != codeError {
		return
	}

	if active := n.activeMsg.Load(); active != 0 {
		if msgID != active {
			return
		}
	} else if n.registeredMsg != 0 && msgID == n.registeredMsg {
		n.activeMsg.Store(msgID)
	} else if msgID < msgUserBase {
		return
	} else {
		n.activeMsg.Store(msgID)
	}

	ev := Event{Kind: EventDone, Code: code}
	switch code {
	case codeStarted:
		ev.Kind = EventStarted
	case codeError:
		ev.Kind = EventFailed
	}

	select {
	case n.events <- ev:
	default:
		// A full channel means the worker is already behind several
		// utterances worth of signals; dropping matches how a flooded
		// message queue behaves.
	}
}

// Open establishes an engine session for the given voice.
func (n *Native) Open(voice int) error {
	var h int32
	rc, err := guarded("OpenSpeech", func() int32 {
		r, _, _ := purego.SyscallN(
			n.ep.OpenSpeech,
			uintptr(unsafe.Pointer(&h)),
			n.ep.Window,
			0,
			uintptr(voice),
			0,
		)
		return int32(r)
	})
	runtime.KeepAlive(&h)
	if err != nil {
		return err
	}
	if rc != 0 || h == 0 {
		return fmt.Errorf("engine: open voice %d failed (rc=%d)", voice, rc)
	}
	n.handle = h
	return nil
}

// Close tears the engine session down.
func (n *Native) Close() error {
	if n.handle == 0 {
		return nil
	}
	h := n.handle
	n.handle = 0
	rc, err := guarded("CloseSpeech", func() int32 {
		r, _, _ := purego.SyscallN(n.ep.CloseSpeech, uintptr(h))
		return int32(r)
	})
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("engine: close failed (rc=%d)", rc)
	}
	return nil
}

// Abort cancels the engine's in-flight utterance.
func (n *Native) Abort() error {
	if n.handle == 0 {
		return ErrNotOpen
	}
	_, err := guarded("Abort", func() int32 {
		r, _, _ := purego.SyscallN(n.ep.Abort, uintptr(n.handle))
		return int32(r)
	})
	return err
}

// Speak submits one text chunk. The text must already be transliterated to
// the engine's legacy code page; it is NUL-terminated here.
func (n *Native) Speak(text string) error {
	if n.handle == 0 {
		return ErrNotOpen
	}
	buf := append([]byte(text), 0)
	rc, err := guarded("TTS", func() int32 {
		r, _, _ := purego.SyscallN(
			n.ep.TTS,
			uintptr(n.handle),
			uintptr(unsafe.Pointer(&buf[0])),
			0,
			0,
			n.ep.Window,
			0,
			0,
			0,
		)
		return int32(r)
	})
	runtime.KeepAlive(buf)
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("engine: speak failed (rc=%d)", rc)
	}
	return nil
}

// Set pushes one numeric parameter.
func (n *Native) Set(p Param, v int) error {
	if n.handle == 0 {
		return ErrNotOpen
	}
	addr, ok := n.ep.Setters[p]
	if !ok || addr == 0 {
		return ErrUnsupportedParam
	}
	rc, err := guarded("Set"+p.String(), func() int32 {
		r, _, _ := purego.SyscallN(addr, uintptr(n.handle), uintptr(v))
		return int32(r)
	})
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("engine: set %s=%d failed (rc=%d)", p, v, rc)
	}
	return nil
}

// SetLanguage switches the active voice in place when the engine build
// supports it.
func (n *Native) SetLanguage(voice int) error {
	if n.handle == 0 {
		return ErrNotOpen
	}
	if n.ep.SetLanguage == 0 {
		return ErrUnsupported
	}
	rc, err := guarded("SetLanguage", func() int32 {
		r, _, _ := purego.SyscallN(n.ep.SetLanguage, uintptr(n.handle), uintptr(voice))
		return int32(r)
	})
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("engine: set language %d failed (rc=%d)", voice, rc)
	}
	return nil
}
