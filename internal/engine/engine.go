// Package engine defines the contract for the wrapped legacy speech
// engine: the call surface the worker drives, the event stream its
// asynchronous completion protocol is translated onto, and a guarded
// native binding plus a scripted mock implementation.
package engine

import "errors"

// Param identifies one of the engine's numeric setter entry points.
type Param int

const (
	ParamRate Param = iota
	ParamPitch
	ParamF0Range
	ParamF0Perturb
	ParamVowelFactor
	ParamAVBias
	ParamAFBias
	ParamAHBias
	ParamPersonality
	ParamF0Style
	ParamVoicingMode
	ParamGender
	ParamGlottalSource
	ParamSpeakingMode
)

func (p Param) String() string {
	switch p {
	case ParamRate:
		return "rate"
	case ParamPitch:
		return "pitch"
	case ParamF0Range:
		return "f0range"
	case ParamF0Perturb:
		return "f0perturb"
	case ParamVowelFactor:
		return "vowelfactor"
	case ParamAVBias:
		return "avbias"
	case ParamAFBias:
		return "afbias"
	case ParamAHBias:
		return "ahbias"
	case ParamPersonality:
		return "personality"
	case ParamF0Style:
		return "f0style"
	case ParamVoicingMode:
		return "voicingmode"
	case ParamGender:
		return "gender"
	case ParamGlottalSource:
		return "glottalsource"
	case ParamSpeakingMode:
		return "speakingmode"
	default:
		return "unknown"
	}
}

// EventKind classifies a completion event from the engine.
type EventKind int

const (
	// EventStarted reports that the engine began synthesizing a chunk.
	EventStarted EventKind = iota
	// EventDone reports that the engine finished the submitted chunk.
	EventDone
	// EventFailed reports an engine-side failure for the submitted chunk.
	EventFailed
)

// Event is one translated completion notification.
type Event struct {
	Kind EventKind
	Code int
}

// Engine is the call surface of the wrapped legacy synthesizer. All methods
// must be invoked from the single worker goroutine that owns the engine;
// completion arrives asynchronously on Events.
type Engine interface {
	// Open establishes an engine session for the given voice.
	Open(voice int) error
	// Close tears the session down.
	Close() error
	// Abort cancels the in-flight utterance inside the engine.
	Abort() error
	// Speak submits one text chunk. It does not wait for completion.
	Speak(text string) error
	// Set pushes one numeric parameter. ErrUnsupportedParam is returned
	// when the engine build does not expose the setter.
	Set(p Param, v int) error
	// Events delivers translated completion notifications.
	Events() <-chan Event
}

// LanguageSwitcher is implemented by engines that can switch voice in
// place, without closing and reopening the session.
type LanguageSwitcher interface {
	SetLanguage(voice int) error
}

var (
	// ErrNotOpen is returned for calls that require an open session.
	ErrNotOpen = errors.New("engine: session not open")
	// ErrUnsupportedParam is returned when the engine lacks the setter.
	ErrUnsupportedParam = errors.New("engine: parameter not supported")
	// ErrUnsupported is returned for optional capabilities the engine
	// build does not provide.
	ErrUnsupported = errors.New("engine: capability not available")
)
