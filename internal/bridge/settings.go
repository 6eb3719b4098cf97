package bridge

import (
	"sync/atomic"

	"github.com/tgeczy/softvoice-wrapper/internal/engine"
)

// Origin tags how a setting's value came to be.
type Origin int32

const (
	// OriginUnset means the caller never touched the parameter; preset-
	// altering parameters in this state are never pushed to the engine.
	OriginUnset Origin = iota
	// OriginDefault means the value is a wrapper default.
	OriginDefault
	// OriginExplicit means the caller chose the value.
	OriginExplicit
)

// Setting is one numeric engine parameter: a value, its origin, and a
// dirty flag telling the worker the value still needs to reach the engine.
// All fields are individually atomic so get/set stays lock-free while the
// worker is synthesizing.
type Setting struct {
	value  atomic.Int32
	origin atomic.Int32
	dirty  atomic.Bool
}

func (s *Setting) seed(v int, origin Origin, dirty bool) {
	s.value.Store(int32(v))
	s.origin.Store(int32(origin))
	s.dirty.Store(dirty)
}

// Get returns the current value.
func (s *Setting) Get() int { return int(s.value.Load()) }

// Set records a caller-chosen value and marks it pending.
func (s *Setting) Set(v int) {
	s.value.Store(int32(v))
	s.origin.Store(int32(OriginExplicit))
	s.dirty.Store(true)
}

// Origin reports how the current value was established.
func (s *Setting) Origin() Origin { return Origin(s.origin.Load()) }

// Explicit reports whether the caller ever set the parameter.
func (s *Setting) Explicit() bool { return s.Origin() == OriginExplicit }

// TakeDirty returns the value and consumes the dirty flag in one step.
func (s *Setting) TakeDirty() (int, bool) {
	was := s.dirty.Swap(false)
	return int(s.value.Load()), was
}

// ClearDirty drops a pending push without applying it.
func (s *Setting) ClearDirty() { s.dirty.Store(false) }

// Settings holds every tunable the public API exposes. The worker reads
// and clears; callers write. Fields group into the voice selector, numeric
// sliders pushed on every utterance, the personality preset, and the
// optional style parameters pushed only when explicitly set.
type Settings struct {
	Voice Setting

	Rate        Setting
	Pitch       Setting
	F0Range     Setting
	F0Perturb   Setting
	VowelFactor Setting
	AVBias      Setting
	AFBias      Setting
	AHBias      Setting

	Personality Setting

	F0Style       Setting
	VoicingMode   Setting
	Gender        Setting
	GlottalSource Setting
	SpeakingMode  Setting
}

// numericBinding ties a slider to its engine parameter, in application
// order.
type numericBinding struct {
	param   engine.Param
	setting *Setting
}

func (s *Settings) numeric() []numericBinding {
	return []numericBinding{
		{engine.ParamRate, &s.Rate},
		{engine.ParamPitch, &s.Pitch},
		{engine.ParamF0Range, &s.F0Range},
		{engine.ParamF0Perturb, &s.F0Perturb},
		{engine.ParamVowelFactor, &s.VowelFactor},
		{engine.ParamAVBias, &s.AVBias},
		{engine.ParamAFBias, &s.AFBias},
		{engine.ParamAHBias, &s.AHBias},
	}
}

// timbre is the numeric subset a personality preset owns: everything
// except rate, which stays independently controllable under a preset.
func (s *Settings) timbre() []*Setting {
	return []*Setting{
		&s.Pitch, &s.F0Range, &s.F0Perturb, &s.VowelFactor,
		&s.AVBias, &s.AFBias, &s.AHBias,
	}
}

func (s *Settings) style() []numericBinding {
	return []numericBinding{
		{engine.ParamF0Style, &s.F0Style},
		{engine.ParamVoicingMode, &s.VoicingMode},
		{engine.ParamGender, &s.Gender},
		{engine.ParamGlottalSource, &s.GlottalSource},
		{engine.ParamSpeakingMode, &s.SpeakingMode},
	}
}

// newSettings seeds the legacy driver's default mapping. Numeric sliders
// start dirty so they reach the engine at least once; personality and
// style parameters start unset so engine presets keep their character
// until the caller deliberately overrides them.
func newSettings(initialVoice int) *Settings {
	if initialVoice <= 0 {
		initialVoice = 1
	}
	s := &Settings{}
	s.Voice.seed(initialVoice, OriginExplicit, false)

	s.Rate.seed(260, OriginDefault, true)
	s.Pitch.seed(89, OriginDefault, true)
	s.F0Range.seed(125, OriginDefault, true)
	s.F0Perturb.seed(0, OriginDefault, true)
	s.VowelFactor.seed(100, OriginDefault, true)
	s.AVBias.seed(0, OriginDefault, true)
	s.AFBias.seed(0, OriginDefault, true)
	s.AHBias.seed(0, OriginDefault, true)

	s.Personality.seed(0, OriginUnset, false)
	s.F0Style.seed(0, OriginUnset, false)
	s.VoicingMode.seed(0, OriginUnset, false)
	s.Gender.seed(0, OriginUnset, false)
	s.GlottalSource.seed(0, OriginUnset, false)
	s.SpeakingMode.seed(0, OriginUnset, false)
	return s
}
