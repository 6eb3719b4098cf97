// Package bridge ties the pieces together: the refcounted session owning
// the worker goroutine and engine handle, the settings store, and the
// public speak/stop/read surface consumed by host applications.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/engine"
	"github.com/tgeczy/softvoice-wrapper/internal/stream"
	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// Config describes how to build the single bridge session.
type Config struct {
	// NewEngine constructs the engine against the capture device. The
	// engine's audio-output calls must go through dev so they land in the
	// output queue. Required.
	NewEngine func(dev waveout.Device) (engine.Engine, error)

	// Voice is the initial voice/language id. Values <= 0 mean voice 1.
	Voice int

	// WakeQuirk pokes the personality parameter with a non-default value
	// before applying personality zero. Some engine installs will not
	// synthesize the base voice without it. Reverse-engineered behavior;
	// off unless an install is known to need it.
	WakeQuirk bool

	// FromEngine tells the capture device whether the current call
	// originates from the wrapped engine. Defaults to always-true, which
	// is correct when the engine only ever sees the capture device.
	FromEngine func() bool

	// Forward is the real audio device for non-engine callers. May be nil.
	Forward waveout.Device

	// Unload is called after the worker has exited on final release, for
	// hosts that must force the engine's native modules out of the
	// process.
	Unload func()

	// Timeout and drain knobs; zero values take the wrapper defaults.
	ChunkTimeout time.Duration
	DrainIdle    time.Duration
	DrainMax     time.Duration
}

const (
	defaultChunkTimeout = 180 * time.Second
	defaultDrainIdle    = 30 * time.Millisecond
	defaultDrainMax     = 250 * time.Millisecond

	chunkChars = 350

	maxLeadCeilingMs = 15000
	defaultLeadMs    = 2000
	lockedLeadMs     = 250
)

// Synthesis error codes surfaced through error markers.
const (
	ErrCodeSpeakFailed  = 2001
	ErrCodeChunkTimeout = 2002
	ErrCodeVoiceOpen    = 2003
)

// ErrNoEngine is returned when Config lacks an engine constructor.
var ErrNoEngine = errors.New("bridge: no engine constructor")

// Session is the live bridge instance. The wrapped engine tolerates one
// session per process; Initialize hands out the same Session to every
// caller and Release tears it down only when the last reference goes.
type Session struct {
	cfg Config

	eng       engine.Engine
	settings  *Settings
	gate      stream.Gate
	queue     *stream.Queue
	intercept *waveout.Interceptor

	token      atomic.Uint32
	genCounter atomic.Uint32

	cmdMu     sync.Mutex
	cmds      []command
	cmdSignal chan struct{}

	stopMu sync.Mutex
	stopC  chan struct{}

	maxLeadMs atomic.Int32
	autoLead  atomic.Bool

	chunkTimeout time.Duration
	drainIdle    time.Duration
	drainMax     time.Duration

	// currentVoice is owned by the worker goroutine.
	currentVoice int

	workerDone chan struct{}
}

type cmdKind int

const (
	cmdSpeak cmdKind = iota
	cmdQuit
)

// command is one queued request with the cancellation token snapshot taken
// at enqueue time.
type command struct {
	kind  cmdKind
	text  string
	token uint32
}

var (
	globalMu      sync.Mutex
	globalSession *Session
	refCount      int
)

// Initialize returns the process-wide session, creating it on first use.
// Repeated calls return the same session with the reference count bumped;
// each must be paired with a Release.
func Initialize(cfg Config) (*Session, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSession != nil {
		refCount++
		return globalSession, nil
	}
	if cfg.NewEngine == nil {
		return nil, ErrNoEngine
	}

	s := &Session{
		cfg:          cfg,
		settings:     newSettings(cfg.Voice),
		cmdSignal:    make(chan struct{}, 1),
		stopC:        make(chan struct{}),
		chunkTimeout: cfg.ChunkTimeout,
		drainIdle:    cfg.DrainIdle,
		drainMax:     cfg.DrainMax,
		workerDone:   make(chan struct{}),
	}
	if s.chunkTimeout <= 0 {
		s.chunkTimeout = defaultChunkTimeout
	}
	if s.drainIdle <= 0 {
		s.drainIdle = defaultDrainIdle
	}
	if s.drainMax <= 0 {
		s.drainMax = defaultDrainMax
	}
	s.maxLeadMs.Store(defaultLeadMs)
	s.autoLead.Store(true)

	s.queue = stream.NewQueue(&s.gate)
	s.queue.SetStopChannel(s.stopC)

	fromEngine := cfg.FromEngine
	if fromEngine == nil {
		fromEngine = func() bool { return true }
	}
	s.intercept = waveout.NewInterceptor(s, fromEngine)
	s.intercept.Forward = cfg.Forward

	eng, err := cfg.NewEngine(s.intercept)
	if err != nil {
		return nil, fmt.Errorf("bridge: engine construction: %w", err)
	}
	s.eng = eng

	ready := make(chan error, 1)
	go s.workerLoop(ready)
	if err := <-ready; err != nil {
		<-s.workerDone
		return nil, err
	}

	globalSession = s
	refCount = 1
	return s, nil
}

// Release drops one reference. The last release cancels everything, joins
// the worker, and unloads the engine.
func (s *Session) Release() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if s != globalSession {
		return
	}
	if refCount > 1 {
		refCount--
		return
	}
	refCount = 0

	s.token.Add(1)
	s.gate.CloseAll()
	s.signalStop()

	s.cmdMu.Lock()
	s.cmds = append(s.cmds[:0], command{kind: cmdQuit, token: s.token.Load()})
	s.cmdMu.Unlock()
	s.wakeWorker()

	<-s.workerDone
	s.queue.Clear()

	if s.cfg.Unload != nil {
		s.cfg.Unload()
	}
	globalSession = nil
}

// Stop cancels any in-flight or queued utterance immediately. Safe to call
// at any time, including when idle.
func (s *Session) Stop() {
	s.token.Add(1)

	hadWork := s.gate.Current() != 0 || s.queue.Len() > 0
	s.cmdMu.Lock()
	hadWork = hadWork || len(s.cmds) > 0
	s.cmds = s.cmds[:0]
	s.cmdMu.Unlock()

	s.gate.CloseAll()
	s.queue.Clear()
	if hadWork {
		s.queue.NoteStopped()
	}

	s.signalStop()
	s.wakeWorker()
}

// Speak enqueues one utterance. It never blocks; the worker picks the
// command up in order.
func (s *Session) Speak(text string) error {
	if text == "" {
		return errors.New("bridge: empty text")
	}
	s.cmdMu.Lock()
	s.cmds = append(s.cmds, command{kind: cmdSpeak, text: text, token: s.token.Load()})
	s.cmdMu.Unlock()
	s.wakeWorker()
	return nil
}

// Read drains the next queued item into p. Audio items may be consumed
// across several calls; markers arrive with zero bytes. Read never blocks.
func (s *Session) Read(p []byte) (stream.ItemKind, int, int) {
	return s.queue.Read(p)
}

// Format returns the PCM format learned from the engine's first output
// open, and whether one has been observed.
func (s *Session) Format() (waveout.Format, bool) {
	return s.queue.Format()
}

// Push implements waveout.Sink: captured engine audio enters the output
// queue here. Runs on whichever goroutine the engine emits audio from.
func (s *Session) Push(data []byte) bool {
	if f, ok := s.intercept.Format(); ok {
		if cur, valid := s.queue.Format(); !valid || cur != f {
			s.queue.SetFormat(f)
		}
	}
	return s.queue.Push(data)
}

func (s *Session) wakeWorker() {
	select {
	case s.cmdSignal <- struct{}{}:
	default:
	}
}

// signalStop closes the current stop channel, releasing every pacing or
// completion wait at once.
func (s *Session) signalStop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	select {
	case <-s.stopC:
	default:
		close(s.stopC)
	}
}

// resetStop installs a fresh stop channel for the next utterance.
func (s *Session) resetStop() chan struct{} {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	select {
	case <-s.stopC:
		s.stopC = make(chan struct{})
		s.queue.SetStopChannel(s.stopC)
	default:
	}
	return s.stopC
}

func (s *Session) stopChan() chan struct{} {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopC
}

// Settings surface. Every parameter has an independent get/set pair; the
// worker observes changes no later than the next utterance it begins.

func (s *Session) Voice() int       { return s.settings.Voice.Get() }
func (s *Session) SetVoice(v int)   { s.settings.Voice.Set(v) }
func (s *Session) Rate() int        { return s.settings.Rate.Get() }
func (s *Session) SetRate(v int)    { s.settings.Rate.Set(v) }
func (s *Session) Pitch() int       { return s.settings.Pitch.Get() }
func (s *Session) SetPitch(v int)   { s.settings.Pitch.Set(v) }
func (s *Session) F0Range() int     { return s.settings.F0Range.Get() }
func (s *Session) SetF0Range(v int) { s.settings.F0Range.Set(v) }

func (s *Session) F0Perturb() int        { return s.settings.F0Perturb.Get() }
func (s *Session) SetF0Perturb(v int)    { s.settings.F0Perturb.Set(v) }
func (s *Session) VowelFactor() int      { return s.settings.VowelFactor.Get() }
func (s *Session) SetVowelFactor(v int)  { s.settings.VowelFactor.Set(v) }
func (s *Session) AVBias() int           { return s.settings.AVBias.Get() }
func (s *Session) SetAVBias(v int)       { s.settings.AVBias.Set(v) }
func (s *Session) AFBias() int           { return s.settings.AFBias.Get() }
func (s *Session) SetAFBias(v int)       { s.settings.AFBias.Set(v) }
func (s *Session) AHBias() int           { return s.settings.AHBias.Get() }
func (s *Session) SetAHBias(v int)       { s.settings.AHBias.Set(v) }
func (s *Session) Personality() int      { return s.settings.Personality.Get() }
func (s *Session) SetPersonality(v int)  { s.settings.Personality.Set(v) }
func (s *Session) F0Style() int          { return s.settings.F0Style.Get() }
func (s *Session) SetF0Style(v int)      { s.settings.F0Style.Set(v) }
func (s *Session) VoicingMode() int      { return s.settings.VoicingMode.Get() }
func (s *Session) SetVoicingMode(v int)  { s.settings.VoicingMode.Set(v) }
func (s *Session) Gender() int           { return s.settings.Gender.Get() }
func (s *Session) SetGender(v int)       { s.settings.Gender.Set(v) }
func (s *Session) GlottalSource() int    { return s.settings.GlottalSource.Get() }
func (s *Session) SetGlottalSource(v int) {
	s.settings.GlottalSource.Set(v)
}

func (s *Session) SpeakingMode() int { return s.settings.SpeakingMode.Get() }

// SetSpeakingMode records the mode and, unless the caller pinned the lead
// window, tunes it down for word-at-a-time and spelled modes so the engine
// does not synthesize far past the point of cancellation.
func (s *Session) SetSpeakingMode(v int) {
	s.settings.SpeakingMode.Set(v)
	if s.autoLead.Load() {
		lead := int32(defaultLeadMs)
		if v == 1 || v == 2 {
			lead = lockedLeadMs
		}
		s.maxLeadMs.Store(lead)
	}
}

// MaxLeadMs returns the maximum synthesis lead window in milliseconds.
func (s *Session) MaxLeadMs() int { return int(s.maxLeadMs.Load()) }

// SetMaxLeadMs pins the lead window, disabling the speaking-mode
// auto-tune.
func (s *Session) SetMaxLeadMs(ms int) {
	if ms < 0 {
		ms = 0
	}
	if ms > maxLeadCeilingMs {
		ms = maxLeadCeilingMs
	}
	s.autoLead.Store(false)
	s.maxLeadMs.Store(int32(ms))
}

// TrimSilence reports whether chunk-boundary silence trimming is on.
func (s *Session) TrimSilence() bool { return s.queue.TrimSilence() }

// SetTrimSilence toggles chunk-boundary silence trimming.
func (s *Session) SetTrimSilence(on bool) { s.queue.SetTrimSilence(on) }

// PauseFactor returns the 0-100 trim aggressiveness.
func (s *Session) PauseFactor() int { return s.queue.PauseFactor() }

// SetPauseFactor sets the 0-100 trim aggressiveness.
func (s *Session) SetPauseFactor(f int) { s.queue.SetPauseFactor(f) }

func logWorkerErr(op string, err error) {
	if err != nil {
		slog.Warn("engine call failed", "op", op, "err", err)
	}
}
