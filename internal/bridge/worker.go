package bridge

import (
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/engine"
	"github.com/tgeczy/softvoice-wrapper/internal/stream"
	"github.com/tgeczy/softvoice-wrapper/internal/text"
)

// workerLoop is the single goroutine owning the engine. It opens the
// initial voice, reports readiness, then serializes utterance commands:
// settings application, chunked synthesis, completion waits, and the
// drain grace at the end of each utterance.
func (s *Session) workerLoop(ready chan<- error) {
	defer close(s.workerDone)

	voice := s.settings.Voice.Get()
	if voice <= 0 {
		voice = 1
	}
	if err := s.eng.Open(voice); err != nil {
		ready <- err
		return
	}
	s.currentVoice = voice
	ready <- nil

	for {
		cmd, ok := s.nextCommand()
		if !ok || cmd.kind == cmdQuit {
			break
		}
		snap := s.token.Load()
		if cmd.token != snap {
			continue
		}
		s.runUtterance(cmd, snap)
	}

	logWorkerErr("abort", s.eng.Abort())
	logWorkerErr("close", s.eng.Close())
}

// nextCommand blocks until a command is available.
func (s *Session) nextCommand() (command, bool) {
	for {
		s.cmdMu.Lock()
		if len(s.cmds) > 0 {
			cmd := s.cmds[0]
			s.cmds = s.cmds[1:]
			s.cmdMu.Unlock()
			return cmd, true
		}
		s.cmdMu.Unlock()
		<-s.cmdSignal
	}
}

func (s *Session) runUtterance(cmd command, snap uint32) {
	gen := s.genCounter.Add(1)

	stop := s.resetStop()
	s.drainEvents()

	s.gate.Begin(gen)
	s.queue.ClearLastAudio()
	s.queue.Clear()

	voiceChanged, ok := s.ensureVoice(gen)
	if !ok {
		return
	}

	s.applySettings(voiceChanged)

	safe := text.Sanitize(cmd.text)
	if safe == "" {
		s.gate.CloseCapture()
		s.queue.PushMarker(gen, stream.KindDone, 0)
		return
	}
	chunks := text.Chunks(safe, chunkChars)

	stopped := false
	ttsError := false

	for _, chunk := range chunks {
		if chunk == "" {
			continue
		}
		if s.token.Load() != snap || chanClosed(stop) {
			stopped = true
			break
		}

		s.drainEvents()
		if err := s.eng.Speak(chunk); err != nil {
			logWorkerErr("speak", err)
			ttsError = true
			break
		}
		if !s.waitChunk(gen, snap, stop) {
			stopped = true
			break
		}
	}

	switch {
	case ttsError:
		s.gate.CloseCapture()
		s.queue.PushMarker(gen, stream.KindError, ErrCodeSpeakFailed)
		s.queue.PushMarker(gen, stream.KindDone, 0)
		return
	case stopped:
		logWorkerErr("abort", s.eng.Abort())
		s.gate.CloseCapture()
		s.queue.PushMarker(gen, stream.KindDone, 0)
		return
	}

	if !s.commandQueued() {
		s.drainGrace(stop)
	}

	// Capture gated off before the end marker so no late audio sneaks in
	// behind it.
	s.gate.CloseCapture()
	s.queue.PushMarker(gen, stream.KindDone, 0)
}

// ensureVoice switches the engine to the requested voice if it differs,
// preferring an in-place language switch over a full reopen. On failure it
// emits error and done markers and reports the utterance dead.
func (s *Session) ensureVoice(gen uint32) (changed, ok bool) {
	want := s.settings.Voice.Get()
	if want <= 0 {
		want = 1
	}
	if want == s.currentVoice {
		return false, true
	}

	if sw, can := s.eng.(engine.LanguageSwitcher); can {
		if err := sw.SetLanguage(want); err == nil {
			s.currentVoice = want
			return true, true
		} else if err != engine.ErrUnsupported {
			logWorkerErr("setlanguage", err)
		}
	}

	logWorkerErr("close", s.eng.Close())
	if err := s.eng.Open(want); err != nil {
		logWorkerErr("open", err)
		s.currentVoice = 0
		s.gate.CloseCapture()
		s.queue.PushMarker(gen, stream.KindError, ErrCodeVoiceOpen)
		s.queue.PushMarker(gen, stream.KindDone, 0)
		return false, false
	}
	s.currentVoice = want
	return true, true
}

// applySettings pushes pending parameters to the engine in the order the
// legacy driver requires. Personalities are presets: applying a non-zero
// one must not be followed by stale timbre sliders (they would destroy the
// preset's character), while rate stays independently controllable.
func (s *Session) applySettings(voiceChanged bool) {
	personalityApplied := s.applyPersonality(voiceChanged)

	persVal := s.settings.Personality.Get()
	persNonZero := s.settings.Personality.Explicit() && persVal != 0

	if personalityApplied && persVal != 0 {
		for _, st := range s.settings.timbre() {
			st.ClearDirty()
		}
	}

	forceNumeric := (voiceChanged && !persNonZero) || (personalityApplied && persVal == 0)
	for _, b := range s.settings.numeric() {
		v, dirty := b.setting.TakeDirty()
		if forceNumeric || dirty {
			logWorkerErr("set "+b.param.String(), s.eng.Set(b.param, v))
		}
	}

	// Under a non-zero personality the preset owns pitch and timbre, but
	// the caller's rate must survive the preset.
	if personalityApplied && persVal != 0 {
		logWorkerErr("set rate", s.eng.Set(engine.ParamRate, s.settings.Rate.Get()))
	}

	forceStyle := voiceChanged || personalityApplied
	for _, b := range s.settings.style() {
		if !b.setting.Explicit() {
			b.setting.ClearDirty()
			continue
		}
		v, dirty := b.setting.TakeDirty()
		if forceStyle || dirty {
			logWorkerErr("set "+b.param.String(), s.eng.Set(b.param, v))
		}
	}
}

// applyPersonality applies the preset only when the caller explicitly
// selected one. Returns whether a value was pushed.
func (s *Session) applyPersonality(force bool) bool {
	if !s.settings.Personality.Explicit() {
		s.settings.Personality.ClearDirty()
		return false
	}
	v, dirty := s.settings.Personality.TakeDirty()
	if !force && !dirty {
		return false
	}
	if v == 0 && s.cfg.WakeQuirk {
		// Some installs will not voice the base personality unless the
		// parameter is poked with a non-default value first.
		logWorkerErr("set personality", s.eng.Set(engine.ParamPersonality, 1))
		time.Sleep(20 * time.Millisecond)
	}
	logWorkerErr("set personality", s.eng.Set(engine.ParamPersonality, v))
	return true
}

// waitChunk blocks until the engine reports the submitted chunk complete.
// Returns false when the utterance should stop (cancel, stop signal, or
// timeout; the timeout also emits an error marker).
func (s *Session) waitChunk(gen, snap uint32, stop <-chan struct{}) bool {
	timer := time.NewTimer(s.chunkTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-s.eng.Events():
			if ev.Kind == engine.EventStarted {
				continue
			}
			// Done and failed both complete the chunk; a speak-level
			// failure surfaces through the Speak return code instead.
			return true
		case <-stop:
			return false
		case <-timer.C:
			s.queue.PushMarker(gen, stream.KindError, ErrCodeChunkTimeout)
			return false
		}
	}
}

// drainGrace waits briefly after the last chunk for trailing audio to
// settle: no new capture for the idle window, bounded by the max window,
// interrupted by stop.
func (s *Session) drainGrace(stop <-chan struct{}) {
	start := time.Now()
	for {
		if last, ok := s.queue.LastAudio(); ok && time.Since(last) >= s.drainIdle {
			return
		}
		if time.Since(start) >= s.drainMax {
			return
		}
		select {
		case <-stop:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Session) commandQueued() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return len(s.cmds) > 0
}

// drainEvents flushes completion signals left over from a previous chunk
// or utterance so they cannot satisfy the next wait prematurely.
func (s *Session) drainEvents() {
	for {
		select {
		case <-s.eng.Events():
		default:
			return
		}
	}
}

func chanClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
