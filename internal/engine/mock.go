package engine

import (
	"sync"
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// SetCall records one parameter write, in order.
type SetCall struct {
	Param Param
	Value int
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithMockFormat overrides the format the mock opens its output with.
func WithMockFormat(f waveout.Format) MockOption {
	return func(m *Mock) { m.format = f }
}

// WithMockSynth replaces the audio generator. The function receives the
// spoken text and returns the raw sample bytes to write.
func WithMockSynth(fn func(text string) []byte) MockOption {
	return func(m *Mock) { m.synth = fn }
}

// WithMockSpeakErr makes every Speak call fail with err.
func WithMockSpeakErr(err error) MockOption {
	return func(m *Mock) { m.speakErr = err }
}

// WithMockHang makes Speak accept the text but never signal completion,
// for exercising completion timeouts.
func WithMockHang() MockOption {
	return func(m *Mock) { m.hang = true }
}

// WithMockNoSwitch disables the in-place language switch so callers fall
// back to the close-and-reopen path.
func WithMockNoSwitch() MockOption {
	return func(m *Mock) { m.noSwitch = true }
}

// WithMockOpenErr makes Open fail with err after the first n successes.
func WithMockOpenErr(after int, err error) MockOption {
	return func(m *Mock) {
		m.openOKLeft = after
		m.openErr = err
	}
}

// WithMockChunkBytes controls how many bytes go into each device write.
func WithMockChunkBytes(n int) MockOption {
	return func(m *Mock) {
		if n > 0 {
			m.chunkBytes = n
		}
	}
}

// Mock is a scripted engine for tests. Speak renders deterministic audio
// through a waveout.Device on a background goroutine, mirroring the real
// engine's buffer-at-a-time delivery, then signals completion on Events.
type Mock struct {
	dev        waveout.Device
	format     waveout.Format
	synth      func(text string) []byte
	speakErr   error
	hang       bool
	noSwitch   bool
	openOKLeft int
	openErr    error
	chunkBytes int

	events chan Event

	mu       sync.Mutex
	open     bool
	voice    int
	handle   waveout.Handle
	sets     []SetCall
	spoken   []string
	aborted  int
	closed   int
	reopened int
	wg       sync.WaitGroup
}

// NewMock builds a mock that writes through dev.
func NewMock(dev waveout.Device, opts ...MockOption) *Mock {
	m := &Mock{
		dev:        dev,
		format:     waveout.Format{SampleRate: 22050, Channels: 1, BitsPerSample: 16},
		chunkBytes: 4096,
		events:     make(chan Event, 16),
	}
	m.synth = func(text string) []byte {
		// 2ms of audio per character, a steady non-silent ramp.
		frames := len(text) * m.format.SampleRate / 500
		buf := make([]byte, frames*m.format.BlockAlign())
		for i := range buf {
			buf[i] = byte(0x40 + i%0x40)
		}
		return buf
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Events() <-chan Event { return m.events }

func (m *Mock) Open(voice int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		if m.openOKLeft <= 0 {
			return m.openErr
		}
		m.openOKLeft--
	}
	if m.open {
		m.reopened++
	}
	m.open = true
	m.voice = voice
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	h := m.handle
	m.handle = 0
	if wasOpen {
		m.closed++
	}
	m.mu.Unlock()
	m.wg.Wait()
	if h != 0 {
		m.dev.Reset(h)
		m.dev.Close(h)
	}
	return nil
}

func (m *Mock) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotOpen
	}
	m.aborted++
	return nil
}

func (m *Mock) Set(p Param, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotOpen
	}
	m.sets = append(m.sets, SetCall{Param: p, Value: v})
	return nil
}

// SetLanguage lets the mock satisfy LanguageSwitcher so voice-switch paths
// can be exercised without a reopen.
func (m *Mock) SetLanguage(voice int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noSwitch {
		return ErrUnsupported
	}
	if !m.open {
		return ErrNotOpen
	}
	m.voice = voice
	return nil
}

func (m *Mock) Speak(text string) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrNotOpen
	}
	if m.speakErr != nil {
		m.mu.Unlock()
		return m.speakErr
	}
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()
	if m.hang {
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.render(text)
	}()
	return nil
}

func (m *Mock) render(text string) {
	m.mu.Lock()
	h := m.handle
	var err error
	if h == 0 {
		h, err = m.dev.Open(0, m.format, nil)
		if err != nil {
			m.mu.Unlock()
			m.sendEvent(Event{Kind: EventFailed, Code: codeError})
			return
		}
		m.handle = h
	}
	m.mu.Unlock()

	data := m.synth(text)
	for len(data) > 0 {
		n := m.chunkBytes
		if n > len(data) {
			n = len(data)
		}
		hdr := &waveout.Header{Data: data[:n]}
		data = data[n:]
		if err := m.dev.PrepareHeader(h, hdr); err != nil {
			break
		}
		if err := m.dev.Write(h, hdr); err != nil {
			m.dev.UnprepareHeader(h, hdr)
			break
		}
		m.dev.UnprepareHeader(h, hdr)
	}
	m.sendEvent(Event{Kind: EventDone, Code: codeDone})
}

func (m *Mock) sendEvent(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// Sets returns a copy of the recorded parameter writes.
func (m *Mock) Sets() []SetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SetCall, len(m.sets))
	copy(out, m.sets)
	return out
}

// ResetSets clears the recorded parameter writes.
func (m *Mock) ResetSets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = nil
}

// Spoken returns a copy of the texts accepted by Speak.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// Voice reports the currently selected voice.
func (m *Mock) Voice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voice
}

// Reopened reports how many times Open was called on an already-open mock.
func (m *Mock) Reopened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopened
}

// Aborted reports how many Abort calls were made.
func (m *Mock) Aborted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

// WaitIdle blocks until in-flight renders finish, with a deadline.
func (m *Mock) WaitIdle(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
