package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

type collectSink struct {
	mu   sync.Mutex
	data []byte
}

func (s *collectSink) Push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data...)
	return true
}

func (s *collectSink) bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newMockUnderTest(t *testing.T, opts ...MockOption) (*Mock, *collectSink) {
	t.Helper()
	sink := &collectSink{}
	dev := waveout.NewInterceptor(sink, func() bool { return true })
	return NewMock(dev, opts...), sink
}

func TestMockSpeakDeliversAudioAndCompletion(t *testing.T) {
	m, sink := newMockUnderTest(t)
	if err := m.Open(1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Speak("hello world"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case ev := <-m.Events():
		if ev.Kind != EventDone {
			t.Fatalf("event kind = %v, want EventDone", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}
	if sink.bytes() == 0 {
		t.Fatal("no audio captured")
	}
}

func TestMockRecordsSetOrder(t *testing.T) {
	m, _ := newMockUnderTest(t)
	if err := m.Open(1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := []SetCall{
		{ParamPersonality, 3},
		{ParamRate, 260},
		{ParamPitch, 89},
	}
	for _, c := range want {
		if err := m.Set(c.Param, c.Value); err != nil {
			t.Fatalf("Set(%v): %v", c.Param, err)
		}
	}
	got := m.Sets()
	if len(got) != len(want) {
		t.Fatalf("recorded %d sets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("set %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMockSpeakErr(t *testing.T) {
	boom := errors.New("boom")
	m, _ := newMockUnderTest(t, WithMockSpeakErr(boom))
	if err := m.Open(1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Speak("x"); !errors.Is(err, boom) {
		t.Fatalf("Speak err = %v, want boom", err)
	}
}

func TestMockHangNeverCompletes(t *testing.T) {
	m, _ := newMockUnderTest(t, WithMockHang())
	if err := m.Open(1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Speak("x"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMockRequiresOpen(t *testing.T) {
	m, _ := newMockUnderTest(t)
	if err := m.Speak("x"); err != ErrNotOpen {
		t.Fatalf("Speak err = %v, want ErrNotOpen", err)
	}
	if err := m.Set(ParamRate, 100); err != ErrNotOpen {
		t.Fatalf("Set err = %v, want ErrNotOpen", err)
	}
}

func TestMockSetLanguageSwitchesInPlace(t *testing.T) {
	m, _ := newMockUnderTest(t)
	if err := m.Open(1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	var sw LanguageSwitcher = m
	if err := sw.SetLanguage(4); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if m.Voice() != 4 {
		t.Fatalf("voice = %d, want 4", m.Voice())
	}
	if m.Reopened() != 0 {
		t.Fatalf("reopened = %d, want 0", m.Reopened())
	}
}
