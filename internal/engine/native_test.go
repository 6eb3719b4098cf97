package engine

import "testing"

func newTestNative(t *testing.T, registered uint32) *Native {
	t.Helper()
	ep := EntryPoints{OpenSpeech: 1, CloseSpeech: 2, Abort: 3, TTS: 4}
	n, err := NewNative(ep, registered)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	return n
}

func drain(n *Native) []Event {
	var out []Event
	for {
		select {
		case ev := <-n.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestNewNativeRequiresEntryPoints(t *testing.T) {
	_, err := NewNative(EntryPoints{OpenSpeech: 1, CloseSpeech: 2, Abort: 3}, 0)
	if err == nil {
		t.Fatal("expected error for missing TTS entry point")
	}
}

func TestNotifyIgnoresUnknownCodes(t *testing.T) {
	n := newTestNative(t, 0)
	n.Notify(0x0401, 999)
	n.Notify(0x0401, 0)
	n.Notify(0x0401, 2000)
	if evs := drain(n); len(evs) != 0 {
		t.Fatalf("got %d events, want 0", len(evs))
	}
}

func TestNotifyIgnoresSystemMessageRange(t *testing.T) {
	n := newTestNative(t, 0)
	// Status-shaped values on low message IDs are platform traffic.
	n.Notify(0x0113, codeDone)
	if evs := drain(n); len(evs) != 0 {
		t.Fatalf("got %d events, want 0", len(evs))
	}
}

func TestNotifyLearnsFirstPlausibleMessage(t *testing.T) {
	n := newTestNative(t, 0)
	n.Notify(0x0464, codeStarted)
	// A different ID carrying a status code must now be rejected.
	n.Notify(0x0465, codeDone)
	n.Notify(0x0464, codeDone)

	evs := drain(n)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Kind != EventStarted || evs[0].Code != codeStarted {
		t.Fatalf("first event = %+v", evs[0])
	}
	if evs[1].Kind != EventDone || evs[1].Code != codeDone {
		t.Fatalf("second event = %+v", evs[1])
	}
}

func TestNotifyPrefersRegisteredMessage(t *testing.T) {
	n := newTestNative(t, 0xC123)
	// A plausible but unregistered ID must not lock out the registered one.
	n.Notify(0x0464, codeStarted)
	n.Notify(0xC123, codeDone)
	if got := n.activeMsg.Load(); got != 0x0464 {
		// The first plausible ID was learned; the registered path only wins
		// when it arrives before anything else is learned.
		t.Fatalf("active message = %#x", got)
	}

	n2 := newTestNative(t, 0xC123)
	n2.Notify(0xC123, codeStarted)
	n2.Notify(0x0464, codeDone)
	evs := drain(n2)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Kind != EventStarted {
		t.Fatalf("event = %+v", evs[0])
	}
}

func TestNotifyTranslatesError(t *testing.T) {
	n := newTestNative(t, 0)
	n.Notify(0x0464, codeError)
	evs := drain(n)
	if len(evs) != 1 || evs[0].Kind != EventFailed || evs[0].Code != codeError {
		t.Fatalf("events = %+v", evs)
	}
}

func TestNativeCallsRequireOpenSession(t *testing.T) {
	n := newTestNative(t, 0)
	if err := n.Speak("hi"); err != ErrNotOpen {
		t.Fatalf("Speak err = %v, want ErrNotOpen", err)
	}
	if err := n.Abort(); err != ErrNotOpen {
		t.Fatalf("Abort err = %v, want ErrNotOpen", err)
	}
	if err := n.Set(ParamRate, 260); err != ErrNotOpen {
		t.Fatalf("Set err = %v, want ErrNotOpen", err)
	}
	if err := n.SetLanguage(1); err != ErrNotOpen {
		t.Fatalf("SetLanguage err = %v, want ErrNotOpen", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close on unopened session: %v", err)
	}
}
