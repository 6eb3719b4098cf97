package stream

import (
	"testing"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// pcm16 builds nFrames of mono 16-bit audio at the given amplitude.
func pcm16(nFrames int, amp int16) []byte {
	out := make([]byte, nFrames*2)
	for i := 0; i < nFrames; i++ {
		out[2*i] = byte(uint16(amp))
		out[2*i+1] = byte(uint16(amp) >> 8)
	}
	return out
}

// pcm8 builds nFrames of mono 8-bit unsigned audio centered at 128.
func pcm8(nFrames int, level byte) []byte {
	out := make([]byte, nFrames)
	for i := range out {
		out[i] = level
	}
	return out
}

func newTrimQueue(bits int) (*Queue, *Gate) {
	g := &Gate{}
	q := NewQueue(g)
	q.SetFormat(waveout.Format{SampleRate: 11025, Channels: 1, BitsPerSample: bits})
	return q, g
}

func readAll(q *Queue) (audio int, sawDone bool) {
	buf := make([]byte, 64*1024)
	for i := 0; i < 1000; i++ {
		kind, _, n := q.Read(buf)
		switch kind {
		case KindAudio:
			audio += n
		case KindDone:
			return audio, true
		case KindNone:
			return audio, sawDone
		}
	}
	return audio, sawDone
}

func TestLeadSilenceTrimmed16(t *testing.T) {
	q, g := newTrimQueue(16)
	g.Begin(1)

	data := append(pcm16(2000, 0), pcm16(2000, 1000)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	// pf=50: keep 8ms of lead (88 frames at 22050 B/s, 2-byte frames).
	audio, done := readAll(q)
	if !done {
		t.Fatal("no done marker")
	}
	want := (2000 + 2000 - (2000 - 88)) * 2
	if audio != want {
		t.Fatalf("audio = %d bytes, want %d", audio, want)
	}
}

func TestTailTrimRequiresDoneMarker(t *testing.T) {
	q, g := newTrimQueue(16)
	g.Begin(1)

	data := append(pcm16(1000, 1000), pcm16(2000, 0)...)
	q.Push(data)

	// No done marker visible: the trailing silence may still be followed
	// by more audio, so nothing is cut.
	audio, _ := readAll(q)
	if audio != 6000 {
		t.Fatalf("audio = %d bytes, want untrimmed 6000", audio)
	}
}

func TestTailSilenceTrimmedAfterDone(t *testing.T) {
	q, g := newTrimQueue(16)
	g.Begin(1)

	data := append(pcm16(1000, 1000), pcm16(2000, 0)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	// pf=50: keep 10ms of tail (110 frames).
	audio, done := readAll(q)
	if !done {
		t.Fatal("no done marker")
	}
	want := (1000 + 110) * 2
	if audio != want {
		t.Fatalf("audio = %d bytes, want %d", audio, want)
	}
}

func TestTrimIdempotentAcrossReads(t *testing.T) {
	q, g := newTrimQueue(16)
	g.Begin(1)

	data := append(pcm16(1000, 1000), pcm16(2000, 0)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	// Small reads force many trim-pass opportunities; the per-generation
	// edge flags must keep the total stable.
	buf := make([]byte, 64)
	total := 0
	for i := 0; i < 10000; i++ {
		kind, _, n := q.Read(buf)
		if kind == KindAudio {
			total += n
			continue
		}
		if kind == KindDone {
			break
		}
	}
	if want := (1000 + 110) * 2; total != want {
		t.Fatalf("audio = %d bytes, want %d", total, want)
	}
}

func TestLeadTrim8Bit(t *testing.T) {
	q, g := newTrimQueue(8)
	g.Begin(1)

	data := append(pcm8(1000, 128), pcm8(1000, 200)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	// 8-bit silence centers at 128; keep 8ms = 88 frames at 11025 B/s.
	audio, done := readAll(q)
	if !done {
		t.Fatal("no done marker")
	}
	want := 2000 - (1000 - 88)
	if audio != want {
		t.Fatalf("audio = %d bytes, want %d", audio, want)
	}
}

func TestTrimDisabledDeliversEverything(t *testing.T) {
	q, g := newTrimQueue(16)
	q.SetTrimSilence(false)
	g.Begin(1)

	data := append(pcm16(2000, 0), pcm16(100, 1000)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	audio, _ := readAll(q)
	if audio != 4200 {
		t.Fatalf("audio = %d bytes, want 4200", audio)
	}
}

func TestNearSilentBelowThresholdTrimmed(t *testing.T) {
	q, g := newTrimQueue(16)
	q.SetPauseFactor(50) // threshold 148
	g.Begin(1)

	data := append(pcm16(2000, 100), pcm16(2000, 1000)...)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	audio, _ := readAll(q)
	want := (2000 + 2000 - (2000 - 88)) * 2
	if audio != want {
		t.Fatalf("amplitude 100 not treated as silence: %d bytes, want %d", audio, want)
	}
}

func TestLoudAboveThresholdNotTrimmed(t *testing.T) {
	q, g := newTrimQueue(16)
	q.SetPauseFactor(0) // threshold 48
	g.Begin(1)

	data := pcm16(2000, 100)
	q.Push(data)
	q.PushMarker(1, KindDone, 0)

	audio, _ := readAll(q)
	// Tail pass sees every frame above threshold, lead likewise.
	if audio != 4000 {
		t.Fatalf("audio = %d bytes, want untrimmed 4000", audio)
	}
}
