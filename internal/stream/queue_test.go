package stream

import (
	"testing"
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

func newTestQueue() (*Queue, *Gate) {
	g := &Gate{}
	q := NewQueue(g)
	q.SetFormat(waveout.Format{SampleRate: 11025, Channels: 1, BitsPerSample: 16})
	q.SetTrimSilence(false)
	return q, g
}

// setMaxBytes shrinks the byte budget for eviction and pacing tests.
func setMaxBytes(q *Queue, n int) {
	q.mu.Lock()
	q.maxBytes = n
	q.mu.Unlock()
}

func TestPushRequiresOpenGate(t *testing.T) {
	q, _ := newTestQueue()
	if q.Push([]byte{1, 2, 3}) {
		t.Fatal("push accepted with gate closed")
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestPushReadRoundTrip(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)

	data := []byte{1, 2, 3, 4, 5, 6}
	if !q.Push(data) {
		t.Fatal("push rejected")
	}
	// The queue owns a copy.
	data[0] = 99

	buf := make([]byte, 16)
	kind, _, n := q.Read(buf)
	if kind != KindAudio || n != 6 {
		t.Fatalf("read = %v/%d", kind, n)
	}
	if buf[0] != 1 {
		t.Fatalf("queue aliased caller buffer: %d", buf[0])
	}
	if kind, _, n := q.Read(buf); kind != KindNone || n != 0 {
		t.Fatalf("second read = %v/%d, want none", kind, n)
	}
}

func TestPartialReads(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)

	q.Push(make([]byte, 100))
	buf := make([]byte, 40)
	var total int
	for i := 0; i < 3; i++ {
		kind, _, n := q.Read(buf)
		if kind != KindAudio {
			t.Fatalf("read %d = %v", i, kind)
		}
		total += n
	}
	if total != 100 {
		t.Fatalf("total = %d, want 100", total)
	}
	if kind, _, _ := q.Read(buf); kind != KindNone {
		t.Fatalf("drained read = %v", kind)
	}
}

func TestMarkersDeliveredInOrder(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)

	q.Push([]byte{1, 2})
	q.PushMarker(1, KindError, 2001)
	q.PushMarker(1, KindDone, 0)

	buf := make([]byte, 16)
	if kind, _, n := q.Read(buf); kind != KindAudio || n != 2 {
		t.Fatalf("first = %v/%d", kind, n)
	}
	if kind, val, _ := q.Read(buf); kind != KindError || val != 2001 {
		t.Fatalf("second = %v/%d", kind, val)
	}
	if kind, _, _ := q.Read(buf); kind != KindDone {
		t.Fatalf("third = %v", kind)
	}
}

func TestStaleGenerationDroppedAtRead(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)
	q.Push([]byte{1, 2, 3})

	g.Begin(2)
	buf := make([]byte, 16)
	if kind, _, n := q.Read(buf); kind != KindNone || n != 0 {
		t.Fatalf("read = %v/%d, want none", kind, n)
	}
	if q.BytesQueued() != 0 {
		t.Fatalf("stale bytes still counted: %d", q.BytesQueued())
	}
}

func TestMarkerForStaleGenerationDropped(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(2)
	q.PushMarker(1, KindDone, 0)
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
}

func TestEvictionDropsOldestAudioNeverMarkers(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)
	setMaxBytes(q, 100)

	first := make([]byte, 60)
	for i := range first {
		first[i] = 1
	}
	q.Push(first)
	q.PushMarker(1, KindError, 2001)

	second := make([]byte, 60)
	for i := range second {
		second[i] = 2
	}
	q.Push(second)

	if got := q.BytesQueued(); got > 100 {
		t.Fatalf("bytes queued %d exceeds budget", got)
	}

	buf := make([]byte, 128)
	kind, val, _ := q.Read(buf)
	if kind != KindError || val != 2001 {
		t.Fatalf("marker evicted: got %v/%d", kind, val)
	}
	kind, _, n := q.Read(buf)
	if kind != KindAudio || n != 60 || buf[0] != 2 {
		t.Fatalf("read = %v/%d first byte %d, want newest audio", kind, n, buf[0])
	}
}

func TestNewBufferDroppedWhenNoAudioToEvict(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)
	setMaxBytes(q, 10)

	q.PushMarker(1, KindDone, 0)
	if q.Push(make([]byte, 64)) {
		t.Fatal("oversized push accepted with nothing evictable")
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want marker only", q.Len())
	}
}

func TestBudgetClampedToFloorAndCeiling(t *testing.T) {
	q, _ := newTestQueue()

	q.SetFormat(waveout.Format{SampleRate: 100, Channels: 1, BitsPerSample: 8})
	q.mu.Lock()
	floor := q.maxBytes
	q.mu.Unlock()
	if floor != budgetFloor {
		t.Fatalf("low-rate budget = %d, want floor %d", floor, budgetFloor)
	}

	q.SetFormat(waveout.Format{SampleRate: 4000000, Channels: 2, BitsPerSample: 16})
	q.mu.Lock()
	ceil := q.maxBytes
	q.mu.Unlock()
	if ceil != budgetCeil {
		t.Fatalf("high-rate budget = %d, want ceiling %d", ceil, budgetCeil)
	}
}

func TestReadAfterStopSurfacesOneDone(t *testing.T) {
	q, g := newTestQueue()
	g.Begin(1)
	q.Push([]byte{1, 2, 3})

	g.CloseAll()
	q.Clear()
	q.NoteStopped()

	buf := make([]byte, 16)
	if kind, _, n := q.Read(buf); kind != KindDone || n != 0 {
		t.Fatalf("read = %v/%d, want done", kind, n)
	}
	if kind, _, _ := q.Read(buf); kind != KindNone {
		t.Fatalf("second read = %v, want none", kind)
	}
}

func TestPacingInterruptedByStop(t *testing.T) {
	q, g := newTestQueue()
	// 100 bytes/s so an uninterrupted pace would take seconds.
	q.SetFormat(waveout.Format{SampleRate: 100, Channels: 1, BitsPerSample: 8})
	setMaxBytes(q, 50)

	stop := make(chan struct{})
	close(stop)
	q.SetStopChannel(stop)

	g.Begin(1)
	q.Push(make([]byte, 50))

	start := time.Now()
	q.Push(make([]byte, 40)) // queue full, would pace ~400ms
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("pacing not interrupted: took %v", elapsed)
	}
}

func TestPacingInterruptedByGateChange(t *testing.T) {
	q, g := newTestQueue()
	q.SetFormat(waveout.Format{SampleRate: 100, Channels: 1, BitsPerSample: 8})
	setMaxBytes(q, 50)
	q.SetStopChannel(make(chan struct{}))

	g.Begin(1)
	q.Push(make([]byte, 50))

	done := make(chan struct{})
	go func() {
		q.Push(make([]byte, 40))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	g.CloseAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pacing did not exit on gate change")
	}
}
