// Package stream implements the bounded, generation-tagged output queue
// sitting between the capture layer and the pull API, including the
// backpressure pacing that keeps the engine near real time and the lazy
// silence trimming applied at read time.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// ItemKind classifies one unit in the output queue.
type ItemKind int

const (
	KindNone ItemKind = iota
	KindAudio
	KindDone
	KindError
)

func (k ItemKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Item is one queued unit: an owned audio payload with a read offset
// (items may be partially consumed across reads), or a done/error marker
// carrying an optional integer code.
type Item struct {
	Kind  ItemKind
	Value int
	Gen   uint32

	data []byte
	off  int
}

func (it *Item) remaining() int {
	if len(it.data) <= it.off {
		return 0
	}
	return len(it.data) - it.off
}

const (
	// Byte-budget bounds: nominally 60 seconds of audio, clamped.
	budgetSeconds = 60
	budgetFloor   = 256 * 1024
	budgetCeil    = 8 * 1024 * 1024

	// Hard ceiling on queued item count, audio and markers combined.
	defaultMaxItems = 8192

	// Pacing sleeps in small slices so a stop interrupts promptly.
	paceSlice = 5 * time.Millisecond
)

// Queue is the bounded output queue. All mutation happens under one mutex;
// the byte counter is maintained incrementally and clamped at zero.
type Queue struct {
	gate *Gate

	mu          sync.Mutex
	items       []*Item
	queuedBytes int
	maxBytes    int
	maxItems    int
	format      waveout.Format
	formatValid bool

	bytesPerSec atomic.Uint64
	lastAudio   atomic.Int64 // unix nanos of the most recent capture

	stopDone atomic.Bool

	trimEnabled atomic.Bool
	pauseFactor atomic.Int32
	leadTrimGen atomic.Uint32
	tailTrimGen atomic.Uint32

	stopMu sync.Mutex
	stopC  <-chan struct{}
}

// NewQueue returns an empty queue gated by g. Silence trimming starts
// enabled with a mid-range aggressiveness, matching the wrapper defaults.
func NewQueue(g *Gate) *Queue {
	q := &Queue{
		gate:     g,
		maxBytes: 2 * budgetFloor,
		maxItems: defaultMaxItems,
	}
	q.trimEnabled.Store(true)
	q.pauseFactor.Store(50)
	return q
}

// SetFormat records the captured PCM format and derives the byte budget
// from its data rate.
func (q *Queue) SetFormat(f waveout.Format) {
	bps := f.BytesPerSecond()
	q.bytesPerSec.Store(uint64(bps))

	budget := bps * budgetSeconds
	if budget < budgetFloor {
		budget = budgetFloor
	}
	if budget > budgetCeil {
		budget = budgetCeil
	}

	q.mu.Lock()
	q.format = f
	q.formatValid = f.Valid()
	q.maxBytes = budget
	q.mu.Unlock()
}

// Format returns the recorded capture format.
func (q *Queue) Format() (waveout.Format, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.format, q.formatValid
}

// SetStopChannel installs the channel that interrupts pacing waits. The
// channel is replaced at the start of each utterance.
func (q *Queue) SetStopChannel(c <-chan struct{}) {
	q.stopMu.Lock()
	q.stopC = c
	q.stopMu.Unlock()
}

func (q *Queue) stopChan() <-chan struct{} {
	q.stopMu.Lock()
	defer q.stopMu.Unlock()
	return q.stopC
}

// SetTrimSilence enables or disables read-time silence trimming.
func (q *Queue) SetTrimSilence(enabled bool) { q.trimEnabled.Store(enabled) }

// TrimSilence reports whether read-time silence trimming is enabled.
func (q *Queue) TrimSilence() bool { return q.trimEnabled.Load() }

// SetPauseFactor sets the 0-100 trim aggressiveness factor.
func (q *Queue) SetPauseFactor(f int) {
	if f < 0 {
		f = 0
	}
	if f > 100 {
		f = 100
	}
	q.pauseFactor.Store(int32(f))
}

// PauseFactor returns the 0-100 trim aggressiveness factor.
func (q *Queue) PauseFactor() int { return int(q.pauseFactor.Load()) }

// LastAudio returns when audio was last captured, and false if none has
// been captured since the counter was cleared.
func (q *Queue) LastAudio() (time.Time, bool) {
	ns := q.lastAudio.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// ClearLastAudio resets the capture-activity timestamp, done when a new
// utterance opens.
func (q *Queue) ClearLastAudio() { q.lastAudio.Store(0) }

// BytesQueued returns the number of undelivered audio bytes.
func (q *Queue) BytesQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedBytes
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Push captures one PCM buffer under the currently active generation. The
// data is copied. When the queue was already at its byte ceiling and this
// is not the first queued chunk, Push blocks the caller for roughly the
// buffer's playback duration to pace the engine; the wait is interruptible
// by the stop channel and by the gate closing. The return value reports
// whether the buffer was captured.
func (q *Queue) Push(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	gen, ok := q.gate.CaptureEligible()
	if !ok {
		return false
	}

	q.lastAudio.Store(time.Now().UnixNano())

	copied := make([]byte, len(data))
	copy(copied, data)

	q.mu.Lock()
	if cur := q.gate.Current(); cur == 0 || gen != cur {
		q.mu.Unlock()
		return false
	}

	wasEmpty := q.queuedBytes == 0
	wasFull := q.queuedBytes >= q.maxBytes

	if !q.makeRoomLocked(len(copied)) {
		q.mu.Unlock()
		return false
	}

	it := &Item{Kind: KindAudio, Gen: gen, data: copied}
	q.items = append(q.items, it)
	q.queuedBytes += len(copied)
	q.mu.Unlock()

	if !wasEmpty && wasFull {
		q.pace(gen, len(copied))
	}
	return true
}

// makeRoomLocked evicts oldest audio items (never markers) until the new
// buffer fits within the byte budget and item ceiling. It returns false if
// no audio item remains to evict and the buffer must be dropped.
func (q *Queue) makeRoomLocked(incoming int) bool {
	for q.queuedBytes+incoming > q.maxBytes || len(q.items) >= q.maxItems {
		if !q.dropOldestAudioLocked() {
			return false
		}
	}
	return true
}

func (q *Queue) dropOldestAudioLocked() bool {
	for i, it := range q.items {
		if it.Kind != KindAudio {
			continue
		}
		q.debitLocked(it.remaining())
		q.items = append(q.items[:i], q.items[i+1:]...)
		return true
	}
	return false
}

// debitLocked reduces the byte counter, clamping at zero.
func (q *Queue) debitLocked(n int) {
	if q.queuedBytes >= n {
		q.queuedBytes -= n
	} else {
		q.queuedBytes = 0
	}
}

// pace blocks for approximately the playback duration of a just-captured
// buffer, in small slices, waking early on stop or when the capture gate
// moves off gen.
func (q *Queue) pace(gen uint32, nbytes int) {
	bps := q.bytesPerSec.Load()
	if bps == 0 {
		bps = 22050
	}
	wait := time.Duration(nbytes) * time.Second / time.Duration(bps)
	stop := q.stopChan()

	for wait > 0 {
		if q.gate.Active() != gen {
			return
		}
		slice := wait
		if slice > paceSlice {
			slice = paceSlice
		}
		timer := time.NewTimer(slice)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		wait -= slice
	}
}

// PushMarker appends a done or error marker for gen. Markers for a
// generation that is no longer current are dropped.
func (q *Queue) PushMarker(gen uint32, kind ItemKind, value int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.gate.Current()
	if cur == 0 || gen != cur {
		return
	}
	if len(q.items) >= q.maxItems && !q.dropOldestAudioLocked() {
		return
	}
	q.items = append(q.items, &Item{Kind: kind, Value: value, Gen: gen})
}

// NoteStopped arranges for the next Read after a cancellation to surface
// one end-of-utterance marker. The worker's own marker dies with the
// closed gate, but the consumer still needs to see the utterance end.
func (q *Queue) NoteStopped() { q.stopDone.Store(true) }

// Clear discards everything queued.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.queuedBytes = 0
	q.mu.Unlock()
}

// Read drains the queue front into p. Stale-generation items are discarded,
// silence trimming is applied lazily, and at most one item is consumed per
// call: for audio the filled byte count is returned (the item stays queued
// while partially read), for markers zero bytes with the marker kind and
// value. Read never blocks; an empty queue yields KindNone.
func (q *Queue) Read(p []byte) (ItemKind, int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.gate.Current()
	if cur == 0 {
		q.items = nil
		q.queuedBytes = 0
		if q.stopDone.Swap(false) {
			return KindDone, 0, 0
		}
		return KindNone, 0, 0
	}
	q.stopDone.Store(false)

	q.dropStaleLocked(cur)
	if len(q.items) == 0 {
		return KindNone, 0, 0
	}

	if q.trimEnabled.Load() && q.formatValid {
		q.applyTrimLocked(cur)
		if len(q.items) == 0 {
			return KindNone, 0, 0
		}
	}

	front := q.items[0]
	if front.Kind != KindAudio {
		q.items = q.items[1:]
		return front.Kind, front.Value, 0
	}

	n := front.remaining()
	if n > len(p) {
		n = len(p)
	}
	if n > 0 {
		copy(p, front.data[front.off:front.off+n])
		front.off += n
		q.debitLocked(n)
	}
	if front.remaining() == 0 {
		q.items = q.items[1:]
	}
	return KindAudio, front.Value, n
}

func (q *Queue) dropStaleLocked(cur uint32) {
	for len(q.items) > 0 && q.items[0].Gen != cur {
		it := q.items[0]
		if it.Kind == KindAudio {
			q.debitLocked(it.remaining())
		}
		q.items = q.items[1:]
	}
}
