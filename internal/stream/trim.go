package stream

// Read-time silence trimming. Trimming only ever touches byte ranges that
// have not been delivered yet, runs once per generation for the leading
// edge and once for the trailing edge, and the trailing pass is deferred
// until a done marker is visible so audio that may still be followed by
// more audio is never cut.

// trimParams derives the scan windows and the amplitude threshold from the
// 0-100 aggressiveness factor.
type trimParams struct {
	maxLeadMs   int
	keepLeadMs  int
	maxTailMs   int
	keepTailMs  int
	threshold16 uint32
}

func paramsForFactor(pf int) trimParams {
	if pf < 0 {
		pf = 0
	}
	if pf > 100 {
		pf = 100
	}
	return trimParams{
		maxLeadMs:   200 + pf*12,
		keepLeadMs:  8,
		maxTailMs:   250 + pf*12,
		keepTailMs:  10,
		threshold16: uint32(48 + pf*2),
	}
}

// threshold8 maps a 16-bit amplitude threshold into 8-bit amplitude space
// (0..127, silence centered at 128).
func threshold8(threshold16 uint32) uint32 {
	t := threshold16 / 64
	if t < 1 {
		t = 1
	}
	if t > 127 {
		t = 127
	}
	return t
}

func abs16(v int16) uint32 {
	if v < 0 {
		return uint32(-int32(v))
	}
	return uint32(v)
}

func abs8u(v byte) uint32 {
	d := int(v) - 128
	if d < 0 {
		return uint32(-d)
	}
	return uint32(d)
}

// silentFrame reports whether every channel of one sample frame is at or
// below the threshold. frame must hold one full block-aligned frame.
func silentFrame(frame []byte, channels, bits int, t16, t8 uint32) bool {
	if bits == 16 {
		for c := 0; c < channels; c++ {
			v := int16(uint16(frame[2*c]) | uint16(frame[2*c+1])<<8)
			if abs16(v) > t16 {
				return false
			}
		}
		return true
	}
	for c := 0; c < channels; c++ {
		if abs8u(frame[c]) > t8 {
			return false
		}
	}
	return true
}

// msToFrames converts a millisecond window into whole frames at the given
// data rate and frame size.
func msToFrames(bps uint64, ms, blockAlign int) int {
	if bps == 0 || ms <= 0 || blockAlign <= 0 {
		return 0
	}
	return int(bps * uint64(ms) / 1000 / uint64(blockAlign))
}

// applyTrimLocked performs the per-generation lead and tail trim passes.
// Caller holds q.mu and has verified the format is valid.
func (q *Queue) applyTrimLocked(cur uint32) {
	if q.format.BitsPerSample != 8 && q.format.BitsPerSample != 16 {
		return
	}
	blockAlign := q.format.BlockAlign()
	if blockAlign <= 0 {
		return
	}

	p := paramsForFactor(int(q.pauseFactor.Load()))
	bps := q.bytesPerSec.Load()

	if q.leadTrimGen.Load() != cur {
		q.trimLeadLocked(p, bps, blockAlign)
		q.leadTrimGen.Store(cur)

		// Drop audio items the trim emptied.
		for len(q.items) > 0 && q.items[0].Kind == KindAudio && q.items[0].remaining() == 0 {
			q.items = q.items[1:]
		}
	}

	if q.tailTrimGen.Load() != cur && q.doneVisibleLocked() {
		q.trimTailLocked(p, bps, blockAlign)
		q.tailTrimGen.Store(cur)
	}
}

func (q *Queue) doneVisibleLocked() bool {
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Kind == KindDone {
			return true
		}
	}
	return false
}

// trimLeadLocked advances the read offset of the first audio item past any
// leading silence, bounded by the scan window and the always-kept margin.
// Only runs before any of the item has been delivered.
func (q *Queue) trimLeadLocked(p trimParams, bps uint64, blockAlign int) {
	for _, it := range q.items {
		if it.Kind != KindAudio {
			continue
		}
		if it.off != 0 {
			return
		}

		totalFrames := len(it.data) / blockAlign
		if totalFrames == 0 {
			return
		}
		scanFrames := msToFrames(bps, p.maxLeadMs, blockAlign)
		if scanFrames == 0 || scanFrames > totalFrames {
			scanFrames = totalFrames
		}
		keepFrames := msToFrames(bps, p.keepLeadMs, blockAlign)

		t8 := threshold8(p.threshold16)
		silent := 0
		for ; silent < scanFrames; silent++ {
			frame := it.data[silent*blockAlign : (silent+1)*blockAlign]
			if !silentFrame(frame, q.format.Channels, q.format.BitsPerSample, p.threshold16, t8) {
				break
			}
		}

		if silent <= keepFrames {
			return
		}
		trim := (silent - keepFrames) * blockAlign
		if trim > len(it.data) {
			trim = len(it.data)
		}
		it.off += trim
		q.debitLocked(trim)
		return
	}
}

// trimTailLocked shortens the last audio item's undelivered tail past any
// trailing silence, never removing bytes that were already handed out.
func (q *Queue) trimTailLocked(p trimParams, bps uint64, blockAlign int) {
	for i := len(q.items) - 1; i >= 0; i-- {
		it := q.items[i]
		if it.Kind != KindAudio {
			continue
		}

		dataSz := len(it.data)
		if dataSz < blockAlign || it.off >= dataSz {
			return
		}

		// Whole-frame scan boundaries over the unread portion only.
		scanEnd := dataSz / blockAlign * blockAlign
		scanStart := (it.off + blockAlign - 1) / blockAlign * blockAlign
		if scanEnd == 0 || scanStart >= scanEnd {
			return
		}

		totalFrames := scanEnd / blockAlign
		startFrame := scanStart / blockAlign
		available := totalFrames - startFrame
		if available <= 0 {
			return
		}

		scanFrames := msToFrames(bps, p.maxTailMs, blockAlign)
		if scanFrames == 0 || scanFrames > available {
			scanFrames = available
		}
		keepFrames := msToFrames(bps, p.keepTailMs, blockAlign)

		t8 := threshold8(p.threshold16)
		trailing := 0
		for j := 0; j < scanFrames; j++ {
			idx := totalFrames - 1 - j
			if idx < startFrame {
				break
			}
			frame := it.data[idx*blockAlign : (idx+1)*blockAlign]
			if !silentFrame(frame, q.format.Channels, q.format.BitsPerSample, p.threshold16, t8) {
				break
			}
			trailing++
		}

		if trailing <= keepFrames {
			return
		}
		trim := (trailing - keepFrames) * blockAlign
		if max := scanEnd - scanStart; trim > max {
			trim = max
		}
		if rem := dataSz - it.off; trim > rem {
			trim = rem
		}
		if trim <= 0 {
			return
		}

		it.data = it.data[:dataSz-trim]
		q.debitLocked(trim)
		return
	}
}
