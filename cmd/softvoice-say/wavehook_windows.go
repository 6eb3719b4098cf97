//go:build windows

package main

import (
	"fmt"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// Wave API constants, straight from mmsystem.h.
const (
	mmsyserrNoError = 0
	mmsyserrError   = 1

	whdrDone     = 0x0001
	whdrPrepared = 0x0002
	whdrInQueue  = 0x0010

	callbackTypeMask = 0x00070000
	callbackWindow   = 0x00010000
	callbackFunction = 0x00030000
	callbackEvent    = 0x00050000

	womOpen  = 0x03BB
	womClose = 0x03BC
	womDone  = 0x03BD
)

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

type waveHdr struct {
	Data          *byte
	BufferLength  uint32
	BytesRecorded uint32
	User          uintptr
	Flags         uint32
	Loops         uint32
	Next          uintptr
	Reserved      uintptr
}

// waveHook redirects the engine module's waveOut imports into a capture
// Device. Only that module's import table is patched, so every call
// arriving here is known to come from the engine; the rest of the process
// keeps the real winmm entry points.
type waveHook struct {
	mu       sync.Mutex
	dev      waveout.Device
	sessions map[uintptr]*waveSession
	nextID   uintptr

	patches []iatPatch
}

// waveSession tracks one engine-opened output handle and the completion
// callback convention it registered.
type waveSession struct {
	handle     waveout.Handle
	cbValue    uintptr
	cbInstance uintptr
	cbFlags    uint32
}

type iatPatch struct {
	slot *uintptr
	orig uintptr
}

// installWaveHook patches the module's winmm import slots with stubs
// backed by dev. The callbacks stay registered for the life of the
// process, so the hook is installed at most once per engine load.
func installWaveHook(base windows.Handle, dev waveout.Device) (*waveHook, error) {
	h := &waveHook{
		dev:      dev,
		sessions: make(map[uintptr]*waveSession),
		nextID:   1,
	}

	stubs := map[string]uintptr{
		"waveOutOpen":            windows.NewCallback(h.open),
		"waveOutPrepareHeader":   windows.NewCallback(h.prepare),
		"waveOutWrite":           windows.NewCallback(h.write),
		"waveOutUnprepareHeader": windows.NewCallback(h.unprepare),
		"waveOutReset":           windows.NewCallback(h.reset),
		"waveOutClose":           windows.NewCallback(h.close),
	}

	patches, err := patchImports(uintptr(base), "winmm.dll", stubs)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("no winmm wave imports found in engine module")
	}
	h.patches = patches

	return h, nil
}

// setDevice swaps the capture device for later sessions.
func (h *waveHook) setDevice(dev waveout.Device) {
	h.mu.Lock()
	h.dev = dev
	h.mu.Unlock()
}

func (h *waveHook) device() waveout.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev
}

func (h *waveHook) session(id uintptr) *waveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// restore puts the original winmm addresses back so the module can be
// unloaded with its import table intact.
func (h *waveHook) restore() {
	size := unsafe.Sizeof(uintptr(0))
	for _, p := range h.patches {
		var old uint32
		if err := windows.VirtualProtect(uintptr(unsafe.Pointer(p.slot)), size, windows.PAGE_READWRITE, &old); err != nil {
			continue
		}
		*p.slot = p.orig
		_ = windows.VirtualProtect(uintptr(unsafe.Pointer(p.slot)), size, old, &old)
	}
	h.patches = nil
}

func (h *waveHook) open(phwo, deviceID, pwfx, cbValue, cbInstance, flags uintptr) uintptr {
	dev := h.device()
	if dev == nil || phwo == 0 || pwfx == 0 {
		return mmsyserrError
	}

	wf := (*waveFormatEx)(unsafe.Pointer(pwfx))
	f := waveout.Format{
		SampleRate:    int(wf.SamplesPerSec),
		Channels:      int(wf.Channels),
		BitsPerSample: int(wf.BitsPerSample),
	}

	goHandle, err := dev.Open(int(int32(deviceID)), f, nil)
	if err != nil {
		return mmsyserrError
	}

	sess := &waveSession{
		handle:     goHandle,
		cbValue:    cbValue,
		cbInstance: cbInstance,
		cbFlags:    uint32(flags),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.sessions[id] = sess
	h.mu.Unlock()

	*(*uintptr)(unsafe.Pointer(phwo)) = id
	sess.notify(id, womOpen, 0)
	return mmsyserrNoError
}

func (h *waveHook) prepare(hwo, pwh, cbwh uintptr) uintptr {
	sess := h.session(hwo)
	if sess == nil || pwh == 0 {
		return mmsyserrError
	}
	if err := h.device().PrepareHeader(sess.handle, &waveout.Header{}); err != nil {
		return mmsyserrError
	}
	(*waveHdr)(unsafe.Pointer(pwh)).Flags |= whdrPrepared
	return mmsyserrNoError
}

func (h *waveHook) write(hwo, pwh, cbwh uintptr) uintptr {
	sess := h.session(hwo)
	if sess == nil || pwh == 0 {
		return mmsyserrError
	}
	hdr := (*waveHdr)(unsafe.Pointer(pwh))

	var data []byte
	if hdr.Data != nil && hdr.BufferLength > 0 {
		data = unsafe.Slice(hdr.Data, hdr.BufferLength)
	}

	hdr.Flags |= whdrInQueue
	goHdr := waveout.Header{Data: data, Prepared: hdr.Flags&whdrPrepared != 0}
	err := h.device().Write(sess.handle, &goHdr)
	hdr.Flags &^= whdrInQueue
	hdr.Flags |= whdrDone
	if err != nil {
		return mmsyserrError
	}

	// The engine reuses the buffer only after the done notification, and
	// the queue copied the data during Write, so the slice never outlives
	// the native header.
	sess.notify(hwo, womDone, pwh)
	return mmsyserrNoError
}

func (h *waveHook) unprepare(hwo, pwh, cbwh uintptr) uintptr {
	sess := h.session(hwo)
	if sess == nil || pwh == 0 {
		return mmsyserrError
	}
	if err := h.device().UnprepareHeader(sess.handle, &waveout.Header{}); err != nil {
		return mmsyserrError
	}
	(*waveHdr)(unsafe.Pointer(pwh)).Flags &^= whdrPrepared
	return mmsyserrNoError
}

func (h *waveHook) reset(hwo uintptr) uintptr {
	sess := h.session(hwo)
	if sess == nil {
		return mmsyserrError
	}
	if err := h.device().Reset(sess.handle); err != nil {
		return mmsyserrError
	}
	return mmsyserrNoError
}

func (h *waveHook) close(hwo uintptr) uintptr {
	sess := h.session(hwo)
	if sess == nil {
		return mmsyserrError
	}
	if err := h.device().Close(sess.handle); err != nil {
		return mmsyserrError
	}

	h.mu.Lock()
	delete(h.sessions, hwo)
	h.mu.Unlock()

	sess.notify(hwo, womClose, 0)
	return mmsyserrNoError
}

// notify delivers a wave message through whichever completion convention
// the engine registered on open.
func (s *waveSession) notify(hwo uintptr, msg uint32, param1 uintptr) {
	switch s.cbFlags & callbackTypeMask {
	case callbackFunction:
		if s.cbValue != 0 {
			_, _, _ = syscall.SyscallN(s.cbValue, hwo, uintptr(msg), s.cbInstance, param1, 0)
		}
	case callbackWindow:
		if s.cbValue != 0 {
			_, _, _ = procPostMessageW.Call(s.cbValue, uintptr(msg), hwo, param1)
		}
	case callbackEvent:
		if s.cbValue != 0 {
			_ = windows.SetEvent(windows.Handle(s.cbValue))
		}
	}
}

// patchImports rewrites the import-address-table slots of one mapped
// module for the named DLL, returning the patched slots with their
// original addresses so they can be restored.
func patchImports(base uintptr, dll string, stubs map[string]uintptr) ([]iatPatch, error) {
	if *(*uint16)(unsafe.Pointer(base)) != 0x5A4D {
		return nil, fmt.Errorf("module at %#x has no DOS header", base)
	}

	nt := base + uintptr(*(*uint32)(unsafe.Pointer(base + 0x3C)))
	if *(*uint32)(unsafe.Pointer(nt)) != 0x00004550 {
		return nil, fmt.Errorf("module at %#x has no PE header", base)
	}

	opt := nt + 24
	var dirOff uintptr
	switch *(*uint16)(unsafe.Pointer(opt)) {
	case 0x10B: // PE32
		dirOff = 96
	case 0x20B: // PE32+
		dirOff = 112
	default:
		return nil, fmt.Errorf("module at %#x has unknown optional header", base)
	}

	// Data directory entry 1 is the import table.
	impRVA := *(*uint32)(unsafe.Pointer(opt + dirOff + 8))
	if impRVA == 0 {
		return nil, fmt.Errorf("module at %#x has no import table", base)
	}

	const (
		descSize  = 20
		thunkSize = unsafe.Sizeof(uintptr(0))
	)
	ordinalFlag := uintptr(1) << (8*thunkSize - 1)

	var patches []iatPatch
	for desc := base + uintptr(impRVA); ; desc += descSize {
		nameRVA := *(*uint32)(unsafe.Pointer(desc + 12))
		if nameRVA == 0 {
			break
		}
		if !strings.EqualFold(cstrAt(base+uintptr(nameRVA)), dll) {
			continue
		}

		lookupRVA := *(*uint32)(unsafe.Pointer(desc))
		addrRVA := *(*uint32)(unsafe.Pointer(desc + 16))
		if lookupRVA == 0 {
			lookupRVA = addrRVA
		}

		for i := uintptr(0); ; i++ {
			lookup := *(*uintptr)(unsafe.Pointer(base + uintptr(lookupRVA) + i*thunkSize))
			if lookup == 0 {
				break
			}
			if lookup&ordinalFlag != 0 {
				continue
			}
			// Past the ordinal word of IMAGE_IMPORT_BY_NAME.
			stub, ok := stubs[cstrAt(base+lookup+2)]
			if !ok {
				continue
			}

			slot := (*uintptr)(unsafe.Pointer(base + uintptr(addrRVA) + i*thunkSize))
			var old uint32
			if err := windows.VirtualProtect(uintptr(unsafe.Pointer(slot)), thunkSize, windows.PAGE_READWRITE, &old); err != nil {
				return patches, fmt.Errorf("unprotect import slot: %w", err)
			}
			patches = append(patches, iatPatch{slot: slot, orig: *slot})
			*slot = stub
			_ = windows.VirtualProtect(uintptr(unsafe.Pointer(slot)), thunkSize, old, &old)
		}
	}

	return patches, nil
}

func cstrAt(p uintptr) string {
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
