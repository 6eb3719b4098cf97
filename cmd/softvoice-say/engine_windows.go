//go:build windows

package main

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tgeczy/softvoice-wrapper/internal/config"
	"github.com/tgeczy/softvoice-wrapper/internal/doctor"
	"github.com/tgeczy/softvoice-wrapper/internal/engine"
	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterClassExW       = user32.NewProc("RegisterClassExW")
	procCreateWindowExW        = user32.NewProc("CreateWindowExW")
	procDestroyWindow          = user32.NewProc("DestroyWindow")
	procDefWindowProcW         = user32.NewProc("DefWindowProcW")
	procGetMessageW            = user32.NewProc("GetMessageW")
	procTranslateMessage       = user32.NewProc("TranslateMessage")
	procDispatchMessageW       = user32.NewProc("DispatchMessageW")
	procPostMessageW           = user32.NewProc("PostMessageW")
	procRegisterWindowMessageW = user32.NewProc("RegisterWindowMessageW")
)

// HWND_MESSAGE parents message-only windows.
const hwndMessage = ^uintptr(2)

const wmClose = 0x0010

type wndClassExW struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       uintptr
	Cursor     uintptr
	Background uintptr
	MenuName   *uint16
	ClassName  *uint16
	IconSm     uintptr
}

type msgW struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      [2]int32
}

// exportNames pairs each engine export with its stdcall-decorated form.
// 32-bit builds of the engine export decorated names; newer rebuilds
// export plain ones. Both are tried.
var setterExports = map[engine.Param][2]string{
	engine.ParamRate:          {"SVSetRate", "_SVSetRate@8"},
	engine.ParamPitch:         {"SVSetPitch", "_SVSetPitch@8"},
	engine.ParamF0Range:       {"SVSetF0Range", "_SVSetF0Range@8"},
	engine.ParamF0Perturb:     {"SVSetF0Perturb", "_SVSetF0Perturb@8"},
	engine.ParamVowelFactor:   {"SVSetVowelFactor", "_SVSetVowelFactor@8"},
	engine.ParamAVBias:        {"SVSetAVBias", "_SVSetAVBias@8"},
	engine.ParamAFBias:        {"SVSetAFBias", "_SVSetAFBias@8"},
	engine.ParamAHBias:        {"SVSetAHBias", "_SVSetAHBias@8"},
	engine.ParamPersonality:   {"SVSetPersonality", "_SVSetPersonality@8"},
	engine.ParamF0Style:       {"SVSetF0Style", "_SVSetF0Style@8"},
	engine.ParamVoicingMode:   {"SVSetVoicingMode", "_SVSetVoicingMode@8"},
	engine.ParamGender:        {"SVSetGender", "_SVSetGender@8"},
	engine.ParamGlottalSource: {"SVSetGlottalSource", "_SVSetGlottalSource@8"},
	engine.ParamSpeakingMode:  {"SVSetSpeakingMode", "_SVSetSpeakingMode@8"},
}

// getProcMaybeDecorated resolves name, then the stdcall-decorated fallback.
func getProcMaybeDecorated(mod windows.Handle, name, decorated string) uintptr {
	if p, err := windows.GetProcAddress(mod, name); err == nil && p != 0 {
		return p
	}
	if decorated != "" {
		if p, err := windows.GetProcAddress(mod, decorated); err == nil && p != 0 {
			return p
		}
	}

	return 0
}

// messagePump owns the hidden message-only window the engine posts its
// status codes to. The window lives on a locked OS thread; Notify calls are
// forwarded to whatever sink is installed.
type messagePump struct {
	hwnd uintptr
	done chan struct{}

	mu   sync.Mutex
	sink func(msgID uint32, code int)
}

func (p *messagePump) setSink(fn func(msgID uint32, code int)) {
	p.mu.Lock()
	p.sink = fn
	p.mu.Unlock()
}

func (p *messagePump) notify(msgID uint32, code int) {
	p.mu.Lock()
	fn := p.sink
	p.mu.Unlock()
	if fn != nil {
		fn(msgID, code)
	}
}

func (p *messagePump) stop() {
	if p.hwnd != 0 {
		_, _, _ = procPostMessageW.Call(p.hwnd, wmClose, 0, 0)
	}
	<-p.done
}

// startMessagePump creates the message-only window on a dedicated OS thread
// and runs its message loop until the window is destroyed.
func startMessagePump() (*messagePump, error) {
	p := &messagePump{done: make(chan struct{})}

	wndProc := windows.NewCallback(func(hwnd, msg, wParam, lParam uintptr) uintptr {
		if msg == wmClose {
			_, _, _ = procDestroyWindow.Call(hwnd)
			return 0
		}
		p.notify(uint32(msg), int(int32(wParam)))
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wParam, lParam)
		return r
	})

	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer close(p.done)

		className, err := windows.UTF16PtrFromString("SoftVoiceWrapperMsgWnd")
		if err != nil {
			ready <- err
			return
		}

		wc := wndClassExW{
			Size:      uint32(unsafe.Sizeof(wndClassExW{})),
			WndProc:   wndProc,
			ClassName: className,
		}
		atom, _, regErr := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc)))
		if atom == 0 && regErr != error(windows.ERROR_CLASS_ALREADY_EXISTS) {
			ready <- fmt.Errorf("register window class: %w", regErr)
			return
		}

		hwnd, _, createErr := procCreateWindowExW.Call(
			0,
			uintptr(unsafe.Pointer(className)),
			0,
			0,
			0, 0, 0, 0,
			hwndMessage,
			0,
			0,
			0,
		)
		if hwnd == 0 {
			ready <- fmt.Errorf("create message window: %w", createErr)
			return
		}
		p.hwnd = hwnd
		ready <- nil

		var m msgW
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if r == 0 || int32(r) == -1 {
				return
			}
			_, _, _ = procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
			_, _, _ = procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
			if m.Message == 0x0012 { // WM_QUIT
				return
			}
		}
	}()

	if err := <-ready; err != nil {
		return nil, err
	}

	return p, nil
}

// loadedEngine holds the engine's native modules and the message pump.
type loadedEngine struct {
	base windows.Handle
	eng  windows.Handle
	span windows.Handle
	pump *messagePump
	hook *waveHook
	ep   engine.EntryPoints
	msg  uint32
}

// loadEngineLibrary maps the engine modules, resolves their exports, and
// starts the message pump the entry points will post to.
func loadEngineLibrary(path string) (*loadedEngine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	base, err := windows.LoadLibrary(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}

	le := &loadedEngine{base: base}

	// Language data modules live next to the base library. Missing ones
	// are not fatal; the engine falls back to whatever it has.
	dir := filepath.Dir(abs)
	le.eng, _ = windows.LoadLibrary(filepath.Join(dir, "tieng32.dll"))
	le.span, _ = windows.LoadLibrary(filepath.Join(dir, "tispan32.dll"))

	pump, err := startMessagePump()
	if err != nil {
		le.unload()
		return nil, err
	}
	le.pump = pump

	syncName, _ := windows.UTF16PtrFromString("SVSyncMessages")
	msg, _, _ := procRegisterWindowMessageW.Call(uintptr(unsafe.Pointer(syncName)))
	le.msg = uint32(msg)

	ep := engine.EntryPoints{
		OpenSpeech:  getProcMaybeDecorated(base, "SVOpenSpeech", "_SVOpenSpeech@20"),
		CloseSpeech: getProcMaybeDecorated(base, "SVCloseSpeech", "_SVCloseSpeech@4"),
		Abort:       getProcMaybeDecorated(base, "SVAbort", "_SVAbort@4"),
		TTS:         getProcMaybeDecorated(base, "SVTTS", "_SVTTS@32"),
		SetLanguage: getProcMaybeDecorated(base, "SVSetLanguage", "_SVSetLanguage@8"),
		Setters:     make(map[engine.Param]uintptr),
		Window:      pump.hwnd,
	}
	for param, names := range setterExports {
		if addr := getProcMaybeDecorated(base, names[0], names[1]); addr != 0 {
			ep.Setters[param] = addr
		}
	}
	le.ep = ep

	return le, nil
}

// unload stops the pump and forces every engine module out of the process.
// A single FreeLibrary can leave a module mapped when the engine bumped its
// own refcount, so each handle is freed until the loader refuses.
func (le *loadedEngine) unload() {
	if le.hook != nil {
		le.hook.restore()
		le.hook = nil
	}
	if le.pump != nil {
		le.pump.stop()
		le.pump = nil
	}

	force := func(h *windows.Handle) {
		if *h == 0 {
			return
		}
		for windows.FreeLibrary(*h) == nil {
		}
		*h = 0
	}
	force(&le.span)
	force(&le.eng)
	force(&le.base)
}

// newNativeEngineFactory wires the loaded library into an engine
// constructor for the bridge. The capture device handed in by the bridge
// is installed behind the engine module's wave-output imports, so the
// audio the engine plays lands in the pull queue instead of hardware.
func newNativeEngineFactory(cfg config.Config) (func(dev waveout.Device) (engine.Engine, error), func(), error) {
	le, err := loadEngineLibrary(cfg.Engine.LibraryPath)
	if err != nil {
		return nil, nil, err
	}

	factory := func(dev waveout.Device) (engine.Engine, error) {
		if le.hook == nil {
			hook, err := installWaveHook(le.base, dev)
			if err != nil {
				return nil, fmt.Errorf("divert engine audio output: %w", err)
			}
			le.hook = hook
		} else {
			le.hook.setDevice(dev)
		}

		n, err := engine.NewNative(le.ep, le.msg)
		if err != nil {
			return nil, err
		}
		le.pump.setSink(n.Notify)
		return n, nil
	}

	return factory, le.unload, nil
}

// entryPointProbe loads the library, reports how many exports resolved,
// and unloads it again.
func entryPointProbe(path string) doctor.ProbeFunc {
	return func() (string, error) {
		le, err := loadEngineLibrary(path)
		if err != nil {
			return "", err
		}
		defer le.unload()

		required := 0
		for _, addr := range []uintptr{le.ep.OpenSpeech, le.ep.CloseSpeech, le.ep.Abort, le.ep.TTS} {
			if addr != 0 {
				required++
			}
		}
		if required < 4 {
			return "", fmt.Errorf("only %d of 4 required exports resolved", required)
		}

		return fmt.Sprintf("4 required + %d setter exports resolved", len(le.ep.Setters)), nil
	}
}
