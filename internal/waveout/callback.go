package waveout

// Message is a completion notification delivered back to the device opener.
type Message int

const (
	MsgOpen Message = iota
	MsgDone
	MsgClose
)

// Callback is the completion-notification mechanism registered on open.
// The platform offers several conventions (callback function, window or
// thread message post, event signal); each is honored through one of the
// implementations below.
type Callback interface {
	Notify(msg Message, hdr *Header)
}

// FuncCallback invokes a function directly on the writing goroutine,
// mirroring the platform's function-callback convention.
type FuncCallback func(msg Message, hdr *Header)

func (f FuncCallback) Notify(msg Message, hdr *Header) {
	if f != nil {
		f(msg, hdr)
	}
}

// Posted is one notification delivered through a PostCallback.
type Posted struct {
	Msg    Message
	Header *Header
}

// PostCallback posts notifications to a channel, mirroring the window- and
// thread-message conventions. Posts never block; if the channel is full the
// notification is dropped, as a flooded message queue would drop it.
type PostCallback chan Posted

func (c PostCallback) Notify(msg Message, hdr *Header) {
	if c == nil {
		return
	}
	select {
	case c <- Posted{Msg: msg, Header: hdr}:
	default:
	}
}

// EventCallback signals a channel on write completion only, mirroring the
// event-handle convention where open/close transitions are not reported.
type EventCallback chan struct{}

func (c EventCallback) Notify(msg Message, hdr *Header) {
	if c == nil || msg != MsgDone {
		return
	}
	select {
	case c <- struct{}{}:
	default:
	}
}

func notify(cb Callback, msg Message, hdr *Header) {
	if cb != nil {
		cb.Notify(msg, hdr)
	}
}
