// Package poll provides the readiness notification backend for event loops.
//
// On Linux the backend is epoll in edge-triggered mode; on Darwin and the BSDs it is kqueue in
// level-triggered mode. Callers must not assume either behavior: an edge-triggered poller
// reports a readiness transition once, so a handler that stops reading before the descriptor
// would block has to reschedule itself.
package poll

import "time"

type Event uint32

const (
	EventRead Event = 1 << iota
	EventWrite
	EventHangUp
	EventError
)

func (e Event) Readable() bool {
	return e&(EventRead|EventHangUp|EventError) != 0
}

func (e Event) Writable() bool {
	return e&(EventWrite|EventError) != 0
}

func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	var s string
	for _, flag := range []struct {
		event Event
		name  string
	}{{EventRead, "read"}, {EventWrite, "write"}, {EventHangUp, "hangup"}, {EventError, "error"}} {
		if e&flag.event == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += flag.name
	}
	return s
}

// Handler is notified on the goroutine calling Wait.
type Handler interface {
	HandleFDEvent(events Event)
}

type HandlerFunc func(events Event)

func (f HandlerFunc) HandleFDEvent(events Event) {
	f(events)
}

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
