package channel

import (
	"time"

	"github.com/sagernet/sing-socket/common/poll"
)

type Executor interface {
	Execute(task func()) error
}

type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Execute(task func()) error {
	return f(task)
}

type Cancelable interface {
	Cancel() bool
}

// EventLoop runs every state transition and I/O call of the channels bound to it.
// Register, SetInterest and Deregister may only be called from loop tasks.
type EventLoop interface {
	Executor
	Schedule(delay time.Duration, task func()) Cancelable
	Register(fd int, handler poll.Handler, interest poll.Event) error
	SetInterest(fd int, interest poll.Event) error
	Deregister(fd int) error
	DeregisterForIO(fd int) *Future[struct{}]
	EdgeTriggered() bool
	FallbackExecutor() Executor
}
