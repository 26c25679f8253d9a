package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sagernet/sing-socket/channel"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	"github.com/sagernet/sing-socket/common/poll"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

var ErrLoopClosed = E.New("event loop closed")

// EventLoop runs tasks and readiness callbacks on a single goroutine.
type EventLoop struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        logrus.Ext1FieldLogger
	poller        *poll.Poller
	access        sync.Mutex
	tasks         *queue.Queue
	closed        bool
	wakeupPending atomic.Bool
	done          chan struct{}
	maxTasks      int
}

type Option func(loop *EventLoop)

func WithLogger(logger logrus.Ext1FieldLogger) Option {
	return func(loop *EventLoop) {
		loop.logger = logger
	}
}

// WithTaskBatch bounds how many tasks run between two polls.
func WithTaskBatch(maxTasks int) Option {
	return func(loop *EventLoop) {
		loop.maxTasks = maxTasks
	}
}

// New starts a loop that runs until ctx is canceled or Close is called.
func New(ctx context.Context, options ...Option) (*EventLoop, error) {
	poller, err := poll.New()
	if err != nil {
		return nil, E.Cause(err, "create poller")
	}
	ctx, cancel := context.WithCancel(ctx)
	loop := &EventLoop{
		ctx:      ctx,
		cancel:   cancel,
		poller:   poller,
		tasks:    queue.New(),
		done:     make(chan struct{}),
		maxTasks: 1024,
	}
	for _, option := range options {
		option(loop)
	}
	if loop.logger == nil {
		loop.logger = log.NewLogger("eventloop")
	}
	go loop.run()
	context.AfterFunc(ctx, func() {
		_ = loop.poller.Wakeup()
	})
	return loop, nil
}

func (l *EventLoop) Execute(task func()) error {
	l.access.Lock()
	if l.closed {
		l.access.Unlock()
		return ErrLoopClosed
	}
	l.tasks.Add(task)
	l.access.Unlock()
	if l.wakeupPending.CompareAndSwap(false, true) {
		return l.poller.Wakeup()
	}
	return nil
}

type scheduledTask struct {
	timer    *time.Timer
	canceled atomic.Bool
}

func (t *scheduledTask) Cancel() bool {
	if !t.canceled.CompareAndSwap(false, true) {
		return false
	}
	t.timer.Stop()
	return true
}

// Schedule runs task on the loop after delay unless canceled first.
func (l *EventLoop) Schedule(delay time.Duration, task func()) channel.Cancelable {
	scheduled := new(scheduledTask)
	scheduled.timer = time.AfterFunc(delay, func() {
		err := l.Execute(func() {
			if !scheduled.canceled.Load() {
				task()
			}
		})
		if err != nil {
			l.logger.Trace("drop scheduled task: ", err)
		}
	})
	return scheduled
}

func (l *EventLoop) Register(fd int, handler poll.Handler, interest poll.Event) error {
	return l.poller.Add(fd, handler, interest)
}

func (l *EventLoop) SetInterest(fd int, interest poll.Event) error {
	return l.poller.Modify(fd, interest)
}

func (l *EventLoop) Deregister(fd int) error {
	return l.poller.Remove(fd)
}

// DeregisterForIO removes fd from the poller on the loop and completes once it is removed.
func (l *EventLoop) DeregisterForIO(fd int) *channel.Future[struct{}] {
	promise := channel.NewPromise[struct{}]()
	err := l.Execute(func() {
		err := l.poller.Remove(fd)
		if err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed(struct{}{})
	})
	if err != nil {
		promise.Fail(err)
	}
	return &promise.Future
}

func (l *EventLoop) EdgeTriggered() bool {
	return poll.EdgeTriggered
}

func (l *EventLoop) FallbackExecutor() channel.Executor {
	return GlobalExecutor
}

func (l *EventLoop) Registered() int {
	return l.poller.Len()
}

func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Close stops the loop after the tasks already queued have run.
func (l *EventLoop) Close() error {
	l.cancel()
	<-l.done
	return nil
}

func (l *EventLoop) run() {
	defer close(l.done)
	defer l.poller.Close()
	l.logger.Debug("started")
	for {
		ran := l.runTasks(l.maxTasks)
		if l.ctx.Err() != nil {
			break
		}
		timeout := time.Duration(-1)
		if ran == l.maxTasks || l.pendingTasks() > 0 {
			timeout = 0
		}
		_, err := l.poller.Wait(timeout)
		l.wakeupPending.Store(false)
		if err != nil {
			if l.ctx.Err() != nil {
				break
			}
			l.logger.Error("poll: ", err)
		}
	}
	l.access.Lock()
	l.closed = true
	l.access.Unlock()
	for l.runTasks(l.maxTasks) > 0 {
	}
	l.logger.Debug("stopped")
}

func (l *EventLoop) pendingTasks() int {
	l.access.Lock()
	defer l.access.Unlock()
	return l.tasks.Length()
}

func (l *EventLoop) runTasks(maxTasks int) int {
	var ran int
	for ran < maxTasks {
		l.access.Lock()
		if l.tasks.Length() == 0 {
			l.access.Unlock()
			break
		}
		task := l.tasks.Remove().(func())
		l.access.Unlock()
		task()
		ran++
	}
	return ran
}
