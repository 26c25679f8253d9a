package channel

import (
	"bytes"
	"io"
	"net/netip"
	"time"

	"github.com/sagernet/sing-socket/common/buf"
	"github.com/sagernet/sing-socket/common/poll"
)

type testTimer struct {
	delay    time.Duration
	task     func()
	canceled bool
}

func (t *testTimer) Cancel() bool {
	if t.canceled {
		return false
	}
	t.canceled = true
	return true
}

type testExecutor struct {
	tasks int
	err   error
}

func (e *testExecutor) Execute(task func()) error {
	if e.err != nil {
		return e.err
	}
	e.tasks++
	task()
	return nil
}

// testLoop runs tasks only when the test drains it.
type testLoop struct {
	tasks         []func()
	timers        []*testTimer
	registered    map[int]poll.Event
	handlers      map[int]poll.Handler
	deregistered  []int
	deregisterErr error
	edgeTriggered bool
	fallback      *testExecutor

	// holdDeregister leaves DeregisterForIO futures for the test to complete.
	holdDeregister bool
	heldDeregister *Promise[struct{}]
}

func newTestLoop() *testLoop {
	return &testLoop{
		registered: make(map[int]poll.Event),
		handlers:   make(map[int]poll.Handler),
		fallback:   new(testExecutor),
	}
}

func (l *testLoop) Execute(task func()) error {
	l.tasks = append(l.tasks, task)
	return nil
}

func (l *testLoop) runPending() {
	for len(l.tasks) > 0 {
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		task()
	}
}

func (l *testLoop) fireTimers() {
	timers := l.timers
	l.timers = nil
	for _, timer := range timers {
		if !timer.canceled {
			timer.task()
		}
	}
	l.runPending()
}

func (l *testLoop) Schedule(delay time.Duration, task func()) Cancelable {
	timer := &testTimer{delay: delay, task: task}
	l.timers = append(l.timers, timer)
	return timer
}

func (l *testLoop) Register(fd int, handler poll.Handler, interest poll.Event) error {
	l.registered[fd] = interest
	l.handlers[fd] = handler
	return nil
}

func (l *testLoop) SetInterest(fd int, interest poll.Event) error {
	l.registered[fd] = interest
	return nil
}

func (l *testLoop) Deregister(fd int) error {
	delete(l.registered, fd)
	delete(l.handlers, fd)
	return nil
}

func (l *testLoop) DeregisterForIO(fd int) *Future[struct{}] {
	l.deregistered = append(l.deregistered, fd)
	if l.deregisterErr != nil {
		return Failed[struct{}](l.deregisterErr)
	}
	promise := NewPromise[struct{}]()
	if l.holdDeregister {
		l.heldDeregister = promise
		return &promise.Future
	}
	l.tasks = append(l.tasks, func() {
		_ = l.Deregister(fd)
		promise.Succeed(struct{}{})
	})
	return &promise.Future
}

func (l *testLoop) EdgeTriggered() bool {
	return l.edgeTriggered
}

func (l *testLoop) FallbackExecutor() Executor {
	return l.fallback
}

type md5Call struct {
	addr netip.Addr
	key  []byte
}

// testSocket scripts the results of every primitive call and records what the channel did.
type testSocket struct {
	fd     int
	open   bool
	family Family

	linger    int
	lingerErr error

	fastOpen           bool
	connectWithDataN   int64
	connectWithDataErr error
	connectWithData    [][]byte
	connectCalls       int
	connected          bool
	connectErr         error
	finishConnected    bool
	finishErr          error
	bound              netip.AddrPort

	written     bytes.Buffer
	writeBudget int
	writeErr    error
	writeCalls  int

	reads     [][]byte
	readEOF   bool
	readErr   error
	shutRead  bool
	shutWrite bool

	md5Calls    []md5Call
	md5Err      error
	md5FailAddr netip.Addr
	options     map[Option]int
	optionCalls int

	local      netip.AddrPort
	remote     netip.AddrPort
	closeCalls int
}

func newTestSocket(fd int) *testSocket {
	return &testSocket{
		fd:          fd,
		open:        true,
		family:      FamilyIPv4,
		linger:      -1,
		writeBudget: -1,
		options:     make(map[Option]int),
		local:       netip.MustParseAddrPort("127.0.0.1:40000"),
		remote:      netip.MustParseAddrPort("127.0.0.1:8080"),
	}
}

func (s *testSocket) FD() int { return s.fd }

func (s *testSocket) Family() Family { return s.family }

func (s *testSocket) IsOpen() bool { return s.open }

func (s *testSocket) Bind(local netip.AddrPort) error {
	s.bound = local
	return nil
}

func (s *testSocket) Connect(remote netip.AddrPort) (bool, error) {
	s.connectCalls++
	return s.connected, s.connectErr
}

func (s *testSocket) FinishConnect() (bool, error) {
	return s.finishConnected, s.finishErr
}

func (s *testSocket) FastOpenSupported() bool { return s.fastOpen }

func (s *testSocket) ConnectWithData(local, remote netip.AddrPort, data [][]byte) (int64, error) {
	for _, b := range data {
		s.connectWithData = append(s.connectWithData, bytes.Clone(b))
	}
	return s.connectWithDataN, s.connectWithDataErr
}

func (s *testSocket) Writev(data [][]byte) (int64, error) {
	s.writeCalls++
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	var n int64
	for _, b := range data {
		if s.writeBudget == 0 {
			break
		}
		if s.writeBudget > 0 && len(b) > s.writeBudget {
			b = b[:s.writeBudget]
		}
		s.written.Write(b)
		n += int64(len(b))
		if s.writeBudget > 0 {
			s.writeBudget -= len(b)
		}
	}
	return n, nil
}

func (s *testSocket) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		if s.readEOF {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, s.reads[0])
	if n < len(s.reads[0]) {
		s.reads[0] = s.reads[0][n:]
	} else {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *testSocket) ShutdownInput() error {
	s.shutRead = true
	return nil
}

func (s *testSocket) ShutdownOutput() error {
	s.shutWrite = true
	return nil
}

func (s *testSocket) Linger() (int, error) { return s.linger, s.lingerErr }

func (s *testSocket) SetLinger(seconds int) error {
	s.optionCalls++
	if seconds < 0 {
		seconds = -1
	}
	s.linger = seconds
	return nil
}

func (s *testSocket) TCPInfo(info *TCPInfo) error {
	info.State = 1
	info.SndMSS = 1460
	return nil
}

func (s *testSocket) SetTCPMD5Sig(addr netip.Addr, key []byte) error {
	if s.md5Err != nil && (!s.md5FailAddr.IsValid() || s.md5FailAddr == addr) {
		return s.md5Err
	}
	s.md5Calls = append(s.md5Calls, md5Call{addr, bytes.Clone(key)})
	return nil
}

func (s *testSocket) IntOption(option Option) (int, error) {
	s.optionCalls++
	return s.options[option], nil
}

func (s *testSocket) SetIntOption(option Option, value int) error {
	s.optionCalls++
	s.options[option] = value
	return nil
}

func (s *testSocket) LocalAddr() netip.AddrPort { return s.local }

func (s *testSocket) RemoteAddr() netip.AddrPort { return s.remote }

func (s *testSocket) Close() error {
	s.closeCalls++
	s.open = false
	return nil
}

type recordingHandler struct {
	HandlerAdapter
	active       int
	inactive     int
	read         bytes.Buffer
	readComplete int
	inputClosed  int
	writability  []bool
	exceptions   []error
}

func (h *recordingHandler) ChannelActive(channel *StreamChannel) {
	h.active++
}

func (h *recordingHandler) ChannelRead(channel *StreamChannel, buffer *buf.Buffer) {
	h.read.Write(buffer.Bytes())
	buffer.Release()
}

func (h *recordingHandler) ChannelReadComplete(channel *StreamChannel) {
	h.readComplete++
}

func (h *recordingHandler) ChannelInputShutdown(channel *StreamChannel) {
	h.inputClosed++
}

func (h *recordingHandler) ChannelWritabilityChanged(channel *StreamChannel, writable bool) {
	h.writability = append(h.writability, writable)
}

func (h *recordingHandler) ExceptionCaught(channel *StreamChannel, err error) {
	h.exceptions = append(h.exceptions, err)
}

func (h *recordingHandler) ChannelInactive(channel *StreamChannel) {
	h.inactive++
}

func payload(n int) *buf.Buffer {
	buffer := buf.NewSize(n)
	data := buffer.Extend(n)
	for i := range data {
		data[i] = byte(i)
	}
	return buffer
}
