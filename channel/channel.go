package channel

import (
	"context"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/sagernet/sing-socket/common/atomic"
	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	"github.com/sagernet/sing-socket/common/poll"

	"github.com/sirupsen/logrus"
)

var errOutputShutdown = E.New("output shut down")

// StreamChannel binds a connected stream socket to an event loop.
//
// Methods may be called from any goroutine; they post their work to the loop in call order.
// Fields below the loop marker are only touched by loop tasks.
type StreamChannel struct {
	loop     EventLoop
	socket   Socket
	parent   ServerChannel
	handler  Handler
	logger   logrus.FieldLogger
	config   *SocketConfig
	outbound *OutboundBuffer

	state            atomic.Int32
	connectRequested atomic.Bool
	closeRequested   atomic.Bool
	closePromise     *Promise[struct{}]
	localAddr        atomic.TypedValue[netip.AddrPort]
	remoteAddr       atomic.TypedValue[netip.AddrPort]

	md5Access sync.Mutex
	md5Sigs   map[netip.Addr][]byte

	// loop
	registered         bool
	interest           poll.Event
	connectPromise     *Promise[struct{}]
	connectTimeout     Cancelable
	requestedRemote    netip.AddrPort
	readPending        bool
	readReadyScheduled bool
	flushScheduled     bool
	inputShutdown      bool
	outputShutdown     bool
	recvAllocator      RecvBufferAllocator
	recvHandle         RecvHandle
}

type ChannelOption func(channel *StreamChannel)

func WithLogger(logger logrus.FieldLogger) ChannelOption {
	return func(channel *StreamChannel) {
		channel.logger = logger
	}
}

// WithConfig adjusts the configuration before the channel is registered.
func WithConfig(apply func(config *SocketConfig)) ChannelOption {
	return func(channel *StreamChannel) {
		apply(channel.config)
	}
}

// NewStreamChannel creates an unconnected channel; call Connect to open it.
func NewStreamChannel(loop EventLoop, socket Socket, handler Handler, options ...ChannelOption) *StreamChannel {
	channel := newStreamChannel(nil, loop, socket, handler, options)
	channel.register(false)
	return channel
}

// NewAcceptedStreamChannel wraps a socket accepted by parent. The channel starts connected and
// inherits a copy of the parent's TCP MD5 signature table.
func NewAcceptedStreamChannel(parent ServerChannel, loop EventLoop, socket Socket, remote netip.AddrPort, handler Handler, options ...ChannelOption) *StreamChannel {
	channel := newStreamChannel(parent, loop, socket, handler, options)
	if parent != nil {
		channel.md5Sigs = cloneTCPMD5Sigs(parent.TCPMD5Sigs())
	}
	channel.connectRequested.Store(true)
	channel.state.Store(int32(StateConnected))
	channel.localAddr.Store(socket.LocalAddr())
	if !remote.IsValid() {
		remote = socket.RemoteAddr()
	}
	channel.remoteAddr.Store(remote)
	channel.register(true)
	return channel
}

func newStreamChannel(parent ServerChannel, loop EventLoop, socket Socket, handler Handler, options []ChannelOption) *StreamChannel {
	if handler == nil {
		handler = HandlerAdapter{}
	}
	channel := &StreamChannel{
		loop:         loop,
		socket:       socket,
		parent:       parent,
		handler:      handler,
		closePromise: NewPromise[struct{}](),
	}
	channel.config = newSocketConfig(channel)
	channel.outbound = NewOutboundBuffer(channel.config.Config, channel.writabilityChanged)
	for _, option := range options {
		option(channel)
	}
	if channel.logger == nil {
		channel.logger = log.NewLogger("channel").WithField("fd", socket.FD())
	}
	return channel
}

func (c *StreamChannel) Config() *SocketConfig {
	return c.config
}

func (c *StreamChannel) State() State {
	return State(c.state.Load())
}

func (c *StreamChannel) Parent() ServerChannel {
	return c.parent
}

func (c *StreamChannel) Family() Family {
	return c.socket.Family()
}

func (c *StreamChannel) IsOpen() bool {
	return c.socket.IsOpen()
}

func (c *StreamChannel) IsActive() bool {
	return c.State() == StateConnected
}

func (c *StreamChannel) IsWritable() bool {
	return c.outbound.IsWritable()
}

func (c *StreamChannel) BytesBeforeUnwritable() int64 {
	return c.outbound.BytesBeforeUnwritable()
}

func (c *StreamChannel) BytesBeforeWritable() int64 {
	return c.outbound.BytesBeforeWritable()
}

func (c *StreamChannel) LocalAddr() netip.AddrPort {
	return c.localAddr.Load()
}

func (c *StreamChannel) RemoteAddr() netip.AddrPort {
	return c.remoteAddr.Load()
}

func (c *StreamChannel) CloseFuture() *Future[struct{}] {
	return &c.closePromise.Future
}

func (c *StreamChannel) runOnLoop(task func()) {
	err := c.loop.Execute(task)
	if err != nil {
		c.logger.Debug("event loop rejected task, running inline: ", err)
		task()
	}
}

func (c *StreamChannel) bestEffort(op string, err error) {
	if err != nil {
		c.logger.Debug("ignore error during ", op, ": ", err)
	}
}

func (c *StreamChannel) register(active bool) {
	err := c.loop.Execute(func() {
		c.register0(active)
	})
	if err != nil {
		c.logger.Debug("register: ", err)
		c.closeRequested.Store(true)
		c.close0()
	}
}

func (c *StreamChannel) register0(active bool) {
	if c.State() >= StateClosing {
		return
	}
	err := c.loop.Register(c.socket.FD(), c, c.interest)
	if err != nil {
		c.handler.ExceptionCaught(c, &IOError{Op: "register", Cause: err})
		c.close0()
		return
	}
	c.registered = true
	if active {
		c.handler.ChannelActive(c)
		if c.config.AutoRead() {
			c.read0()
		}
	}
}

func (c *StreamChannel) setInterest(interest poll.Event) {
	if interest == c.interest {
		return
	}
	c.interest = interest
	if !c.registered {
		return
	}
	c.bestEffort("set interest "+interest.String(), c.loop.SetInterest(c.socket.FD(), interest))
}

// HandleFDEvent dispatches readiness reported by the event loop.
func (c *StreamChannel) HandleFDEvent(events poll.Event) {
	switch c.State() {
	case StateConnecting:
		if events&(poll.EventWrite|poll.EventError|poll.EventHangUp) != 0 {
			c.finishConnect()
		}
	case StateConnected:
		if events.Writable() {
			c.doWrite()
		}
		if events.Readable() && c.State() == StateConnected {
			c.readReady()
		}
	}
}

// Connect starts connecting to remote, binding to local first when it is valid. A channel
// connects at most once; later calls fail without touching the channel.
func (c *StreamChannel) Connect(remote netip.AddrPort, local netip.AddrPort) *Future[struct{}] {
	promise := NewPromise[struct{}]()
	if !c.connectRequested.CompareAndSwap(false, true) {
		promise.Fail(&StateError{Op: "connect", State: c.State()})
		return &promise.Future
	}
	if !remote.IsValid() {
		promise.Fail(&ConnectError{Remote: remote, Cause: E.New("invalid remote address")})
		return &promise.Future
	}
	err := c.loop.Execute(func() {
		c.connect0(remote, local, promise)
	})
	if err != nil {
		promise.Fail(&ConnectError{Remote: remote, Cause: err})
	}
	return &promise.Future
}

// Dial connects to remote and waits for the result. The channel is closed if ctx ends first.
func (c *StreamChannel) Dial(ctx context.Context, remote netip.AddrPort) error {
	_, err := c.Connect(remote, netip.AddrPort{}).Await(ctx)
	if err != nil && ctx.Err() != nil {
		c.Close()
	}
	return err
}

func (c *StreamChannel) connect0(remote netip.AddrPort, local netip.AddrPort, promise *Promise[struct{}]) {
	if state := c.State(); state != StateUnconnected {
		promise.Fail(&StateError{Op: "connect", State: state})
		return
	}
	c.connectPromise = promise
	c.requestedRemote = remote
	c.state.Store(int32(StateConnecting))
	c.logger.Debug("connecting to ", remote)

	if local.IsValid() {
		err := c.socket.Bind(local)
		if err != nil {
			c.failConnect(err)
			return
		}
	}
	connected, err := c.doConnect(remote, local)
	if err != nil {
		c.failConnect(err)
		return
	}
	if connected {
		c.fulfillConnect()
		return
	}
	c.setInterest(c.interest | poll.EventWrite)
	timeout := time.Duration(c.config.ConnectTimeoutMillis()) * time.Millisecond
	c.connectTimeout = c.loop.Schedule(timeout, func() {
		if c.State() != StateConnecting || c.connectPromise != promise {
			return
		}
		c.failConnect(ErrConnectTimeout)
	})
}

// doConnect sends the flushed head of the outbound queue with the SYN when fast open is
// enabled. A fast open in progress keeps every byte queued and continues on the standard path.
func (c *StreamChannel) doConnect(remote netip.AddrPort, local netip.AddrPort) (bool, error) {
	if c.socket.FastOpenSupported() && c.config.TCPFastOpenConnect() {
		c.outbound.AddFlush()
		if head := c.outbound.Current(); head != nil && head.Len() > 0 {
			sent, err := c.socket.ConnectWithData(local, remote, [][]byte{head.Bytes()})
			if err != nil {
				return false, err
			}
			if sent > 0 {
				c.logger.Debug("fast open accepted ", sent, " bytes")
				c.outbound.RemoveBytes(sent)
				return true, nil
			}
			c.logger.Debug("fast open in progress")
			c.setInterest(c.interest | poll.EventWrite)
		}
	}
	return c.socket.Connect(remote)
}

func (c *StreamChannel) finishConnect() {
	connected, err := c.socket.FinishConnect()
	if err != nil {
		c.failConnect(err)
		return
	}
	if connected {
		c.fulfillConnect()
	}
}

func (c *StreamChannel) failConnect(cause error) {
	err := &ConnectError{Remote: c.requestedRemote, Cause: cause}
	c.logger.Debug(err)
	if c.connectPromise != nil {
		c.connectPromise.Fail(err)
	}
	c.close0()
}

func (c *StreamChannel) fulfillConnect() {
	if c.connectTimeout != nil {
		c.connectTimeout.Cancel()
		c.connectTimeout = nil
	}
	c.state.Store(int32(StateConnected))
	c.localAddr.Store(c.socket.LocalAddr())
	remote := c.socket.RemoteAddr()
	if !remote.IsValid() {
		remote = c.requestedRemote
	}
	c.remoteAddr.Store(remote)
	c.logger.Debug("connected to ", remote)
	c.connectPromise.Succeed(struct{}{})
	c.handler.ChannelActive(c)
	if c.State() != StateConnected {
		return
	}
	if c.config.AutoRead() {
		c.read0()
	}
	c.setInterest(c.interest &^ poll.EventWrite)
	if !c.outbound.IsEmpty() {
		c.doWrite()
	}
}

// Write queues buffer, taking ownership of it. Nothing is sent before Flush.
func (c *StreamChannel) Write(buffer *buf.Buffer) *Future[struct{}] {
	promise := NewPromise[struct{}]()
	err := c.loop.Execute(func() {
		c.write0(buffer, promise)
	})
	if err != nil {
		buffer.Release()
		promise.Fail(&StateError{Op: "write", State: StateClosed})
	}
	return &promise.Future
}

func (c *StreamChannel) Flush() {
	c.bestEffort("flush", c.loop.Execute(c.flush0))
}

func (c *StreamChannel) WriteAndFlush(buffer *buf.Buffer) *Future[struct{}] {
	future := c.Write(buffer)
	c.Flush()
	return future
}

func (c *StreamChannel) write0(buffer *buf.Buffer, promise *Promise[struct{}]) {
	if state := c.State(); state >= StateClosing {
		buffer.Release()
		promise.Fail(&StateError{Op: "write", State: state})
		return
	}
	if c.outputShutdown {
		buffer.Release()
		promise.Fail(&IOError{Op: "write", Cause: errOutputShutdown})
		return
	}
	c.outbound.AddMessage(buffer, promise)
}

func (c *StreamChannel) flush0() {
	c.outbound.AddFlush()
	if c.State() != StateConnected || c.interest&poll.EventWrite != 0 {
		return
	}
	c.doWrite()
}

func (c *StreamChannel) scheduleFlush() {
	if c.flushScheduled {
		return
	}
	c.flushScheduled = true
	c.bestEffort("schedule flush", c.loop.Execute(func() {
		c.flushScheduled = false
		if c.State() == StateConnected {
			c.doWrite()
		}
	}))
}

// doWrite writes flushed data for at most WriteSpinCount attempts. A short write waits for
// write readiness; exhausting the spins yields to other loop tasks before continuing.
func (c *StreamChannel) doWrite() {
	maxMessages := c.config.MaxMessagesPerWrite()
	for spin := c.config.WriteSpinCount(); spin > 0; spin-- {
		if c.outbound.IsEmpty() {
			c.setInterest(c.interest &^ poll.EventWrite)
			return
		}
		buffers := c.outbound.Buffers(maxMessages, 0)
		if len(buffers) == 0 {
			c.outbound.RemoveBytes(0)
			continue
		}
		n, err := c.socket.Writev(buffers)
		if err != nil {
			c.handleWriteError(err)
			return
		}
		if n == 0 {
			c.setInterest(c.interest | poll.EventWrite)
			return
		}
		c.outbound.RemoveBytes(n)
	}
	if c.outbound.IsEmpty() {
		c.setInterest(c.interest &^ poll.EventWrite)
		return
	}
	c.scheduleFlush()
}

func (c *StreamChannel) handleWriteError(cause error) {
	err := &IOError{Op: "write", Cause: cause}
	c.outbound.FailFlushed(err)
	c.handler.ExceptionCaught(c, err)
	if c.config.AutoClose() {
		c.close0()
		return
	}
	c.shutdownOutput0(nil)
}

func (c *StreamChannel) writabilityChanged(writable bool) {
	c.handler.ChannelWritabilityChanged(c, writable)
}

// Read requests one read cycle. With auto read enabled, reads are requested automatically.
func (c *StreamChannel) Read() {
	c.bestEffort("read", c.loop.Execute(c.read0))
}

func (c *StreamChannel) requestRead() {
	c.Read()
}

func (c *StreamChannel) autoReadCleared() {
	c.bestEffort("clear read", c.loop.Execute(func() {
		c.readPending = false
		if c.State() == StateConnected {
			c.setInterest(c.interest &^ poll.EventRead)
		}
	}))
}

func (c *StreamChannel) read0() {
	if c.State() != StateConnected || c.inputShutdown {
		return
	}
	c.readPending = true
	if c.interest&poll.EventRead != 0 {
		if c.loop.EdgeTriggered() {
			c.scheduleReadReady()
		}
		return
	}
	c.setInterest(c.interest | poll.EventRead)
}

func (c *StreamChannel) scheduleReadReady() {
	if c.readReadyScheduled {
		return
	}
	c.readReadyScheduled = true
	c.bestEffort("schedule read", c.loop.Execute(func() {
		c.readReadyScheduled = false
		c.readReady()
	}))
}

func (c *StreamChannel) recvBufferHandle() RecvHandle {
	allocator := c.config.RecvBufferAllocator()
	if c.recvHandle == nil || c.recvAllocator != allocator {
		c.recvAllocator = allocator
		c.recvHandle = allocator.NewHandle()
	}
	return c.recvHandle
}

func (c *StreamChannel) readReady() {
	if c.State() != StateConnected || c.inputShutdown {
		return
	}
	if !c.readPending && !c.config.AutoRead() {
		c.setInterest(c.interest &^ poll.EventRead)
		return
	}
	handle := c.recvBufferHandle()
	handle.Reset(c.config.Config)
	allocator := c.config.BufferAllocator()
	var (
		eof     bool
		readErr error
	)
	for {
		buffer := handle.Allocate(allocator)
		handle.SetAttemptedBytesRead(buffer.FreeLen())
		n, err := c.socket.Read(buffer.FreeBytes())
		if err != nil {
			buffer.Release()
			handle.SetLastBytesRead(0)
			if err == io.EOF {
				eof = true
			} else {
				readErr = &IOError{Op: "read", Cause: err}
			}
			break
		}
		handle.SetLastBytesRead(n)
		if n == 0 {
			buffer.Release()
			break
		}
		buffer.Extend(n)
		handle.IncMessagesRead(1)
		c.readPending = false
		c.handler.ChannelRead(c, buffer)
		if !handle.ContinueReading() {
			break
		}
	}
	handle.ReadComplete()
	c.handler.ChannelReadComplete(c)

	switch {
	case readErr != nil:
		c.handler.ExceptionCaught(c, readErr)
		c.close0()
		return
	case eof:
		c.closeOnRead()
		return
	}
	if c.State() != StateConnected {
		return
	}
	if !c.readPending && !c.config.AutoRead() {
		c.setInterest(c.interest &^ poll.EventRead)
		return
	}
	if c.loop.EdgeTriggered() && handle.LastBytesRead() > 0 && handle.LastBytesRead() == handle.AttemptedBytesRead() {
		c.scheduleReadReady()
	}
}

func (c *StreamChannel) closeOnRead() {
	if !c.config.AllowHalfClosure() {
		c.close0()
		return
	}
	c.shutdownInput0()
}

func (c *StreamChannel) shutdownInput0() {
	if c.inputShutdown {
		return
	}
	c.inputShutdown = true
	c.readPending = false
	c.bestEffort("shutdown input", c.socket.ShutdownInput())
	c.setInterest(c.interest &^ poll.EventRead)
	c.handler.ChannelInputShutdown(c)
	if c.outputShutdown {
		c.close0()
	}
}

// ShutdownOutput half-closes the write side. Queued writes fail and later writes are rejected.
func (c *StreamChannel) ShutdownOutput() *Future[struct{}] {
	promise := NewPromise[struct{}]()
	err := c.loop.Execute(func() {
		c.shutdownOutput0(promise)
	})
	if err != nil {
		promise.Fail(&StateError{Op: "shutdown output", State: StateClosed})
	}
	return &promise.Future
}

func (c *StreamChannel) shutdownOutput0(promise *Promise[struct{}]) {
	if state := c.State(); state != StateConnected {
		if promise != nil {
			promise.Fail(&StateError{Op: "shutdown output", State: state})
		}
		return
	}
	if c.outputShutdown {
		if promise != nil {
			promise.Succeed(struct{}{})
		}
		return
	}
	c.outputShutdown = true
	c.outbound.Close(&IOError{Op: "write", Cause: errOutputShutdown})
	c.setInterest(c.interest &^ poll.EventWrite)
	err := c.socket.ShutdownOutput()
	if err != nil {
		err = &IOError{Op: "shutdown output", Cause: err}
	}
	if promise != nil {
		promise.Complete(struct{}{}, err)
	}
	if c.inputShutdown {
		c.close0()
	}
}

// Close closes the channel once; every call returns the same future.
func (c *StreamChannel) Close() *Future[struct{}] {
	if c.closeRequested.CompareAndSwap(false, true) {
		c.runOnLoop(c.close0)
	}
	return &c.closePromise.Future
}

func (c *StreamChannel) close0() {
	state := c.State()
	if state >= StateClosing {
		return
	}
	c.closeRequested.Store(true)
	wasActive := state == StateConnected
	c.state.Store(int32(StateClosing))
	c.logger.Debug("closing")

	if c.connectTimeout != nil {
		c.connectTimeout.Cancel()
		c.connectTimeout = nil
	}
	if c.connectPromise != nil {
		c.connectPromise.Fail(&ConnectError{Remote: c.requestedRemote, Cause: ErrClosed})
	}
	c.outbound.Close(&StateError{Op: "write", State: StateClosed})

	executor := c.prepareToClose()
	if executor == nil {
		c.closeSocket()
		c.finishClose(wasActive)
		return
	}
	c.registered = false
	executor.OnComplete(func(executor Executor, err error) {
		if err != nil {
			c.bestEffort("deregister before close", err)
			c.runOnLoop(func() {
				c.closeSocket()
				c.finishClose(wasActive)
			})
			return
		}
		err = executor.Execute(func() {
			c.bestEffort("close socket", c.socket.Close())
			c.runOnLoop(func() {
				c.finishClose(wasActive)
			})
		})
		if err != nil {
			c.bestEffort("close on fallback executor", err)
			c.runOnLoop(func() {
				c.closeSocket()
				c.finishClose(wasActive)
			})
		}
	})
}

// prepareToClose deregisters a socket with a positive linger timeout before it is closed, so
// the loop does not keep waking up while the kernel drains it. The returned future resolves
// to the executor the blocking close should run on; nil means close inline.
func (c *StreamChannel) prepareToClose() *Future[Executor] {
	executor, err := c.lingerDeregistration()
	if err != nil {
		c.bestEffort("prepare to close", err)
		return nil
	}
	return executor
}

func (c *StreamChannel) lingerDeregistration() (*Future[Executor], error) {
	if !c.socket.IsOpen() {
		return nil, nil
	}
	linger, err := c.socket.Linger()
	if err != nil {
		return nil, err
	}
	if linger <= 0 {
		return nil, nil
	}
	deregistered := c.loop.DeregisterForIO(c.socket.FD())
	if _, err, done := deregistered.Result(); done && err != nil {
		return nil, err
	}
	return MapFuture(deregistered, func(struct{}) Executor {
		return c.loop.FallbackExecutor()
	}), nil
}

func (c *StreamChannel) closeSocket() {
	if c.registered {
		c.registered = false
		c.bestEffort("deregister", c.loop.Deregister(c.socket.FD()))
	}
	c.bestEffort("close socket", c.socket.Close())
}

func (c *StreamChannel) finishClose(wasActive bool) {
	c.registered = false
	c.state.Store(int32(StateClosed))
	c.logger.Debug("closed")
	if wasActive {
		c.handler.ChannelInactive(c)
	}
	c.closePromise.Succeed(struct{}{})
}

func (c *StreamChannel) TCPInfo() (*TCPInfo, error) {
	var info TCPInfo
	err := c.TCPInfoInto(&info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// TCPInfoInto fills info with a snapshot taken by a blocking getsockopt.
func (c *StreamChannel) TCPInfoInto(info *TCPInfo) error {
	if !c.socket.IsOpen() {
		return &StateError{Op: "tcp info", State: c.State()}
	}
	err := c.socket.TCPInfo(info)
	if err != nil {
		return &IOError{Op: "tcp info", Cause: err}
	}
	return nil
}

func (c *StreamChannel) TCPMD5Sigs() map[netip.Addr][]byte {
	c.md5Access.Lock()
	defer c.md5Access.Unlock()
	return cloneTCPMD5Sigs(c.md5Sigs)
}

// SetTCPMD5Sig replaces the signature table; addresses missing from keys are removed.
func (c *StreamChannel) SetTCPMD5Sig(keys map[netip.Addr][]byte) error {
	if !c.socket.IsOpen() {
		return &StateError{Op: "set " + OptionTCPMD5Sig.String(), State: c.State()}
	}
	c.md5Access.Lock()
	defer c.md5Access.Unlock()
	sigs, err := applyTCPMD5Sigs(c.socket, c.md5Sigs, keys)
	c.md5Sigs = sigs
	return err
}
