package channel

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/poll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRemote = netip.MustParseAddrPort("127.0.0.1:8080")

func newTestChannel(t *testing.T, options ...ChannelOption) (*StreamChannel, *testLoop, *testSocket, *recordingHandler) {
	t.Helper()
	loop := newTestLoop()
	socket := newTestSocket(7)
	handler := new(recordingHandler)
	channel := NewStreamChannel(loop, socket, handler, options...)
	loop.runPending()
	require.Contains(t, loop.registered, 7)
	return channel, loop, socket, handler
}

func requireDone[T any](t *testing.T, future *Future[T]) (T, error) {
	t.Helper()
	value, err, done := future.Result()
	require.True(t, done, "future not completed")
	return value, err
}

func connected(t *testing.T, channel *StreamChannel, loop *testLoop, socket *testSocket) {
	t.Helper()
	socket.connected = true
	future := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()
	_, err := requireDone(t, future)
	require.NoError(t, err)
	require.Equal(t, StateConnected, channel.State())
}

func TestFastOpenAccepted(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	channel.Config().SetTCPFastOpenConnect(true)
	socket.fastOpen = true
	socket.connectWithDataN = 128

	written := channel.Write(payload(128))
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	_, err := requireDone(t, connect)
	require.NoError(t, err)
	require.Equal(t, StateConnected, channel.State())
	require.Zero(t, socket.connectCalls)
	require.Len(t, socket.connectWithData, 1)
	require.Len(t, socket.connectWithData[0], 128)
	require.Zero(t, channel.outbound.TotalPendingBytes())
	require.Zero(t, channel.outbound.Size())
	_, err = requireDone(t, written)
	require.NoError(t, err)
	require.Equal(t, 1, handler.active)
	require.Equal(t, testRemote, channel.RemoteAddr())
}

func TestFastOpenInProgress(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	channel.Config().SetTCPFastOpenConnect(true)
	socket.fastOpen = true
	socket.connectWithDataN = 0

	data := payload(128)
	expected := bytes.Clone(data.Bytes())
	written := channel.Write(data)
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	require.Equal(t, StateConnecting, channel.State())
	require.Len(t, socket.connectWithData, 1)
	require.Equal(t, 1, socket.connectCalls, "in-progress fast open continues on the standard path")
	require.EqualValues(t, 128, channel.outbound.TotalPendingBytes())
	require.Equal(t, 128, channel.outbound.Current().Len())
	require.NotZero(t, loop.registered[7]&poll.EventWrite)
	require.False(t, connect.IsDone())

	socket.finishConnected = true
	channel.HandleFDEvent(poll.EventWrite)
	loop.runPending()

	_, err := requireDone(t, connect)
	require.NoError(t, err)
	require.Equal(t, StateConnected, channel.State())
	require.Equal(t, expected, socket.written.Bytes())
	require.Zero(t, channel.outbound.TotalPendingBytes())
	_, err = requireDone(t, written)
	require.NoError(t, err)
	require.Zero(t, loop.registered[7]&poll.EventWrite)
}

func TestFastOpenSkippedOnEmptyQueue(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	channel.Config().SetTCPFastOpenConnect(true)
	socket.fastOpen = true
	socket.connected = true

	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	_, err := requireDone(t, connect)
	require.NoError(t, err)
	require.Empty(t, socket.connectWithData)
	require.Equal(t, 1, socket.connectCalls)
	require.Equal(t, StateConnected, channel.State())
}

func TestFastOpenDisabledUsesStandardPath(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	socket.fastOpen = true
	socket.connected = true

	channel.Write(payload(16))
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	_, err := requireDone(t, connect)
	require.NoError(t, err)
	require.Empty(t, socket.connectWithData)
	require.EqualValues(t, 16, channel.outbound.TotalPendingBytes(), "unflushed data stays queued")
}

func TestFastOpenHardFailure(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	channel.Config().SetTCPFastOpenConnect(true)
	socket.fastOpen = true
	socket.connectWithDataErr = E.New("operation not supported")

	written := channel.Write(payload(32))
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	_, err := requireDone(t, connect)
	require.ErrorIs(t, err, ErrConnect)
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	require.Equal(t, testRemote, connectErr.Remote)
	require.Zero(t, socket.connectCalls, "no standard path retry after a fast open failure")
	require.Equal(t, StateClosed, channel.State())
	require.False(t, socket.IsOpen())
	_, err = requireDone(t, written)
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnectTwice(t *testing.T) {
	t.Parallel()
	channel, loop, _, _ := newTestChannel(t)

	first := channel.Connect(testRemote, netip.AddrPort{})
	second := channel.Connect(testRemote, netip.AddrPort{})
	_, err := requireDone(t, second)
	require.ErrorIs(t, err, ErrState)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, StateUnconnected, channel.State())

	loop.runPending()
	require.Equal(t, StateConnecting, channel.State())
	require.False(t, first.IsDone())

	third := channel.Connect(testRemote, netip.AddrPort{})
	_, err = requireDone(t, third)
	require.ErrorIs(t, err, ErrState)
	require.Equal(t, StateConnecting, channel.State())
}

func TestConnectBindsLocal(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	socket.connected = true
	local := netip.MustParseAddrPort("127.0.0.1:50000")
	channel.Connect(testRemote, local)
	loop.runPending()
	require.Equal(t, local, socket.bound)
}

func TestConnectTimeout(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	require.NoError(t, channel.Config().SetConnectTimeoutMillis(1500))

	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()
	require.Len(t, loop.timers, 1)
	require.EqualValues(t, 1500_000_000, loop.timers[0].delay)

	loop.fireTimers()
	_, err := requireDone(t, connect)
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, ErrConnectTimeout)
	require.True(t, E.IsTimeout(err))
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, socket.closeCalls)
	require.NotContains(t, loop.registered, 7)
}

func TestConnectFinishError(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()

	socket.finishErr = E.New("connection refused")
	channel.HandleFDEvent(poll.EventWrite | poll.EventError)
	_, err := requireDone(t, connect)
	require.ErrorIs(t, err, ErrConnect)
	require.Equal(t, StateClosed, channel.State())
	require.True(t, loop.timers[0].canceled)
}

func TestPrepareToCloseWithoutLinger(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.linger = 0

	require.Nil(t, channel.prepareToClose())
	require.Empty(t, loop.deregistered)

	closed := channel.Close()
	loop.runPending()
	_, err := requireDone(t, closed)
	require.NoError(t, err)
	require.Empty(t, loop.deregistered)
	require.Zero(t, loop.fallback.tasks)
	require.Equal(t, 1, socket.closeCalls)
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, handler.inactive)
}

func TestPrepareToCloseInvalidatedSocket(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	socket.linger = 5
	loop.deregisterErr = E.New("bad file descriptor")

	require.Nil(t, channel.prepareToClose())
	require.Len(t, loop.deregistered, 1)

	socket.lingerErr = E.New("bad file descriptor")
	require.Nil(t, channel.prepareToClose())
	require.Len(t, loop.deregistered, 1)
}

func TestPrepareToCloseClosedSocket(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	socket.linger = 5
	socket.open = false
	require.Nil(t, channel.prepareToClose())
	require.Empty(t, loop.deregistered)
}

func TestPrepareToCloseWithLinger(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	socket.linger = 5

	executor := channel.prepareToClose()
	require.NotNil(t, executor)
	require.Equal(t, []int{7}, loop.deregistered)
	require.False(t, executor.IsDone())

	loop.runPending()
	value, err := requireDone(t, executor)
	require.NoError(t, err)
	require.Same(t, loop.fallback, value)
	require.NotContains(t, loop.registered, 7)
}

func TestCloseWithLingerRunsOnFallbackExecutor(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.linger = 5

	closed := channel.Close()
	require.Same(t, closed, channel.Close())
	loop.runPending()

	_, err := requireDone(t, closed)
	require.NoError(t, err)
	require.Equal(t, 1, loop.fallback.tasks)
	require.Equal(t, 1, socket.closeCalls)
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, handler.inactive)
	require.NotContains(t, loop.registered, 7)
}

func TestCloseWithLingerDeregistrationFailsLater(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.linger = 5
	loop.holdDeregister = true

	closed := channel.Close()
	loop.runPending()
	require.False(t, closed.IsDone())
	require.NotNil(t, loop.heldDeregister)
	require.Zero(t, socket.closeCalls)
	require.Equal(t, StateClosing, channel.State())

	loop.heldDeregister.Fail(E.New("bad file descriptor"))
	loop.runPending()

	_, err := requireDone(t, closed)
	require.NoError(t, err)
	require.Equal(t, 1, socket.closeCalls)
	require.Zero(t, loop.fallback.tasks)
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, handler.inactive)
	require.Empty(t, handler.exceptions)
}

func TestCloseWithLingerFallbackExecutorRejects(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.linger = 5
	loop.fallback.err = E.New("executor shut down")

	closed := channel.Close()
	loop.runPending()

	_, err := requireDone(t, closed)
	require.NoError(t, err)
	require.Equal(t, []int{7}, loop.deregistered)
	require.Zero(t, loop.fallback.tasks)
	require.Equal(t, 1, socket.closeCalls)
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, handler.inactive)
	require.Empty(t, handler.exceptions)
}

func TestSocketOptionsAfterClose(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)
	config := channel.Config()
	require.NoError(t, config.SetSoLinger(0))
	require.NoError(t, channel.SetTCPMD5Sig(map[netip.Addr][]byte{netip.MustParseAddr("10.0.0.1"): []byte("k")}))

	channel.Close()
	loop.runPending()
	require.False(t, socket.IsOpen())
	optionCalls, md5Calls := socket.optionCalls, len(socket.md5Calls)

	err := config.SetSoLinger(5)
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, err, ErrClosed)
	_, err = config.SoLinger()
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, config.SetTCPNoDelay(true), ErrState)
	_, err = config.ReceiveBufferSize()
	require.ErrorIs(t, err, ErrState)
	_, err = config.SetOption(OptionTCPKeepIdle, 30)
	require.ErrorIs(t, err, ErrState)
	err = channel.SetTCPMD5Sig(map[netip.Addr][]byte{netip.MustParseAddr("10.0.0.2"): []byte("k")})
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, config.SetTCPMD5Sig(nil), ErrState)

	require.Equal(t, optionCalls, socket.optionCalls)
	require.Len(t, socket.md5Calls, md5Calls)
	require.Len(t, channel.TCPMD5Sigs(), 1)
	_, loaded := config.Option(OptionSoLinger)
	require.False(t, loaded)
}

func TestCloseFailsQueuedWrites(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)

	first := channel.Write(payload(10))
	second := channel.Write(payload(10))
	channel.Close()
	loop.runPending()

	for _, future := range []*Future[struct{}]{first, second} {
		_, err := requireDone(t, future)
		require.ErrorIs(t, err, ErrClosed)
	}
	require.Zero(t, channel.outbound.TotalPendingBytes())

	late := channel.Write(payload(1))
	loop.runPending()
	_, err := requireDone(t, late)
	require.ErrorIs(t, err, ErrState)
	require.ErrorIs(t, err, ErrClosed)

	connect := channel.Connect(testRemote, netip.AddrPort{})
	_, err = requireDone(t, connect)
	require.ErrorIs(t, err, ErrState)
}

func TestClosePendingConnect(t *testing.T) {
	t.Parallel()
	channel, loop, _, handler := newTestChannel(t)
	connect := channel.Connect(testRemote, netip.AddrPort{})
	loop.runPending()
	channel.Close()
	loop.runPending()

	_, err := requireDone(t, connect)
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, ErrClosed)
	require.Zero(t, handler.inactive, "never active")
	require.True(t, loop.timers[0].canceled)
}

func TestWriteFlush(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)

	first := channel.Write(payload(5))
	loop.runPending()
	require.Zero(t, socket.written.Len(), "nothing is written before flush")

	channel.Flush()
	loop.runPending()
	require.Equal(t, 5, socket.written.Len())
	_, err := requireDone(t, first)
	require.NoError(t, err)
}

func TestShutdownOutputRejectsWrites(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)

	queued := channel.Write(payload(5))
	shutdown := channel.ShutdownOutput()
	loop.runPending()
	_, err := requireDone(t, shutdown)
	require.NoError(t, err)
	require.True(t, socket.shutWrite)
	_, err = requireDone(t, queued)
	require.ErrorIs(t, err, ErrIO)

	rejected := channel.WriteAndFlush(payload(1))
	loop.runPending()
	_, err = requireDone(t, rejected)
	require.ErrorIs(t, err, ErrIO)
	require.Zero(t, socket.written.Len())
	require.True(t, channel.IsActive())
}

func TestWritePartialWaitsForWritability(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.writeBudget = 4

	written := channel.WriteAndFlush(payload(10))
	loop.runPending()
	require.Equal(t, 4, socket.written.Len())
	require.Equal(t, 2, socket.writeCalls)
	require.False(t, written.IsDone())
	require.NotZero(t, loop.registered[7]&poll.EventWrite)
	require.EqualValues(t, 10, channel.outbound.TotalPendingBytes())

	channel.Flush()
	loop.runPending()
	require.Equal(t, 2, socket.writeCalls, "flush waits for write readiness")

	socket.writeBudget = -1
	channel.HandleFDEvent(poll.EventWrite)
	require.Equal(t, 10, socket.written.Len())
	_, err := requireDone(t, written)
	require.NoError(t, err)
	require.Zero(t, loop.registered[7]&poll.EventWrite)
}

func TestWriteErrorClosesWithAutoClose(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.writeErr = E.New("broken pipe")

	written := channel.WriteAndFlush(payload(3))
	loop.runPending()
	_, err := requireDone(t, written)
	require.ErrorIs(t, err, ErrIO)
	require.Len(t, handler.exceptions, 1)
	require.Equal(t, StateClosed, channel.State())
}

func TestWriteErrorShutsDownOutputWithoutAutoClose(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t, WithConfig(func(config *SocketConfig) {
		config.SetAutoClose(false)
	}))
	connected(t, channel, loop, socket)
	socket.writeErr = E.New("broken pipe")

	channel.WriteAndFlush(payload(3))
	loop.runPending()
	require.Len(t, handler.exceptions, 1)
	require.Equal(t, StateConnected, channel.State())
	require.True(t, socket.shutWrite)

	late := channel.Write(payload(1))
	loop.runPending()
	_, err := requireDone(t, late)
	require.ErrorIs(t, err, ErrIO)
}

func TestWriteSpinCountYields(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	connected(t, channel, loop, socket)
	require.NoError(t, channel.Config().SetWriteSpinCount(2))
	require.NoError(t, channel.Config().SetMaxMessagesPerWrite(1))

	for i := 0; i < 5; i++ {
		channel.Write(payload(1))
	}
	channel.Flush()
	for i := 0; i < 6 && len(loop.tasks) > 0; i++ {
		task := loop.tasks[0]
		loop.tasks = loop.tasks[1:]
		task()
	}
	require.Equal(t, 2, socket.written.Len(), "one flush cycle writes at most two batches")
	require.Len(t, loop.tasks, 1, "the rest is written by a scheduled flush")

	loop.runPending()
	require.Equal(t, 5, socket.written.Len())
}

func TestWritabilityNotifications(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	require.NoError(t, channel.Config().SetWriteBufferWaterMark(4, 8))

	channel.Write(payload(6))
	loop.runPending()
	require.True(t, channel.IsWritable())
	require.EqualValues(t, 2, channel.BytesBeforeUnwritable())

	channel.Write(payload(2))
	loop.runPending()
	require.False(t, channel.IsWritable())
	require.Equal(t, []bool{false}, handler.writability)
	require.EqualValues(t, 4, channel.BytesBeforeWritable())

	channel.Flush()
	loop.runPending()
	require.True(t, channel.IsWritable())
	require.Equal(t, []bool{false, true}, handler.writability)
}

func TestReadLoop(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	socket.reads = [][]byte{[]byte("hello "), []byte("world")}
	connected(t, channel, loop, socket)
	require.NotZero(t, loop.registered[7]&poll.EventRead)

	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, "hello ", handler.read.String())
	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, "hello world", handler.read.String())
	require.Equal(t, 2, handler.readComplete)

	socket.readEOF = true
	channel.HandleFDEvent(poll.EventRead | poll.EventHangUp)
	loop.runPending()
	require.Equal(t, StateClosed, channel.State())
	require.Equal(t, 1, handler.inactive)
}

func TestReadHalfClosure(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t, WithConfig(func(config *SocketConfig) {
		config.SetAllowHalfClosure(true)
	}))
	connected(t, channel, loop, socket)

	socket.readEOF = true
	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, StateConnected, channel.State())
	require.Equal(t, 1, handler.inputClosed)
	require.True(t, socket.shutRead)
	require.Zero(t, loop.registered[7]&poll.EventRead)

	shutdown := channel.ShutdownOutput()
	loop.runPending()
	_, err := requireDone(t, shutdown)
	require.NoError(t, err)
	require.True(t, socket.shutWrite)
	require.Equal(t, StateClosed, channel.State())
}

func TestReadErrorCloses(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	connected(t, channel, loop, socket)
	socket.readErr = E.New("connection reset by peer")

	channel.HandleFDEvent(poll.EventRead)
	require.Len(t, handler.exceptions, 1)
	require.ErrorIs(t, handler.exceptions[0], ErrIO)
	require.Equal(t, StateClosed, channel.State())
}

func TestAutoReadOffStopsReading(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t, WithConfig(func(config *SocketConfig) {
		config.SetAutoRead(false)
	}))
	socket.reads = [][]byte{[]byte("a"), []byte("b")}
	connected(t, channel, loop, socket)
	require.Zero(t, loop.registered[7]&poll.EventRead)

	channel.Read()
	loop.runPending()
	require.NotZero(t, loop.registered[7]&poll.EventRead)
	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, "a", handler.read.String(), "one read per request without auto read")
	require.Zero(t, loop.registered[7]&poll.EventRead)

	channel.Config().SetAutoRead(true)
	loop.runPending()
	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, "ab", handler.read.String())

	channel.Config().SetAutoRead(false)
	loop.runPending()
	require.Zero(t, loop.registered[7]&poll.EventRead)
}

func TestEdgeTriggeredReadReschedules(t *testing.T) {
	t.Parallel()
	channel, loop, socket, handler := newTestChannel(t)
	loop.edgeTriggered = true
	require.NoError(t, channel.Config().SetMaxMessagesPerRead(1))
	require.NoError(t, channel.Config().SetRecvBufferAllocator(mustFixed(t, 4)))
	socket.reads = [][]byte{[]byte("abcdefgh")}
	connected(t, channel, loop, socket)

	channel.HandleFDEvent(poll.EventRead)
	require.Equal(t, "abcd", handler.read.String())
	require.Len(t, loop.tasks, 1, "a full read on an edge-triggered loop reschedules itself")
	loop.runPending()
	require.Equal(t, "abcdefgh", handler.read.String())
}

func mustFixed(t *testing.T, size int) *FixedRecvBufferAllocator {
	t.Helper()
	allocator, err := NewFixedRecvBufferAllocator(size)
	require.NoError(t, err)
	return allocator
}

func TestAcceptedChannel(t *testing.T) {
	t.Parallel()
	loop := newTestLoop()
	socket := newTestSocket(9)
	handler := new(recordingHandler)
	peer := netip.MustParseAddr("10.0.0.1")
	parent := &testServerChannel{sigs: map[netip.Addr][]byte{peer: []byte("secret")}}

	channel := NewAcceptedStreamChannel(parent, loop, socket, netip.AddrPort{}, handler)
	require.Equal(t, StateConnected, channel.State())
	require.Equal(t, socket.remote, channel.RemoteAddr())
	loop.runPending()
	require.Equal(t, 1, handler.active)
	require.NotZero(t, loop.registered[9]&poll.EventRead)

	parent.sigs[peer][0] = 'X'
	parent.sigs[netip.MustParseAddr("10.0.0.2")] = []byte("other")
	sigs := channel.TCPMD5Sigs()
	require.Len(t, sigs, 1)
	require.Equal(t, []byte("secret"), sigs[peer])
	require.Same(t, parent, channel.Parent())

	_, err := requireDone(t, channel.Connect(testRemote, netip.AddrPort{}))
	require.ErrorIs(t, err, ErrState)
}

type testServerChannel struct {
	sigs map[netip.Addr][]byte
}

func (s *testServerChannel) TCPMD5Sigs() map[netip.Addr][]byte {
	return s.sigs
}

func TestSetTCPMD5Sig(t *testing.T) {
	t.Parallel()
	channel, _, socket, _ := newTestChannel(t)
	a, b, c := netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.3")

	require.NoError(t, channel.SetTCPMD5Sig(map[netip.Addr][]byte{a: []byte("ka"), b: []byte("kb")}))
	socket.md5Calls = nil
	require.NoError(t, channel.Config().SetTCPMD5Sig(map[netip.Addr][]byte{b: []byte("kb2"), c: []byte("kc")}))

	calls := make(map[netip.Addr][]byte)
	for _, call := range socket.md5Calls {
		calls[call.addr] = call.key
	}
	require.Len(t, calls, 3)
	require.Empty(t, calls[a])
	require.Equal(t, []byte("kb2"), calls[b])
	require.Equal(t, []byte("kc"), calls[c])
	require.Len(t, channel.TCPMD5Sigs(), 2)

	err := channel.SetTCPMD5Sig(map[netip.Addr][]byte{a: make([]byte, TCPMD5SigMaxKeyLength+1)})
	require.ErrorIs(t, err, ErrConfiguration)
	require.Len(t, channel.TCPMD5Sigs(), 2)

	socket.md5Err = ErrUnsupported
	err = channel.SetTCPMD5Sig(map[netip.Addr][]byte{a: []byte("ka")})
	require.ErrorIs(t, err, ErrUnsupported)
	require.ErrorIs(t, err, ErrIO)
}

func TestSetTCPMD5SigPartialFailure(t *testing.T) {
	t.Parallel()
	channel, _, socket, _ := newTestChannel(t)
	a, b, c := netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.3")
	require.NoError(t, channel.SetTCPMD5Sig(map[netip.Addr][]byte{a: []byte("ka"), b: []byte("kb")}))

	socket.md5Err = ErrUnsupported
	socket.md5FailAddr = c
	err := channel.SetTCPMD5Sig(map[netip.Addr][]byte{b: []byte("kb2"), c: []byte("kc")})
	require.ErrorIs(t, err, ErrIO)

	installed := make(map[netip.Addr][]byte)
	for _, call := range socket.md5Calls {
		if len(call.key) == 0 {
			delete(installed, call.addr)
		} else {
			installed[call.addr] = call.key
		}
	}
	require.Equal(t, installed, channel.TCPMD5Sigs())
	require.NotContains(t, channel.TCPMD5Sigs(), a)
	require.NotContains(t, channel.TCPMD5Sigs(), c)
}

func TestTCPInfo(t *testing.T) {
	t.Parallel()
	channel, loop, socket, _ := newTestChannel(t)
	info, err := channel.TCPInfo()
	require.NoError(t, err)
	require.EqualValues(t, 1460, info.SndMSS)

	channel.Close()
	loop.runPending()
	require.False(t, socket.IsOpen())
	_, err = channel.TCPInfo()
	require.ErrorIs(t, err, ErrState)
}

func TestStateErrorMatching(t *testing.T) {
	t.Parallel()
	err := error(&StateError{Op: "write", State: StateConnecting})
	assert.True(t, errors.Is(err, ErrState))
	assert.False(t, errors.Is(err, ErrClosed))
	assert.Equal(t, "write: channel connecting", err.Error())
}
