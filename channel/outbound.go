package channel

import (
	"github.com/sagernet/sing-socket/common/atomic"
	"github.com/sagernet/sing-socket/common/buf"

	"github.com/eapache/queue"
)

const maxIovecCount = 1024

type outboundEntry struct {
	buffer  *buf.Buffer
	promise *Promise[struct{}]
	size    int64
}

// OutboundBuffer queues written buffers until the socket accepts them.
//
// Entries before the flush mark are eligible for writing. Pending bytes are counted with the
// configured MessageSizeEstimator at enqueue time and released when an entry is fully removed;
// crossing the high water mark makes the buffer unwritable, falling back to the low water mark
// makes it writable again. Only the event loop mutates the queue; pending bytes and writability
// may be read from any goroutine.
type OutboundBuffer struct {
	config               *Config
	onWritabilityChanged func(writable bool)
	entries              *queue.Queue
	flushed              int
	totalPendingBytes    atomic.Int64
	unwritable           atomic.Bool
	closeErr             error
}

func NewOutboundBuffer(config *Config, onWritabilityChanged func(writable bool)) *OutboundBuffer {
	return &OutboundBuffer{
		config:               config,
		onWritabilityChanged: onWritabilityChanged,
		entries:              queue.New(),
	}
}

// AddMessage takes ownership of buffer. The promise completes once every byte is written.
func (o *OutboundBuffer) AddMessage(buffer *buf.Buffer, promise *Promise[struct{}]) {
	if o.closeErr != nil {
		buffer.Release()
		if promise != nil {
			promise.Fail(o.closeErr)
		}
		return
	}
	size := int64(o.config.MessageSizeEstimator().Size(buffer))
	if size < 0 {
		size = 0
	}
	o.entries.Add(&outboundEntry{
		buffer:  buffer,
		promise: promise,
		size:    size,
	})
	o.incrementPendingBytes(size)
}

// AddFlush marks everything queued so far as eligible for writing.
func (o *OutboundBuffer) AddFlush() {
	o.flushed = o.entries.Length()
}

func (o *OutboundBuffer) current() *outboundEntry {
	if o.flushed == 0 {
		return nil
	}
	return o.entries.Peek().(*outboundEntry)
}

// Current returns the first flushed buffer, or nil when nothing is flushed.
func (o *OutboundBuffer) Current() *buf.Buffer {
	entry := o.current()
	if entry == nil {
		return nil
	}
	return entry.buffer
}

// Remove drops the first flushed entry and succeeds its promise.
func (o *OutboundBuffer) Remove() bool {
	return o.remove(nil)
}

func (o *OutboundBuffer) remove(err error) bool {
	entry := o.current()
	if entry == nil {
		return false
	}
	o.entries.Remove()
	o.flushed--
	entry.buffer.Release()
	if entry.promise != nil {
		if err != nil {
			entry.promise.Fail(err)
		} else {
			entry.promise.Succeed(struct{}{})
		}
	}
	o.decrementPendingBytes(entry.size, true)
	return true
}

// RemoveBytes accounts n written bytes against the flushed entries in order, removing the
// entries that were written completely and advancing the first partially written one.
func (o *OutboundBuffer) RemoveBytes(n int64) {
	for n > 0 {
		entry := o.current()
		if entry == nil {
			return
		}
		readable := int64(entry.buffer.Len())
		if readable <= n {
			n -= readable
			o.remove(nil)
		} else {
			entry.buffer.Advance(int(n))
			return
		}
	}
	for {
		entry := o.current()
		if entry == nil || entry.buffer.Len() > 0 {
			return
		}
		o.remove(nil)
	}
}

// Buffers collects the readable bytes of up to maxCount flushed entries, stopping before
// maxBytes is exceeded unless the first entry alone exceeds it. maxBytes <= 0 means unbounded.
func (o *OutboundBuffer) Buffers(maxCount int, maxBytes int64) [][]byte {
	if maxCount <= 0 || maxCount > maxIovecCount {
		maxCount = maxIovecCount
	}
	var (
		buffers [][]byte
		total   int64
	)
	for i := 0; i < o.flushed && len(buffers) < maxCount; i++ {
		entry := o.entries.Get(i).(*outboundEntry)
		readable := entry.buffer.Len()
		if readable == 0 {
			continue
		}
		if maxBytes > 0 && total+int64(readable) > maxBytes && len(buffers) > 0 {
			break
		}
		buffers = append(buffers, entry.buffer.Bytes())
		total += int64(readable)
	}
	return buffers
}

func (o *OutboundBuffer) Size() int {
	return o.entries.Length()
}

func (o *OutboundBuffer) FlushedCount() int {
	return o.flushed
}

func (o *OutboundBuffer) IsEmpty() bool {
	return o.flushed == 0
}

func (o *OutboundBuffer) TotalPendingBytes() int64 {
	return o.totalPendingBytes.Load()
}

func (o *OutboundBuffer) IsWritable() bool {
	return !o.unwritable.Load()
}

// BytesBeforeUnwritable is how many more bytes can be queued before writability turns off.
func (o *OutboundBuffer) BytesBeforeUnwritable() int64 {
	if o.unwritable.Load() {
		return 0
	}
	bytes := int64(o.config.WriteBufferHighWaterMark()) - o.totalPendingBytes.Load()
	if bytes > 0 {
		return bytes
	}
	return 0
}

// BytesBeforeWritable is how many bytes must drain before writability turns back on.
func (o *OutboundBuffer) BytesBeforeWritable() int64 {
	if !o.unwritable.Load() {
		return 0
	}
	bytes := o.totalPendingBytes.Load() - int64(o.config.WriteBufferLowWaterMark())
	if bytes > 0 {
		return bytes
	}
	return 0
}

// FailFlushed fails and removes every flushed entry.
func (o *OutboundBuffer) FailFlushed(err error) {
	for o.remove(err) {
	}
}

// Close fails every queued entry, flushed or not, and rejects later messages with err.
// Writability is reset without notification.
func (o *OutboundBuffer) Close(err error) {
	if o.closeErr != nil {
		return
	}
	o.closeErr = err
	for o.entries.Length() > 0 {
		entry := o.entries.Remove().(*outboundEntry)
		entry.buffer.Release()
		if entry.promise != nil {
			entry.promise.Fail(err)
		}
		o.decrementPendingBytes(entry.size, false)
	}
	o.flushed = 0
}

func (o *OutboundBuffer) incrementPendingBytes(size int64) {
	pending := o.totalPendingBytes.Add(size)
	if pending >= int64(o.config.WriteBufferHighWaterMark()) && o.unwritable.CompareAndSwap(false, true) {
		o.fireWritabilityChanged(false)
	}
}

func (o *OutboundBuffer) decrementPendingBytes(size int64, notify bool) {
	pending := o.totalPendingBytes.Add(-size)
	if !notify {
		if pending == 0 {
			o.unwritable.Store(false)
		}
		return
	}
	if pending <= int64(o.config.WriteBufferLowWaterMark()) && o.unwritable.CompareAndSwap(true, false) {
		o.fireWritabilityChanged(true)
	}
}

func (o *OutboundBuffer) fireWritabilityChanged(writable bool) {
	if o.onWritabilityChanged != nil {
		o.onWritabilityChanged(writable)
	}
}
