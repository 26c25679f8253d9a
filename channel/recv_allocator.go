package channel

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/sagernet/sing-socket/common/buf"
)

const DefaultMaxMessagesPerRead = 16

// RecvBufferAllocator decides how large each read buffer is.
type RecvBufferAllocator interface {
	NewHandle() RecvHandle
}

// MaxMessagesRecvBufferAllocator bounds the number of reads per read cycle.
type MaxMessagesRecvBufferAllocator interface {
	RecvBufferAllocator
	MaxMessagesPerRead() int
	SetMaxMessagesPerRead(maxMessagesPerRead int) error
}

// RecvHandle carries the statistics of one channel's read cycles.
type RecvHandle interface {
	Allocate(allocator BufferAllocator) *buf.Buffer
	Guess() int
	Reset(config *Config)
	IncMessagesRead(n int)
	SetLastBytesRead(n int)
	LastBytesRead() int
	SetAttemptedBytesRead(n int)
	AttemptedBytesRead() int
	ContinueReading() bool
	ReadComplete()
}

type maxMessagesRecvBufferAllocator struct {
	maxMessagesPerRead atomic.Int32
}

func (a *maxMessagesRecvBufferAllocator) MaxMessagesPerRead() int {
	return int(a.maxMessagesPerRead.Load())
}

func (a *maxMessagesRecvBufferAllocator) SetMaxMessagesPerRead(maxMessagesPerRead int) error {
	if maxMessagesPerRead <= 0 || maxMessagesPerRead > math.MaxInt32 {
		return newConfigurationError(OptionMaxMessagesPerRead, maxMessagesPerRead, "must be > 0")
	}
	a.maxMessagesPerRead.Store(int32(maxMessagesPerRead))
	return nil
}

type maxMessagesHandle struct {
	allocator          *maxMessagesRecvBufferAllocator
	guess              func() int
	config             *Config
	maxMessagesPerRead int
	totalMessages      int
	totalBytesRead     int
	attemptedBytesRead int
	lastBytesRead      int
}

func (h *maxMessagesHandle) Allocate(allocator BufferAllocator) *buf.Buffer {
	return allocator.Allocate(h.guess())
}

func (h *maxMessagesHandle) Guess() int {
	return h.guess()
}

func (h *maxMessagesHandle) Reset(config *Config) {
	h.config = config
	h.maxMessagesPerRead = h.allocator.MaxMessagesPerRead()
	h.totalMessages = 0
	h.totalBytesRead = 0
}

func (h *maxMessagesHandle) IncMessagesRead(n int) {
	h.totalMessages += n
}

func (h *maxMessagesHandle) SetLastBytesRead(n int) {
	h.lastBytesRead = n
	if n > 0 {
		h.totalBytesRead += n
	}
}

func (h *maxMessagesHandle) LastBytesRead() int {
	return h.lastBytesRead
}

func (h *maxMessagesHandle) SetAttemptedBytesRead(n int) {
	h.attemptedBytesRead = n
}

func (h *maxMessagesHandle) AttemptedBytesRead() int {
	return h.attemptedBytesRead
}

func (h *maxMessagesHandle) ContinueReading() bool {
	autoRead := h.config == nil || h.config.AutoRead()
	return autoRead &&
		h.attemptedBytesRead == h.lastBytesRead &&
		h.totalMessages < h.maxMessagesPerRead &&
		h.totalBytesRead > 0
}

func (h *maxMessagesHandle) ReadComplete() {
}

// FixedRecvBufferAllocator always reads into buffers of the same size.
type FixedRecvBufferAllocator struct {
	maxMessagesRecvBufferAllocator
	bufferSize int
}

func NewFixedRecvBufferAllocator(bufferSize int) (*FixedRecvBufferAllocator, error) {
	if bufferSize <= 0 {
		return nil, newConfigurationError(OptionRecvBufferAllocator, bufferSize, "buffer size must be > 0")
	}
	allocator := &FixedRecvBufferAllocator{bufferSize: bufferSize}
	allocator.maxMessagesPerRead.Store(1)
	return allocator, nil
}

func (a *FixedRecvBufferAllocator) NewHandle() RecvHandle {
	return &maxMessagesHandle{
		allocator: &a.maxMessagesRecvBufferAllocator,
		guess: func() int {
			return a.bufferSize
		},
	}
}

const (
	DefaultMinimumRecvBufferSize = 64
	DefaultInitialRecvBufferSize = 2048
	DefaultMaximumRecvBufferSize = 65536

	adaptiveIndexIncrement = 4
	adaptiveIndexDecrement = 1
)

var recvSizeTable = func() []int {
	var table []int
	for size := 16; size < 512; size += 16 {
		table = append(table, size)
	}
	for size := 512; size > 0 && size <= 1<<30; size <<= 1 {
		table = append(table, size)
	}
	return table
}()

func recvSizeTableIndex(size int) int {
	index := sort.SearchInts(recvSizeTable, size)
	if index >= len(recvSizeTable) {
		return len(recvSizeTable) - 1
	}
	return index
}

// AdaptiveRecvBufferAllocator grows the read buffer quickly when reads fill it and
// shrinks it slowly when two consecutive cycles read less.
type AdaptiveRecvBufferAllocator struct {
	maxMessagesRecvBufferAllocator
	minIndex int
	maxIndex int
	initial  int
}

func NewAdaptiveRecvBufferAllocator() *AdaptiveRecvBufferAllocator {
	allocator, _ := NewAdaptiveRecvBufferAllocatorSize(DefaultMinimumRecvBufferSize, DefaultInitialRecvBufferSize, DefaultMaximumRecvBufferSize)
	return allocator
}

func NewAdaptiveRecvBufferAllocatorSize(minimum int, initial int, maximum int) (*AdaptiveRecvBufferAllocator, error) {
	switch {
	case minimum <= 0:
		return nil, newConfigurationError(OptionRecvBufferAllocator, minimum, "minimum must be > 0")
	case initial < minimum:
		return nil, newConfigurationError(OptionRecvBufferAllocator, initial, "initial must be >= minimum")
	case maximum < initial:
		return nil, newConfigurationError(OptionRecvBufferAllocator, maximum, "maximum must be >= initial")
	}
	minIndex := recvSizeTableIndex(minimum)
	if recvSizeTable[minIndex] < minimum {
		minIndex++
	}
	maxIndex := recvSizeTableIndex(maximum)
	if recvSizeTable[maxIndex] > maximum {
		maxIndex--
	}
	allocator := &AdaptiveRecvBufferAllocator{
		minIndex: minIndex,
		maxIndex: maxIndex,
		initial:  initial,
	}
	allocator.maxMessagesPerRead.Store(1)
	return allocator, nil
}

func (a *AdaptiveRecvBufferAllocator) NewHandle() RecvHandle {
	handle := &adaptiveHandle{
		minIndex: a.minIndex,
		maxIndex: a.maxIndex,
		index:    recvSizeTableIndex(a.initial),
		next:     a.initial,
	}
	handle.maxMessagesHandle = maxMessagesHandle{
		allocator: &a.maxMessagesRecvBufferAllocator,
		guess: func() int {
			return handle.next
		},
	}
	return handle
}

type adaptiveHandle struct {
	maxMessagesHandle
	minIndex    int
	maxIndex    int
	index       int
	next        int
	decreaseNow bool
}

func (h *adaptiveHandle) SetLastBytesRead(n int) {
	if n == h.attemptedBytesRead {
		h.record(n)
	}
	h.maxMessagesHandle.SetLastBytesRead(n)
}

func (h *adaptiveHandle) ReadComplete() {
	h.record(h.totalBytesRead)
}

func (h *adaptiveHandle) record(actual int) {
	if actual <= recvSizeTable[max(0, h.index-adaptiveIndexDecrement)] {
		if h.decreaseNow {
			h.index = max(h.index-adaptiveIndexDecrement, h.minIndex)
			h.next = recvSizeTable[h.index]
			h.decreaseNow = false
		} else {
			h.decreaseNow = true
		}
	} else if actual >= h.next {
		h.index = min(h.index+adaptiveIndexIncrement, h.maxIndex)
		h.next = recvSizeTable[h.index]
		h.decreaseNow = false
	}
}
