package buf

// Inspired by https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"math/bits"
	"sync"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

const (
	minPooledShift = 6
	maxPooledShift = 16
)

var DefaultAllocator = newDefaultAllocator()

type Allocator interface {
	Get(size int) []byte
	Put(buf []byte) error
}

// defaultAllocator serves power-of-two slices from 64 B to 64 KiB; waste per allocation stays under 50%.
type defaultAllocator struct {
	buffers [maxPooledShift - minPooledShift + 1]sync.Pool
}

func newDefaultAllocator() Allocator {
	alloc := new(defaultAllocator)
	for index := range alloc.buffers {
		size := 1 << (index + minPooledShift)
		alloc.buffers[index].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return alloc
}

func (alloc *defaultAllocator) Get(size int) []byte {
	if size <= 0 || size > 1<<maxPooledShift {
		return nil
	}
	index := 0
	if size > 1<<minPooledShift {
		shift := msb(size)
		if size != 1<<shift {
			shift++
		}
		index = int(shift) - minPooledShift
	}
	return (*alloc.buffers[index].Get().(*[]byte))[:size]
}

// Put returns a slice obtained from Get; its capacity must be an exact pooled power of two.
func (alloc *defaultAllocator) Put(buf []byte) error {
	shift := msb(cap(buf))
	if cap(buf) < 1<<minPooledShift || cap(buf) > 1<<maxPooledShift || cap(buf) != 1<<shift {
		return E.New("allocator Put() incorrect buffer size: ", cap(buf))
	}
	buf = buf[:cap(buf)]
	alloc.buffers[int(shift)-minPooledShift].Put(&buf)
	return nil
}

func msb(size int) uint16 {
	return uint16(bits.Len32(uint32(size)) - 1)
}

func Get(size int) []byte {
	return DefaultAllocator.Get(size)
}

func Put(buf []byte) error {
	return DefaultAllocator.Put(buf)
}
