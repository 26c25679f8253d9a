package channel

import "github.com/sagernet/sing-socket/common/buf"

type BufferAllocator interface {
	Allocate(size int) *buf.Buffer
}

type BufferAllocatorFunc func(size int) *buf.Buffer

func (f BufferAllocatorFunc) Allocate(size int) *buf.Buffer {
	return f(size)
}

// DefaultBufferAllocator serves buffers from the pooled allocator in common/buf.
var DefaultBufferAllocator BufferAllocator = BufferAllocatorFunc(buf.NewSize)
