package buf

import (
	"fmt"
	"io"
	"sync"
)

const BufferSize = 20 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		return new(Buffer)
	},
}

// Buffer is a readable window [start, end) over a byte slice of fixed capacity.
type Buffer struct {
	data        []byte
	start       int
	end         int
	capacity    int
	managed     bool
	dataManaged bool
}

func New() *Buffer {
	return NewSize(BufferSize)
}

func NewSize(size int) *Buffer {
	buffer := bufferPool.Get().(*Buffer)
	if size == 0 {
		*buffer = Buffer{managed: true}
	} else if size > 1<<maxPooledShift {
		*buffer = Buffer{
			data:     make([]byte, size),
			capacity: size,
			managed:  true,
		}
	} else {
		*buffer = Buffer{
			data:        Get(size),
			capacity:    size,
			managed:     true,
			dataManaged: true,
		}
	}
	return buffer
}

// As wraps data as a fully readable buffer without copying.
func As(data []byte) *Buffer {
	buffer := bufferPool.Get().(*Buffer)
	*buffer = Buffer{
		data:     data,
		end:      len(data),
		capacity: len(data),
		managed:  true,
	}
	return buffer
}

func (b *Buffer) Write(data []byte) (n int, err error) {
	if len(data) == 0 {
		return
	}
	if b.IsFull() {
		return 0, io.ErrShortBuffer
	}
	n = copy(b.data[b.end:b.capacity], data)
	b.end += n
	return
}

func (b *Buffer) WriteString(s string) (n int, err error) {
	if len(s) == 0 {
		return
	}
	if b.IsFull() {
		return 0, io.ErrShortBuffer
	}
	n = copy(b.data[b.end:b.capacity], s)
	b.end += n
	return
}

func (b *Buffer) Extend(n int) []byte {
	end := b.end + n
	if end > b.capacity {
		panic(fmt.Sprint("buffer overflow: capacity ", b.capacity, ", end ", b.end, ", need ", n))
	}
	ext := b.data[b.end:end]
	b.end = end
	return ext
}

// ReadOnceFrom performs a single Read into the free space.
func (b *Buffer) ReadOnceFrom(r io.Reader) (int, error) {
	if b.IsFull() {
		return 0, io.ErrShortBuffer
	}
	n, err := r.Read(b.FreeBytes())
	b.end += n
	return n, err
}

func (b *Buffer) Read(data []byte) (n int, err error) {
	if b.IsEmpty() {
		return 0, io.EOF
	}
	n = copy(data, b.data[b.start:b.end])
	b.start += n
	return
}

func (b *Buffer) Advance(from int) {
	b.start += from
}

func (b *Buffer) Truncate(to int) {
	b.end = b.start + to
}

func (b *Buffer) Reset() {
	b.start = 0
	b.end = 0
	b.capacity = len(b.data)
}

func (b *Buffer) Release() {
	if b == nil || !(b.managed || b.dataManaged) {
		return
	}
	managed, dataManaged := b.managed, b.dataManaged
	if dataManaged {
		_ = Put(b.data)
	}
	*b = Buffer{}
	if managed {
		bufferPool.Put(b)
	}
}

func (b *Buffer) Len() int {
	return b.end - b.start
}

func (b *Buffer) Cap() int {
	return b.capacity
}

func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

func (b *Buffer) From(n int) []byte {
	return b.data[b.start+n : b.end]
}

func (b *Buffer) To(n int) []byte {
	return b.data[b.start : b.start+n]
}

func (b *Buffer) FreeLen() int {
	return b.capacity - b.end
}

func (b *Buffer) FreeBytes() []byte {
	return b.data[b.end:b.capacity]
}

func (b *Buffer) IsEmpty() bool {
	return b.end-b.start == 0
}

func (b *Buffer) IsFull() bool {
	return b.end == b.capacity
}

// ToOwned copies the readable bytes into a new pooled buffer.
func (b *Buffer) ToOwned() *Buffer {
	n := NewSize(b.Len())
	n.end = copy(n.data, b.Bytes())
	return n
}
