package channel

import (
	"strconv"
)

const (
	DefaultLowWaterMark  = 32 * 1024
	DefaultHighWaterMark = 64 * 1024
)

var DefaultWriteBufferWaterMark = WriteBufferWaterMark{low: DefaultLowWaterMark, high: DefaultHighWaterMark}

// WriteBufferWaterMark is an immutable (low, high) pair of pending outbound bytes.
type WriteBufferWaterMark struct {
	low  int
	high int
}

func NewWriteBufferWaterMark(low int, high int) (WriteBufferWaterMark, error) {
	switch {
	case low < 0:
		return WriteBufferWaterMark{}, newConfigurationError(OptionWriteBufferWaterMark, low, "low water mark must be >= 0")
	case high < low:
		return WriteBufferWaterMark{}, newConfigurationError(OptionWriteBufferWaterMark, high, "high water mark must be >= low water mark "+strconv.Itoa(low))
	}
	return WriteBufferWaterMark{low: low, high: high}, nil
}

func (w WriteBufferWaterMark) Low() int {
	return w.low
}

func (w WriteBufferWaterMark) High() int {
	return w.high
}

func (w WriteBufferWaterMark) String() string {
	return "WriteBufferWaterMark(low: " + strconv.Itoa(w.low) + ", high: " + strconv.Itoa(w.high) + ")"
}
