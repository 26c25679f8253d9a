package channel

import (
	"math"

	"github.com/sagernet/sing-socket/common/atomic"
)

const (
	DefaultConnectTimeoutMillis = 30000
	DefaultWriteSpinCount       = 16
	DefaultMaxMessagesPerWrite  = math.MaxInt32
)

type configHooks interface {
	requestRead()
	autoReadCleared()
}

// Config holds the tunables of a channel. Every field may be read and written from any goroutine.
type Config struct {
	hooks                configHooks
	connectTimeoutMillis atomic.Int32
	writeSpinCount       atomic.Int32
	maxMessagesPerWrite  atomic.Int32
	autoRead             atomic.Bool
	autoClose            atomic.Bool
	allowHalfClosure     atomic.Bool
	bufferAllocator      atomic.TypedValue[BufferAllocator]
	recvBufferAllocator  atomic.TypedValue[RecvBufferAllocator]
	messageSizeEstimator atomic.TypedValue[MessageSizeEstimator]
	writeBufferWaterMark atomic.TypedValue[WriteBufferWaterMark]
}

func newConfig(hooks configHooks) *Config {
	config := &Config{hooks: hooks}
	config.connectTimeoutMillis.Store(DefaultConnectTimeoutMillis)
	config.writeSpinCount.Store(DefaultWriteSpinCount)
	config.maxMessagesPerWrite.Store(DefaultMaxMessagesPerWrite)
	config.autoRead.Store(true)
	config.autoClose.Store(true)
	config.bufferAllocator.Store(DefaultBufferAllocator)
	recvBufferAllocator := NewAdaptiveRecvBufferAllocator()
	_ = recvBufferAllocator.SetMaxMessagesPerRead(DefaultMaxMessagesPerRead)
	config.recvBufferAllocator.Store(recvBufferAllocator)
	config.messageSizeEstimator.Store(DefaultMessageSizeEstimator)
	config.writeBufferWaterMark.Store(DefaultWriteBufferWaterMark)
	return config
}

func (c *Config) ConnectTimeoutMillis() int {
	return int(c.connectTimeoutMillis.Load())
}

func (c *Config) SetConnectTimeoutMillis(connectTimeoutMillis int) error {
	if connectTimeoutMillis <= 0 || connectTimeoutMillis > math.MaxInt32 {
		return newConfigurationError(OptionConnectTimeoutMillis, connectTimeoutMillis, "must be > 0")
	}
	c.connectTimeoutMillis.Store(int32(connectTimeoutMillis))
	return nil
}

func (c *Config) WriteSpinCount() int {
	return int(c.writeSpinCount.Load())
}

// SetWriteSpinCount stores math.MaxInt32 as math.MaxInt32-1; the write loop reserves the maximum.
func (c *Config) SetWriteSpinCount(writeSpinCount int) error {
	if writeSpinCount <= 0 || writeSpinCount > math.MaxInt32 {
		return newConfigurationError(OptionWriteSpinCount, writeSpinCount, "must be > 0")
	}
	if writeSpinCount == math.MaxInt32 {
		writeSpinCount--
	}
	c.writeSpinCount.Store(int32(writeSpinCount))
	return nil
}

func (c *Config) MaxMessagesPerWrite() int {
	return int(c.maxMessagesPerWrite.Load())
}

func (c *Config) SetMaxMessagesPerWrite(maxMessagesPerWrite int) error {
	if maxMessagesPerWrite <= 0 || maxMessagesPerWrite > math.MaxInt32 {
		return newConfigurationError(OptionMaxMessagesPerWrite, maxMessagesPerWrite, "must be > 0")
	}
	c.maxMessagesPerWrite.Store(int32(maxMessagesPerWrite))
	return nil
}

func (c *Config) MaxMessagesPerRead() (int, error) {
	allocator, isMaxMessages := c.RecvBufferAllocator().(MaxMessagesRecvBufferAllocator)
	if !isMaxMessages {
		return 0, ErrUnsupported
	}
	return allocator.MaxMessagesPerRead(), nil
}

func (c *Config) SetMaxMessagesPerRead(maxMessagesPerRead int) error {
	allocator, isMaxMessages := c.RecvBufferAllocator().(MaxMessagesRecvBufferAllocator)
	if !isMaxMessages {
		return ErrUnsupported
	}
	return allocator.SetMaxMessagesPerRead(maxMessagesPerRead)
}

func (c *Config) AutoRead() bool {
	return c.autoRead.Load()
}

// SetAutoRead requests exactly one read when auto read turns on, and lets the channel drop
// its read interest when it turns off. Setting the current value does nothing.
func (c *Config) SetAutoRead(autoRead bool) {
	oldAutoRead := c.autoRead.Swap(autoRead)
	if c.hooks == nil || oldAutoRead == autoRead {
		return
	}
	if autoRead {
		c.hooks.requestRead()
	} else {
		c.hooks.autoReadCleared()
	}
}

func (c *Config) AutoClose() bool {
	return c.autoClose.Load()
}

func (c *Config) SetAutoClose(autoClose bool) {
	c.autoClose.Store(autoClose)
}

func (c *Config) AllowHalfClosure() bool {
	return c.allowHalfClosure.Load()
}

func (c *Config) SetAllowHalfClosure(allowHalfClosure bool) {
	c.allowHalfClosure.Store(allowHalfClosure)
}

func (c *Config) BufferAllocator() BufferAllocator {
	return c.bufferAllocator.Load()
}

func (c *Config) SetBufferAllocator(allocator BufferAllocator) error {
	if allocator == nil {
		return newConfigurationError(OptionBufferAllocator, allocator, "must not be nil")
	}
	c.bufferAllocator.Store(allocator)
	return nil
}

func (c *Config) RecvBufferAllocator() RecvBufferAllocator {
	return c.recvBufferAllocator.Load()
}

func (c *Config) SetRecvBufferAllocator(allocator RecvBufferAllocator) error {
	if allocator == nil {
		return newConfigurationError(OptionRecvBufferAllocator, allocator, "must not be nil")
	}
	c.recvBufferAllocator.Store(allocator)
	return nil
}

func (c *Config) MessageSizeEstimator() MessageSizeEstimator {
	return c.messageSizeEstimator.Load()
}

func (c *Config) SetMessageSizeEstimator(estimator MessageSizeEstimator) error {
	if estimator == nil {
		return newConfigurationError(OptionMessageSizeEstimator, estimator, "must not be nil")
	}
	c.messageSizeEstimator.Store(estimator)
	return nil
}

func (c *Config) WriteBufferWaterMark() WriteBufferWaterMark {
	return c.writeBufferWaterMark.Load()
}

// SetWriteBufferWaterMark validates the pair and replaces both marks at once.
func (c *Config) SetWriteBufferWaterMark(low int, high int) error {
	waterMark, err := NewWriteBufferWaterMark(low, high)
	if err != nil {
		return err
	}
	c.writeBufferWaterMark.Store(waterMark)
	return nil
}

func (c *Config) WriteBufferLowWaterMark() int {
	return c.WriteBufferWaterMark().Low()
}

func (c *Config) SetWriteBufferLowWaterMark(low int) error {
	_, err := c.writeBufferWaterMark.Update(func(old WriteBufferWaterMark) (WriteBufferWaterMark, error) {
		return NewWriteBufferWaterMark(low, old.High())
	})
	return err
}

func (c *Config) WriteBufferHighWaterMark() int {
	return c.WriteBufferWaterMark().High()
}

func (c *Config) SetWriteBufferHighWaterMark(high int) error {
	_, err := c.writeBufferWaterMark.Update(func(old WriteBufferWaterMark) (WriteBufferWaterMark, error) {
		return NewWriteBufferWaterMark(old.Low(), high)
	})
	return err
}

func (c *Config) Options() map[Option]any {
	options := map[Option]any{
		OptionConnectTimeoutMillis: c.ConnectTimeoutMillis(),
		OptionWriteSpinCount:       c.WriteSpinCount(),
		OptionMaxMessagesPerWrite:  c.MaxMessagesPerWrite(),
		OptionAutoRead:             c.AutoRead(),
		OptionAutoClose:            c.AutoClose(),
		OptionAllowHalfClosure:     c.AllowHalfClosure(),
		OptionWriteBufferWaterMark: c.WriteBufferWaterMark(),
		OptionBufferAllocator:      c.BufferAllocator(),
		OptionRecvBufferAllocator:  c.RecvBufferAllocator(),
		OptionMessageSizeEstimator: c.MessageSizeEstimator(),
	}
	if maxMessagesPerRead, err := c.MaxMessagesPerRead(); err == nil {
		options[OptionMaxMessagesPerRead] = maxMessagesPerRead
	}
	return options
}

// Option returns the current value of option; ok is false for unknown or unsupported options.
func (c *Config) Option(option Option) (value any, ok bool) {
	switch option {
	case OptionConnectTimeoutMillis:
		return c.ConnectTimeoutMillis(), true
	case OptionWriteSpinCount:
		return c.WriteSpinCount(), true
	case OptionMaxMessagesPerWrite:
		return c.MaxMessagesPerWrite(), true
	case OptionMaxMessagesPerRead:
		maxMessagesPerRead, err := c.MaxMessagesPerRead()
		if err != nil {
			return nil, false
		}
		return maxMessagesPerRead, true
	case OptionAutoRead:
		return c.AutoRead(), true
	case OptionAutoClose:
		return c.AutoClose(), true
	case OptionAllowHalfClosure:
		return c.AllowHalfClosure(), true
	case OptionWriteBufferWaterMark:
		return c.WriteBufferWaterMark(), true
	case OptionBufferAllocator:
		return c.BufferAllocator(), true
	case OptionRecvBufferAllocator:
		return c.RecvBufferAllocator(), true
	case OptionMessageSizeEstimator:
		return c.MessageSizeEstimator(), true
	}
	return nil, false
}

// SetOption reports false with a nil error for options this config does not know.
func (c *Config) SetOption(option Option, value any) (bool, error) {
	var err error
	switch option {
	case OptionConnectTimeoutMillis:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetConnectTimeoutMillis(v)
		}
	case OptionWriteSpinCount:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetWriteSpinCount(v)
		}
	case OptionMaxMessagesPerWrite:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetMaxMessagesPerWrite(v)
		}
	case OptionMaxMessagesPerRead:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetMaxMessagesPerRead(v)
		}
	case OptionAutoRead:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			c.SetAutoRead(v)
		}
	case OptionAutoClose:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			c.SetAutoClose(v)
		}
	case OptionAllowHalfClosure:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			c.SetAllowHalfClosure(v)
		}
	case OptionWriteBufferWaterMark:
		var v WriteBufferWaterMark
		if v, err = typedValue[WriteBufferWaterMark](option, value); err == nil {
			err = c.SetWriteBufferWaterMark(v.Low(), v.High())
		}
	case OptionBufferAllocator:
		var v BufferAllocator
		if v, err = typedValue[BufferAllocator](option, value); err == nil {
			err = c.SetBufferAllocator(v)
		}
	case OptionRecvBufferAllocator:
		var v RecvBufferAllocator
		if v, err = typedValue[RecvBufferAllocator](option, value); err == nil {
			err = c.SetRecvBufferAllocator(v)
		}
	case OptionMessageSizeEstimator:
		var v MessageSizeEstimator
		if v, err = typedValue[MessageSizeEstimator](option, value); err == nil {
			err = c.SetMessageSizeEstimator(v)
		}
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Config) SetOptions(values map[Option]any) (bool, error) {
	return setOptions(values, c.SetOption)
}
