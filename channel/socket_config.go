package channel

import (
	"net/netip"
	"time"

	"github.com/sagernet/sing-socket/common/atomic"
)

// SocketConfig extends Config with options applied directly to the channel's socket.
type SocketConfig struct {
	*Config
	channel            *StreamChannel
	tcpFastOpenConnect atomic.Bool
}

func newSocketConfig(channel *StreamChannel) *SocketConfig {
	return &SocketConfig{
		Config:  newConfig(channel),
		channel: channel,
	}
}

func (c *SocketConfig) checkOpen(op string) error {
	if !c.channel.socket.IsOpen() {
		return &StateError{Op: op, State: c.channel.State()}
	}
	return nil
}

func (c *SocketConfig) optionSocket(op string, option Option) (OptionSocket, error) {
	err := c.checkOpen(op + " " + option.String())
	if err != nil {
		return nil, err
	}
	optionSocket, isOptionSocket := c.channel.socket.(OptionSocket)
	if !isOptionSocket {
		return nil, &IOError{Op: "option " + option.String(), Cause: ErrUnsupported}
	}
	return optionSocket, nil
}

func (c *SocketConfig) intOption(option Option) (int, error) {
	optionSocket, err := c.optionSocket("get", option)
	if err != nil {
		return 0, err
	}
	value, err := optionSocket.IntOption(option)
	if err != nil {
		return 0, &IOError{Op: "get " + option.String(), Cause: err}
	}
	return value, nil
}

func (c *SocketConfig) setIntOption(option Option, value int) error {
	optionSocket, err := c.optionSocket("set", option)
	if err != nil {
		return err
	}
	err = optionSocket.SetIntOption(option, value)
	if err != nil {
		return &IOError{Op: "set " + option.String(), Cause: err}
	}
	return nil
}

func (c *SocketConfig) boolOption(option Option) (bool, error) {
	value, err := c.intOption(option)
	return value != 0, err
}

func (c *SocketConfig) setBoolOption(option Option, value bool) error {
	if value {
		return c.setIntOption(option, 1)
	}
	return c.setIntOption(option, 0)
}

// SoLinger returns the linger timeout in seconds, or -1 when lingering is disabled.
func (c *SocketConfig) SoLinger() (int, error) {
	err := c.checkOpen("get " + OptionSoLinger.String())
	if err != nil {
		return 0, err
	}
	linger, err := c.channel.socket.Linger()
	if err != nil {
		return 0, &IOError{Op: "get " + OptionSoLinger.String(), Cause: err}
	}
	return linger, nil
}

func (c *SocketConfig) SetSoLinger(seconds int) error {
	err := c.checkOpen("set " + OptionSoLinger.String())
	if err != nil {
		return err
	}
	err = c.channel.socket.SetLinger(seconds)
	if err != nil {
		return &IOError{Op: "set " + OptionSoLinger.String(), Cause: err}
	}
	return nil
}

func (c *SocketConfig) TCPNoDelay() (bool, error) {
	return c.boolOption(OptionTCPNoDelay)
}

func (c *SocketConfig) SetTCPNoDelay(noDelay bool) error {
	return c.setBoolOption(OptionTCPNoDelay, noDelay)
}

func (c *SocketConfig) KeepAlive() (bool, error) {
	return c.boolOption(OptionSoKeepAlive)
}

func (c *SocketConfig) SetKeepAlive(keepAlive bool) error {
	return c.setBoolOption(OptionSoKeepAlive, keepAlive)
}

func (c *SocketConfig) ReceiveBufferSize() (int, error) {
	return c.intOption(OptionSoRcvBuf)
}

func (c *SocketConfig) SetReceiveBufferSize(size int) error {
	if size <= 0 {
		return newConfigurationError(OptionSoRcvBuf, size, "must be > 0")
	}
	return c.setIntOption(OptionSoRcvBuf, size)
}

func (c *SocketConfig) SendBufferSize() (int, error) {
	return c.intOption(OptionSoSndBuf)
}

func (c *SocketConfig) SetSendBufferSize(size int) error {
	if size <= 0 {
		return newConfigurationError(OptionSoSndBuf, size, "must be > 0")
	}
	return c.setIntOption(OptionSoSndBuf, size)
}

// TCPFastOpenConnect reports whether Connect sends queued data with the SYN.
func (c *SocketConfig) TCPFastOpenConnect() bool {
	return c.tcpFastOpenConnect.Load()
}

func (c *SocketConfig) SetTCPFastOpenConnect(fastOpenConnect bool) {
	c.tcpFastOpenConnect.Store(fastOpenConnect)
}

func (c *SocketConfig) TCPKeepIdle() (time.Duration, error) {
	seconds, err := c.intOption(OptionTCPKeepIdle)
	return time.Duration(seconds) * time.Second, err
}

func (c *SocketConfig) SetTCPKeepIdle(idle time.Duration) error {
	if idle < time.Second {
		return newConfigurationError(OptionTCPKeepIdle, idle, "must be >= 1s")
	}
	return c.setIntOption(OptionTCPKeepIdle, int(idle/time.Second))
}

func (c *SocketConfig) TCPKeepInterval() (time.Duration, error) {
	seconds, err := c.intOption(OptionTCPKeepInterval)
	return time.Duration(seconds) * time.Second, err
}

func (c *SocketConfig) SetTCPKeepInterval(interval time.Duration) error {
	if interval < time.Second {
		return newConfigurationError(OptionTCPKeepInterval, interval, "must be >= 1s")
	}
	return c.setIntOption(OptionTCPKeepInterval, int(interval/time.Second))
}

func (c *SocketConfig) TCPUserTimeout() (time.Duration, error) {
	millis, err := c.intOption(OptionTCPUserTimeout)
	return time.Duration(millis) * time.Millisecond, err
}

func (c *SocketConfig) SetTCPUserTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return newConfigurationError(OptionTCPUserTimeout, timeout, "must be >= 0")
	}
	return c.setIntOption(OptionTCPUserTimeout, int(timeout/time.Millisecond))
}

func (c *SocketConfig) SetTCPMD5Sig(keys map[netip.Addr][]byte) error {
	return c.channel.SetTCPMD5Sig(keys)
}

func (c *SocketConfig) Options() map[Option]any {
	options := c.Config.Options()
	options[OptionTCPFastOpenConnect] = c.TCPFastOpenConnect()
	for _, option := range []Option{
		OptionSoLinger, OptionTCPNoDelay, OptionSoKeepAlive, OptionSoRcvBuf, OptionSoSndBuf,
		OptionTCPKeepIdle, OptionTCPKeepInterval, OptionTCPUserTimeout,
	} {
		if value, ok := c.Option(option); ok {
			options[option] = value
		}
	}
	return options
}

func (c *SocketConfig) Option(option Option) (any, bool) {
	var (
		value any
		err   error
	)
	switch option {
	case OptionTCPFastOpenConnect:
		return c.TCPFastOpenConnect(), true
	case OptionSoLinger:
		value, err = c.SoLinger()
	case OptionTCPNoDelay:
		value, err = c.TCPNoDelay()
	case OptionSoKeepAlive:
		value, err = c.KeepAlive()
	case OptionSoRcvBuf:
		value, err = c.ReceiveBufferSize()
	case OptionSoSndBuf:
		value, err = c.SendBufferSize()
	case OptionTCPKeepIdle:
		value, err = c.TCPKeepIdle()
	case OptionTCPKeepInterval:
		value, err = c.TCPKeepInterval()
	case OptionTCPUserTimeout:
		value, err = c.TCPUserTimeout()
	case OptionTCPMD5Sig:
		return c.channel.TCPMD5Sigs(), true
	default:
		return c.Config.Option(option)
	}
	if err != nil {
		return nil, false
	}
	return value, true
}

func (c *SocketConfig) SetOption(option Option, value any) (bool, error) {
	var err error
	switch option {
	case OptionTCPFastOpenConnect:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			c.SetTCPFastOpenConnect(v)
		}
	case OptionSoLinger:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetSoLinger(v)
		}
	case OptionTCPNoDelay:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			err = c.SetTCPNoDelay(v)
		}
	case OptionSoKeepAlive:
		var v bool
		if v, err = boolValue(option, value); err == nil {
			err = c.SetKeepAlive(v)
		}
	case OptionSoRcvBuf:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetReceiveBufferSize(v)
		}
	case OptionSoSndBuf:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetSendBufferSize(v)
		}
	case OptionTCPKeepIdle:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetTCPKeepIdle(time.Duration(v) * time.Second)
		}
	case OptionTCPKeepInterval:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetTCPKeepInterval(time.Duration(v) * time.Second)
		}
	case OptionTCPUserTimeout:
		var v int
		if v, err = intValue(option, value); err == nil {
			err = c.SetTCPUserTimeout(time.Duration(v) * time.Millisecond)
		}
	case OptionTCPMD5Sig:
		var v map[netip.Addr][]byte
		if v, err = typedValue[map[netip.Addr][]byte](option, value); err == nil {
			err = c.SetTCPMD5Sig(v)
		}
	default:
		return c.Config.SetOption(option, value)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *SocketConfig) SetOptions(values map[Option]any) (bool, error) {
	return setOptions(values, c.SetOption)
}
