package channel

import (
	"fmt"
	"net/netip"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

var (
	ErrConfiguration  = E.New("invalid configuration")
	ErrState          = E.New("invalid channel state")
	ErrConnect        = E.New("connect failed")
	ErrIO             = E.New("i/o failure")
	ErrUnsupported    = E.New("unsupported operation")
	ErrClosed         = E.New("channel closed")
	ErrConnectTimeout error = &timeoutError{"connection timed out"}
)

type timeoutError struct {
	message string
}

func (e *timeoutError) Error() string {
	return e.message
}

func (e *timeoutError) Timeout() bool {
	return true
}

type ConfigurationError struct {
	Option Option
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprint("invalid value ", e.Value, " for option ", e.Option, ": ", e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func newConfigurationError(option Option, value any, reason string) error {
	return &ConfigurationError{Option: option, Value: value, Reason: reason}
}

type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return e.Op + ": channel " + e.State.String()
}

// Is matches ErrState, and ErrClosed once the channel is closing.
func (e *StateError) Is(target error) bool {
	return target == ErrState || (target == ErrClosed && e.State >= StateClosing)
}

type ConnectError struct {
	Remote netip.AddrPort
	Cause  error
}

func (e *ConnectError) Error() string {
	return "connect to " + e.Remote.String() + ": " + e.Cause.Error()
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Cause.Error()
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func (e *IOError) Unwrap() error {
	return e.Cause
}
