//go:build unix && !linux && !darwin

package control

import (
	"os"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

func SetKeepAlivePeriod(idle time.Duration, interval time.Duration) Func {
	return func(fd int) error {
		return E.New("keepalive period not supported on this platform")
	}
}

func UserTimeout(timeout time.Duration) Func {
	return func(fd int) error {
		return E.New("TCP_USER_TIMEOUT only available on linux")
	}
}

func FastOpenConnect() Func {
	return func(fd int) error {
		return E.New("TCP_FASTOPEN_CONNECT only available on linux")
	}
}

func RoutingMark(mark int) Func {
	return func(fd int) error {
		return E.New("SO_MARK only available on linux")
	}
}

func ReuseAddr() Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
	}
}

func KeepAliveIdle(idle time.Duration) Func {
	return func(fd int) error {
		return E.New("TCP_KEEPIDLE not supported on this platform")
	}
}

func KeepAliveInterval(interval time.Duration) Func {
	return func(fd int) error {
		return E.New("TCP_KEEPINTVL not supported on this platform")
	}
}
