package control

import (
	"os"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

func SetKeepAlivePeriod(idle time.Duration, interval time.Duration) Func {
	return func(fd int) error {
		return E.Errors(
			os.NewSyscallError("setsockopt TCP_KEEPALIVE", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, int(roundDurationUp(idle, time.Second)))),
			os.NewSyscallError("setsockopt TCP_KEEPINTVL", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(roundDurationUp(interval, time.Second)))),
		)
	}
}

func KeepAliveIdle(idle time.Duration) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_KEEPALIVE", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, int(roundDurationUp(idle, time.Second))))
	}
}

func KeepAliveInterval(interval time.Duration) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_KEEPINTVL", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(roundDurationUp(interval, time.Second))))
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
		return E.Errors(
			os.NewSyscallError("setsockopt SO_REUSEADDR", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)),
			os.NewSyscallError("setsockopt SO_REUSEPORT", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)),
		)
	}
}
