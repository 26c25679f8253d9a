package control

import (
	"os"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

const TCP_FASTOPEN_CONNECT = 30

func SetKeepAlivePeriod(idle time.Duration, interval time.Duration) Func {
	return func(fd int) error {
		return E.Errors(
			os.NewSyscallError("setsockopt TCP_KEEPIDLE", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(roundDurationUp(idle, time.Second)))),
			os.NewSyscallError("setsockopt TCP_KEEPINTVL", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(roundDurationUp(interval, time.Second)))),
		)
	}
}

func KeepAliveIdle(idle time.Duration) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_KEEPIDLE", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(roundDurationUp(idle, time.Second))))
	}
}

func KeepAliveInterval(interval time.Duration) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_KEEPINTVL", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(roundDurationUp(interval, time.Second))))
	}
}

func UserTimeout(timeout time.Duration) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_USER_TIMEOUT", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(timeout/time.Millisecond)))
	}
}

// FastOpenConnect enables TCP_FASTOPEN_CONNECT so a plain connect defers the SYN to the first write.
func FastOpenConnect() Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_FASTOPEN_CONNECT", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, TCP_FASTOPEN_CONNECT, 1))
	}
}

func RoutingMark(mark int) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_MARK", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, mark))
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
