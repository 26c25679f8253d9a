//go:build unix

package control

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func NoDelay(enabled bool) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt TCP_NODELAY", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enabled)))
	}
}

func KeepAlive(enabled bool) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_KEEPALIVE", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(enabled)))
	}
}

// Linger sets SO_LINGER; a negative value disables lingering.
func Linger(seconds int) Func {
	return func(fd int) error {
		linger := &unix.Linger{}
		if seconds >= 0 {
			linger.Onoff = 1
			linger.Linger = int32(seconds)
		}
		return os.NewSyscallError("setsockopt SO_LINGER", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, linger))
	}
}

func ReceiveBuffer(size int) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_RCVBUF", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
	}
}

func SendBuffer(size int) Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_SNDBUF", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size))
	}
}

func NonBlock() Func {
	return func(fd int) error {
		return os.NewSyscallError("setnonblock", unix.SetNonblock(fd, true))
	}
}

func GetLinger(fd int) (int, error) {
	linger, err := unix.GetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt SO_LINGER", err)
	}
	if linger.Onoff == 0 {
		return -1, nil
	}
	return int(linger.Linger), nil
}

func GetBool(fd int, level int, name int) (bool, error) {
	value, err := unix.GetsockoptInt(fd, level, name)
	if err != nil {
		return false, os.NewSyscallError("getsockopt", err)
	}
	return value != 0, nil
}

func GetInt(fd int, level int, name int) (int, error) {
	value, err := unix.GetsockoptInt(fd, level, name)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return value, nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func roundDurationUp(d time.Duration, to time.Duration) time.Duration {
	return (d + to - 1) / to
}
