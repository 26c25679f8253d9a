package control

import (
	"syscall"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

// Func configures a raw socket descriptor.
type Func = func(fd int) error

func Append(oldFunc Func, newFunc Func) Func {
	if oldFunc == nil {
		return newFunc
	} else if newFunc == nil {
		return oldFunc
	}
	return func(fd int) error {
		if err := oldFunc(fd); err != nil {
			return err
		}
		return newFunc(fd)
	}
}

func Apply(fd int, funcs ...Func) error {
	for _, f := range funcs {
		if f == nil {
			continue
		}
		if err := f(fd); err != nil {
			return err
		}
	}
	return nil
}

// Raw runs f against the descriptor behind a syscall.RawConn, such as one from net.TCPConn.
func Raw(conn syscall.RawConn, f Func) error {
	var innerErr error
	err := conn.Control(func(fd uintptr) {
		innerErr = f(int(fd))
	})
	return E.Errors(innerErr, err)
}
