//go:build unix

package socket

import (
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/sagernet/sing-socket/channel"
	"github.com/sagernet/sing-socket/common/atomic"
	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"

	"golang.org/x/sys/unix"
)

var (
	_ channel.Socket       = (*Socket)(nil)
	_ channel.OptionSocket = (*Socket)(nil)
)

// Socket is a non-blocking TCP socket.
type Socket struct {
	fd     int
	domain int
	family channel.Family
	bound  bool
	closed atomic.Bool
}

// NewStream opens a non-blocking TCP socket. FamilyUnspecified opens a dual-stack IPv6 socket.
func NewStream(family channel.Family) (*Socket, error) {
	domain := unix.AF_INET6
	if family == channel.FamilyIPv4 {
		domain = unix.AF_INET
	}
	fd, err := sysSocket(domain)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	err = control.Apply(fd, socketOptions(family)...)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Socket{fd: fd, domain: domain, family: family}, nil
}

// FromFD wraps an already connected descriptor, such as one returned by accept.
func FromFD(fd int) (*Socket, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	socket := &Socket{fd: fd}
	switch sa.(type) {
	case *unix.SockaddrInet4:
		socket.domain = unix.AF_INET
		socket.family = channel.FamilyIPv4
	case *unix.SockaddrInet6:
		socket.domain = unix.AF_INET6
		socket.family = channel.FamilyIPv6
	default:
		return nil, E.New("descriptor ", fd, " is not an inet socket")
	}
	err = control.Apply(fd, control.NonBlock(), noSigPipe())
	if err != nil {
		return nil, err
	}
	return socket, nil
}

func socketOptions(family channel.Family) []control.Func {
	options := []control.Func{noSigPipe()}
	if family == channel.FamilyUnspecified {
		options = append(options, func(fd int) error {
			return os.NewSyscallError("setsockopt IPV6_V6ONLY", unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0))
		})
	}
	return options
}

func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) Family() channel.Family {
	return s.family
}

func (s *Socket) IsOpen() bool {
	return !s.closed.Load()
}

func (s *Socket) sockaddr(addrPort netip.AddrPort) (unix.Sockaddr, error) {
	return M.AddrPortToSockaddr(s.domain, addrPort)
}

func (s *Socket) Bind(local netip.AddrPort) error {
	sa, err := s.sockaddr(local)
	if err != nil {
		return err
	}
	err = unix.Bind(s.fd, sa)
	if err != nil {
		return os.NewSyscallError("bind", err)
	}
	s.bound = true
	return nil
}

func (s *Socket) Connect(remote netip.AddrPort) (bool, error) {
	sa, err := s.sockaddr(remote)
	if err != nil {
		return false, err
	}
	err = unix.Connect(s.fd, sa)
	switch err {
	case nil, unix.EISCONN:
		return true, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
}

func (s *Socket) FinishConnect() (bool, error) {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, os.NewSyscallError("getsockopt SO_ERROR", err)
	}
	switch err = unix.Errno(errno); err {
	case unix.Errno(0), unix.EISCONN:
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
	_, err = unix.Getpeername(s.fd)
	switch err {
	case nil:
		return true, nil
	case unix.ENOTCONN:
		return false, nil
	default:
		return false, os.NewSyscallError("getpeername", err)
	}
}

func (s *Socket) Writev(data [][]byte) (int64, error) {
	for {
		n, err := unix.SendmsgBuffers(s.fd, data, nil, nil, sendFlags)
		switch err {
		case nil:
			return int64(n), nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, os.NewSyscallError("sendmsg", err)
		}
	}
}

func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

func (s *Socket) ShutdownInput() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_RD))
}

func (s *Socket) ShutdownOutput() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_WR))
}

func (s *Socket) Linger() (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	return control.GetLinger(s.fd)
}

func (s *Socket) SetLinger(seconds int) error {
	if s.closed.Load() {
		return os.ErrClosed
	}
	return control.Linger(seconds)(s.fd)
}

func (s *Socket) IntOption(option channel.Option) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	level, name, loaded := optionName(option)
	if !loaded {
		return 0, E.Extend(channel.ErrUnsupported, option)
	}
	return control.GetInt(s.fd, level, name)
}

func (s *Socket) SetIntOption(option channel.Option, value int) error {
	if s.closed.Load() {
		return os.ErrClosed
	}
	var setter control.Func
	switch option {
	case channel.OptionTCPNoDelay:
		setter = control.NoDelay(value != 0)
	case channel.OptionSoKeepAlive:
		setter = control.KeepAlive(value != 0)
	case channel.OptionSoRcvBuf:
		setter = control.ReceiveBuffer(value)
	case channel.OptionSoSndBuf:
		setter = control.SendBuffer(value)
	case channel.OptionTCPKeepIdle:
		setter = control.KeepAliveIdle(time.Duration(value) * time.Second)
	case channel.OptionTCPKeepInterval:
		setter = control.KeepAliveInterval(time.Duration(value) * time.Second)
	case channel.OptionTCPUserTimeout:
		setter = control.UserTimeout(time.Duration(value) * time.Millisecond)
	default:
		return E.Extend(channel.ErrUnsupported, option)
	}
	return setter(s.fd)
}

func optionName(option channel.Option) (level int, name int, loaded bool) {
	switch option {
	case channel.OptionTCPNoDelay:
		return unix.IPPROTO_TCP, unix.TCP_NODELAY, true
	case channel.OptionSoKeepAlive:
		return unix.SOL_SOCKET, unix.SO_KEEPALIVE, true
	case channel.OptionSoRcvBuf:
		return unix.SOL_SOCKET, unix.SO_RCVBUF, true
	case channel.OptionSoSndBuf:
		return unix.SOL_SOCKET, unix.SO_SNDBUF, true
	default:
		return tcpOptionName(option)
	}
}

func (s *Socket) LocalAddr() netip.AddrPort {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return M.AddrPortFromSockaddr(sa)
}

func (s *Socket) RemoteAddr() netip.AddrPort {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return M.AddrPortFromSockaddr(sa)
}

func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}
