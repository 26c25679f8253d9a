//go:build unix && !linux

package socket

import (
	"net/netip"
	"os"
	"syscall"

	"github.com/sagernet/sing-socket/channel"
	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

func sysSocket(domain int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}
	err = unix.SetNonblock(fd, true)
	if err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}

func (s *Socket) SetTCPMD5Sig(addr netip.Addr, key []byte) error {
	return E.Extend(channel.ErrUnsupported, "TCP_MD5SIG")
}
