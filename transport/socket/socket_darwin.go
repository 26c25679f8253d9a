package socket

import (
	"net/netip"
	"os"

	"github.com/sagernet/sing-socket/channel"
	"github.com/sagernet/sing-socket/common/control"

	"golang.org/x/sys/unix"
)

const sendFlags = 0

func noSigPipe() control.Func {
	return func(fd int) error {
		return os.NewSyscallError("setsockopt SO_NOSIGPIPE", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1))
	}
}

// FastOpenSupported reports true: connectx with CONNECT_DATA_IDEMPOTENT carries the data in
// the SYN when the kernel holds a cookie and falls back to a regular handshake otherwise.
func (s *Socket) FastOpenSupported() bool {
	return true
}

func (s *Socket) ConnectWithData(local, remote netip.AddrPort, data [][]byte) (int64, error) {
	var source unix.Sockaddr
	if local.IsValid() && !s.bound {
		sa, err := s.sockaddr(local)
		if err != nil {
			return 0, err
		}
		source = sa
	}
	destination, err := s.sockaddr(remote)
	if err != nil {
		return 0, err
	}
	iov := make([]unix.Iovec, 0, len(data))
	for _, b := range data {
		if len(b) == 0 {
			continue
		}
		var vec unix.Iovec
		vec.Base = &b[0]
		vec.SetLen(len(b))
		iov = append(iov, vec)
	}
	for {
		n, err := unix.Connectx(s.fd, 0, source, destination, unix.SAE_ASSOCID_ANY,
			unix.CONNECT_DATA_IDEMPOTENT|unix.CONNECT_RESUME_ON_READ_WRITE, iov, nil)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EINPROGRESS, unix.EALREADY, unix.EAGAIN:
			// bytes reported alongside EINPROGRESS are already enqueued
		default:
			return 0, os.NewSyscallError("connectx", err)
		}
		if source != nil {
			s.bound = true
		}
		return int64(n), nil
	}
}

// TCPInfo reports TCP_CONNECTION_INFO. Timers are converted from milliseconds to
// microseconds to match linux.
func (s *Socket) TCPInfo(info *channel.TCPInfo) error {
	raw, err := unix.GetsockoptTCPConnectionInfo(s.fd, unix.IPPROTO_TCP, unix.TCP_CONNECTION_INFO)
	if err != nil {
		return os.NewSyscallError("getsockopt TCP_CONNECTION_INFO", err)
	}
	*info = channel.TCPInfo{
		State:       raw.State,
		Options:     uint8(raw.Options),
		RTO:         raw.Rto * 1000,
		SndMSS:      raw.Maxseg,
		SndSSThresh: raw.Snd_ssthresh,
		SndCwnd:     raw.Snd_cwnd,
		RTT:         raw.Srtt * 1000,
		RTTVar:      raw.Rttvar * 1000,
	}
	return nil
}

func tcpOptionName(option channel.Option) (level int, name int, loaded bool) {
	switch option {
	case channel.OptionTCPKeepIdle:
		return unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, true
	case channel.OptionTCPKeepInterval:
		return unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, true
	default:
		return 0, 0, false
	}
}
