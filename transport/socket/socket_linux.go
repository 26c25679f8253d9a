package socket

import (
	"bytes"
	"net/netip"
	"os"
	"strconv"
	"sync"

	"github.com/sagernet/sing-socket/channel"
	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

const sendFlags = unix.MSG_NOSIGNAL

const fastOpenSysctl = "/proc/sys/net/ipv4/tcp_fastopen"

// client side fast open is bit 0 of net.ipv4.tcp_fastopen
var fastOpenClientEnabled = sync.OnceValue(func() bool {
	content, err := os.ReadFile(fastOpenSysctl)
	if err != nil {
		return false
	}
	value, err := strconv.Atoi(string(bytes.TrimSpace(content)))
	if err != nil {
		return false
	}
	return value&1 != 0
})

func sysSocket(domain int) (int, error) {
	return unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

func noSigPipe() control.Func {
	return nil
}

func (s *Socket) FastOpenSupported() bool {
	return fastOpenClientEnabled()
}

func (s *Socket) ConnectWithData(local, remote netip.AddrPort, data [][]byte) (int64, error) {
	if local.IsValid() && !s.bound {
		err := s.Bind(local)
		if err != nil {
			return 0, err
		}
	}
	sa, err := s.sockaddr(remote)
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.SendmsgBuffers(s.fd, data, nil, sa, sendFlags|unix.MSG_FASTOPEN)
		switch err {
		case nil:
			return int64(n), nil
		case unix.EINTR:
			continue
		case unix.EINPROGRESS, unix.EAGAIN:
			return 0, nil
		default:
			return 0, os.NewSyscallError("sendmsg MSG_FASTOPEN", err)
		}
	}
}

func (s *Socket) TCPInfo(info *channel.TCPInfo) error {
	raw, err := unix.GetsockoptTCPInfo(s.fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return os.NewSyscallError("getsockopt TCP_INFO", err)
	}
	*info = channel.TCPInfo{
		State:        raw.State,
		CAState:      raw.Ca_state,
		Retransmits:  raw.Retransmits,
		Probes:       raw.Probes,
		Backoff:      raw.Backoff,
		Options:      raw.Options,
		RTO:          raw.Rto,
		ATO:          raw.Ato,
		SndMSS:       raw.Snd_mss,
		RcvMSS:       raw.Rcv_mss,
		Unacked:      raw.Unacked,
		Sacked:       raw.Sacked,
		Lost:         raw.Lost,
		Retrans:      raw.Retrans,
		Fackets:      raw.Fackets,
		LastDataSent: raw.Last_data_sent,
		LastAckSent:  raw.Last_ack_sent,
		LastDataRecv: raw.Last_data_recv,
		LastAckRecv:  raw.Last_ack_recv,
		PMTU:         raw.Pmtu,
		RcvSSThresh:  raw.Rcv_ssthresh,
		RTT:          raw.Rtt,
		RTTVar:       raw.Rttvar,
		SndSSThresh:  raw.Snd_ssthresh,
		SndCwnd:      raw.Snd_cwnd,
		AdvMSS:       raw.Advmss,
		Reordering:   raw.Reordering,
		RcvRTT:       raw.Rcv_rtt,
		RcvSpace:     raw.Rcv_space,
		TotalRetrans: raw.Total_retrans,
	}
	return nil
}

// SetTCPMD5Sig installs key for addr; an empty key removes the signature.
func (s *Socket) SetTCPMD5Sig(addr netip.Addr, key []byte) error {
	if s.closed.Load() {
		return os.ErrClosed
	}
	if len(key) > unix.TCP_MD5SIG_MAXKEYLEN {
		return E.New("tcp md5 key longer than ", unix.TCP_MD5SIG_MAXKEYLEN, " bytes")
	}
	sig := unix.TCPMD5Sig{Keylen: uint16(len(key))}
	copy(sig.Key[:], key)
	if s.domain == unix.AF_INET {
		addr = addr.Unmap()
		if !addr.Is4() {
			return E.New("address ", addr, " is not ipv4")
		}
		sig.Addr.Family = unix.AF_INET
		ip := addr.As4()
		copy(sig.Addr.Data[2:6], ip[:])
	} else {
		sig.Addr.Family = unix.AF_INET6
		ip := addr.As16()
		copy(sig.Addr.Data[6:22], ip[:])
	}
	return os.NewSyscallError("setsockopt TCP_MD5SIG", unix.SetsockoptTCPMD5Sig(s.fd, unix.IPPROTO_TCP, unix.TCP_MD5SIG, &sig))
}

func tcpOptionName(option channel.Option) (level int, name int, loaded bool) {
	switch option {
	case channel.OptionTCPKeepIdle:
		return unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, true
	case channel.OptionTCPKeepInterval:
		return unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, true
	case channel.OptionTCPUserTimeout:
		return unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, true
	default:
		return 0, 0, false
	}
}
