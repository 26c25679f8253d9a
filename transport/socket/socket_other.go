//go:build unix && !linux && !darwin

package socket

import (
	"net/netip"

	"github.com/sagernet/sing-socket/channel"
	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"
)

const sendFlags = 0

func noSigPipe() control.Func {
	return nil
}

func (s *Socket) TCPInfo(info *channel.TCPInfo) error {
	return E.Extend(channel.ErrUnsupported, "tcp info")
}

func tcpOptionName(option channel.Option) (level int, name int, loaded bool) {
	return 0, 0, false
}

func (s *Socket) FastOpenSupported() bool {
	return false
}

func (s *Socket) ConnectWithData(local, remote netip.AddrPort, data [][]byte) (int64, error) {
	return 0, E.Extend(channel.ErrUnsupported, "tcp fast open")
}
