package channel

import "net/netip"

type Family uint8

const (
	FamilyUnspecified Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspecified"
	}
}

func FamilyOf(addr netip.Addr) Family {
	switch {
	case !addr.IsValid():
		return FamilyUnspecified
	case addr.Is4() || addr.Is4In6():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

// Socket is a non-blocking stream socket descriptor.
//
// Read returns (0, nil) when no data is available and io.EOF once the peer shut down its
// output. Writev and ConnectWithData return 0 when the operation would block or is still in
// progress; any returned error is terminal for the call.
type Socket interface {
	FD() int
	Family() Family
	IsOpen() bool
	Bind(local netip.AddrPort) error
	Connect(remote netip.AddrPort) (connected bool, err error)
	FinishConnect() (connected bool, err error)
	FastOpenSupported() bool
	ConnectWithData(local, remote netip.AddrPort, data [][]byte) (int64, error)
	Writev(data [][]byte) (int64, error)
	Read(p []byte) (int, error)
	ShutdownInput() error
	ShutdownOutput() error
	Linger() (int, error)
	SetLinger(seconds int) error
	TCPInfo(info *TCPInfo) error
	SetTCPMD5Sig(addr netip.Addr, key []byte) error
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	Close() error
}

// OptionSocket exposes integer socket options by name; booleans are 0 or 1.
type OptionSocket interface {
	IntOption(option Option) (int, error)
	SetIntOption(option Option, value int) error
}

// ServerChannel is the listening side an accepted channel was created from.
type ServerChannel interface {
	TCPMD5Sigs() map[netip.Addr][]byte
}
