//go:build unix

package metadata

import (
	"net"
	"net/netip"
	"strconv"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

// AddrPortToSockaddr converts addrPort for a socket of the given address family.
// IPv4 addresses are mapped into IPv6 when the socket is AF_INET6, and the zero value
// becomes the wildcard address.
func AddrPortToSockaddr(domain int, addrPort netip.AddrPort) (unix.Sockaddr, error) {
	addr := addrPort.Addr()
	switch domain {
	case unix.AF_INET:
		if !addr.IsValid() {
			addr = netip.IPv4Unspecified()
		}
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, E.New("address ", addr, " is not ipv4")
		}
		return &unix.SockaddrInet4{
			Port: int(addrPort.Port()),
			Addr: addr.As4(),
		}, nil
	case unix.AF_INET6:
		if !addr.IsValid() {
			addr = netip.IPv6Unspecified()
		}
		sa := &unix.SockaddrInet6{
			Port: int(addrPort.Port()),
			Addr: addr.As16(),
		}
		if zone := addr.Zone(); zone != "" {
			zoneID, err := zoneIndex(zone)
			if err != nil {
				return nil, err
			}
			sa.ZoneId = zoneID
		}
		return sa, nil
	default:
		return nil, E.New("unsupported address family ", domain)
	}
}

func AddrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(addr.Addr).Unmap()
		if ip.Is6() && addr.ZoneId != 0 {
			ip = ip.WithZone(zoneName(addr.ZoneId))
		}
		return netip.AddrPortFrom(ip, uint16(addr.Port))
	default:
		return netip.AddrPort{}
	}
}

func zoneIndex(zone string) (uint32, error) {
	if index, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(index), nil
	}
	iface, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, E.Cause(err, "resolve zone ", zone)
	}
	return uint32(iface.Index), nil
}

func zoneName(index uint32) string {
	iface, err := net.InterfaceByIndex(int(index))
	if err != nil {
		return strconv.FormatUint(uint64(index), 10)
	}
	return iface.Name
}
