package main

import (
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// reportKernelSocket looks the connection up through sock_diag.
func reportKernelSocket(logger logrus.FieldLogger, local netip.AddrPort, remote netip.AddrPort) {
	diag, err := netlink.SocketGet(net.TCPAddrFromAddrPort(local), net.TCPAddrFromAddrPort(remote))
	if err != nil {
		logger.Debug("sock_diag: ", err)
		return
	}
	logger.WithFields(logrus.Fields{
		"state":   diag.State,
		"retrans": diag.Retrans,
		"rqueue":  diag.RQueue,
		"wqueue":  diag.WQueue,
		"uid":     diag.UID,
		"inode":   diag.INode,
	}).Info("kernel socket")
}
