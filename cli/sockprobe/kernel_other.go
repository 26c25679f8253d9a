//go:build unix && !linux

package main

import (
	"net/netip"

	"github.com/sirupsen/logrus"
)

func reportKernelSocket(logger logrus.FieldLogger, local netip.AddrPort, remote netip.AddrPort) {
}
