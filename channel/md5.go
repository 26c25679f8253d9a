package channel

import (
	"bytes"
	"net/netip"
)

const TCPMD5SigMaxKeyLength = 80

func cloneTCPMD5Sigs(sigs map[netip.Addr][]byte) map[netip.Addr][]byte {
	cloned := make(map[netip.Addr][]byte, len(sigs))
	for addr, key := range sigs {
		cloned[addr] = bytes.Clone(key)
	}
	return cloned
}

// applyTCPMD5Sigs installs keys on socket and returns the table the kernel holds afterwards.
// Addresses present in current but absent from keys have their signature removed. On a
// partial failure the returned table still reflects every change that was applied.
func applyTCPMD5Sigs(socket Socket, current map[netip.Addr][]byte, keys map[netip.Addr][]byte) (map[netip.Addr][]byte, error) {
	applied := cloneTCPMD5Sigs(current)
	for addr, key := range keys {
		switch {
		case !addr.IsValid():
			return applied, newConfigurationError(OptionTCPMD5Sig, addr, "invalid address")
		case len(key) == 0:
			return applied, newConfigurationError(OptionTCPMD5Sig, addr, "empty key")
		case len(key) > TCPMD5SigMaxKeyLength:
			return applied, newConfigurationError(OptionTCPMD5Sig, addr, "key longer than 80 bytes")
		}
	}
	for addr := range current {
		if _, loaded := keys[addr]; loaded {
			continue
		}
		err := socket.SetTCPMD5Sig(addr, nil)
		if err != nil {
			return applied, &IOError{Op: "remove tcp md5 signature for " + addr.String(), Cause: err}
		}
		delete(applied, addr)
	}
	for addr, key := range keys {
		err := socket.SetTCPMD5Sig(addr, key)
		if err != nil {
			return applied, &IOError{Op: "set tcp md5 signature for " + addr.String(), Cause: err}
		}
		applied[addr] = bytes.Clone(key)
	}
	return applied, nil
}
