package discovery

import (
	"errors"
	"net"
)

// ErrNoLocalAddress is returned when no non-loopback IPv4 address is up.
var ErrNoLocalAddress = errors.New("discovery: no local IPv4 address")

// LocalIPv4 returns the first non-loopback IPv4 address of an up interface.
func LocalIPv4() (net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && !ip.IsLinkLocalUnicast() {
				return ip, nil
			}
		}
	}
	return nil, ErrNoLocalAddress
}
