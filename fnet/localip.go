package fnet

import "net"

// LocalIP returns the first non-loopback IPv4 address of the host, or ""
// if none can be found. Nothing in this module calls it; it is kept as a
// small standalone diagnostics helper.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
