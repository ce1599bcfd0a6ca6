package nchs

import (
	"fmt"
	"net"
)

// DiscoverLocalAddresses binds a UDP socket to port 0, reads back the
// kernel-assigned port, and pairs it with every non-loopback IPv4 address
// on this host (§4.I: "The host discovers its own address by binding
// to port 0 and reading back the local socket address; if multiple
// interfaces exist, it enumerates and includes each reachable address").
func DiscoverLocalAddresses() ([]string, uint16, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, 0, fmt.Errorf("discover local address: %w", err)
	}
	defer conn.Close()

	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, 0, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d", ip4.String(), port))
	}
	if len(out) == 0 {
		return nil, 0, fmt.Errorf("no reachable non-loopback address found")
	}
	return out, port, nil
}
