package protocol

import (
	"fmt"
	"net"
)

// AFInet is the address-family byte forced into every endpoint structure
// relayed between clients. The legacy client parses the raw structure and
// expects exactly this value.
const AFInet = 2

// SockAddr mirrors the 16-byte sockaddr_in layout embedded in relayed
// messages. Port and Addr stay in network byte order as observed by the
// socket; Family is little-endian on the wire.
type SockAddr struct {
	Family uint16
	Port   [2]byte
	Addr   [4]byte
	Zero   [8]byte
}

// SockAddrFromUDP captures a UDP endpoint with the family byte forced to
// IPv4. Non-IPv4 addresses yield a zero address; the service never binds
// or relays IPv6.
func SockAddrFromUDP(addr *net.UDPAddr) SockAddr {
	var sa SockAddr
	sa.Family = AFInet
	sa.Port[0] = byte(addr.Port >> 8)
	sa.Port[1] = byte(addr.Port)
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	return sa
}

// UDPAddr converts the endpoint back to a net.UDPAddr.
func (s SockAddr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IPv4(s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3]),
		Port: s.PortNum(),
	}
}

// PortNum returns the port in host order.
func (s SockAddr) PortNum() int {
	return int(s.Port[0])<<8 | int(s.Port[1])
}

// String formats the endpoint as a.b.c.d:port.
func (s SockAddr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3], s.PortNum())
}
