package host

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/1ureka/gobackn/internal/peer"
)

// Connect links two hosts: each adds a connection to the other, then a
// performs the handshake. It is mainly useful for in-process setups.
func Connect(ctx context.Context, a, b *Host) error {
	aAddr, bAddr := reachable(a.Addr()), reachable(b.Addr())

	if _, err := a.AddConnection(bAddr); err != nil && !errors.Is(err, peer.ErrDuplicateConnection) {
		return err
	}
	if _, err := b.AddConnection(aAddr); err != nil && !errors.Is(err, peer.ErrDuplicateConnection) {
		return err
	}
	return a.Handshake(ctx, bAddr)
}

// reachable turns a local address into one a peer on the same machine can
// send to. A UDP socket bound to the wildcard address is reached over the
// IPv4 loopback, which is also the source address its replies carry.
func reachable(addr net.Addr) string {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || (udp.IP != nil && !udp.IP.IsUnspecified()) {
		return addr.String()
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(udp.Port))
}
