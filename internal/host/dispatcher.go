package host

import (
	"sort"
	"sync"

	"github.com/1ureka/gobackn/internal/peer"
)

// dispatcher maintains the peer address → connection route table. The host
// read loop uses it to hand every datagram to the right receive loop.
type dispatcher struct {
	mu         sync.Mutex
	routeTable map[string]*peer.Connection
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		routeTable: make(map[string]*peer.Connection),
	}
}

// register stores c under its peer address. It reports false, leaving the
// table unchanged, when the address is already routed.
func (d *dispatcher) register(c *peer.Connection) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.routeTable[c.Peer()]; exists {
		return false
	}
	d.routeTable[c.Peer()] = c
	return true
}

// route looks up the connection for a peer address.
func (d *dispatcher) route(addr string) (*peer.Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.routeTable[addr]
	return c, ok
}

// peers lists the routed addresses in order.
func (d *dispatcher) peers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.routeTable))
	for addr := range d.routeTable {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
