//go:build linux

package softnic

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// CreateVethPair creates a veth pair with the given number of queues per
// direction and brings both ends up.
func CreateVethPair(name, peer string, queues int) error {
	veth := newVeth(name, peer, queues)
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("creating veth pair %s/%s: %w", name, peer, err)
	}
	for _, n := range []string{name, peer} {
		link, err := netlink.LinkByName(n)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", n, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("bringing up %s: %w", n, err)
		}
	}
	return nil
}

// newVeth describes the pair. LinkAdd applies the queue counts of the
// link attributes to the peer as well.
func newVeth(name, peer string, queues int) *netlink.Veth {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	if queues > 0 {
		attrs.NumTxQueues = queues
		attrs.NumRxQueues = queues
	}
	return &netlink.Veth{LinkAttrs: attrs, PeerName: peer}
}

// DeleteLink removes a link. Deleting one end of a veth pair removes both.
func DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}
