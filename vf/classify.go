package vf

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/romshark/vportpump/softnic"
)

// Classes counted by Classifier.
type Classes struct {
	Ethernet uint64
	IPv4     uint64
	IPv6     uint64
	TCP      uint64
	UDP      uint64
	Other    uint64
}

// Classifier decodes packet headers with a preallocated
// gopacket.DecodingLayerParser and counts protocols.
type Classifier struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	Counts Classes
}

func NewClassifier() *Classifier {
	c := &Classifier{}
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&c.eth, &c.ip4, &c.ip6, &c.tcp, &c.udp, &c.payload)
	c.parser.IgnoreUnsupported = true
	c.decoded = make([]gopacket.LayerType, 0, 8)
	return c
}

func (c *Classifier) PushBatch(buf *softnic.PacketBuffer) error {
	for _, p := range buf.Packets() {
		// Truncated packets still count for the layers decoded so far.
		_ = c.parser.DecodeLayers(p.Data, &c.decoded)
		transport := false
		for _, l := range c.decoded {
			switch l {
			case layers.LayerTypeEthernet:
				c.Counts.Ethernet++
			case layers.LayerTypeIPv4:
				c.Counts.IPv4++
			case layers.LayerTypeIPv6:
				c.Counts.IPv6++
			case layers.LayerTypeTCP:
				c.Counts.TCP++
				transport = true
			case layers.LayerTypeUDP:
				c.Counts.UDP++
				transport = true
			}
		}
		if !transport {
			c.Counts.Other++
		}
	}
	return nil
}
