package vf

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PrintReport writes the counters of every VF in the chain that keeps any.
func PrintReport(w io.Writer, c *Chain) {
	p := message.NewPrinter(language.English)
	for i, v := range c.vfs {
		switch v := v.Component.(type) {
		case *Baseline:
			p.Fprintf(w, " VF %d %-10s %d packets, %d bytes\n",
				i, NameBaseline, v.Packets.Load(), v.Bytes.Load())
		case *TTL:
			p.Fprintf(w, " VF %d %-10s %d expired\n", i, NameTTL, v.Expired.Load())
		case *Classifier:
			n := v.Counts
			p.Fprintf(w, " VF %d %-10s eth=%d ipv4=%d ipv6=%d tcp=%d udp=%d other=%d\n",
				i, NameClassify, n.Ethernet, n.IPv4, n.IPv6, n.TCP, n.UDP, n.Other)
		}
	}
}
