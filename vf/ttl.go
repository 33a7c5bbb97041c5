package vf

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/romshark/vportpump/softnic"
)

const (
	etherTypeIPv4  = 0x0800
	ipv4MinHdrLen  = 20
	ipv4TTLOffset  = 8
	ipv4CsumOffset = 10
)

// TTL decrements the IPv4 time to live and patches the header checksum
// incrementally (RFC 1624). Packets whose TTL reaches zero are marked
// dropped. Non-IPv4 packets pass untouched.
type TTL struct {
	Expired atomic.Uint64
}

func (t *TTL) PushBatch(buf *softnic.PacketBuffer) error {
	pkts := buf.Packets()
	for i := range pkts {
		if pkts[i].Dropped {
			continue
		}
		d := pkts[i].Data
		if len(d) < ethHeaderLen+ipv4MinHdrLen ||
			binary.BigEndian.Uint16(d[12:14]) != etherTypeIPv4 ||
			d[ethHeaderLen]>>4 != 4 {
			continue
		}
		ip := d[ethHeaderLen:]
		if ip[ipv4TTLOffset] <= 1 {
			pkts[i].Dropped = true
			t.Expired.Add(1)
			continue
		}
		decrementTTL(ip)
	}
	return nil
}

// decrementTTL lowers the TTL of an IPv4 header by one and updates the
// checksum: HC' = ~(~HC + ~m + m').
func decrementTTL(ip []byte) {
	// TTL is the high byte of the 16-bit word at offset 8.
	old := binary.BigEndian.Uint16(ip[ipv4TTLOffset:])
	ip[ipv4TTLOffset]--
	updated := binary.BigEndian.Uint16(ip[ipv4TTLOffset:])

	sum := uint32(^binary.BigEndian.Uint16(ip[ipv4CsumOffset:])) +
		uint32(^old) + uint32(updated)
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	binary.BigEndian.PutUint16(ip[ipv4CsumOffset:], ^uint16(sum))
}
