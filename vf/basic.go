package vf

import (
	"sync/atomic"

	"github.com/romshark/vportpump/softnic"
)

// Baseline reads the first byte of every packet and counts packets and
// bytes. It measures the pump itself with a minimal per-packet touch.
type Baseline struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
	sink    byte
}

func (b *Baseline) PushBatch(buf *softnic.PacketBuffer) error {
	var bytes uint64
	for _, p := range buf.Packets() {
		if len(p.Data) > 0 {
			b.sink ^= p.Data[0]
		}
		bytes += uint64(len(p.Data))
	}
	b.Packets.Add(uint64(buf.Len()))
	b.Bytes.Add(bytes)
	return nil
}

const ethHeaderLen = 14

// MACSwap swaps the Ethernet source and destination addresses. Frames
// shorter than an Ethernet header are marked dropped.
type MACSwap struct{}

func (MACSwap) PushBatch(buf *softnic.PacketBuffer) error {
	pkts := buf.Packets()
	for i := range pkts {
		d := pkts[i].Data
		if len(d) < ethHeaderLen {
			pkts[i].Dropped = true
			continue
		}
		var tmp [6]byte
		copy(tmp[:], d[0:6])
		copy(d[0:6], d[6:12])
		copy(d[6:12], tmp[:])
	}
	return nil
}
