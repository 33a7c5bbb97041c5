package softnic

// DefaultBatchSize is the packet batch capacity used when none is given.
const DefaultBatchSize = 32

// Packet is one slot of a PacketBuffer.
type Packet struct {
	// Data is the frame starting at the Ethernet header. It may alias port
	// memory (AF_XDP UMEM) and may be modified or resliced in place.
	Data []byte

	// Dropped suppresses transmission of the packet.
	Dropped bool

	addr  uint64 // lender token
	store []byte // backing array reused by copying drivers
}

// lender is a port whose memory is referenced by packets in a buffer.
type lender interface {
	reclaim(queue int, pkts []Packet) error
}

// PacketBuffer is a fixed-capacity, reusable batch of packets.
// Only the first Len() slots are occupied; the rest are never visible
// through Packets.
//
// A PacketBuffer is not safe for concurrent use.
type PacketBuffer struct {
	pkts   []Packet
	n      int
	lender lender
	queue  int
}

// NewPacketBuffer allocates a batch of the given capacity.
// capacity <= 0 selects DefaultBatchSize.
func NewPacketBuffer(capacity int) *PacketBuffer {
	if capacity <= 0 {
		capacity = DefaultBatchSize
	}
	return &PacketBuffer{pkts: make([]Packet, capacity)}
}

func (b *PacketBuffer) Cap() int { return len(b.pkts) }

func (b *PacketBuffer) Len() int { return b.n }

// Packets returns the occupied slots.
func (b *PacketBuffer) Packets() []Packet { return b.pkts[:b.n] }

// Bytes returns the total length of the occupied slots.
func (b *PacketBuffer) Bytes() (n uint64) {
	for i := range b.n {
		n += uint64(len(b.pkts[i].Data))
	}
	return n
}

// Live returns the number of occupied packets not marked dropped.
func (b *PacketBuffer) Live() (n int) {
	for i := range b.n {
		if !b.pkts[i].Dropped {
			n++
		}
	}
	return n
}

// Release hands borrowed frames back to the port they came from and
// empties the buffer. Receiving into a buffer releases it first.
func (b *PacketBuffer) Release() error {
	var err error
	if b.lender != nil {
		err = b.lender.reclaim(b.queue, b.pkts[:b.n])
		b.lender = nil
	}
	b.n = 0
	return err
}

// setCopy stores a copy of data in slot i.
func (b *PacketBuffer) setCopy(i int, data []byte) {
	p := &b.pkts[i]
	p.store = append(p.store[:0], data...)
	p.Data = p.store
	p.Dropped = false
	p.addr = 0
}

// setBorrowed points slot i at port memory identified by addr.
func (b *PacketBuffer) setBorrowed(i int, data []byte, addr uint64) {
	p := &b.pkts[i]
	p.Data = data
	p.Dropped = false
	p.addr = addr
}

// commit marks the first n slots as occupied. l is nil for copying drivers.
func (b *PacketBuffer) commit(n int, l lender, queue int) {
	b.n = n
	b.lender = l
	b.queue = queue
}
