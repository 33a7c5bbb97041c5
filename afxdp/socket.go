//go:build linux

package afxdp

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	DefaultNumFrames          = 4096
	DefaultFrameSize          = 2048
	DefaultTxQueueSize        = 2048
	DefaultRxQueueSize        = DefaultTxQueueSize
	DefaultCompletionRingSize = 2048
	DefaultBatchSize          = 64 // TX batching
)

type SocketConfig struct {
	// QueueID identifies the NIC RX/TX queue to bind to.
	QueueID uint32
	// NumFrames is the total number of UMEM frames allocated.
	NumFrames uint32
	// FrameSize defines the size of each UMEM frame in bytes.
	FrameSize uint32
	// RxSize sets the number of descriptors in the RX and fill rings.
	RxSize uint32
	// TxSize sets the number of descriptors in the TX ring.
	TxSize uint32
	// CqSize sets the number of entries in the completion ring.
	CqSize uint32
	// BatchSize controls completion processing batch size.
	BatchSize uint32
}

func (c *SocketConfig) ValidateAndSetDefaults() error {
	if c.NumFrames == 0 {
		c.NumFrames = DefaultNumFrames
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.RxSize == 0 {
		c.RxSize = DefaultRxQueueSize
	}
	if c.TxSize == 0 {
		c.TxSize = DefaultTxQueueSize
	}
	if c.CqSize == 0 {
		c.CqSize = DefaultCompletionRingSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	for _, s := range []uint32{c.RxSize, c.TxSize, c.CqSize} {
		if s&(s-1) != 0 {
			return ErrRingSizeNotPow2
		}
	}
	if c.NumFrames < c.TxSize+c.RxSize {
		return ErrNumFramesTooSmall
	}
	return nil
}

// Frame is a UMEM frame borrowed from a Socket.
type Frame struct {
	// Buf points directly into UMEM and can be written to in place.
	Buf []byte

	// Addr is the UMEM address identifying the frame.
	Addr uint64
}

// Socket is an AF_XDP bidirectional socket.
// Frames [0, RxSize) of its UMEM are owned by the RX side and cycle through
// the fill ring, frames [RxSize, NumFrames) form the TX pool.
//
// WARNING: Socket is not safe for concurrent use.
type Socket struct {
	conf       SocketConfig
	iface      *Interface
	isZerocopy bool
	fd         int

	umem    []byte
	regions [4][]byte // RX, TX, FQ, CQ

	rx *descRing
	tx *descRing
	fq *addrRing
	cq *addrRing

	txPool []uint64
}

// Open creates an AF_XDP socket bound to conf.QueueID of the interface.
// It allocates UMEM, maps the rings, seeds the fill ring and registers the
// socket in the XSK map. Everything acquired is released if a step fails.
func (i *Interface) Open(conf SocketConfig) (_ *Socket, err error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("opening AF_XDP socket: %w", err)
	}
	s := &Socket{conf: conf, iface: i, fd: fd}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.umem, err = mapUmem(int(conf.NumFrames) * int(conf.FrameSize))
	if err != nil {
		return nil, fmt.Errorf("mmap UMEM: %w", err)
	}
	if err := registerUmem(fd, s.umem, conf.FrameSize); err != nil {
		return nil, fmt.Errorf("setsockopt XDP_UMEM_REG: %w", err)
	}

	for _, o := range []struct {
		name string
		opt  int
		size uint32
	}{
		{"XDP_UMEM_FILL_RING", unix.XDP_UMEM_FILL_RING, conf.RxSize},
		{"XDP_UMEM_COMPLETION_RING", unix.XDP_UMEM_COMPLETION_RING, conf.CqSize},
		{"XDP_TX_RING", unix.XDP_TX_RING, conf.TxSize},
		{"XDP_RX_RING", unix.XDP_RX_RING, conf.RxSize},
	} {
		if err := unix.SetsockoptInt(fd, unix.SOL_XDP, o.opt, int(o.size)); err != nil {
			return nil, fmt.Errorf("setsockopt %s: %w", o.name, err)
		}
	}

	offs, err := mmapOffsets(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockopt XDP_MMAP_OFFSETS: %w", err)
	}

	descSize := unsafe.Sizeof(xdpDesc{})
	addrSize := unsafe.Sizeof(uint64(0))
	for idx, m := range []struct {
		name    string
		off     xdpRingOffset
		entries uint32
		size    uintptr
		pgoff   int64
	}{
		{"RX", offs.Rx, conf.RxSize, descSize, unix.XDP_PGOFF_RX_RING},
		{"TX", offs.Tx, conf.TxSize, descSize, unix.XDP_PGOFF_TX_RING},
		{"FQ", offs.Fr, conf.RxSize, addrSize, unix.XDP_UMEM_PGOFF_FILL_RING},
		{"CQ", offs.Cr, conf.CqSize, addrSize, unix.XDP_UMEM_PGOFF_COMPLETION_RING},
	} {
		s.regions[idx], err = mapRing(fd, m.off, m.entries, m.size, m.pgoff)
		if err != nil {
			return nil, fmt.Errorf("mmap %s ring: %w", m.name, err)
		}
	}

	s.rx = makeDescRing(s.regions[0], offs.Rx, conf.RxSize, false)
	s.tx = makeDescRing(s.regions[1], offs.Tx, conf.TxSize, true)
	s.fq = makeAddrRing(s.regions[2], offs.Fr, conf.RxSize, true)
	s.cq = makeAddrRing(s.regions[3], offs.Cr, conf.CqSize, false)

	// Seed the fill ring with the RX share of UMEM.
	idx, ok := s.fq.reserve(conf.RxSize)
	if !ok {
		return nil, ErrFillRingFull
	}
	for n := range conf.RxSize {
		s.fq.set(idx+n, uint64(n)*uint64(conf.FrameSize))
	}
	s.fq.publish()

	s.txPool = make([]uint64, 0, conf.NumFrames-conf.RxSize)
	for n := conf.RxSize; n < conf.NumFrames; n++ {
		s.txPool = append(s.txPool, uint64(n)*uint64(conf.FrameSize))
	}

	if err := s.bind(); err != nil {
		return nil, fmt.Errorf("binding socket: %w", err)
	}
	if err := i.register(conf.QueueID, fd); err != nil {
		return nil, fmt.Errorf("registering XSK: %w", err)
	}
	return s, nil
}

// bind binds the socket to iface:queue, falling back to copy mode when the
// queue does not support zerocopy.
func (s *Socket) bind() error {
	sa := &unix.SockaddrXDP{
		Flags:   unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP,
		Ifindex: uint32(s.iface.index),
		QueueID: s.conf.QueueID,
	}
	if s.iface.preferZerocopy {
		sa.Flags = unix.XDP_ZEROCOPY | unix.XDP_USE_NEED_WAKEUP
		err := unix.Bind(s.fd, sa)
		if err == nil {
			s.isZerocopy = true
			return nil
		}
		if !errors.Is(err, unix.EPROTONOSUPPORT) && !errors.Is(err, unix.EOPNOTSUPP) {
			return err
		}
		sa.Flags = unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP
	}
	return unix.Bind(s.fd, sa)
}

// IsZerocopy reports whether the socket operates in zero-copy mode.
// It may be false even with PreferZerocopy when the queue fell back to
// XDP_COPY.
func (s *Socket) IsZerocopy() bool { return s.isZerocopy }

// QueueID returns the queue the socket is bound to.
func (s *Socket) QueueID() uint32 { return s.conf.QueueID }

// Close unregisters the socket and releases the UMEM and ring mappings.
func (s *Socket) Close() error {
	var errs []error
	if s.fd > 0 {
		_ = s.iface.unregister(s.conf.QueueID)
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, fmt.Errorf("closing fd: %w", err))
		}
		s.fd = -1
	}
	for idx, r := range s.regions {
		if r == nil {
			continue
		}
		if err := unix.Munmap(r); err != nil {
			errs = append(errs, fmt.Errorf("munmap ring %d: %w", idx, err))
		}
		s.regions[idx] = nil
	}
	if s.umem != nil {
		if err := unix.Munmap(s.umem); err != nil {
			errs = append(errs, fmt.Errorf("munmap UMEM: %w", err))
		}
		s.umem = nil
	}
	return errors.Join(errs...)
}

// Wait blocks until the socket becomes readable or the timeout expires.
// Returns a non-nil error only for real system call failures.
func (s *Socket) Wait(timeoutMS int) error {
	if s.fd < 0 {
		return ErrSocketClosed
	}
	for {
		_, err := unix.Poll([]unix.PollFd{{
			Fd:     int32(s.fd),
			Events: unix.POLLIN,
		}}, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Receive fills buf with frames from the RX ring and returns buf[:n].
// Returned frames reference UMEM and must be handed back via Release or
// ReleaseBatch.
func (s *Socket) Receive(buf []Frame) []Frame {
	n := s.rx.available(uint32(len(buf)))
	if n == 0 {
		if s.fq.needsWakeup() {
			_ = kickRx(s.fd)
		}
		return buf[:0]
	}
	idx := s.rx.cachedCons
	for k := range n {
		d := s.rx.at(idx + k)
		buf[k] = Frame{
			Buf:  s.umem[d.Addr : d.Addr+uint64(d.Len)],
			Addr: d.Addr,
		}
	}
	s.rx.consume(n)
	return buf[:n]
}

// Release returns a received frame to the fill ring.
func (s *Socket) Release(f Frame) error {
	idx, ok := s.fq.reserve(1)
	if !ok {
		return ErrFillRingFull
	}
	s.fq.set(idx, f.Addr)
	s.fq.publish()
	return nil
}

// ReleaseBatch returns received frames to the fill ring in one step.
func (s *Socket) ReleaseBatch(frames []Frame) error {
	if len(frames) == 0 {
		return nil
	}
	idx, ok := s.fq.reserve(uint32(len(frames)))
	if !ok {
		return ErrFillRingFull
	}
	for k, f := range frames {
		s.fq.set(idx+uint32(k), f.Addr)
	}
	s.fq.publish()
	return nil
}

// FreeFrames returns the number of TX frames available to NextFrame.
func (s *Socket) FreeFrames() uint32 { return uint32(len(s.txPool)) }

// TxFree returns the number of free TX descriptors.
func (s *Socket) TxFree() uint32 { return s.tx.free() }

// NextFrame takes a writable frame from the TX pool.
// A zero Frame means the pool is empty; call PollCompletions and retry.
func (s *Socket) NextFrame() Frame {
	if len(s.txPool) == 0 {
		s.PollCompletions(s.conf.BatchSize)
		if len(s.txPool) == 0 {
			return Frame{}
		}
	}
	addr := s.txPool[len(s.txPool)-1]
	s.txPool = s.txPool[:len(s.txPool)-1]
	return Frame{
		Buf:  s.umem[addr : addr+uint64(s.conf.FrameSize)],
		Addr: addr,
	}
}

// SubmitBatch places one TX descriptor per (addr, length) pair.
// The descriptors become visible to the kernel on FlushTx.
func (s *Socket) SubmitBatch(addrs []uint64, lens []uint32) (int, error) {
	n := uint32(len(addrs))
	if n == 0 {
		return 0, nil
	}
	idx, ok := s.tx.reserve(n)
	if !ok {
		return 0, ErrTxRingFull
	}
	for k := range n {
		d := s.tx.at(idx + k)
		d.Addr = addrs[k]
		d.Len = lens[k]
		d.Opts = 0
	}
	return int(n), nil
}

// FlushTx publishes submitted descriptors and rings the doorbell.
func (s *Socket) FlushTx() error {
	s.tx.publish()
	return kickTx(s.fd)
}

// PollCompletions moves up to maxFrames completed TX frames back into
// the TX pool and returns how many were reclaimed.
// The TX pool never exceeds its initial size since every completion
// corresponds to a frame taken by NextFrame.
func (s *Socket) PollCompletions(maxFrames uint32) uint32 {
	n := s.cq.available(maxFrames)
	if n == 0 {
		return 0
	}
	idx := s.cq.cachedCons
	for k := range n {
		s.txPool = append(s.txPool, s.cq.get(idx+k))
	}
	s.cq.consume(n)
	return n
}
