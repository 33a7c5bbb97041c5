//go:build linux

package softnic

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/romshark/vportpump/afxdp"
)

func init() { drivers[DriverAFXDP] = openXDPPort }

// xdpPort runs one AF_XDP socket per queue of a link.
//
// Receive lends UMEM frames to the batch without copying; they go back to
// the fill ring when the batch is released. Send copies packets into TX
// frames of the egress socket since ingress and egress UMEMs differ.
type xdpPort struct {
	name  string
	iface *afxdp.Interface
	socks []*afxdp.Socket

	frames  []afxdp.Frame
	release []afxdp.Frame
	addrs   []uint64
	lens    []uint32
}

func openXDPPort(name string, conf PortConfig, log *slog.Logger) (_ Port, err error) {
	ifname := conf.Interface
	if ifname == "" {
		ifname = name
	}
	iface, err := afxdp.MakeInterface(ifname, afxdp.InterfaceConfig{
		PreferZerocopy: conf.PreferZerocopy,
	})
	if err != nil {
		return nil, fmt.Errorf("port %s: %w", name, err)
	}
	p := &xdpPort{name: name, iface: iface}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	queues, err := iface.RXQueueIDs()
	if err != nil {
		return nil, fmt.Errorf("port %s: listing queue ids: %w", name, err)
	}
	if len(queues) == 0 {
		return nil, fmt.Errorf("port %s: no RX queues found for %s", name, ifname)
	}
	if conf.Queues > 0 {
		if conf.Queues > len(queues) {
			return nil, fmt.Errorf("port %s: %d queues requested, %s has %d",
				name, conf.Queues, ifname, len(queues))
		}
		queues = queues[:conf.Queues]
	}

	for _, qid := range queues {
		s, err := iface.Open(afxdp.SocketConfig{
			QueueID:   qid,
			NumFrames: conf.NumFrames,
			FrameSize: conf.FrameSize,
			RxSize:    conf.RingSize,
			TxSize:    conf.RingSize,
			CqSize:    conf.RingSize,
		})
		if err != nil {
			return nil, fmt.Errorf("port %s: queue %d: %w", name, qid, err)
		}
		p.socks = append(p.socks, s)
		log.Info("opened AF_XDP socket",
			slog.String("port", name),
			slog.String("iface", ifname),
			slog.Uint64("queue", uint64(qid)),
			slog.Bool("zerocopy", s.IsZerocopy()))
	}
	return p, nil
}

func (p *xdpPort) Name() string  { return p.name }
func (p *xdpPort) RxQueues() int { return len(p.socks) }
func (p *xdpPort) TxQueues() int { return len(p.socks) }

// Interface returns the kernel link name backing the port.
func (p *xdpPort) Interface() string {
	name, _ := p.iface.Info()
	return name
}

func (p *xdpPort) ReceiveBatch(queue int, buf *PacketBuffer) (int, error) {
	if err := checkQueue(p, queue, len(p.socks)); err != nil {
		return 0, err
	}
	if err := buf.Release(); err != nil {
		return 0, err
	}
	if len(p.frames) < buf.Cap() {
		p.frames = make([]afxdp.Frame, buf.Cap())
	}
	frames := p.socks[queue].Receive(p.frames[:buf.Cap()])
	for i, f := range frames {
		buf.setBorrowed(i, f.Buf, f.Addr)
	}
	buf.commit(len(frames), p, queue)
	return len(frames), nil
}

func (p *xdpPort) reclaim(queue int, pkts []Packet) error {
	p.release = p.release[:0]
	for _, pkt := range pkts {
		p.release = append(p.release, afxdp.Frame{Addr: pkt.addr})
	}
	if err := p.socks[queue].ReleaseBatch(p.release); err != nil {
		return fmt.Errorf("%s queue %d: %w", p.name, queue, err)
	}
	return nil
}

func (p *xdpPort) SendBatch(queue int, buf *PacketBuffer) (int, error) {
	if err := checkQueue(p, queue, len(p.socks)); err != nil {
		return 0, err
	}
	s := p.socks[queue]
	s.PollCompletions(uint32(buf.Cap()))
	room := min(s.TxFree(), s.FreeFrames())

	p.addrs, p.lens = p.addrs[:0], p.lens[:0]
	for _, pkt := range buf.Packets() {
		if pkt.Dropped {
			continue
		}
		if room == 0 {
			// No TX room left, the rest of the batch is dropped.
			break
		}
		f := s.NextFrame()
		if len(f.Buf) == 0 {
			break
		}
		n := copy(f.Buf, pkt.Data)
		p.addrs = append(p.addrs, f.Addr)
		p.lens = append(p.lens, uint32(n))
		room--
	}
	if len(p.addrs) == 0 {
		return 0, nil
	}

	n, err := s.SubmitBatch(p.addrs, p.lens)
	if err != nil {
		return 0, fmt.Errorf("%s queue %d: submitting: %w", p.name, queue, err)
	}
	if err := s.FlushTx(); err != nil {
		return n, fmt.Errorf("%s queue %d: flushing TX: %w", p.name, queue, err)
	}
	return n, nil
}

func (p *xdpPort) Close() error {
	var errs []error
	for _, s := range p.socks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.socks = nil
	if p.iface != nil {
		if err := p.iface.Close(); err != nil {
			errs = append(errs, err)
		}
		p.iface = nil
	}
	return errors.Join(errs...)
}
