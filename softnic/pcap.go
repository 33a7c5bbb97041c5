package softnic

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/romshark/vportpump/ratelimit"
)

const pcapSnapLen = 65536

// pcapPort replays a capture file on receive and appends transmitted
// packets to another capture file. All queues share the same files.
type pcapPort struct {
	name   string
	queues int
	log    *slog.Logger

	rf       *os.File
	r        *pcapgo.Reader
	loop     bool
	eof      bool
	throttle *ratelimit.Throttle

	wf *os.File
	bw *bufio.Writer
	w  *pcapgo.Writer

	now func() time.Time
}

func openPcapPort(name string, conf PortConfig, log *slog.Logger) (_ Port, err error) {
	if conf.Read == "" && conf.Write == "" {
		return nil, fmt.Errorf("port %s: pcap driver needs read and/or write", name)
	}
	p := &pcapPort{
		name:     name,
		queues:   max(conf.Queues, 1),
		log:      log,
		loop:     conf.Loop,
		throttle: ratelimit.New(conf.RatePPS),
		now:      time.Now,
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	if conf.Read != "" {
		if p.rf, err = os.Open(conf.Read); err != nil {
			return nil, fmt.Errorf("opening %s: %w", conf.Read, err)
		}
		if p.r, err = pcapgo.NewReader(p.rf); err != nil {
			return nil, fmt.Errorf("reading pcap header of %s: %w", conf.Read, err)
		}
	}
	if conf.Write != "" {
		if p.wf, err = os.Create(conf.Write); err != nil {
			return nil, fmt.Errorf("creating %s: %w", conf.Write, err)
		}
		p.bw = bufio.NewWriter(p.wf)
		p.w = pcapgo.NewWriter(p.bw)
		if err = p.w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("writing pcap header to %s: %w", conf.Write, err)
		}
	}
	log.Info("opened pcap port",
		slog.String("port", name),
		slog.String("read", conf.Read),
		slog.String("write", conf.Write),
		slog.Bool("loop", conf.Loop),
		slog.Uint64("rate_pps", conf.RatePPS))
	return p, nil
}

func (p *pcapPort) Name() string  { return p.name }
func (p *pcapPort) RxQueues() int { return p.queues }
func (p *pcapPort) TxQueues() int { return p.queues }

func (p *pcapPort) ReceiveBatch(queue int, buf *PacketBuffer) (int, error) {
	if err := checkQueue(p, queue, p.queues); err != nil {
		return 0, err
	}
	if err := buf.Release(); err != nil {
		return 0, err
	}
	if p.r == nil || p.eof {
		return 0, nil
	}

	n, rewound := 0, false
	for n < buf.Cap() {
		data, _, err := p.r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if !p.loop || rewound {
				p.eof = !p.loop
				break
			}
			if err := p.rewind(); err != nil {
				return 0, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%s: reading packet: %w", p.name, err)
		}
		buf.setCopy(n, data)
		n++
	}
	buf.commit(n, nil, queue)
	p.throttle.ThrottleN(uint64(n))
	return n, nil
}

func (p *pcapPort) rewind() error {
	if _, err := p.rf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%s: rewinding: %w", p.name, err)
	}
	r, err := pcapgo.NewReader(p.rf)
	if err != nil {
		return fmt.Errorf("%s: rewinding: %w", p.name, err)
	}
	p.r = r
	return nil
}

func (p *pcapPort) SendBatch(queue int, buf *PacketBuffer) (int, error) {
	if err := checkQueue(p, queue, p.queues); err != nil {
		return 0, err
	}
	if p.w == nil {
		return 0, fmt.Errorf("%s: %w", p.name, ErrPortNotWritable)
	}
	ts := p.now()
	sent := 0
	for _, pkt := range buf.Packets() {
		if pkt.Dropped {
			continue
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(pkt.Data),
			Length:        len(pkt.Data),
		}
		if err := p.w.WritePacket(ci, pkt.Data); err != nil {
			return sent, fmt.Errorf("%s: writing packet: %w", p.name, err)
		}
		sent++
	}
	return sent, nil
}

func (p *pcapPort) Close() error {
	var errs []error
	if p.bw != nil {
		if err := p.bw.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing: %w", err))
		}
		p.bw = nil
	}
	for _, f := range []*os.File{p.wf, p.rf} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.wf, p.rf = nil, nil
	return errors.Join(errs...)
}
