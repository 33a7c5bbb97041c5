// Package pump moves packet batches from an ingress port to an egress port
// through a processor, rotating over the receive and transmit queues.
package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/romshark/vportpump/softnic"
)

var (
	ErrInvalidQueueCount = errors.New("invalid queue count")
	ErrNilPort           = errors.New("port is nil")
	ErrNilProcessor      = errors.New("processor is nil")
)

// Processor is the downstream processing stage. It may modify packets in
// place and mark them dropped but must not retain the buffer.
type Processor interface {
	PushBatch(buf *softnic.PacketBuffer) error
}

type Config struct {
	RxQueues  int
	TxQueues  int
	BatchSize int // Default: softnic.DefaultBatchSize.
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.RxQueues < 1 {
		return fmt.Errorf("rx queues: %d: %w", c.RxQueues, ErrInvalidQueueCount)
	}
	if c.TxQueues < 1 {
		return fmt.Errorf("tx queues: %d: %w", c.TxQueues, ErrInvalidQueueCount)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must be >= 0, got %d", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = softnic.DefaultBatchSize
	}
	return nil
}

type Option func(*Pump)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pump) { p.log = l }
}

// withClock replaces time.Now for the processing-failure log limiter.
func withClock(now func() time.Time) Option {
	return func(p *Pump) { p.now = now }
}

// Pump owns one reusable batch and polls ingress queues round-robin.
//
// WARNING: A Pump is not safe for concurrent use. Run it on the goroutine
// that owns the ports.
type Pump struct {
	conf    Config
	ingress softnic.Port
	egress  softnic.Port
	proc    Processor
	batch   *softnic.PacketBuffer
	log     *slog.Logger
	now     func() time.Time
	stats   Stats

	rxIdx int
	txIdx int
	step  uint64

	lastWarn   time.Time
	suppressed uint64
}

func New(
	conf Config, ingress, egress softnic.Port, proc Processor, opts ...Option,
) (*Pump, error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	switch {
	case ingress == nil:
		return nil, fmt.Errorf("ingress: %w", ErrNilPort)
	case egress == nil:
		return nil, fmt.Errorf("egress: %w", ErrNilPort)
	case proc == nil:
		return nil, ErrNilProcessor
	}
	if n := ingress.RxQueues(); conf.RxQueues > n {
		return nil, fmt.Errorf("rx queues: %d, port %s has %d: %w",
			conf.RxQueues, ingress.Name(), n, ErrInvalidQueueCount)
	}
	if n := egress.TxQueues(); conf.TxQueues > n {
		return nil, fmt.Errorf("tx queues: %d, port %s has %d: %w",
			conf.TxQueues, egress.Name(), n, ErrInvalidQueueCount)
	}

	p := &Pump{
		conf:    conf,
		ingress: ingress,
		egress:  egress,
		proc:    proc,
		batch:   softnic.NewPacketBuffer(conf.BatchSize),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(
		slog.String("ingress", ingress.Name()),
		slog.String("egress", egress.Name()))
	return p, nil
}

// Step runs one iteration. Receive and send failures are returned and
// leave the pump unusable; processing failures are logged and swallowed.
func (p *Pump) Step() error {
	rcvd, err := p.ingress.ReceiveBatch(p.rxIdx, p.batch)
	if err != nil {
		return fmt.Errorf("receiving on %s queue %d: %w",
			p.ingress.Name(), p.rxIdx, err)
	}
	p.rxIdx = (p.rxIdx + 1) % p.conf.RxQueues

	p.stats.Iterations.Add(1)
	if rcvd == 0 {
		p.stats.EmptyPolls.Add(1)
	} else {
		p.stats.RxPackets.Add(uint64(rcvd))
		p.stats.RxBytes.Add(p.batch.Bytes())
	}

	p.process()

	if rcvd > 0 {
		live := p.batch.Live()
		sent, err := p.egress.SendBatch(p.txIdx, p.batch)
		if err != nil {
			return fmt.Errorf("sending on %s queue %d: %w",
				p.egress.Name(), p.txIdx, err)
		}
		p.account(rcvd, live, sent)
	}
	p.txIdx = (p.txIdx + 1) % p.conf.TxQueues
	p.step++
	return nil
}

// account updates TX counters. Ports send live packets in batch order, so
// the first sent live packets are the ones that made it out.
func (p *Pump) account(rcvd, live, sent int) {
	var bytes uint64
	n := 0
	for _, pkt := range p.batch.Packets() {
		if n == sent {
			break
		}
		if !pkt.Dropped {
			bytes += uint64(len(pkt.Data))
			n++
		}
	}
	p.stats.TxPackets.Add(uint64(sent))
	p.stats.TxBytes.Add(bytes)
	p.stats.Filtered.Add(uint64(rcvd - live))
	if live > sent {
		p.stats.TxDropped.Add(uint64(live - sent))
	}
}

// Run calls Step until ctx is canceled or Step fails.
func (p *Pump) Run(ctx context.Context) error {
	p.log.Info("pump started",
		slog.Int("rx_queues", p.conf.RxQueues),
		slog.Int("tx_queues", p.conf.TxQueues),
		slog.Int("batch", p.batch.Cap()))
	start := p.now()
	defer func() { p.stats.Elapsed.Store(int64(p.now().Sub(start))) }()

	done := ctx.Done()
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		if err := p.Step(); err != nil {
			return err
		}
	}
}

// RxIndex returns the RX queue polled by the next step.
func (p *Pump) RxIndex() int { return p.rxIdx }

// TxIndex returns the TX queue used by the next step.
func (p *Pump) TxIndex() int { return p.txIdx }

// Stats returns the live counters. They may be read from other goroutines.
func (p *Pump) Stats() *Stats { return &p.stats }

// Close hands frames still held by the batch back to the ingress port.
// The ports themselves stay open.
func (p *Pump) Close() error {
	if err := p.batch.Release(); err != nil {
		return fmt.Errorf("releasing batch: %w", err)
	}
	return nil
}
