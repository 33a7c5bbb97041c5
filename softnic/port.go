// Package softnic provides the port I/O capabilities the pump runs on:
// an environment that pins the packet thread and opens ports by logical
// name, fixed-capacity packet batches, and the port drivers (AF_XDP, pcap
// files, in-memory).
package softnic

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrUnknownPort       = errors.New("unknown port")
	ErrUnknownDriver     = errors.New("unknown port driver")
	ErrQueueOutOfRange   = errors.New("queue out of range")
	ErrPortNotWritable   = errors.New("port has no transmit side")
	ErrDriverUnavailable = errors.New("port driver not available on this platform")
)

// Port drivers.
const (
	DriverAFXDP = "afxdp"
	DriverPcap  = "pcap"
	DriverMem   = "mem"
)

// Port is an opened virtual network interface.
//
// WARNING: Ports are not safe for concurrent use.
type Port interface {
	Name() string
	RxQueues() int
	TxQueues() int

	// ReceiveBatch releases whatever buf still holds and fills it with up to
	// buf.Cap() packets from the given RX queue.
	ReceiveBatch(queue int, buf *PacketBuffer) (int, error)

	// SendBatch transmits every packet of buf not marked dropped on the
	// given TX queue and returns the number sent. Packets that find no room
	// in the TX path are dropped without error.
	SendBatch(queue int, buf *PacketBuffer) (int, error)

	Close() error
}

// PortConfig selects and configures the driver behind a logical port name.
type PortConfig struct {
	Driver string `yaml:"driver"`
	// Queues limits the number of queues opened, 0 means driver default.
	Queues int `yaml:"queues,omitempty"`

	// afxdp
	Interface      string `yaml:"interface,omitempty"`
	PreferZerocopy bool   `yaml:"prefer-zerocopy,omitempty"`
	NumFrames      uint32 `yaml:"num-frames,omitempty"`
	FrameSize      uint32 `yaml:"frame-size,omitempty"`
	RingSize       uint32 `yaml:"ring-size,omitempty"`

	// pcap
	Read    string `yaml:"read,omitempty"`
	Write   string `yaml:"write,omitempty"`
	Loop    bool   `yaml:"loop,omitempty"`
	RatePPS uint64 `yaml:"rate-pps,omitempty"`
}

type openFunc func(name string, conf PortConfig, log *slog.Logger) (Port, error)

var drivers = map[string]openFunc{
	DriverPcap: openPcapPort,
	DriverMem:  openMemPort,
}

func checkQueue(p Port, queue, n int) error {
	if queue < 0 || queue >= n {
		return fmt.Errorf("%s queue %d of %d: %w", p.Name(), queue, n, ErrQueueOutOfRange)
	}
	return nil
}
