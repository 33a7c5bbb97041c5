package softnic

import (
	"fmt"
	"log/slog"
)

// Transmission records one SendBatch call on a MemPort.
type Transmission struct {
	Queue  int
	Frames [][]byte
}

// MemPort is an in-memory port. Received packets come from per-queue FIFOs
// filled by Inject; transmitted packets are recorded in Sent.
type MemPort struct {
	name string
	rx   [][][]byte
	txq  int

	// Polls lists the RX queue of every ReceiveBatch call.
	Polls []int
	// Sent lists every non-empty transmission.
	Sent []Transmission

	// ReceiveErr and SendErr, when set, are returned by the next calls.
	ReceiveErr error
	SendErr    error

	closed bool
}

var _ Port = (*MemPort)(nil)

func NewMemPort(name string, rxQueues, txQueues int) *MemPort {
	return &MemPort{
		name: name,
		rx:   make([][][]byte, max(rxQueues, 1)),
		txq:  max(txQueues, 1),
	}
}

func openMemPort(name string, conf PortConfig, _ *slog.Logger) (Port, error) {
	return NewMemPort(name, conf.Queues, conf.Queues), nil
}

func (m *MemPort) Name() string  { return m.name }
func (m *MemPort) RxQueues() int { return len(m.rx) }
func (m *MemPort) TxQueues() int { return m.txq }
func (m *MemPort) Closed() bool  { return m.closed }

// Inject queues frames for reception on the given RX queue.
func (m *MemPort) Inject(queue int, frames ...[]byte) {
	m.rx[queue] = append(m.rx[queue], frames...)
}

// Pending returns the number of frames waiting on an RX queue.
func (m *MemPort) Pending(queue int) int { return len(m.rx[queue]) }

func (m *MemPort) ReceiveBatch(queue int, buf *PacketBuffer) (int, error) {
	m.Polls = append(m.Polls, queue)
	if m.ReceiveErr != nil {
		return 0, m.ReceiveErr
	}
	if err := checkQueue(m, queue, len(m.rx)); err != nil {
		return 0, err
	}
	if err := buf.Release(); err != nil {
		return 0, err
	}
	n := min(buf.Cap(), len(m.rx[queue]))
	for i, f := range m.rx[queue][:n] {
		buf.setCopy(i, f)
	}
	m.rx[queue] = m.rx[queue][n:]
	buf.commit(n, nil, queue)
	return n, nil
}

func (m *MemPort) SendBatch(queue int, buf *PacketBuffer) (int, error) {
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	if err := checkQueue(m, queue, m.txq); err != nil {
		return 0, err
	}
	t := Transmission{Queue: queue}
	for _, p := range buf.Packets() {
		if p.Dropped {
			continue
		}
		t.Frames = append(t.Frames, append([]byte(nil), p.Data...))
	}
	if len(t.Frames) > 0 {
		m.Sent = append(m.Sent, t)
	}
	return len(t.Frames), nil
}

func (m *MemPort) Close() error {
	if m.closed {
		return fmt.Errorf("%s: already closed", m.name)
	}
	m.closed = true
	return nil
}
