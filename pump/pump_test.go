package pump

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/romshark/vportpump/softnic"
)

type recorder struct {
	lens  []int
	err   error
	panic any
	drop  bool
}

func (r *recorder) PushBatch(buf *softnic.PacketBuffer) error {
	r.lens = append(r.lens, buf.Len())
	if r.panic != nil {
		panic(r.panic)
	}
	if r.drop {
		for i := range buf.Packets() {
			buf.Packets()[i].Dropped = true
		}
	}
	return r.err
}

func newPump(
	t *testing.T, conf Config, proc Processor, opts ...Option,
) (*Pump, *softnic.MemPort, *softnic.MemPort) {
	t.Helper()
	in := softnic.NewMemPort("vport0", 4, 4)
	out := softnic.NewMemPort("vport1", 4, 4)
	p, err := New(conf, in, out, proc, opts...)
	require.NoError(t, err)
	return p, in, out
}

func TestConfigValidateAndSetDefaults(t *testing.T) {
	c := Config{RxQueues: 1, TxQueues: 1}
	require.NoError(t, c.ValidateAndSetDefaults())
	require.Equal(t, softnic.DefaultBatchSize, c.BatchSize)

	for _, c := range []Config{
		{RxQueues: 0, TxQueues: 1},
		{RxQueues: 1, TxQueues: 0},
		{RxQueues: -1, TxQueues: 1},
	} {
		require.ErrorIs(t, c.ValidateAndSetDefaults(), ErrInvalidQueueCount)
	}
	c = Config{RxQueues: 1, TxQueues: 1, BatchSize: -1}
	require.Error(t, c.ValidateAndSetDefaults())
}

func TestNewChecksPortQueues(t *testing.T) {
	in := softnic.NewMemPort("vport0", 2, 2)
	out := softnic.NewMemPort("vport1", 1, 1)

	_, err := New(Config{RxQueues: 3, TxQueues: 1}, in, out, &recorder{})
	require.ErrorIs(t, err, ErrInvalidQueueCount)
	_, err = New(Config{RxQueues: 2, TxQueues: 2}, in, out, &recorder{})
	require.ErrorIs(t, err, ErrInvalidQueueCount)
	_, err = New(Config{RxQueues: 1, TxQueues: 1}, nil, out, &recorder{})
	require.ErrorIs(t, err, ErrNilPort)
	_, err = New(Config{RxQueues: 1, TxQueues: 1}, in, out, nil)
	require.ErrorIs(t, err, ErrNilProcessor)

	p, err := New(Config{RxQueues: 2, TxQueues: 1}, in, out, &recorder{})
	require.NoError(t, err)
	require.Zero(t, p.RxIndex())
	require.Zero(t, p.TxIndex())
}

func TestIndexRotation(t *testing.T) {
	p, in, _ := newPump(t, Config{RxQueues: 4, TxQueues: 2}, &recorder{})
	for range 10 {
		require.NoError(t, p.Step())
	}
	require.Equal(t, 2, p.RxIndex())
	require.Equal(t, 0, p.TxIndex())
	require.Equal(t, []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1}, in.Polls)
	require.Equal(t, uint64(10), p.Stats().EmptyPolls.Load())
}

func TestEmptyReceiveStillProcessesAndAdvancesTx(t *testing.T) {
	proc := &recorder{}
	p, _, out := newPump(t, Config{RxQueues: 1, TxQueues: 3}, proc)

	require.NoError(t, p.Step())
	require.Equal(t, []int{0}, proc.lens)
	require.Empty(t, out.Sent)
	require.Equal(t, 1, p.TxIndex())
}

func TestForwardsOnRotatingTxQueue(t *testing.T) {
	proc := &recorder{}
	p, in, out := newPump(t, Config{RxQueues: 2, TxQueues: 3}, proc)
	in.Inject(0, []byte{1}, []byte{2})
	in.Inject(1, []byte{3})

	require.NoError(t, p.Step()) // rx 0 -> tx 0
	require.NoError(t, p.Step()) // rx 1 -> tx 1
	require.NoError(t, p.Step()) // rx 0 empty, tx 2 skipped

	require.Equal(t, []int{2, 1, 0}, proc.lens)
	require.Equal(t, []softnic.Transmission{
		{Queue: 0, Frames: [][]byte{{1}, {2}}},
		{Queue: 1, Frames: [][]byte{{3}}},
	}, out.Sent)
	require.Equal(t, 1, p.RxIndex())
	require.Equal(t, 0, p.TxIndex())

	s := p.Stats()
	require.Equal(t, uint64(3), s.RxPackets.Load())
	require.Equal(t, uint64(3), s.TxPackets.Load())
	require.Equal(t, uint64(3), s.TxBytes.Load())
	require.Equal(t, uint64(3), s.Iterations.Load())
	require.Equal(t, uint64(1), s.EmptyPolls.Load())
}

func TestStaleSlotsNotVisible(t *testing.T) {
	proc := &recorder{}
	p, in, out := newPump(t, Config{RxQueues: 1, TxQueues: 1, BatchSize: 4}, proc)
	in.Inject(0, []byte{1}, []byte{2}, []byte{3})
	require.NoError(t, p.Step())
	in.Inject(0, []byte{4})
	require.NoError(t, p.Step())

	require.Equal(t, []int{3, 1}, proc.lens)
	require.Equal(t, [][]byte{{4}}, out.Sent[1].Frames)
}

func TestProcessErrorIsSwallowed(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	proc := &recorder{err: errors.New("bad packet")}
	p, in, out := newPump(t, Config{RxQueues: 1, TxQueues: 2}, proc, WithLogger(log))
	in.Inject(0, []byte{1})

	require.NoError(t, p.Step())
	require.Len(t, out.Sent, 1)
	require.Equal(t, 1, p.TxIndex())
	require.Equal(t, uint64(1), p.Stats().ProcessErrors.Load())
	require.Contains(t, logs.String(), "batch processing failed")
	require.Contains(t, logs.String(), "bad packet")
}

func TestProcessPanicIsRecovered(t *testing.T) {
	proc := &recorder{panic: "index out of range"}
	p, in, out := newPump(t, Config{RxQueues: 2, TxQueues: 2}, proc,
		WithLogger(slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))))
	in.Inject(0, []byte{1})

	require.NotPanics(t, func() { require.NoError(t, p.Step()) })
	require.Len(t, out.Sent, 1)
	require.Equal(t, 1, p.RxIndex())
	require.Equal(t, 1, p.TxIndex())
	require.Equal(t, uint64(1), p.Stats().ProcessErrors.Load())
}

func TestProcessWarningsAreRateLimited(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	now := time.Unix(100, 0)
	clock := func() time.Time { return now }
	p, _, _ := newPump(t, Config{RxQueues: 1, TxQueues: 1},
		&recorder{err: errors.New("bad")}, WithLogger(log), withClock(clock))

	for range 5 {
		require.NoError(t, p.Step())
	}
	require.Equal(t, 1, strings.Count(logs.String(), "level=WARN"))

	now = now.Add(warnInterval)
	require.NoError(t, p.Step())
	require.Equal(t, 2, strings.Count(logs.String(), "level=WARN"))
	require.Contains(t, logs.String(), "suppressed=4")
	require.Equal(t, uint64(6), p.Stats().ProcessErrors.Load())
}

func TestDroppedPacketsAreNotSent(t *testing.T) {
	p, in, out := newPump(t, Config{RxQueues: 1, TxQueues: 1}, &recorder{drop: true})
	in.Inject(0, []byte{1}, []byte{2})

	require.NoError(t, p.Step())
	require.Empty(t, out.Sent)
	require.Equal(t, uint64(2), p.Stats().Filtered.Load())
	require.Zero(t, p.Stats().TxPackets.Load())
}

func TestReceiveErrorIsFatal(t *testing.T) {
	proc := &recorder{}
	p, in, _ := newPump(t, Config{RxQueues: 2, TxQueues: 2}, proc)
	in.ReceiveErr = errors.New("link down")

	require.ErrorContains(t, p.Step(), "link down")
	require.Zero(t, p.RxIndex())
	require.Zero(t, p.TxIndex())
	require.Empty(t, proc.lens)
}

func TestSendErrorIsFatal(t *testing.T) {
	p, in, out := newPump(t, Config{RxQueues: 1, TxQueues: 2}, &recorder{})
	in.Inject(0, []byte{1})
	out.SendErr = errors.New("tx ring broken")

	err := p.Step()
	require.ErrorContains(t, err, "tx ring broken")
	require.Zero(t, p.TxIndex())
}

func TestSendErrorIgnoredWhenNothingReceived(t *testing.T) {
	p, _, out := newPump(t, Config{RxQueues: 1, TxQueues: 2}, &recorder{})
	out.SendErr = errors.New("tx ring broken")

	require.NoError(t, p.Step())
	require.Equal(t, 1, p.TxIndex())
}

func TestRunStopsOnCancel(t *testing.T) {
	p, in, _ := newPump(t, Config{RxQueues: 1, TxQueues: 1}, &recorder{})
	in.Inject(0, []byte{1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Empty(t, in.Polls)
}

func TestRunReturnsStepError(t *testing.T) {
	p, in, _ := newPump(t, Config{RxQueues: 1, TxQueues: 1}, &recorder{})
	in.ReceiveErr = errors.New("link down")

	err := p.Run(context.Background())
	require.ErrorContains(t, err, "link down")
}

func TestRunUntilCanceledByProcessor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	proc := processorFunc(func(*softnic.PacketBuffer) error {
		steps++
		if steps == 7 {
			cancel()
		}
		return nil
	})
	p, _, _ := newPump(t, Config{RxQueues: 3, TxQueues: 2}, proc)

	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Equal(t, 7, steps)
	require.Equal(t, 7%3, p.RxIndex())
	require.Equal(t, 7%2, p.TxIndex())
	require.Equal(t, uint64(7), p.Stats().Iterations.Load())
}

type processorFunc func(*softnic.PacketBuffer) error

func (f processorFunc) PushBatch(b *softnic.PacketBuffer) error { return f(b) }

func TestPrintReport(t *testing.T) {
	var s Stats
	s.Iterations.Store(4)
	s.EmptyPolls.Store(1)
	s.RxPackets.Store(1500)
	s.TxPackets.Store(1500)
	s.RxBytes.Store(96000)

	var out bytes.Buffer
	PrintReport(&out, &s, 2*time.Second)
	require.Contains(t, out.String(), "FINAL REPORT")
	require.Contains(t, out.String(), "1,500 packets")
	require.Contains(t, out.String(), "(25.00% empty)")
	require.Contains(t, out.String(), "RX Avg PPS:        750")
}

func TestPrintStatsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var out bytes.Buffer
	go func() {
		defer close(done)
		PrintStats(ctx, &out, new(Stats), time.Hour)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PrintStats did not return")
	}
	require.Empty(t, out.String())
}

func TestIndexRotationWithMixedReceives(t *testing.T) {
	proc := &recorder{}
	p, in, out := newPump(t, Config{RxQueues: 4, TxQueues: 2}, proc)

	// Receive outcomes 0,3,0,5,0,3,0,5,0,3.
	for i := range 10 {
		if i%2 == 1 {
			n := 3
			if i%4 == 3 {
				n = 5
			}
			for range n {
				in.Inject(p.RxIndex(), []byte{byte(i)})
			}
		}
		require.NoError(t, p.Step())
	}

	require.Equal(t, 2, p.RxIndex())
	require.Equal(t, 0, p.TxIndex())
	require.Equal(t, []int{0, 3, 0, 5, 0, 3, 0, 5, 0, 3}, proc.lens)
	require.Len(t, out.Sent, 5)
	for _, tr := range out.Sent {
		require.Equal(t, 1, tr.Queue)
	}
	require.Equal(t, uint64(19), p.Stats().TxPackets.Load())
}

func TestRunRecordsElapsed(t *testing.T) {
	now := time.Unix(100, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	ctx, cancel := context.WithCancel(context.Background())
	proc := processorFunc(func(*softnic.PacketBuffer) error {
		cancel()
		return nil
	})
	p, _, _ := newPump(t, Config{RxQueues: 1, TxQueues: 1}, proc, withClock(clock))

	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Equal(t, int64(time.Second), p.Stats().Elapsed.Load())
}
