package softnic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemPortReceiveInBatches(t *testing.T) {
	m := NewMemPort("vport0", 2, 1)
	for i := range 5 {
		m.Inject(1, []byte{byte(i)})
	}
	b := NewPacketBuffer(3)

	n, err := m.ReceiveBatch(1, b)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 2, m.Pending(1))

	n, err = m.ReceiveBatch(1, b)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{3}, b.Packets()[0].Data)
	require.Equal(t, []byte{4}, b.Packets()[1].Data)

	n, err = m.ReceiveBatch(0, b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, b.Len())

	require.Equal(t, []int{1, 1, 0}, m.Polls)
}

func TestMemPortQueueOutOfRange(t *testing.T) {
	m := NewMemPort("vport0", 1, 1)
	b := NewPacketBuffer(1)

	_, err := m.ReceiveBatch(1, b)
	require.ErrorIs(t, err, ErrQueueOutOfRange)
	_, err = m.SendBatch(-1, b)
	require.ErrorIs(t, err, ErrQueueOutOfRange)
}

func TestMemPortSendSkipsDropped(t *testing.T) {
	in := NewMemPort("vport0", 1, 1)
	out := NewMemPort("vport1", 1, 2)
	in.Inject(0, []byte{1}, []byte{2}, []byte{3})
	b := NewPacketBuffer(4)
	_, err := in.ReceiveBatch(0, b)
	require.NoError(t, err)
	b.Packets()[1].Dropped = true

	n, err := out.SendBatch(1, b)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []Transmission{{Queue: 1, Frames: [][]byte{{1}, {3}}}}, out.Sent)

	for i := range b.Packets() {
		b.Packets()[i].Dropped = true
	}
	n, err = out.SendBatch(0, b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, out.Sent, 1)
}

func TestMemPortInjectedErrors(t *testing.T) {
	m := NewMemPort("vport0", 1, 1)
	m.ReceiveErr = errors.New("rx down")
	m.SendErr = errors.New("tx down")
	b := NewPacketBuffer(1)

	_, err := m.ReceiveBatch(0, b)
	require.EqualError(t, err, "rx down")
	require.Equal(t, []int{0}, m.Polls)
	_, err = m.SendBatch(0, b)
	require.EqualError(t, err, "tx down")
}

func TestMemPortCloseTwice(t *testing.T) {
	m := NewMemPort("vport0", 1, 1)
	require.NoError(t, m.Close())
	require.True(t, m.Closed())
	require.Error(t, m.Close())
}
