//go:build linux

package softnic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVeth(t *testing.T) {
	v := newVeth("vport0", "vport0p", 4)
	require.Equal(t, "vport0", v.Name)
	require.Equal(t, "vport0p", v.PeerName)
	require.Equal(t, 4, v.NumTxQueues)
	require.Equal(t, 4, v.NumRxQueues)

	v = newVeth("vport1", "vport1p", 0)
	require.Equal(t, "vport1p", v.PeerName)
	require.Zero(t, v.NumTxQueues)
	require.Zero(t, v.NumRxQueues)
}
