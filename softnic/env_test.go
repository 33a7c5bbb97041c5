package softnic

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitValidates(t *testing.T) {
	_, err := Init(EnvConfig{Cores: 1, CoreBase: -1})
	require.Error(t, err)
	_, err = Init(EnvConfig{Name: "test", CoreBase: -1})
	require.Error(t, err)
	_, err = Init(EnvConfig{Name: "test", Cores: 1, CoreBase: 1 << 20})
	require.Error(t, err)
}

func TestEnvOpenPort(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in.pcap")
	writePcap(t, in, []byte{1})

	env, err := Init(EnvConfig{
		Name:     "test",
		Cores:    2,
		CoreBase: -1,
		Logger:   slog.Default(),
		Ports: map[string]PortConfig{
			"vport0": {Driver: DriverMem, Queues: 2},
			"vport1": {Driver: DriverPcap, Read: in},
			"vport2": {Driver: "dpdk"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, -1, env.LcoreID())
	require.Equal(t, "test", env.Name())

	p0, err := env.OpenPort("vport0")
	require.NoError(t, err)
	require.Equal(t, "vport0", p0.Name())
	require.Equal(t, 2, p0.RxQueues())

	again, err := env.OpenPort("vport0")
	require.NoError(t, err)
	require.Same(t, p0, again)

	p1, err := env.OpenPort("vport1")
	require.NoError(t, err)
	require.Equal(t, 1, p1.TxQueues())

	_, err = env.OpenPort("vport9")
	require.ErrorIs(t, err, ErrUnknownPort)
	_, err = env.OpenPort("vport2")
	require.ErrorIs(t, err, ErrUnknownDriver)

	require.NoError(t, env.Close())
	require.True(t, p0.(*MemPort).Closed())
	require.NoError(t, env.Close())

	_, err = env.OpenPort("vport0")
	require.Error(t, err)
}
