package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/romshark/vportpump/softnic"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, "test", c.Name)
	require.Equal(t, 2, c.Cores)
	require.Equal(t, 32, c.BatchSize)
	require.Equal(t, "vport0", c.Ingress)
	require.Equal(t, "vport1", c.Egress)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: lab
core-base: -1
ingress: in
egress: out
rx-queues: 4
tx-queues: 2
vf: [macswap, ttl]
stats-interval: 500ms
ports:
  in: {driver: pcap, read: in.pcap, loop: true, rate-pps: 1000}
  out: {driver: pcap, write: out.pcap}
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, "lab", c.Name)
	require.Equal(t, 2, c.Cores) // default kept
	require.Equal(t, -1, c.CoreBase)
	require.Equal(t, 4, c.RxQueues)
	require.Equal(t, 2, c.TxQueues)
	require.Equal(t, []string{"macswap", "ttl"}, c.VF)
	require.Equal(t, 500*time.Millisecond, c.StatsInterval)
	require.Equal(t, softnic.PortConfig{
		Driver: softnic.DriverPcap, Read: "in.pcap", Loop: true, RatePPS: 1000,
	}, c.Ports["in"])
	require.Len(t, c.Ports, 2)
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("rxq: 2\n"))
	require.Error(t, err)
	_, err = Parse([]byte("ports:\n  vport0: {driver: mem, speed: 10}\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mut := range map[string]func(*Config){
		"no name":        func(c *Config) { c.Name = "" },
		"no cores":       func(c *Config) { c.Cores = 0 },
		"core base":      func(c *Config) { c.CoreBase = -2 },
		"rx queues":      func(c *Config) { c.RxQueues = 0 },
		"tx queues":      func(c *Config) { c.TxQueues = -1 },
		"batch":          func(c *Config) { c.BatchSize = 0 },
		"stats interval": func(c *Config) { c.StatsInterval = -time.Second },
		"no egress":      func(c *Config) { c.Egress = "" },
		"unknown port":   func(c *Config) { c.Ingress = "vport7" },
		"no driver":      func(c *Config) { c.Ports["vport0"] = softnic.PortConfig{} },
		"unknown vf":     func(c *Config) { c.VF = []string{"nat"} },
	} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mut(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	b, err := Default().Marshal()
	require.NoError(t, err)
	require.Contains(t, string(b), "stats-interval: 1s")

	c, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}
