// Package config loads the pump configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/romshark/vportpump/softnic"
	"github.com/romshark/vportpump/vf"
)

type Config struct {
	Name     string `yaml:"name"`
	Cores    int    `yaml:"cores"`
	CoreBase int    `yaml:"core-base"` // -1 disables pinning.

	Ingress   string `yaml:"ingress"`
	Egress    string `yaml:"egress"`
	RxQueues  int    `yaml:"rx-queues"`
	TxQueues  int    `yaml:"tx-queues"`
	BatchSize int    `yaml:"batch-size"`

	VF            []string      `yaml:"vf"`
	StatsInterval time.Duration `yaml:"stats-interval"` // 0 disables.

	Ports map[string]softnic.PortConfig `yaml:"ports"`
}

// Default returns the configuration used without a config file: instance
// "test" on 2 cores forwarding vport0 to vport1 over AF_XDP.
func Default() *Config {
	return &Config{
		Name:          "test",
		Cores:         2,
		CoreBase:      0,
		Ingress:       "vport0",
		Egress:        "vport1",
		RxQueues:      1,
		TxQueues:      1,
		BatchSize:     softnic.DefaultBatchSize,
		VF:            []string{vf.NameBaseline},
		StatsInterval: time.Second,
		Ports: map[string]softnic.PortConfig{
			"vport0": {Driver: softnic.DriverAFXDP, Interface: "vport0"},
			"vport1": {Driver: softnic.DriverAFXDP, Interface: "vport1"},
		},
	}
}

// Load reads path over the defaults. Unknown fields are rejected.
// A ports section replaces the default ports entirely.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	conf := Default()
	conf.Ports = nil
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if conf.Ports == nil {
		conf.Ports = Default().Ports
	}
	return conf, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name must be set")
	}
	if c.Cores < 1 {
		return fmt.Errorf("cores must be > 0, got %d", c.Cores)
	}
	if c.CoreBase < -1 {
		return fmt.Errorf("core-base must be >= -1, got %d", c.CoreBase)
	}
	if c.RxQueues < 1 || c.TxQueues < 1 {
		return fmt.Errorf("rx-queues and tx-queues must be > 0, got %d and %d",
			c.RxQueues, c.TxQueues)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be > 0, got %d", c.BatchSize)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats-interval must be >= 0, got %s", c.StatsInterval)
	}
	for _, name := range []string{c.Ingress, c.Egress} {
		if name == "" {
			return errors.New("ingress and egress must be set")
		}
		p, ok := c.Ports[name]
		if !ok {
			return fmt.Errorf("port %q is not configured under ports", name)
		}
		if p.Driver == "" {
			return fmt.Errorf("ports.%s.driver must be set", name)
		}
	}
	if _, err := vf.New(c.VF); err != nil {
		return fmt.Errorf("vf: %w", err)
	}
	return nil
}

// Marshal encodes the effective configuration.
func (c *Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }
