// Package vf contains virtual functions: batch processors the pump pushes
// every received batch through.
package vf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/romshark/vportpump/softnic"
)

var ErrUnknownVF = errors.New("unknown virtual function")

// Component processes a batch in place. It must not retain buf.
type Component interface {
	PushBatch(buf *softnic.PacketBuffer) error
}

// Func adapts a plain function to Component.
type Func func(buf *softnic.PacketBuffer) error

func (f Func) PushBatch(buf *softnic.PacketBuffer) error { return f(buf) }

type named struct {
	name string
	Component
}

// Chain runs its components in order and stops at the first failure.
type Chain struct {
	vfs []named
}

func NewChain(components ...Component) *Chain {
	c := &Chain{}
	for _, v := range components {
		c.vfs = append(c.vfs, named{name: fmt.Sprintf("%T", v), Component: v})
	}
	return c
}

func (c *Chain) Len() int { return len(c.vfs) }

func (c *Chain) PushBatch(buf *softnic.PacketBuffer) error {
	for i, v := range c.vfs {
		if err := v.PushBatch(buf); err != nil {
			return fmt.Errorf("vf %d (%s): %w", i, v.name, err)
		}
	}
	return nil
}

// Components returns the chained components in order.
func (c *Chain) Components() []Component {
	out := make([]Component, len(c.vfs))
	for i, v := range c.vfs {
		out[i] = v.Component
	}
	return out
}

// Names of the built-in virtual functions.
const (
	NameBaseline = "baseline"
	NameMACSwap  = "macswap"
	NameTTL      = "ttl"
	NameClassify = "classify"
)

// New builds a chain from VF names. An empty list yields a chain with a
// single Baseline.
func New(names []string) (*Chain, error) {
	if len(names) == 0 {
		names = []string{NameBaseline}
	}
	c := &Chain{}
	for _, n := range names {
		var v Component
		switch strings.ToLower(strings.TrimSpace(n)) {
		case NameBaseline:
			v = new(Baseline)
		case NameMACSwap:
			v = MACSwap{}
		case NameTTL:
			v = new(TTL)
		case NameClassify:
			v = NewClassifier()
		default:
			return nil, fmt.Errorf("%q: %w", n, ErrUnknownVF)
		}
		c.vfs = append(c.vfs, named{name: n, Component: v})
	}
	return c, nil
}
