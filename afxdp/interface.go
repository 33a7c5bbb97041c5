//go:build linux

// Package afxdp implements AF_XDP sockets for virtual and physical NICs.
// Interface owns the XDP redirect program and the XSK map of one link.
// Socket is an AF_XDP socket bound to a single RX/TX queue of that link.
//
// Terminology mapping (kernel ↔ userspace):
//
//   - RX ring: raw packets delivered from NIC to userspace.
//   - FQ ring: UMEM addresses userspace provides to kernel for RX.
//   - TX ring: descriptors userspace sends to NIC.
//   - CQ ring: completed TX buffers returned by kernel.
package afxdp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"
)

var (
	ErrNumFramesTooSmall = errors.New("NumFrames must be >= TxSize + RxSize")
	ErrRingSizeNotPow2   = errors.New("ring sizes must be a power of two")
	ErrFillRingFull      = errors.New("fill ring is full")
	ErrTxRingFull        = errors.New("tx ring is full")
	ErrSocketClosed      = errors.New("socket is closed")
)

// SysfsNet is the sysfs directory listing network interfaces.
var SysfsNet = "/sys/class/net"

// xdpPass is returned by bpf_redirect_map when no socket
// is registered for the packet's queue.
const xdpPass = 2

// InterfaceConfig controls how AF_XDP is attached to a network interface.
type InterfaceConfig struct {
	PreferZerocopy bool
}

// Interface represents a link with an XDP program attached for AF_XDP use.
type Interface struct {
	name           string
	index          int
	mtu            int
	preferZerocopy bool

	xsks *ebpf.Map
	prog *ebpf.Program
	link link.Link
}

// MakeInterface resolves the link by name, brings it up if necessary and
// attaches the XDP redirect program to it.
func MakeInterface(name string, conf InterfaceConfig) (*Interface, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("getting link %q: %w", name, err)
	}
	attrs := l.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		if err := netlink.LinkSetUp(l); err != nil {
			return nil, fmt.Errorf("setting link %q up: %w", name, err)
		}
	}

	i := &Interface{
		name:           name,
		index:          attrs.Index,
		mtu:            attrs.MTU,
		preferZerocopy: conf.PreferZerocopy,
	}

	queues := max(attrs.NumRxQueues, attrs.NumTxQueues, 1)
	i.xsks, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:       "xsks_map",
		Type:       ebpf.XSKMap,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: uint32(queues),
	})
	if err != nil {
		return nil, fmt.Errorf("creating xsks_map: %w", err)
	}

	i.prog, err = newRedirectProgram(i.xsks)
	if err != nil {
		_ = i.Close()
		return nil, fmt.Errorf("loading XDP program: %w", err)
	}

	i.link, err = link.AttachXDP(link.XDPOptions{
		Program:   i.prog,
		Interface: i.index,
		Flags:     xdpAttachFlags(conf.PreferZerocopy),
	})
	if err != nil {
		_ = i.Close()
		return nil, fmt.Errorf("attaching XDP: %w", err)
	}
	return i, nil
}

// xdpAttachFlags selects driver mode, which zerocopy needs, or generic mode.
func xdpAttachFlags(preferZerocopy bool) link.XDPAttachFlags {
	if preferZerocopy {
		return link.XDPDriverMode
	}
	return link.XDPGenericMode
}

// newRedirectProgram assembles the equivalent of:
//
//	return bpf_redirect_map(&xsks_map, ctx->rx_queue_index, XDP_PASS);
func newRedirectProgram(xsks *ebpf.Map) (*ebpf.Program, error) {
	return ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:    "xdp_sock_prog",
		Type:    ebpf.XDP,
		License: "GPL",
		Instructions: asm.Instructions{
			// struct xdp_md: rx_queue_index is at offset 16.
			asm.LoadMem(asm.R2, asm.R1, 16, asm.Word),
			asm.LoadMapPtr(asm.R1, xsks.FD()),
			asm.Mov.Imm(asm.R3, xdpPass),
			asm.FnRedirectMap.Call(),
			asm.Return(),
		},
	})
}

// Info returns the link name and its kernel index.
func (i *Interface) Info() (name string, index int) { return i.name, i.index }

// MTU returns the link MTU observed when the interface was made.
func (i *Interface) MTU() int { return i.mtu }

// RXQueueIDs returns the RX queue IDs of the link in ascending order,
// read from <SysfsNet>/<iface>/queues.
func (i *Interface) RXQueueIDs() ([]uint32, error) {
	return rxQueueIDs(filepath.Join(SysfsNet, i.name, "queues"))
}

func rxQueueIDs(dir string) (ids []uint32, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", dir, err)
	}
	for _, e := range entries {
		idStr, ok := strings.CutPrefix(e.Name(), "rx-")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing entry %q: %w", e.Name(), err)
		}
		ids = append(ids, uint32(id))
	}
	slices.Sort(ids)
	return ids, nil
}

// register makes the XDP program redirect packets of queue to fd.
func (i *Interface) register(queue uint32, fd int) error {
	return i.xsks.Update(queue, uint32(fd), ebpf.UpdateAny)
}

func (i *Interface) unregister(queue uint32) error {
	return i.xsks.Delete(queue)
}

// Close detaches the XDP program and frees the eBPF objects.
// Sockets opened on the interface must be closed first.
func (i *Interface) Close() error {
	var errs []error
	if i.link != nil {
		if err := i.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing XDP link: %w", err))
		}
		i.link = nil
	}
	if i.prog != nil {
		if err := i.prog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing XDP program: %w", err))
		}
		i.prog = nil
	}
	if i.xsks != nil {
		if err := i.xsks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing xsks_map: %w", err))
		}
		i.xsks = nil
	}
	return errors.Join(errs...)
}
