// Package ifacestat reads kernel per-interface counters from sysfs.
package ifacestat

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Root is the sysfs directory holding one entry per network interface.
var Root = "/sys/class/net"

type Counter int

const (
	TxPackets Counter = iota
	TxBytes
	RxPackets
	RxBytes
	RxDropped
	TxDropped
)

// All lists every counter.
var All = []Counter{TxPackets, TxBytes, RxPackets, RxBytes, RxDropped, TxDropped}

// String returns the file name under <iface>/statistics.
func (c Counter) String() string {
	switch c {
	case TxPackets:
		return "tx_packets"
	case TxBytes:
		return "tx_bytes"
	case RxPackets:
		return "rx_packets"
	case RxBytes:
		return "rx_bytes"
	case RxDropped:
		return "rx_dropped"
	case TxDropped:
		return "tx_dropped"
	}
	return ""
}

// IfaceStats are the counter values of one interface.
type IfaceStats map[Counter]uint64

// Stats maps interface names to their counters.
type Stats map[string]IfaceStats

// Snapshot reads the given counters of every interface. Without counters
// it reads All.
func Snapshot(ifaces []string, counters ...Counter) (Stats, error) {
	if len(counters) == 0 {
		counters = All
	}
	s := make(Stats, len(ifaces))
	for _, iface := range ifaces {
		vals, err := readIface(iface, counters)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", iface, err)
		}
		s[iface] = vals
	}
	return s, nil
}

// Since computes s - old per interface and counter. Counters that went
// backwards (interface reset) yield their current value.
func (s Stats) Since(old Stats) Stats {
	out := make(Stats, len(s))
	for ifc, now := range s {
		prev := old[ifc]
		diff := make(IfaceStats, len(now))
		for ctr, v := range now {
			if p := prev[ctr]; v >= p {
				diff[ctr] = v - p
			} else {
				diff[ctr] = v
			}
		}
		out[ifc] = diff
	}
	return out
}

func readIface(name string, counters []Counter) (IfaceStats, error) {
	dir := filepath.Join(Root, name, "statistics")
	found := make(IfaceStats, len(counters))
	for _, c := range counters {
		b, err := os.ReadFile(filepath.Join(dir, c.String()))
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", c, err)
		}
		found[c] = v
	}
	return found, nil
}

// Print writes a per-interface summary sorted by name. aliases maps
// interface names to the logical port names shown next to them.
func Print(w io.Writer, s Stats, aliases map[string]string) error {
	ifaces := make([]string, 0, len(s))
	for iface := range s {
		ifaces = append(ifaces, iface)
	}
	slices.Sort(ifaces)

	for _, iface := range ifaces {
		stats := s[iface]
		var err error
		if alias, ok := aliases[iface]; ok {
			_, err = fmt.Fprintf(w, "%s (%s):\n", iface, alias)
		} else {
			_, err = fmt.Fprintf(w, "%s:\n", iface)
		}
		if err != nil {
			return err
		}
		for _, row := range []struct {
			dir                  string
			pkts, bytes, dropped Counter
		}{
			{"TX", TxPackets, TxBytes, TxDropped},
			{"RX", RxPackets, RxBytes, RxDropped},
		} {
			b := stats[row.bytes]
			_, err := fmt.Fprintf(w, "  %s   %-12d  ≈ %-8s (%s) dropped=%d\n",
				row.dir, stats[row.pkts], humanize.Bytes(b),
				humanize.Comma(int64(b)), stats[row.dropped])
			if err != nil {
				return err
			}
		}
	}
	return nil
}
