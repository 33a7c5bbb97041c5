//go:build linux

// Command pktgen sends sequence-numbered UDP traffic over an AF_XDP socket.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"

	"github.com/romshark/vportpump/afxdp"
	"github.com/romshark/vportpump/log"
	"github.com/romshark/vportpump/pktgen"
	"github.com/romshark/vportpump/ratelimit"
)

const (
	txBatch   = 128
	frameSize = 2048
)

var (
	ifaceName string
	dstMACStr string
	srcIPStr  string
	dstIPStr  string
	srcPort   uint16
	dstPort   uint16
	count     uint64
	pktSize   int
	queue     uint32
	zerocopy  bool
	ratePPS   uint64
)

var rootCmd = &cobra.Command{
	Use:          "pktgen",
	Short:        "Send sequence-numbered UDP packets over AF_XDP.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init()
		return run()
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&ifaceName, "iface", "i", "", "interface")
	f.StringVarP(&dstMACStr, "dst-mac", "d", "", "destination MAC")
	f.StringVarP(&srcIPStr, "src-ip", "s", "10.0.1.1", "source IP")
	f.StringVarP(&dstIPStr, "dst-ip", "D", "10.0.2.1", "destination IP")
	f.Uint16Var(&srcPort, "src-port", 12345, "source UDP port")
	f.Uint16VarP(&dstPort, "dst-port", "p", 9000, "destination UDP port")
	f.Uint64VarP(&count, "count", "n", 1_000_000, "packets to send")
	f.IntVarP(&pktSize, "size", "l", 1360, "frame size")
	f.Uint32VarP(&queue, "queue", "q", 0, "TX queue id")
	f.BoolVarP(&zerocopy, "zerocopy", "z", false,
		"prefer zerocopy (falls back to copy mode if not supported)")
	f.Uint64Var(&ratePPS, "rate", 0, "rate limit in packets per second, 0 is unlimited")
	_ = rootCmd.MarkFlagRequired("iface")
	_ = rootCmd.MarkFlagRequired("dst-mac")
}

func run() error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", ifaceName, err)
	}
	dstMAC, err := net.ParseMAC(dstMACStr)
	if err != nil {
		return err
	}
	tmpl, err := pktgen.NewTemplate(pktgen.Config{
		SrcMAC:  link.Attrs().HardwareAddr,
		DstMAC:  dstMAC,
		SrcIP:   net.ParseIP(srcIPStr),
		DstIP:   net.ParseIP(dstIPStr),
		SrcPort: srcPort,
		DstPort: dstPort,
		Size:    pktSize,
	})
	if err != nil {
		return err
	}
	if tmpl.Len() > frameSize {
		return errors.New("packet size exceeds UMEM frame size")
	}

	iface, err := afxdp.MakeInterface(ifaceName, afxdp.InterfaceConfig{
		PreferZerocopy: zerocopy,
	})
	if err != nil {
		return err
	}
	defer iface.Close()

	sock, err := iface.Open(afxdp.SocketConfig{
		QueueID:   queue,
		FrameSize: frameSize,
		NumFrames: 1024 * 8,
		TxSize:    2048,
		CqSize:    2048,
	})
	if err != nil {
		return err
	}
	defer sock.Close()

	slog.Info("AF_XDP TX",
		slog.String("iface", ifaceName),
		slog.Uint64("queue", uint64(queue)),
		slog.String("dst_mac", dstMAC.String()),
		slog.Uint64("count", count),
		slog.Int("size", tmpl.Len()),
		slog.Bool("zerocopy", sock.IsZerocopy()))

	throttle := ratelimit.New(ratePPS)
	var (
		seq       uint32
		sent      uint64
		completed uint64
		bytes     uint64
	)
	addrs := make([]uint64, 0, txBatch)
	lens := make([]uint32, 0, txBatch)
	start := time.Now()

	for sent < count {
		// Wait for room, reclaiming completions.
		for sock.TxFree() == 0 || sock.FreeFrames() == 0 {
			if c := sock.PollCompletions(txBatch); c > 0 {
				completed += uint64(c)
				continue
			}
			if err := sock.Wait(1); err != nil {
				return fmt.Errorf("waiting for TX progress: %w", err)
			}
		}

		sendable := min(sock.TxFree(), sock.FreeFrames(), txBatch)
		sendable = uint32(min(uint64(sendable), count-sent))

		addrs, lens = addrs[:0], lens[:0]
		for range sendable {
			frame := sock.NextFrame()
			n := tmpl.Build(frame.Buf, seq)
			addrs = append(addrs, frame.Addr)
			lens = append(lens, uint32(n))
			seq++
			bytes += uint64(n)
		}

		n, err := sock.SubmitBatch(addrs, lens)
		if err != nil {
			return err
		}
		if err := sock.FlushTx(); err != nil {
			return err
		}
		sent += uint64(n)
		throttle.ThrottleN(uint64(n))
		completed += uint64(sock.PollCompletions(uint32(n)))
	}

	// Drain: wait until every sent frame completed.
	for completed < sent {
		if c := sock.PollCompletions(txBatch); c > 0 {
			completed += uint64(c)
			continue
		}
		_ = sock.Wait(1)
	}

	elapsed := time.Since(start)
	pps := float64(sent) / elapsed.Seconds()
	fmt.Fprintf(os.Stderr,
		"finished: sent=%s completed=%s bytes=%s | duration=%s | rate=%s pps\n",
		humanize.Comma(int64(sent)),
		humanize.Comma(int64(completed)),
		humanize.Bytes(bytes),
		elapsed,
		humanize.Comma(int64(pps)),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("pktgen: %v", err)
	}
}
