//go:build linux

// Command sink counts packets arriving on every RX queue of an interface
// and optionally checks pktgen sequence numbers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/romshark/vportpump/afxdp"
	"github.com/romshark/vportpump/log"
	"github.com/romshark/vportpump/pktgen"
)

var (
	ifaceName string
	zerocopy  bool
	verify    bool
	srcIPStr  string
	dstIPStr  string
	srcPort   uint16
	dstPort   uint16
)

var rootCmd = &cobra.Command{
	Use:          "sink",
	Short:        "Receive and count packets over AF_XDP.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&ifaceName, "iface", "i", "", "interface")
	f.BoolVarP(&zerocopy, "zerocopy", "z", false, "prefer zerocopy")
	f.BoolVar(&verify, "verify", false, "check pktgen sequence numbers are in order")
	f.StringVar(&srcIPStr, "src-ip", "10.0.1.1", "pktgen source IP (with --verify)")
	f.StringVar(&dstIPStr, "dst-ip", "10.0.2.1", "pktgen destination IP (with --verify)")
	f.Uint16Var(&srcPort, "src-port", 12345, "pktgen source port (with --verify)")
	f.Uint16Var(&dstPort, "dst-port", 9000, "pktgen destination port (with --verify)")
	_ = rootCmd.MarkFlagRequired("iface")
}

type counters struct {
	packets  atomic.Uint64
	bytes    atomic.Uint64
	outOfSeq atomic.Uint64
}

func run(ctx context.Context) error {
	iface, err := afxdp.MakeInterface(ifaceName, afxdp.InterfaceConfig{
		PreferZerocopy: zerocopy,
	})
	if err != nil {
		return fmt.Errorf("initializing interface: %w", err)
	}
	defer iface.Close()

	queues, err := iface.RXQueueIDs()
	if err != nil {
		return fmt.Errorf("listing queue ids: %w", err)
	}
	if len(queues) == 0 {
		return fmt.Errorf("no RX queues found for %s", ifaceName)
	}

	var match *pktgen.Template
	if verify {
		// Only the flow fields matter for matching.
		match, err = pktgen.NewTemplate(pktgen.Config{
			SrcMAC:  make(net.HardwareAddr, 6),
			DstMAC:  make(net.HardwareAddr, 6),
			SrcIP:   net.ParseIP(srcIPStr),
			DstIP:   net.ParseIP(dstIPStr),
			SrcPort: srcPort,
			DstPort: dstPort,
		})
		if err != nil {
			return err
		}
	}

	slog.Info("AF_XDP RX",
		slog.String("iface", ifaceName),
		slog.Bool("prefer_zerocopy", zerocopy),
		slog.Any("queues", queues))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var c counters
	var wg sync.WaitGroup
	errs := make(chan error, len(queues))
	// One socket per queue, each on its own locked thread.
	for _, qid := range queues {
		wg.Go(func() {
			if err := receive(ctx, iface, qid, match, &c); err != nil {
				log.Errorf("queue %d stopped: %v", qid, err)
				errs <- fmt.Errorf("queue %d: %w", qid, err)
				cancel()
			}
		})
	}

	printRates(ctx, &c)
	wg.Wait()
	close(errs)
	fmt.Fprintf(os.Stderr, "total=%d bytes=%d out_of_seq=%d\n",
		c.packets.Load(), c.bytes.Load(), c.outOfSeq.Load())
	return <-errs
}

func receive(
	ctx context.Context, iface *afxdp.Interface, qid uint32,
	match *pktgen.Template, c *counters,
) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sock, err := iface.Open(afxdp.SocketConfig{QueueID: qid})
	if err != nil {
		return err
	}
	defer sock.Close()
	slog.Info("socket open", slog.Uint64("queue", uint64(qid)),
		slog.Bool("zerocopy", sock.IsZerocopy()))

	waitTimeoutMS := int((100 * time.Millisecond).Milliseconds())
	buf := make([]afxdp.Frame, 64)
	var next uint32
	for ctx.Err() == nil {
		frames := sock.Receive(buf)
		if len(frames) == 0 {
			if err := sock.Wait(waitTimeoutMS); err != nil {
				return err
			}
			continue
		}
		for _, f := range frames {
			c.packets.Add(1)
			c.bytes.Add(uint64(len(f.Buf)))
			if match == nil {
				continue
			}
			if seq, ok := match.Match(f.Buf); ok {
				if seq != next {
					c.outOfSeq.Add(1)
				}
				next = seq + 1
			}
		}
		if err := sock.ReleaseBatch(frames); err != nil {
			return err
		}
	}
	return nil
}

func printRates(ctx context.Context, c *counters) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastPackets, lastBytes uint64
	var maxPPS, maxMbps float64
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(lastTime).Seconds()
			pkts, bytes := c.packets.Load(), c.bytes.Load()
			pps := float64(pkts-lastPackets) / elapsed
			mbps := float64((bytes-lastBytes)*8) / elapsed / 1e6
			maxPPS, maxMbps = max(maxPPS, pps), max(maxMbps, mbps)

			fmt.Printf(
				"total=%d | cur=%.0f pps %.2f Mbit/s | max=%.0f pps %.2f Mbit/s\n",
				pkts, pps, mbps, maxPPS, maxMbps,
			)
			lastPackets, lastBytes, lastTime = pkts, bytes, now
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("sink: %v", err)
	}
}
