package pump

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Stats are the pump counters. Written by the pump goroutine only.
type Stats struct {
	Iterations atomic.Uint64
	EmptyPolls atomic.Uint64

	RxPackets atomic.Uint64
	RxBytes   atomic.Uint64

	TxPackets atomic.Uint64
	TxBytes   atomic.Uint64
	// Filtered counts packets marked dropped by the processor.
	Filtered atomic.Uint64
	// TxDropped counts packets the egress port had no room for.
	TxDropped atomic.Uint64

	ProcessErrors atomic.Uint64

	Elapsed atomic.Int64 // ns, set when Run returns.
}

// PrintStats writes one line of counters and rates every interval until ctx
// is done.
func PrintStats(ctx context.Context, w io.Writer, stats *Stats, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	var lastRxPkts, lastRxBytes, lastTxPkts, lastTxBytes uint64
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now

			rxPkts, rxBytes := stats.RxPackets.Load(), stats.RxBytes.Load()
			txPkts, txBytes := stats.TxPackets.Load(), stats.TxBytes.Load()

			rxPPS := uint64(float64(rxPkts-lastRxPkts) / dt)
			txPPS := uint64(float64(txPkts-lastTxPkts) / dt)
			rxMbps := float64((rxBytes-lastRxBytes)*8) / 1e6 / dt
			txMbps := float64((txBytes-lastTxBytes)*8) / 1e6 / dt

			lastRxPkts, lastRxBytes = rxPkts, rxBytes
			lastTxPkts, lastTxBytes = txPkts, txBytes

			fmt.Fprintf(w,
				"RX=%s TX=%s RX-PPS=%s TX-PPS=%s RX-Mbps=%.1f TX-Mbps=%.1f ERR=%d\n",
				humanize.Comma(int64(rxPkts)), humanize.Comma(int64(txPkts)),
				humanize.SIWithDigits(float64(rxPPS), 1, ""),
				humanize.SIWithDigits(float64(txPPS), 1, ""),
				rxMbps, txMbps, stats.ProcessErrors.Load(),
			)
		}
	}
}

// PrintReport writes the final summary.
func PrintReport(w io.Writer, stats *Stats, elapsed time.Duration) {
	rxPackets, rxBytes := stats.RxPackets.Load(), stats.RxBytes.Load()
	txPackets, txBytes := stats.TxPackets.Load(), stats.TxBytes.Load()
	iterations := stats.Iterations.Load()
	empty := stats.EmptyPolls.Load()

	secs := elapsed.Seconds()
	var rxAvgPPS, txAvgPPS uint64
	var rxAvgMbps, txAvgMbps float64
	if secs > 0 {
		rxAvgPPS = uint64(float64(rxPackets) / secs)
		txAvgPPS = uint64(float64(txPackets) / secs)
		rxAvgMbps = float64(rxBytes*8) / 1e6 / secs
		txAvgMbps = float64(txBytes*8) / 1e6 / secs
	}
	var emptyPct float64
	if iterations > 0 {
		emptyPct = float64(empty) / float64(iterations) * 100
	}

	p := message.NewPrinter(language.English)
	p.Fprint(w, "\nFINAL REPORT\n")
	p.Fprintf(w, " Elapsed:           %.3f s\n", secs)
	p.Fprintf(w, " Iterations:        %d (%.2f%% empty)\n", iterations, emptyPct)
	p.Fprintf(w, " RX:                %d packets (%s)\n", rxPackets, humanize.Bytes(rxBytes))
	p.Fprintf(w, " TX:                %d packets (%s)\n", txPackets, humanize.Bytes(txBytes))
	p.Fprintf(w, " RX Avg PPS:        %d\n", rxAvgPPS)
	p.Fprintf(w, " TX Avg PPS:        %d\n", txAvgPPS)
	p.Fprintf(w, " RX Avg rate:       %.1f Mbps\n", rxAvgMbps)
	p.Fprintf(w, " TX Avg rate:       %.1f Mbps\n", txAvgMbps)
	p.Fprintf(w, " Filtered:          %d\n", stats.Filtered.Load())
	p.Fprintf(w, " TX dropped:        %d\n", stats.TxDropped.Load())
	p.Fprintf(w, " Process errors:    %d\n", stats.ProcessErrors.Load())
}
