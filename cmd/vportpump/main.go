// Command vportpump forwards packets from an ingress virtual port to an
// egress virtual port through a chain of virtual functions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/romshark/vportpump/config"
	"github.com/romshark/vportpump/ifacestat"
	"github.com/romshark/vportpump/log"
	"github.com/romshark/vportpump/pump"
	"github.com/romshark/vportpump/softnic"
	"github.com/romshark/vportpump/vf"
)

var (
	configFile string
	rxQueues   int
	txQueues   int
	batchSize  int
	vfNames    []string
	logLevel   string
	jsonLogs   bool
	printConf  bool
)

var rootCmd = &cobra.Command{
	Use:   "vportpump",
	Short: "Forward packets between two virtual ports through a VF chain.",
	Long: `vportpump polls the RX queues of the ingress port round-robin, pushes
every batch through the configured virtual functions and transmits it on the
egress port, rotating over TX queues. It runs until interrupted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.Init(log.WithLevel(level), log.WithJSON(jsonLogs))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if printConf {
			return printConfig(cmd.OutOrStdout(), conf)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, conf)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log in JSON")

	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "path to config YAML file")
	f.IntVarP(&rxQueues, "rxq", "r", 1, "number of ingress RX queues to poll")
	f.IntVarP(&txQueues, "txq", "t", 1, "number of egress TX queues to send on")
	f.IntVar(&batchSize, "batch", softnic.DefaultBatchSize, "packet batch capacity")
	f.StringSliceVar(&vfNames, "vf", nil,
		"virtual function chain (baseline, macswap, ttl, classify)")
	f.BoolVar(&printConf, "print-config", false,
		"print the effective configuration as YAML and exit")

	rootCmd.AddCommand(vportsCmd)
}

// loadConfig reads the config file if given and applies flags set on the
// command line on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.Default()
	if configFile != "" {
		var err error
		if conf, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	f := cmd.Flags()
	if f.Changed("rxq") || configFile == "" {
		conf.RxQueues = rxQueues
	}
	if f.Changed("txq") || configFile == "" {
		conf.TxQueues = txQueues
	}
	if f.Changed("batch") {
		conf.BatchSize = batchSize
	}
	if f.Changed("vf") {
		conf.VF = vfNames
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return conf, nil
}

// printConfig writes conf as YAML.
func printConfig(w io.Writer, conf *config.Config) error {
	b, err := conf.Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = w.Write(b)
	return err
}

func run(ctx context.Context, conf *config.Config) (err error) {
	slog.Info("starting",
		slog.Int("rxq", conf.RxQueues),
		slog.Int("txq", conf.TxQueues),
		slog.Any("vf", conf.VF))

	chain, err := vf.New(conf.VF)
	if err != nil {
		return err
	}

	env, err := softnic.Init(softnic.EnvConfig{
		Name:     conf.Name,
		Cores:    conf.Cores,
		CoreBase: conf.CoreBase,
		Ports:    conf.Ports,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("initializing softnic: %w", err)
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ingress, err := env.OpenPort(conf.Ingress)
	if err != nil {
		return fmt.Errorf("opening ingress: %w", err)
	}
	egress, err := env.OpenPort(conf.Egress)
	if err != nil {
		return fmt.Errorf("opening egress: %w", err)
	}
	slog.Info("pump thread", slog.Int("lcore", env.LcoreID()))

	ifaces, aliases := kernelInterfaces(conf, conf.Ingress, conf.Egress)
	before, err := ifacestat.Snapshot(ifaces)
	if err != nil {
		log.Warnf("reading interface counters: %v", err)
		ifaces = nil
	}

	p, err := pump.New(pump.Config{
		RxQueues:  conf.RxQueues,
		TxQueues:  conf.TxQueues,
		BatchSize: conf.BatchSize,
	}, ingress, egress, chain, pump.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	statsCtx, cancelStats := context.WithCancel(ctx)
	defer cancelStats()
	if conf.StatsInterval > 0 {
		go pump.PrintStats(statsCtx, os.Stdout, p.Stats(), conf.StatsInterval)
	}

	runErr := p.Run(ctx)
	cancelStats()
	if err := p.Close(); err != nil {
		log.Warnf("releasing batch: %v", err)
	}

	pump.PrintReport(os.Stderr, p.Stats(), time.Duration(p.Stats().Elapsed.Load()))
	vf.PrintReport(os.Stderr, chain)
	if len(ifaces) > 0 {
		if after, err := ifacestat.Snapshot(ifaces); err == nil {
			fmt.Fprintln(os.Stderr, "\nINTERFACE COUNTERS")
			_ = ifacestat.Print(os.Stderr, after.Since(before), aliases)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// kernelInterfaces returns the links behind AF_XDP ports, mapped to their
// logical port names.
func kernelInterfaces(conf *config.Config, ports ...string) ([]string, map[string]string) {
	var ifaces []string
	aliases := make(map[string]string)
	for _, name := range ports {
		pc := conf.Ports[name]
		if pc.Driver != softnic.DriverAFXDP {
			continue
		}
		iface := pc.Interface
		if iface == "" {
			iface = name
		}
		if _, ok := aliases[iface]; ok {
			continue
		}
		ifaces = append(ifaces, iface)
		aliases[iface] = name
	}
	return ifaces, aliases
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("vportpump: %v", err)
	}
}
