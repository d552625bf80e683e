// Command swim-rs runs one node of the SWIM-style failure detector.
//
//	swim-rs <self-endpoint> [seed-endpoint]
//
// Grounded on andydunstall-piko's cli/command.go and cli/server/command.go:
// a cobra.Command resolves flags and a YAML config into a config.Config,
// builds a logger and metrics registry, then runs the event loop, the
// /metrics server, and the signal handler as an oklog/run.Group.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rungroup "github.com/oklog/run"
	"github.com/spf13/cobra"

	swim "github.com/Paulius0112/swim-rs"
	"github.com/Paulius0112/swim-rs/config"
	"github.com/Paulius0112/swim-rs/internal/swimlog"
	"github.com/Paulius0112/swim-rs/internal/telemetry"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	conf := config.Default()

	cmd := &cobra.Command{
		Use:   "swim-rs <self-endpoint> [seed-endpoint]",
		Short: "run a SWIM-style crash-only failure detector node",
		Long: `swim-rs runs a single node of a SWIM-style failure detector over UDP.

Each node probes a randomly chosen live peer once per tick, escalating to
indirect probes through relays before suspecting, then declaring a member
dead once its suspicion deadline elapses. There is no piggybacked gossip
dissemination: a node only learns of new members through its seed or by
being probed.

Examples:
  # Start the first node of a cluster.
  swim-rs 127.0.0.1:9000

  # Start a second node and join it to the first.
  swim-rs 127.0.0.1:9001 127.0.0.1:9000
`,
		Args: cobra.RangeArgs(1, 2),
	}

	var configPath string
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file path.")
	conf.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if lvl := os.Getenv("SWIM_LOG_LEVEL"); lvl != "" && !cmd.Flags().Changed("log-level") {
			conf.LogLevel = lvl
		}
		if configPath != "" {
			if err := config.Load(configPath, conf); err != nil {
				return err
			}
		}

		conf.SelfAddr = args[0]
		if len(args) == 2 {
			conf.SeedAddr = args[1]
		}

		if err := conf.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err := swimlog.New(conf.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to set up logger: %w", err)
		}
		defer logger.Sync()

		return run(conf, logger)
	}

	return cmd
}

func run(conf *config.Config, logger *swimlog.Logger) error {
	core, err := conf.ToCore()
	if err != nil {
		return err
	}

	var codec swim.Codec = swim.BinaryCodec{}
	if conf.Compress {
		codec = swim.LZ4Codec{Codec: swim.BinaryCodec{}}
	}

	node, err := swim.Listen(core, swim.WithCodec(codec), swim.WithLogger(logger))
	if err != nil {
		return err
	}

	telemetry.SetBuildInfo("dev")

	metricsLn, err := net.Listen("tcp", conf.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listen: %s: %w", conf.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	metricsServer := &http.Server{Handler: mux}

	logger.Info("starting swim-rs node",
		swim.F("self", core.Self.String()),
		swim.F("seed", core.Seed.String()),
		swim.F("metrics_addr", conf.MetricsAddr))

	var g rungroup.Group

	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	g.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info("received shutdown signal", swim.F("signal", sig.String()))
			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	g.Add(func() error {
		return node.Run()
	}, func(error) {
		if err := node.Stop(); err != nil {
			logger.Warn("failed to stop node cleanly", swim.F("error", err))
		}
	})

	sync := make(chan struct{})
	g.Add(func() error {
		telemetry.SyncLoop(sync, time.Second, func() (swim.Counters, int, int, int, *swim.LatencyStats) {
			table := node.Table()
			return node.Metrics().Snapshot(time.Now()),
				table.CountByState(swim.Active),
				table.CountByState(swim.Suspect),
				table.CountByState(swim.Dead),
				node.Metrics().Stats()
		})
		return nil
	}, func(error) {
		close(sync)
	})

	g.Add(func() error {
		return metricsServer.Serve(metricsLn)
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shut down metrics server", swim.F("error", err))
		}
	})

	if err := g.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
