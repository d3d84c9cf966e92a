// Command quarry loads query results from relational databases into
// columnar files, optionally federating one query across databases.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/types"
)

var version = "0.1.0"

// app carries state shared by every subcommand.
type app struct {
	configFile  string
	logLevel    string
	metricsAddr string
	tracing     bool
	stats       bool
	cpuProfile  string

	cfg      *config.Config
	log      *zap.Logger
	shutdown []func(context.Context) error
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := a.rootCommand()
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - partitioned parallel loads from SQL databases",
		Long: `Quarry fetches query results from relational databases in parallel partitions and
writes them into preallocated columnar buffers, then exports them as JSON lines,
Arrow IPC, Parquet or Avro.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd.Context()) },
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "Path to a YAML configuration file")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.BoolVar(&a.tracing, "trace", false, "Export OpenTelemetry spans to stderr")
	pf.BoolVar(&a.stats, "stats", false, "Log process resource usage when the command finishes")
	pf.StringVar(&a.cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")

	root.AddCommand(
		a.loadCommand(),
		a.federateCommand(),
		a.typesCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Observability.MetricsAddress = a.metricsAddr
	}
	if a.tracing {
		cfg.Observability.EnableTracing = true
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	a.log = logger.Get().With(zap.String("component", "quarry-cli"))
	a.shutdown = append(a.shutdown, func(context.Context) error { return logger.Sync() })

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultConfig()
		tc.ServiceName = cfg.Observability.ServiceName
		tc.ServiceVersion = version
		shutdown, err := observability.Init(ctx, tc)
		if err != nil {
			return err
		}
		a.shutdown = append(a.shutdown, shutdown)
	}

	if addr := cfg.Observability.MetricsAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.log.Info("serving metrics", zap.String("address", addr))
		a.shutdown = append(a.shutdown, srv.Shutdown)
	}

	if a.cpuProfile != "" {
		stop, err := startCPUProfile(a.cpuProfile)
		if err != nil {
			return err
		}
		a.shutdown = append(a.shutdown, func(context.Context) error { return stop() })
	}
	return nil
}

// close runs shutdown hooks in reverse order.
func (a *app) close() {
	if a.stats && a.log != nil {
		logResourceUsage(a.log)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		_ = a.shutdown[i](ctx)
	}
}

func (a *app) typesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List connectors and the type names they accept",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Declared column types (--type):")
			for _, dt := range types.All {
				fmt.Fprintf(out, "  %-10s %s\n", types.FrameMapping.Name(dt), dt)
			}
			fmt.Fprintln(out, "\nSource connectors:")
			for _, info := range registry.ListConnectorInfo() {
				fmt.Fprintf(out, "  %-12s %-12s %s\n", info.Name, info.Type, info.Description)
			}
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// skip configuration and logger setup
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Quarry v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
