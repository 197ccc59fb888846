package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/gpueye/internal/config"
	"github.com/rileyhilliard/gpueye/internal/logger"
	"github.com/rileyhilliard/gpueye/internal/metrics"
	"github.com/rileyhilliard/gpueye/internal/monitor"
	"github.com/rileyhilliard/gpueye/internal/remote"
	"github.com/rileyhilliard/gpueye/internal/ui"
)

var (
	watchOnce          bool
	watchFormat        string
	watchHosts         []string
	watchInterval      string
	watchTimeout       string
	watchConcurrency   int
	watchTransport     string
	watchMetricsListen string
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"top"},
	Short:   "Poll hosts and show live GPU telemetry",
	Long: `Poll every host with nvidia-smi on a fixed interval and redraw the
GPU table after each cycle. Hosts that fail keep their row and show the
error until they recover.

With --metrics-listen the same readings are served as Prometheus metrics.

Examples:
  gpueye watch
  gpueye watch --hosts dgx-01,dgx-02 --interval 2s
  gpueye watch --once --format json
  gpueye watch --metrics-listen :9400`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := watchOptions{
			Once:          watchOnce,
			Format:        watchFormat,
			Hosts:         watchHosts,
			Interval:      watchInterval,
			Timeout:       watchTimeout,
			Concurrency:   watchConcurrency,
			Transport:     watchTransport,
			MetricsListen: watchMetricsListen,
			Terminal:      ui.IsTerminal(os.Stdout),
			ColorOut:      os.Stdout,
		}
		return reportJSONError(cmd.OutOrStdout(), watchFormat, watchCommand(ctx, cmd.OutOrStdout(), opts))
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "poll once, print the result and exit")
	watchCmd.Flags().StringVar(&watchFormat, "format", "", "output format: table, json, yaml")
	watchCmd.Flags().StringSliceVar(&watchHosts, "hosts", nil, "only these hosts (name, alias or hostname)")
	watchCmd.Flags().StringVar(&watchInterval, "interval", "", "time between poll cycles (e.g. 5s)")
	watchCmd.Flags().StringVar(&watchTimeout, "timeout", "", "per-host poll timeout, connection included (e.g. 30s)")
	watchCmd.Flags().IntVar(&watchConcurrency, "concurrency", 0, "hosts polled at once")
	watchCmd.Flags().StringVar(&watchTransport, "transport", "", "SSH transport: native or openssh")
	watchCmd.Flags().StringVar(&watchMetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9400)")
	rootCmd.AddCommand(watchCmd)
}

type watchOptions struct {
	Once          bool
	Format        string
	Hosts         []string
	Interval      string
	Timeout       string
	Concurrency   int
	Transport     string
	MetricsListen string

	// Executor replaces the configured SSH transport.
	Executor remote.Executor
	// Terminal redraws table output in place.
	Terminal bool
	// ColorOut is checked for color support; nil leaves the profile alone.
	ColorOut *os.File
}

// apply layers the flag values over the loaded config.
func (o watchOptions) apply(cfg *config.Config) error {
	interval, err := parseDurationFlag("--interval", o.Interval)
	if err != nil {
		return err
	}
	if interval != 0 {
		cfg.Interval = interval
	}

	timeout, err := parseDurationFlag("--timeout", o.Timeout)
	if err != nil {
		return err
	}
	if timeout != 0 {
		cfg.CommandTimeout = timeout
	}

	if o.Concurrency != 0 {
		cfg.Concurrency = o.Concurrency
	}
	if o.Transport != "" {
		cfg.Transport = strings.ToLower(o.Transport)
	}
	if o.Format != "" {
		cfg.Output.Format = strings.ToLower(o.Format)
	}
	if o.MetricsListen != "" {
		cfg.Metrics.Listen = o.MetricsListen
	}
	return nil
}

// watchCommand polls the selected hosts until ctx is done, or once with
// opts.Once.
func watchCommand(ctx context.Context, out io.Writer, opts watchOptions) error {
	cfg, _, err := loadConfig(opts.apply)
	if err != nil {
		return err
	}
	if opts.ColorOut != nil {
		ui.ConfigureColor(cfg.Output.Color, opts.ColorOut)
	}

	hosts, err := resolveHosts(cfg, opts.Hosts)
	if err != nil {
		return err
	}

	exec := opts.Executor
	if exec == nil {
		exec = newExecutor(cfg, logger.NewEnvLogger("[ssh]"))
	}

	engine := monitor.NewEngine(exec, monitor.Options{
		Interval:       cfg.Interval,
		CommandTimeout: cfg.CommandTimeout,
		Concurrency:    cfg.Concurrency,
		Logger:         logger.NewEnvLogger("[engine]"),
	})
	defer engine.Close()

	w := &snapshotWriter{
		out:    out,
		format: cfg.Output.Format,
		clear:  opts.Terminal && !opts.Once,
	}

	if opts.Once {
		// SetHosts starts the first cycle; stopping right away lets it
		// finish without scheduling another.
		engine.SetHosts(hosts)
		engine.Stop()
		engine.Wait()
		return w.write(engine.Snapshot(), time.Now())
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		exporter, detach := metrics.Attach(engine)
		defer detach()

		srv, err := metrics.Listen(cfg.Metrics.Listen, metrics.Registry(exporter), logger.Default())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	cycles := make(chan struct{}, 1)
	unsubscribe := engine.Subscribe(func(ev monitor.Event) {
		if ev.Type != monitor.EventCycleCompleted {
			return
		}
		select {
		case cycles <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-cycles:
				if err := w.write(engine.Snapshot(), time.Now()); err != nil {
					return err
				}
			}
		}
	})

	engine.SetHosts(hosts)
	return g.Wait()
}
