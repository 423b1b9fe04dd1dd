package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/slurmdag/internal/api"
	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/engine"
	"github.com/shaiso/slurmdag/internal/mq"
	"github.com/shaiso/slurmdag/internal/orchestrator"
	"github.com/shaiso/slurmdag/internal/repo"
	"github.com/shaiso/slurmdag/internal/rescue"
	"github.com/shaiso/slurmdag/internal/slurm"
	"github.com/shaiso/slurmdag/internal/telemetry"
)

// outfileSuffix — суффикс лога контроллера рядом с DAG файлом.
const outfileSuffix = ".slurmdag.out"

// runOptions — флаги команды run.
type runOptions struct {
	outfile        string
	rescueFrom     int
	noRescue       bool
	useProxy       bool
	proxyFile      string
	dbURL          string
	rabbitURL      string
	metricsAddr    string
	commandTimeout time.Duration

	sleepTime      int
	maxJobsQueued  int
	maxJobsSubmit  int
	submitWaitTime int
	drain          bool
	cancel         bool
}

// overrides собирает явно заданные флаги параметров.
func (o *runOptions) overrides(cmd *cobra.Command) config.Overrides {
	var ov config.Overrides
	flags := cmd.Flags()
	if flags.Changed(config.KeySleepTime) {
		ov.SleepTime = &o.sleepTime
	}
	if flags.Changed(config.KeyMaxJobsQueued) {
		ov.MaxJobsQueued = &o.maxJobsQueued
	}
	if flags.Changed(config.KeyMaxJobsSubmit) {
		ov.MaxJobsSubmit = &o.maxJobsSubmit
	}
	if flags.Changed(config.KeySubmitWaitTime) {
		ov.SubmitWaitTime = &o.submitWaitTime
	}
	if flags.Changed(config.KeyDrain) {
		ov.Drain = &o.drain
	}
	if flags.Changed(config.KeyCancel) {
		ov.Cancel = &o.cancel
	}
	return ov
}

func newRunCmd(g *globals) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run DAG_FILE",
		Short: "Run a DAG until it completes, fails or is stopped",
		Long: `Run a DAG until it completes, fails or is stopped.

The run resumes from the highest rescue file of DAG_FILE unless --no-rescue
is given. Exit status: 0 success, 1 failure, 2 stopped, 255 cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDAG(cmd, g, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.outfile, "outfile", "", "Controller log file (default: <dag file>"+outfileSuffix+")")
	f.IntVar(&opts.rescueFrom, "do-rescue-from", 0, "Resume from rescue file number N (1-999)")
	f.BoolVar(&opts.noRescue, "no-rescue", false, "Ignore existing rescue files")
	f.BoolVar(&opts.useProxy, "use-proxy", false, "Install a grid proxy for the jobs")
	f.StringVar(&opts.proxyFile, "proxy-file", DefaultProxyFile(), "Grid proxy to install with --use-proxy")
	f.StringVar(&opts.dbURL, "db-url", os.Getenv("DB_URL"), "PostgreSQL DSN for the run journal (default: $DB_URL)")
	f.StringVar(&opts.rabbitURL, "rabbitmq-url", os.Getenv("RABBITMQ_URL"), "RabbitMQ URL for run events (default: $RABBITMQ_URL)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", os.Getenv("METRICS_ADDR"), "Serve /metrics, /healthz and /api/v1 on this address (default: $METRICS_ADDR)")
	f.DurationVar(&opts.commandTimeout, "command-timeout", 5*time.Minute, "Timeout of a single Slurm command (negative: none)")

	f.IntVar(&opts.sleepTime, config.KeySleepTime, 0, "Seconds between iterations")
	f.IntVar(&opts.maxJobsQueued, config.KeyMaxJobsQueued, 0, "Maximum jobs in the queue (0: unlimited)")
	f.IntVar(&opts.maxJobsSubmit, config.KeyMaxJobsSubmit, 0, "Maximum submissions per iteration (0: unlimited)")
	f.IntVar(&opts.submitWaitTime, config.KeySubmitWaitTime, 0, "Seconds to wait after each submission")
	f.BoolVar(&opts.drain, config.KeyDrain, false, "Start drained: do not submit new jobs")
	f.BoolVar(&opts.cancel, config.KeyCancel, false, "Start cancelled")

	return cmd
}

func runDAG(cmd *cobra.Command, g *globals, opts *runOptions, dagFile string) error {
	out := outputFor(cmd, g.jsonOutput)

	pkg, err := g.packageDefaults()
	if err != nil {
		return fmt.Errorf("load package config: %w", err)
	}
	flagOverrides := opts.overrides(cmd)
	params := flagOverrides.Apply(pkg.Dagman)

	// Журнал хранит абсолютные пути, history фильтрует по ним
	dagFile, err = filepath.Abs(dagFile)
	if err != nil {
		return err
	}
	sel, err := rescue.Select(dagFile, opts.rescueFrom, opts.noRescue)
	if err != nil {
		return err
	}

	outfile := opts.outfile
	if outfile == "" {
		outfile = rescue.RootName(dagFile) + outfileSuffix
	}
	logFile, err := telemetry.OpenLogFile(outfile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := telemetry.SetupLogger(logFile)

	if len(pkg.Sources) > 0 {
		logger.Info("package config loaded", "files", pkg.Sources)
	}
	if !flagOverrides.Empty() {
		logger.Info("runtime parameters overridden from command line", "params", params)
	}
	if len(sel.Renamed) > 0 {
		logger.Info("renamed stale rescue files", "files", sel.Renamed)
	}

	if opts.useProxy {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		proxy, err := InstallProxy(opts.proxyFile, home)
		if err != nil {
			return err
		}
		logger.Info("grid proxy installed", "path", proxy)
	}

	dag, err := engine.ParseFile(sel.File)
	if err != nil {
		logger.Error("failed to parse DAG file", "file", sel.File, "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorders, closeRecorders := openRecorders(ctx, opts, logger)
	defer closeRecorders()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	var listener net.Listener
	if opts.metricsAddr != "" {
		listener, err = net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", opts.metricsAddr, err)
		}
	}

	store := config.NewStore(config.RuntimePath(dagFile))
	orch := orchestrator.New(orchestrator.Config{
		DAG: dag,
		Scheduler: slurm.NewClient(slurm.Config{
			Timeout: opts.commandTimeout,
			Logger:  logger,
		}),
		Store:     store,
		Params:    params,
		Recorders: recorders,
		Metrics:   metrics,
		Logger:    logger,
	})
	out.Success(fmt.Sprintf("Running %s (run tag %s), log: %s", sel.File, orch.Info().Tag, outfile))

	var handler http.Handler
	if listener != nil {
		handler = serverHandler(orch, store, metrics, logger)
	}
	summary, runErr := runWithServer(ctx, orch, handler, listener, logger)

	if out.JSONMode() {
		out.JSON(summary)
	} else {
		pairs := [][2]string{
			{"Outcome", summary.Outcome.String()},
			{"Done", fmt.Sprintf("%d/%d", summary.Counts.Done, summary.Counts.Total)},
			{"Failed", fmt.Sprint(summary.Counts.Failed)},
		}
		if summary.RescueFile != "" {
			pairs = append(pairs, [2]string{"Rescue file", summary.RescueFile})
		}
		out.KeyValues(pairs)
	}

	if code := summary.Outcome.ExitCode(); code != 0 || runErr != nil {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

// serverHandler собирает /metrics, /healthz и API контроллера.
func serverHandler(orch *orchestrator.Orchestrator, store *config.Store, metrics *telemetry.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", metrics.Handler())
	api.NewHandler(api.Config{
		Source: orch,
		Params: store,
		Logger: logger,
	}).RegisterRoutes(mux)
	return mux
}

// runWithServer выполняет DAG; если listener задан, параллельно
// обслуживает HTTP до завершения запуска.
func runWithServer(ctx context.Context, orch *orchestrator.Orchestrator, handler http.Handler,
	listener net.Listener, logger *slog.Logger) (summary domain.RunSummary, err error) {
	if listener == nil {
		return orch.Run(ctx)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grp errgroup.Group
	grp.Go(func() error {
		logger.Info("serving metrics and api", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
		return nil
	})
	grp.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		summary, err = orch.Run(ctx)
		return nil
	})
	_ = grp.Wait()
	return summary, err
}

// openRecorders подключает журнал в PostgreSQL и публикацию в RabbitMQ,
// если они заданы. Недоступность любого из них не мешает запуску.
func openRecorders(ctx context.Context, opts *runOptions, logger *slog.Logger) ([]orchestrator.Recorder, func()) {
	var recorders []orchestrator.Recorder
	var closers []io.Closer

	if opts.dbURL != "" {
		pool, err := repo.NewPool(ctx, opts.dbURL)
		if err != nil {
			logger.Warn("database not available, run journal disabled", "error", err)
		} else if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Warn("failed to prepare journal schema, run journal disabled", "error", err)
			pool.Close()
		} else {
			logger.Info("database connected")
			recorders = append(recorders, repo.NewJournalRepo(pool))
			closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))
		}
	}

	if opts.rabbitURL != "" {
		conn, err := mq.NewConnection(opts.rabbitURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, run events disabled", "error", err)
		} else {
			logger.Info("RabbitMQ connected")
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			recorders = append(recorders, mq.NewPublisher(conn, logger))
			closers = append(closers, conn)
		}
	}

	return recorders, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("failed to close connection", "error", err)
			}
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
