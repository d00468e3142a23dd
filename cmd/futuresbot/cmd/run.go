package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/bot"
	"github.com/rustyeddy/futuresbot/broker"
	"github.com/rustyeddy/futuresbot/broker/paper"
	"github.com/rustyeddy/futuresbot/config"
	"github.com/rustyeddy/futuresbot/logger"
	"github.com/rustyeddy/futuresbot/market"
	"github.com/rustyeddy/futuresbot/metrics"
	"github.com/rustyeddy/futuresbot/reconcile"
	"github.com/rustyeddy/futuresbot/risk"
	"github.com/rustyeddy/futuresbot/statusapi"
	"github.com/rustyeddy/futuresbot/store"
	"github.com/rustyeddy/futuresbot/strategies"
)

// errNoLiveAdapter is returned for live mode: the broker wire client is
// not part of this module.
var errNoLiveAdapter = errors.New("live broker adapter is not linked into this build")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading cycle",
	Long: `Run the trading cycle: reconcile local positions against the broker,
consult the circuit breakers, and place orders chosen by the strategy.

Live mode refuses to start without CTRADER_ACCESS_TOKEN.

Example:
  futuresbot run -f futuresbot.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON); defaults apply when omitted")
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLog()) }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brk, err := newBroker(cfg, log)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path,
		store.WithContractSize(cfg.Broker.ContractSize),
		store.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	sink := audit.Multi{st}
	if rc, ok := cfg.RedisConfig(); ok {
		r, rerr := audit.NewRedis(ctx, rc)
		if rerr != nil {
			log.Warn("redis audit sink unavailable, continuing with store only", zap.Error(rerr))
		} else {
			defer func() { err = multierr.Append(err, r.Close()) }()
			sink = append(sink, r)
		}
	}

	rcfg, _ := cfg.ReconcileConfig()
	bcfg, _ := cfg.BotConfig()
	strat, _ := strategies.ByName(cfg.Trading.Strategy)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	b, err := bot.New(bot.Deps{
		Config:   bcfg,
		Broker:   brk,
		Store:    st,
		System:   reconcile.NewSystem(rcfg, st, sink, log),
		Breakers: risk.NewBreakers(cfg.CircuitBreaker, log),
		Strategy: strat,
		Metrics:  m,
		Log:      log,
	})
	if err != nil {
		return err
	}

	log.Info("futuresbot starting",
		zap.String("version", version),
		zap.String("mode", cfg.Broker.Mode),
		zap.String("store", st.Path()),
		zap.Strings("symbols", cfg.Broker.Symbols),
		zap.Bool("dry_run", rcfg.DryRun),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, reg, log) })
	}
	if cfg.Status.Addr != "" {
		api := statusapi.New(b, st, log)
		g.Go(func() error { return api.Run(gctx, cfg.Status.Addr) })
	}
	g.Go(func() error { return b.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("futuresbot stopped")
	return nil
}

func newBroker(cfg *config.Config, log *zap.Logger) (broker.Broker, error) {
	switch cfg.Broker.Mode {
	case config.ModePaper:
		b := paper.New(cfg.Trading.StartingEquity, cfg.Broker.ContractSize)
		for symbol, path := range cfg.Broker.ReplayFiles {
			cs, err := market.ReadCandleFile(path)
			if err != nil {
				return nil, fmt.Errorf("replay %s: %w", symbol, err)
			}
			if cs.BadLines > 0 || cs.Duplicates > 0 {
				log.Warn("replay ingest warnings",
					zap.String("symbol", symbol),
					zap.Int("bad_lines", cs.BadLines),
					zap.Int("duplicates", cs.Duplicates))
			}
			b.Replay(symbol, cs.Candles)
		}
		return b, nil
	case config.ModeLive:
		return nil, fmt.Errorf("%s %s: %w", cfg.Broker.Host, cfg.Broker.AccountID, errNoLiveAdapter)
	}
	return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrMissingCredentials):
		return 2
	}
	return 1
}
