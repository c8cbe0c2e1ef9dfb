package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/kvrouter/internal/server"
	"github.com/inference-sim/kvrouter/router"
	"github.com/inference-sim/kvrouter/router/trace"
)

var serveAddr string // Overrides server.addr from the config

// serveCmd runs the routing API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the routing API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRouterConfig(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg router.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := router.NewMetrics(reg)

	var recorder trace.Recorder = trace.NopRecorder{}
	if cfg.Recorder.Path != "" {
		csvRec, err := trace.OpenCSVRecorder(cfg.Recorder.Path, cfg.Recorder.Buffer)
		if err != nil {
			return err
		}
		defer func() {
			if err := csvRec.Close(); err != nil {
				logrus.Errorf("Closing decision log: %v", err)
			}
			logrus.Infof("Decision log: %d written, %d dropped", csvRec.Written(), csvRec.Dropped())
		}()
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "kvrouter",
			Name:      "recorder_dropped_records_total",
			Help:      "Decision records dropped because the recorder buffer was full.",
		}, func() float64 { return float64(csvRec.Dropped()) }))
		recorder = csvRec
	}

	var oracle router.OverlapOracle
	if cfg.Oracle.URL != "" {
		oracle = router.NewHTTPOracle(cfg.Oracle.URL)
	} else {
		logrus.Warn("No overlap oracle configured; routing without cache overlap")
	}

	membership := router.NewMemoryRegistry(cfg.Registry)
	r, err := router.New(cfg, router.Options{
		Oracle:   oracle,
		Registry: membership,
		Recorder: recorder,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	membership.OnExpire = func(id string) { r.Deregister(id) }

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		membership.Run(ctx)
		return nil
	})
	g.Go(func() error {
		r.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.New(r, membership, reg).ListenAndServe(ctx, cfg.Server.Addr)
	})
	return g.Wait()
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
