package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/nakwindow/nakwindow/internal/config"
	"github.com/nakwindow/nakwindow/internal/metrics"
	"github.com/nakwindow/nakwindow/internal/nak"
	"github.com/nakwindow/nakwindow/internal/routerstub"
	"github.com/nakwindow/nakwindow/internal/tracing"
)

var (
	configFile = flag.String("f", "configs/nakwindow.yaml", "path to the process's YAML config")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting nakwindow agent", zap.String("version", version))

	tracer, err := tracing.NewTracer(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to create tracer", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	mtr := metrics.NewMetrics(reg)

	sched := nak.NewTimeScheduler(cfg.Window.SchedulerWorkers)
	defer sched.Stop()

	windows := nak.NewWindowTable()

	sampler := metrics.NewSampler(mtr, 5*time.Second)
	go sampler.Run(func(m *metrics.Metrics) {
		for _, sender := range windows.Senders() {
			if w := windows.Get(sender); w != nil {
				w.ReportMetrics(m)
			}
		}
	})
	defer sampler.Stop()

	var stubManager *routerstub.Manager
	if cfg.RouterStubs.Enable {
		stubManager, err = startRouterStubs(cfg, sched, mtr, logger)
		if err != nil {
			logger.Fatal("failed to start router stubs", zap.Error(err))
		}
		defer stubManager.DestroyAll()
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enable {
		metricsServer = startMetricsServer(cfg.Metrics, reg, logger)
	}

	logger.Info("nakwindow agent is running; use SIGINT/SIGTERM to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}

	logger.Info("nakwindow agent shutdown complete")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", cfg.Path))
	return srv
}

func startRouterStubs(cfg *config.Config, sched *nak.TimeScheduler, mtr *metrics.Metrics, logger *zap.Logger) (*routerstub.Manager, error) {
	resolver, err := routerstub.NewEtcdResolver(routerstub.EtcdConfig{
		Endpoints:   cfg.RouterStubs.ResolverEtcd.Endpoints,
		DialTimeout: cfg.RouterStubs.ResolverEtcd.DialTimeout,
		KeyPrefix:   cfg.RouterStubs.ResolverEtcd.KeyPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd resolver: %w", err)
	}

	manager := routerstub.NewManager(sched, resolver, cfg.RouterStubs.Interval, logger)
	manager.WithMetrics(mtr)

	for _, ep := range cfg.RouterStubs.Endpoints {
		stub := manager.CreateAndRegister(ep.Host, ep.Port, ep.BindAddr, ep.LogicalName, ep.LogicalAddress, routerstub.NewTCPTransport(cfg.RouterStubs.ResolverEtcd.DialTimeout))
		manager.StartReconnecting(stub)
	}
	return manager, nil
}
