// Command unicastd runs one reliable-unicast engine instance: it binds
// a UDP transport, optionally watches an etcd prefix for membership
// changes, and logs every delivered message. It exists to exercise the
// engine end to end the way the teacher's cmd/session-service wires a
// server.New(cfg, logger) and waits on a signal channel, generalized
// from a session server's lifecycle to a protocol engine's.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/core/conf"
	"go.uber.org/zap"

	unicastconfig "github.com/aetherflow/unicast/internal/unicast/config"
	"github.com/aetherflow/unicast/internal/unicast/engine"
	"github.com/aetherflow/unicast/internal/unicast/membership"
	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/metrics"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
	"github.com/aetherflow/unicast/internal/unicast/tracing"
	"github.com/aetherflow/unicast/internal/unicast/transport"
)

var (
	configFile = flag.String("f", "configs/unicastd.yaml", "the config file")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	var c unicastconfig.Config
	conf.MustLoad(*configFile, &c)

	logger := mustLogger(c.Log)
	defer logger.Sync()

	logger.Info("starting unicastd", zap.String("version", version), zap.String("listen", c.Listen))

	tr, err := transport.Listen("udp", c.Listen, nil)
	if err != nil {
		logger.Fatal("failed to open transport", zap.Error(err))
	}
	defer tr.Close()

	var mcol *metrics.Collector
	if c.Metrics.Enable {
		mcol = metrics.New(c.Metrics.Namespace, c.Metrics.Subsystem)
		go serveMetrics(c.Metrics.Listen, logger)
	}

	tracingCfg := &tracing.Config{
		Enable:       c.Tracing.Enable,
		ServiceName:  c.Tracing.ServiceName,
		Endpoint:     c.Tracing.Endpoint,
		Exporter:     c.Tracing.Exporter,
		SampleRate:   c.Tracing.SampleRate,
		Environment:  c.Tracing.Environment,
		BatchTimeout: c.Tracing.BatchTimeout,
		MaxQueueSize: c.Tracing.MaxQueueSize,
	}
	tracer, err := tracing.New(tracingCfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	sched := scheduler.New()
	defer sched.Stop()

	eng := engine.New(engine.Config{
		Timeouts:            millisToDurations(c.Reliability.TimeoutsMs),
		MaxRetransmitTime:   time.Duration(c.Reliability.AgeOutTimeoutMs) * time.Millisecond,
		AgeOutSweepInterval: time.Duration(c.Reliability.AgeOutSweepIntervalMs) * time.Millisecond,
		Loopback:            c.Reliability.Loopback,
	}, tr, sched, logger, mcol, tracer)

	eng.SetUpcall(func(ctx context.Context, m *message.Message) {
		logger.Info("delivered message",
			zap.String("src", m.Src.String()),
			zap.Int("bytes", m.Len()),
			zap.Bool("oob", m.IsOOB()),
		)
	})

	local := tr.LocalAddr()
	if err := eng.Start(local); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}
	logger.Info("engine started", zap.String("local_addr", local.String()))

	var watcher *membership.EtcdWatcher
	if c.Etcd.Enable {
		watcher, err = membership.NewEtcdWatcher(&membership.Config{
			Endpoints:   c.Etcd.Endpoints,
			DialTimeout: time.Duration(c.Etcd.DialTimeout) * time.Second,
			Username:    c.Etcd.Username,
			Password:    c.Etcd.Password,
		}, c.Etcd.ViewPrefix, logger)
		if err != nil {
			logger.Fatal("failed to create membership watcher", zap.Error(err))
		}
		if err := watcher.Watch(eng.OnViewChange); err != nil {
			logger.Fatal("failed to start membership watch", zap.Error(err))
		}
		defer watcher.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	eng.Stop()
	logger.Info("unicastd shutdown complete")
}

func mustLogger(cfg unicastconfig.LogConfig) *zap.Logger {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(fmt.Sprintf("unicastd: failed to build logger: %v", err))
	}
	return logger.With(zap.String("service", cfg.ServiceName))
}

func millisToDurations(ms []int64) []time.Duration {
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

// serveMetrics runs the Prometheus exposition endpoint until the
// process exits; it is started in its own goroutine and any failure
// to bind is logged rather than fatal, since metrics are diagnostic.
func serveMetrics(listen string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", zap.String("listen", listen))
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
