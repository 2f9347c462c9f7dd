package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/catalog"
	"github.com/ajitpratap0/xmppconv/pkg/config"
	"github.com/ajitpratap0/xmppconv/pkg/converter"
	"github.com/ajitpratap0/xmppconv/pkg/converter/converters"
	"github.com/ajitpratap0/xmppconv/pkg/destination"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
	"github.com/ajitpratap0/xmppconv/pkg/logger"
	"github.com/ajitpratap0/xmppconv/pkg/metrics"
	"github.com/ajitpratap0/xmppconv/pkg/observability"
	"github.com/ajitpratap0/xmppconv/pkg/pool"
	"github.com/ajitpratap0/xmppconv/pkg/report"
	"github.com/ajitpratap0/xmppconv/pkg/repository"
)

// DiagnosticLogFile is the diagnostic log written next to the status log.
const DiagnosticLogFile = "xmppconv.log"

const tracerName = "github.com/ajitpratap0/xmppconv/cmd/xmppconv"

// migrate bootstraps a run from cfg, converts every supported converter and
// returns the run report. A bootstrap failure returns an error and converts
// nothing; once converters run, row and stream failures only show up in
// the report.
func migrate(ctx context.Context, cfg *config.Config, out io.Writer) (*report.Report, error) {
	started := time.Now()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(cfg.Observability)
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Sync() }()

	status, err := logger.NewStatusLogger(logger.StatusConfig{Dir: cfg.Observability.LogDir, Console: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open status log")
	}
	defer func() { _ = status.Close() }()

	tcfg := observability.DefaultTracingConfig(version)
	tcfg.Enabled = cfg.Observability.Tracing
	tracing, err := observability.InitTracing(tcfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, addr, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	server, err := catalog.ParseServerType(cfg.Source.ServerType)
	if err != nil {
		return nil, err
	}
	cat := catalog.Default()
	if cfg.Source.Catalog != "" {
		if cat, err = catalog.LoadFile(cfg.Source.Catalog); err != nil {
			return nil, err
		}
	}

	p, err := openPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to close source pool", zap.Error(err))
		}
	}()

	dest, err := destination.OpenSQL(ctx, cfg.Destination.URI, destination.Options{
		DefaultVHost:    cfg.Destination.VirtualHost,
		ConnectAttempts: cfg.Source.ConnectAttempts,
		ConnectDelay:    cfg.Source.ConnectDelay,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := dest.Close(); err != nil {
			log.Warn("failed to close destination", zap.Error(err))
		}
	}()

	registry, err := converters.NewRegistry(log)
	if err != nil {
		return nil, err
	}
	props := converter.Properties{
		ServerType:  server,
		Dialect:     p.Dialect(),
		VirtualHost: cfg.Destination.VirtualHost,
		Catalog:     cat,
		Destination: dest,
		Logger:      log,
	}
	selected, err := registry.Select(ctx, props, p, cfg.Run.Converters)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		log.Warn("no converter supports the source",
			zap.String("server_type", server.String()),
			zap.String("dialect", p.Dialect().String()))
	}

	pipeline := converter.NewPipeline(p,
		converter.WithLogger(log),
		converter.WithStatusLogger(status),
		converter.WithTracer(tracing.Tracer(tracerName)))
	stats := pipeline.RunAll(ctx, selected)

	rep := report.New(version, server.String(), p.Dialect().String(), p.Size(), started)
	rep.Add(stats...)
	rep.Finish(time.Now())
	if cfg.Run.Report != "" {
		if err := rep.Write(cfg.Run.Report); err != nil {
			log.Error("failed to write run report", zap.Error(err))
		}
	}
	printSummary(out, rep)
	return rep, nil
}

func newLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	paths := []string{"stdout"}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create log directory").
				WithDetail("dir", cfg.LogDir)
		}
		paths = append(paths, filepath.Join(cfg.LogDir, DiagnosticLogFile))
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogFormat,
		OutputPaths: paths,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create logger")
	}
	return log, nil
}

// openPool opens cfg.Pool.Size source handles and checks they answer.
func openPool(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pool.Pool, error) {
	handles, err := repository.Open(ctx, cfg.Source.RepositoryType, cfg.Source.URI, cfg.Pool.Size, repository.Options{
		ConnectAttempts: cfg.Source.ConnectAttempts,
		ConnectDelay:    cfg.Source.ConnectDelay,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	p, err := pool.New(handles, pool.WithAcquireTimeout(cfg.Pool.AcquireTimeout), pool.WithLogger(log))
	if err != nil {
		_ = repository.CloseAll(handles)
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	log.Info("source pool ready",
		zap.Int("size", p.Size()),
		zap.String("dialect", p.Dialect().String()))
	return p, nil
}

func printSummary(out io.Writer, rep *report.Report) {
	fmt.Fprintln(out, "\nMigration Summary:")
	for _, c := range rep.Converters {
		fmt.Fprintf(out, "  %-12s %-10s %d rows, %d stored, %d failed\n", c.Name, c.State, c.Total, c.Stored, c.Failed)
	}
	fmt.Fprintf(out, "  Total: %d rows, %d failed in %s\n",
		rep.Total, rep.Failed, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
}
