package converter

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/logger"
	"github.com/ajitpratap0/xmppconv/pkg/metrics"
)

// State is the lifecycle state of one converter run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Stats are the counters of one converter run.
type Stats struct {
	Name   string
	Total  int64
	Stored int64
	Failed int64
	State  State
	// Err is the stream level error that aborted the run.
	Err      error
	Duration time.Duration
}

// Pipeline runs converters over a pool, one at a time.
type Pipeline struct {
	pool   Querier
	logger *zap.Logger
	status *logger.StatusLogger
	tracer trace.Tracer
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithLogger sets the diagnostic logger
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithStatusLogger sets the logger receiving per-row OK/FAILED lines and
// run summaries.
func WithStatusLogger(s *logger.StatusLogger) PipelineOption {
	return func(p *Pipeline) {
		p.status = s
	}
}

// WithTracer sets the tracer. The global provider is used by default.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// NewPipeline creates a pipeline running main queries on pool.
func NewPipeline(pool Querier, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		pool:   pool,
		logger: zap.NewNop(),
		status: logger.NopStatusLogger(),
		tracer: otel.Tracer("github.com/ajitpratap0/xmppconv/pkg/converter"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunAll runs every converter in order. An aborted converter does not stop
// the ones after it.
func (p *Pipeline) RunAll(ctx context.Context, converters []Converter) []Stats {
	out := make([]Stats, 0, len(converters))
	for _, c := range converters {
		out = append(out, p.Run(ctx, c))
	}
	return out
}

// Run streams the main query of c and converts and stores every row in
// source order. Row failures are counted and logged; only a failure of the
// stream itself, or ctx being done, aborts the run.
func (p *Pipeline) Run(ctx context.Context, c Converter) Stats {
	stats := Stats{Name: c.Name(), State: StateIdle}
	log := p.logger.With(zap.String("converter", stats.Name))
	timer := metrics.NewTimer(stats.Name)

	ctx, span := p.tracer.Start(ctx, "convert "+stats.Name,
		trace.WithAttributes(attribute.String("converter", stats.Name)))
	defer span.End()

	log.Info("conversion started")
	stats.State = StateRunning

	err := p.pool.Query(ctx, MainStatement(c), nil, func(rows *sql.Rows) error {
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Total++
			if p.processRow(ctx, c, rows, cols, log) {
				stats.Stored++
			} else {
				stats.Failed++
			}
		}
		return nil
	})

	stats.Duration = timer.Stop()
	if err != nil {
		stats.State = StateAborted
		stats.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion aborted")
		log.Error("conversion aborted", zap.Int64("total", stats.Total), zap.Error(err))
	} else {
		stats.State = StateCompleted
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.Int64("rows.total", stats.Total),
		attribute.Int64("rows.failed", stats.Failed),
		attribute.String("state", stats.State.String()),
	)
	metrics.ConversionDuration.WithLabelValues(stats.Name, stats.State.String()).Observe(stats.Duration.Seconds())

	p.status.Summary(stats.Name, stats.Failed, stats.Total, stats.State.String())
	log.Info("conversion finished",
		zap.String("state", stats.State.String()),
		zap.Int64("total", stats.Total),
		zap.Int64("stored", stats.Stored),
		zap.Int64("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats
}

// processRow converts and stores the current row and reports whether it
// was stored.
func (p *Pipeline) processRow(ctx context.Context, c Converter, rows *sql.Rows, cols []string, log *zap.Logger) bool {
	row, err := ScanRow(rows, cols)
	if err != nil {
		return p.failed(c, "", err.Error(), log)
	}

	res, err := c.ProcessRow(ctx, row)
	if err != nil {
		return p.failed(c, res.ID(), err.Error(), log)
	}
	if res.IsSkipped() {
		return p.failed(c, res.ID(), res.Reason(), log)
	}

	id := res.ID()
	ok, err := c.Store(ctx, res.Entity)
	if err != nil {
		return p.failed(c, id, err.Error(), log)
	}
	if !ok {
		return p.failed(c, id, "not stored", log)
	}

	metrics.RowsProcessed.WithLabelValues(c.Name(), metrics.StatusOK).Inc()
	p.status.OK(id)
	return true
}

func (p *Pipeline) failed(c Converter, id, reason string, log *zap.Logger) bool {
	metrics.RowsProcessed.WithLabelValues(c.Name(), metrics.StatusFailed).Inc()
	p.status.Failed(id, reason)
	log.Debug("row failed", zap.String("id", id), zap.String("reason", reason))
	return false
}
