package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/config"
)

// New builds the process logger. Dev mode forces console output and disables sampling.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return newLogger(os.Stdout, cfg, dev)
}

func newLogger(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if dev || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).With().Timestamp().Str("service", "reconciler").Logger()
	if cfg.Sampling && !dev {
		// webhook storms repeat the same lines; errors are never sampled
		l = l.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: 100},
			InfoSampler:  &zerolog.BasicSampler{N: 10},
		})
	}
	return &l
}

type fieldsKey struct{}

// fields travel through the context from the HTTP edge and the task processor.
type fields struct {
	traceID string
	orgID   string
	gateway string
	taskID  string
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

func update(ctx context.Context, fn func(*fields)) context.Context {
	f := fromContext(ctx)
	fn(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *fields) { f.traceID = id })
}

func WithOrgID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *fields) { f.orgID = id })
}

func WithGateway(ctx context.Context, kind string) context.Context {
	return update(ctx, func(f *fields) { f.gateway = kind })
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *fields) { f.taskID = id })
}

// With returns base enriched with whatever correlation ids ctx carries.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	f := fromContext(ctx)
	if f == (fields{}) {
		return base
	}
	c := base.With()
	for _, kv := range [...][2]string{
		{"trace_id", f.traceID},
		{"organization_id", f.orgID},
		{"gateway", f.gateway},
		{"task_id", f.taskID},
	} {
		if kv[1] != "" {
			c = c.Str(kv[0], kv[1])
		}
	}
	l := c.Logger()
	return &l
}

// TraceDuration logs entry and exit of name at trace level:
//
//	defer logging.TraceDuration(log, "ReconcileUseCase.Apply")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	if logger.GetLevel() > zerolog.TraceLevel || zerolog.GlobalLevel() > zerolog.TraceLevel {
		return func() {}
	}
	start := time.Now()
	logger.Trace().Str("op", name).Msg("enter")
	return func() {
		logger.Trace().Str("op", name).Dur("duration", time.Since(start)).Msg("exit")
	}
}
