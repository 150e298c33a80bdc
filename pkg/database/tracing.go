package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/authgate/pkg/database"

type slowQuerySettings struct {
	threshold time.Duration
	logger    *slog.Logger
}

var (
	slowQuery    atomic.Pointer[slowQuerySettings]
	queryTimeout atomic.Int64
)

// SetQueryTimeout bounds every traced database operation by d. Zero
// disables the bound.
func SetQueryTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	queryTimeout.Store(int64(d))
}

// SetSlowQueryLogging logs queries slower than threshold as warnings.
// A zero threshold or nil logger disables it.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowQuery.Store(nil)
		return
	}
	slowQuery.Store(&slowQuerySettings{threshold: threshold, logger: logger})
}

// TraceQuery starts a client span for a database operation, bounded by the
// query timeout. The returned function must be called when the operation
// completes; it passes err through Classify:
//
//	ctx, end := database.TraceQuery(ctx, "GetUserByID", queryGetUserByID)
//	defer func() { err = end(err) }()
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error) error) {
	start := time.Now()
	cancel := context.CancelFunc(func() {})
	if d := time.Duration(queryTimeout.Load()); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) error {
		defer cancel()
		err = Classify(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		s := slowQuery.Load()
		if s == nil {
			return err
		}
		if elapsed := time.Since(start); elapsed >= s.threshold {
			attrs := []any{
				slog.String("operation", operation),
				slog.Duration("duration", elapsed),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			s.logger.WarnContext(ctx, "slow query", attrs...)
		}
		return err
	}
}
