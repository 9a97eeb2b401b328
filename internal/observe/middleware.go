package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the control server's handlers. Each request joins the
// caller's W3C trace if there is one, answers with X-Correlation-ID and
// traceparent headers, and is timed into [Metrics.HTTPRequestDuration].
// Probe and scrape traffic that succeeds is logged at debug.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	var prop propagation.TraceContext
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
			)
			defer span.End()

			id := CorrelationID(ctx)
			if id != "" {
				w.Header().Set("X-Correlation-ID", id)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(cw, r)

			took := time.Since(began)
			route := routeOf(r)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.code))
			m.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
			))

			lvl := slog.LevelInfo
			if cw.code < http.StatusBadRequest && quiet(r.URL.Path) {
				lvl = slog.LevelDebug
			}
			slog.LogAttrs(ctx, lvl, "request completed",
				slog.String("trace_id", id),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", cw.code),
				slog.Duration("duration", took),
			)
		})
	}
}

// routeOf returns the ServeMux pattern that matched r, or the raw path.
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

func quiet(path string) bool {
	switch {
	case path == "/metrics", path == "/statusz":
		return true
	case strings.HasPrefix(path, "/healthz"), strings.HasPrefix(path, "/readyz"):
		return true
	}
	return false
}
