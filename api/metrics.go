package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	boardSpanName    = "api.board.request"
	boardEventName   = "board.request.metrics"
	boardEventDomain = "boardsync"
	attrPrefix       = "boardsync.board."
)

// boardRequestMetrics collects per-request timings for the board endpoints
// and emits them both as a structured log line and as a span event, so the
// same numbers land in the log pipeline and the trace backend.
type boardRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	route  string
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	boardID        string
	tasksReturned  int
	errorStage     string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	tracer := otel.GetTracerProvider().Tracer("boardsync/api")
	spanCtx, span := tracer.Start(ctx, boardSpanName, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("http.route", route))
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *boardRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *boardRequestMetrics) SetBoardID(id string) {
	m.boardID = id
}

func (m *boardRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the request: records attributes on the span, emits the
// observability event and closes the span. Call exactly once per request.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("http.route", m.route),
		attribute.Float64(attrPrefix+"total_ms", totalMs),
		attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned),
	}
	logAttrs := map[string]any{
		"http.route":               m.route,
		attrPrefix + "total_ms":       totalMs,
		attrPrefix + "tasks_returned": m.tasksReturned,
	}
	if m.boardID != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"board_id", m.boardID))
		logAttrs[attrPrefix+"board_id"] = m.boardID
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", durationToMillis(m.authDuration)))
		logAttrs[attrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"fetch_ms", durationToMillis(m.fetchDuration)))
		logAttrs[attrPrefix+"fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"encode_ms", durationToMillis(m.encodeDuration)))
		logAttrs[attrPrefix+"encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
		logAttrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int64("http.status_code", int64(status)),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String(attrPrefix+"error_stage", m.errorStage))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := m.errorStage
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"status":          status,
		"attributes":      logAttrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

// severityForStatus maps an HTTP status (and a request-level error) onto the
// OpenTelemetry log severity scale.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
