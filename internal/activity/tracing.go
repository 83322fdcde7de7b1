package activity

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"trading-floor/internal/models"
)

// Span attributes that route a span into the activity log.
const (
	AttrTrader   = attribute.Key("floor.trader")
	AttrCategory = attribute.Key("floor.category")
)

// SpanLabels returns the start option that tags a span with trader and category.
func SpanLabels(trader string, category models.Category) trace.SpanStartOption {
	return trace.WithAttributes(AttrTrader.String(trader), AttrCategory.String(string(category)))
}

// SpanRecorder is a span processor that writes span starts and ends to the
// activity log. Spans without a floor.category attribute are ignored.
type SpanRecorder struct {
	store *Store
}

var _ sdktrace.SpanProcessor = (*SpanRecorder)(nil)

// NewSpanRecorder creates a recorder writing to store.
func NewSpanRecorder(store *Store) *SpanRecorder {
	return &SpanRecorder{store: store}
}

// OnStart records "Started <span>".
func (r *SpanRecorder) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	trader, category, ok := spanLabels(s.Attributes())
	if !ok {
		return
	}
	r.store.Append(trader, category, "Started "+s.Name())
}

// OnEnd records "Ended <span>", with the error description for failed spans.
func (r *SpanRecorder) OnEnd(s sdktrace.ReadOnlySpan) {
	trader, category, ok := spanLabels(s.Attributes())
	if !ok {
		return
	}
	msg := "Ended " + s.Name()
	if st := s.Status(); st.Code == codes.Error {
		msg += ": " + st.Description
	}
	r.store.Append(trader, category, msg)
}

// Shutdown is a no-op.
func (r *SpanRecorder) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op; entries are written synchronously.
func (r *SpanRecorder) ForceFlush(context.Context) error { return nil }

func spanLabels(attrs []attribute.KeyValue) (string, models.Category, bool) {
	trader := models.SystemTrader
	var category models.Category
	for _, kv := range attrs {
		switch kv.Key {
		case AttrTrader:
			trader = kv.Value.AsString()
		case AttrCategory:
			category = models.Category(kv.Value.AsString())
		}
	}
	return trader, category, category != ""
}
