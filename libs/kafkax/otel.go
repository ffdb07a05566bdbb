package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// headers adapts a kafka header list to the otel carrier interface. Set
// replaces an existing key so re-injection never duplicates traceparent.
type headers []kafka.Header

func (h *headers) Get(key string) string { return HeaderValue(*h, key) }

func (h *headers) Keys() []string {
	out := make([]string, len(*h))
	for i, hdr := range *h {
		out[i] = hdr.Key
	}
	return out
}

func (h *headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headers)(nil)

// InjectTraceHeaders appends the trace context of ctx to base.
func InjectTraceHeaders(ctx context.Context, base []kafka.Header) []kafka.Header {
	carrier := headers(base)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

// ExtractTraceContext continues the trace recorded on msg.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	carrier := headers(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}
