package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storagebill/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// spanParams are the route parameters copied onto the request span.
var spanParams = []string{"customer_id", "company_id", "id", "run_id"}

// GinMiddleware opens a server span per request, named after the matched route.
// It runs after the logging middleware so the request id is already on the context.
func GinMiddleware() gin.HandlerFunc {
	tracer := Tracer("http")
	propagator := otel.GetTextMapPropagator
	return func(c *gin.Context) {
		ctx := propagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetName(c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", c.Writer.Status()),
		}
		if id := correlation.FromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("storagebill.request_id", id))
		}
		for _, name := range spanParams {
			if value := c.Param(name); value != "" {
				attrs = append(attrs, attribute.String("storagebill."+name, value))
			}
		}
		span.SetAttributes(attrs...)

		lastErr := c.Errors.Last()
		if lastErr != nil {
			span.RecordError(lastErr.Err)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		}
	}
}
