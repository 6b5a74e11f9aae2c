// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pbinitiative/zenengine/internal/config"
	"github.com/pbinitiative/zenengine/internal/log"
	otelint "github.com/pbinitiative/zenengine/internal/otel"
)

const CorrelationIdHeader = "X-Correlation-Id"

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// CorrelationId takes the correlation id of the request or assigns a new one and echoes it back.
func CorrelationId() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationIdHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(CorrelationIdHeader, id)
			next.ServeHTTP(w, r.WithContext(log.WithCorrelationId(r.Context(), id)))
		})
	}
}

// Opentelemetry returns middleware that will trace and meter incoming requests. Spans are named
// after the chi route pattern; configured transfer headers become span attributes.
func Opentelemetry(conf config.Config, requests *otelint.RequestMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		measured := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(transferHeaderAttributes(r, conf.Tracing.TransferHeaders)...)
			if id := log.CorrelationId(r.Context()); id != "" {
				span.SetAttributes(attribute.String("correlation-id", id))
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			startTime := time.Now()
			next.ServeHTTP(rec, r)

			routePattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				routePattern = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + routePattern)
			if requests == nil {
				return
			}
			tags := metric.WithAttributes(
				attribute.String("path", routePattern),
				attribute.String("method", r.Method),
				attribute.Int("status", rec.statusCode),
			)
			requests.RequestTotal.Add(r.Context(), 1, tags)
			requests.RequestDuration.Record(r.Context(), float64(time.Since(startTime).Microseconds())/1000, tags)
		})
		return otelhttp.NewHandler(measured, "request", otelhttp.WithServerName(conf.Tracing.Name))
	}
}

func transferHeaderAttributes(r *http.Request, transferHeaders []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, len(transferHeaders))
	for i, header := range transferHeaders {
		attributes[i] = attribute.String(header, r.Header.Get(header))
	}
	return attributes
}
