// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry installs the OpenTelemetry tracer provider used by the
// coordinator spans and the token broker.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Supported exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName = "authctl"
	shutdownTimeout    = 5 * time.Second
)

// ValidExporter reports whether name selects a known exporter. The empty
// name means ExporterNone.
func ValidExporter(name string) bool {
	switch name {
	case "", ExporterNone, ExporterStdout, ExporterOTLP:
		return true
	}
	return false
}

// Options configures the OpenTelemetry TracerProvider.
type Options struct {
	// Enabled false installs a no-op provider.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Exporter is one of ExporterNone (default), ExporterStdout or ExporterOTLP.
	Exporter string

	// Endpoint is the OTLP/HTTP collector host:port, e.g. "localhost:4318".
	// Empty uses the exporter's own default and OTEL_EXPORTER_OTLP_* variables.
	Endpoint string
	Insecure bool

	// SamplingRate is the root sampling probability within [0,1].
	SamplingRate float64

	// Writer receives stdout exporter output. Default: os.Stderr.
	Writer io.Writer

	Logger *zap.SugaredLogger
}

// ShutdownFunc flushes pending spans and stops the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider and W3C propagators and returns the
// provider together with its ShutdownFunc. The ShutdownFunc of a disabled
// setup is a no-op.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	if opts.Exporter == "" {
		opts.Exporter = ExporterNone
	}
	if opts.SamplingRate < 0 || opts.SamplingRate > 1 {
		return nil, nil, fmt.Errorf("OTel sampling rate %v is outside [0,1]", opts.SamplingRate)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	processor, err := newSpanProcessor(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRate))),
	}
	if processor != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(processor))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Debugw("Trace export failed", "error", err)
	}))
	log.Debugw("Tracing enabled", "exporter", opts.Exporter, "endpoint", opts.Endpoint, "samplingRate", opts.SamplingRate)

	return tp, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return nil
	}, nil
}

// newSpanProcessor returns nil for ExporterNone: spans are still recorded so
// trace context propagates, but nothing leaves the process. Stdout spans are
// written synchronously since most commands exit right after their one call.
func newSpanProcessor(ctx context.Context, opts Options) (sdktrace.SpanProcessor, error) {
	switch opts.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return sdktrace.NewSimpleSpanProcessor(exporter), nil
	case ExporterOTLP:
		var httpOpts []otlptracehttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
		}
		if opts.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP exporter: %w", err)
		}
		return sdktrace.NewBatchSpanProcessor(exporter), nil
	default:
		return nil, fmt.Errorf("unknown OTel exporter %q: supported values are %s, %s, %s",
			opts.Exporter, ExporterOTLP, ExporterStdout, ExporterNone)
	}
}
