package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/shuncox/rednote-pic2md"

var (
	// globalMutex protects access to global tracer variables
	globalMutex sync.RWMutex
	// global tracer instance
	globalTracer trace.Tracer
	// global tracer provider for shutdown
	globalTracerProvider *sdktrace.TracerProvider
	// is tracing enabled
	tracingEnabled bool
	// reported as service.version
	serviceVersion = "dev"
)

// otelErrorHandler routes OTEL SDK errors to our logger instead of stderr,
// where they would interleave with CLI progress output
type otelErrorHandler struct {
	logger *logrus.Logger
}

func (h *otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	h.logger.WithError(err).Debug("OTEL: SDK error occurred")
}

// SetServiceVersion sets the version reported on exported spans and metrics
func SetServiceVersion(v string) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	if v != "" {
		serviceVersion = v
	}
}

// InitTracer initialises the OpenTelemetry tracer based on environment variables.
// Tracing is only enabled when OTEL_EXPORTER_OTLP_ENDPOINT is set. Returns a
// shutdown function; on failure the application continues with a noop tracer.
func InitTracer(logger *logrus.Logger) (func() error, error) {
	noopShutdown := func() error { return nil }

	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL: Explicitly disabled via OTEL_SDK_DISABLED")
		useNoopTracer()
		return noopShutdown, nil
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger.Debug("OTEL: Not configured (OTEL_EXPORTER_OTLP_ENDPOINT not set), using noop tracer")
		useNoopTracer()
		return noopShutdown, nil
	}

	logger.WithField("endpoint", endpoint).Info("OTEL: Initialising tracer")
	otel.SetErrorHandler(&otelErrorHandler{logger: logger})

	if protocol := getOTLPProtocol(); protocol != "http/protobuf" && protocol != "http" {
		logger.WithField("protocol", protocol).Warn("OTEL: Only http/protobuf export is supported, using http")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Failed to create exporter, falling back to noop tracer")
		useNoopTracer()
		return noopShutdown, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(ctx, logger)),
		sdktrace.WithSampler(createSampler(logger)),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	useTracerProvider(tp)

	logger.Info("OTEL: Tracer initialised successfully")

	return func() error {
		globalMutex.Lock()
		defer globalMutex.Unlock()

		if globalTracerProvider != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := globalTracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("OTEL: Failed to shutdown tracer provider")
				return fmt.Errorf("failed to shutdown tracer provider: %w", err)
			}
			logger.Debug("OTEL: Tracer provider shutdown successfully")
		}
		return nil
	}, nil
}

func useNoopTracer() {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalTracer = noop.NewTracerProvider().Tracer(instrumentationName)
	globalTracerProvider = nil
	tracingEnabled = false
}

func useTracerProvider(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)

	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalTracer = tp.Tracer(instrumentationName)
	globalTracerProvider = tp
	tracingEnabled = true
}

func newResource(ctx context.Context, logger *logrus.Logger) *resource.Resource {
	globalMutex.RLock()
	version := serviceVersion
	globalMutex.RUnlock()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(getServiceName()),
			semconv.ServiceVersionKey.String(version),
			attribute.String("deployment.environment", getDeploymentEnvironment()),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		logger.WithError(err).Warn("OTEL: Failed to create resource, using default")
		return resource.Default()
	}
	return res
}

// GetTracer returns the global tracer, a noop tracer if not initialised
func GetTracer() trace.Tracer {
	globalMutex.RLock()
	defer globalMutex.RUnlock()

	if globalTracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return globalTracer
}

// IsEnabled returns true if tracing is enabled
func IsEnabled() bool {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return tracingEnabled
}

// RunInfo describes a run when its span starts
type RunInfo struct {
	ID      string
	Backend string
	Title   string
	Pages   int
}

// StartRunSpan starts the span covering a whole conversion run. The caller
// MUST end it with EndRunSpan.
func StartRunSpan(ctx context.Context, info RunInfo) (context.Context, trace.Span) {
	if !IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}

	return GetTracer().Start(ctx, SpanNameRun,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRunID, info.ID),
			attribute.String(AttrBackend, info.Backend),
			attribute.String(AttrSeriesTitle, info.Title),
			attribute.Int(AttrRunPages, info.Pages),
		),
	)
}

// EndRunSpan records the terminal stage and ends the run span
func EndRunSpan(span trace.Span, stage string, failedPages int, err error) {
	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.String(AttrRunStage, stage),
		attribute.Int(AttrRunFailedPages, failedPages),
	)
	if err != nil {
		msg := SanitiseError(err)
		span.SetStatus(codes.Error, msg)
		span.SetAttributes(attribute.String(AttrRunError, msg))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// PageInfo describes a page when its span starts
type PageInfo struct {
	Backend string
	Index   int
	Page    int
	Bytes   int
}

// StartPageSpan starts a child span for the recognition of one page
func StartPageSpan(ctx context.Context, info PageInfo) (context.Context, trace.Span) {
	if !IsEnabled() {
		return ctx, trace.SpanFromContext(ctx)
	}

	return GetTracer().Start(ctx, SpanNamePage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrBackend, info.Backend),
			attribute.Int(AttrPageIndex, info.Index),
			attribute.Int(AttrPageNumber, info.Page),
			attribute.Int(AttrPageBytes, info.Bytes),
		),
	)
}

// PageOutcome is recorded when a page span ends
type PageOutcome struct {
	Attempts  int
	Cached    bool
	ErrorKind string
	Err       error
}

// EndPageSpan records the outcome and ends the page span
func EndPageSpan(span trace.Span, out PageOutcome) {
	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.Int(AttrPageAttempts, out.Attempts),
		attribute.Bool(AttrPageCached, out.Cached),
	)
	if out.Err != nil {
		msg := SanitiseError(out.Err)
		span.SetStatus(codes.Error, msg)
		span.SetAttributes(
			attribute.String(AttrPageErrorKind, out.ErrorKind),
			attribute.String(AttrPageError, msg),
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Helper functions

func getOTLPProtocol() string {
	if protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); protocol != "" {
		return protocol
	}
	return "http/protobuf"
}

func getServiceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return "pic2md"
}

func getDeploymentEnvironment() string {
	for _, envVar := range []string{"ENVIRONMENT", "DEPLOYMENT_ENV"} {
		if env := os.Getenv(envVar); env != "" {
			return env
		}
	}

	if attrs := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); attrs != "" {
		for pair := range strings.SplitSeq(attrs, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 && kv[0] == "deployment.environment" {
				return kv[1]
			}
		}
	}

	return "local"
}

func createSampler(logger *logrus.Logger) sdktrace.Sampler {
	samplerType := os.Getenv("OTEL_TRACES_SAMPLER")
	samplerArg := os.Getenv("OTEL_TRACES_SAMPLER_ARG")

	switch samplerType {
	case "", "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseRatio(samplerArg, 1.0))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseRatio(samplerArg, 1.0)))
	default:
		logger.WithField("sampler", samplerType).Warn("OTEL: Unknown sampler type, using always_on")
		return sdktrace.AlwaysSample()
	}
}

func parseRatio(s string, defaultVal float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return defaultVal
	}
	return min(max(f, 0.0), 1.0)
}
