package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	defaultMetricExportInterval = 60 * time.Second

	// Metric groups selectable through PIC2MD_METRICS_GROUPS
	GroupRun   = "run"
	GroupPage  = "page"
	GroupCache = "cache"
)

var (
	metricsMutex        sync.RWMutex
	globalMeterProvider *sdkmetric.MeterProvider
	metricsEnabled      bool
	enabledMetricGroups map[string]bool

	// Run metrics
	runsCounter     metric.Int64Counter
	runDurationHist metric.Float64Histogram
	activeRuns      metric.Int64UpDownCounter

	// Page metrics
	pagesCounter     metric.Int64Counter
	pageDurationHist metric.Float64Histogram
	pageAttemptsHist metric.Int64Histogram

	// Cache metrics
	cacheOpsCounter metric.Int64Counter
)

// InitMetrics initialises the OpenTelemetry meter provider. Should be called
// after InitTracer; metrics share the tracing endpoint.
func InitMetrics(logger *logrus.Logger) (func() error, error) {
	noopShutdown := func() error { return nil }

	groups := parseEnabledMetricGroups()
	if len(groups) == 0 {
		groups = map[string]bool{GroupRun: true, GroupPage: true}
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" || strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		logger.Debug("OTEL Metrics: Not configured, using noop meter")
		setMetricsState(nil, groups, false)
		return noopShutdown, nil
	}

	logger.WithField("endpoint", endpoint).Info("OTEL Metrics: Initialising meter")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		logger.WithError(err).Warn("OTEL Metrics: Failed to create exporter, falling back to noop meter")
		setMetricsState(nil, groups, false)
		return noopShutdown, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(getMetricExportInterval(logger)),
		)),
		sdkmetric.WithResource(newResource(ctx, logger)),
	)
	otel.SetMeterProvider(mp)

	if err := useMeterProvider(mp, groups); err != nil {
		logger.WithError(err).Error("OTEL Metrics: Failed to initialise instruments")
		return noopShutdown, err
	}

	logger.WithField("groups", groups).Info("OTEL Metrics: Meter initialised successfully")

	return func() error {
		metricsMutex.Lock()
		defer metricsMutex.Unlock()

		if globalMeterProvider != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := globalMeterProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("OTEL Metrics: Failed to shutdown meter provider")
				return err
			}
			logger.Debug("OTEL Metrics: Meter provider shutdown successfully")
		}
		return nil
	}, nil
}

func setMetricsState(mp *sdkmetric.MeterProvider, groups map[string]bool, enabled bool) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	globalMeterProvider = mp
	enabledMetricGroups = groups
	metricsEnabled = enabled
}

// useMeterProvider creates the instruments for every enabled group
func useMeterProvider(mp *sdkmetric.MeterProvider, groups map[string]bool) error {
	meter := mp.Meter(instrumentationName)
	var err error

	if groups[GroupRun] {
		if runsCounter, err = meter.Int64Counter("pic2md.runs",
			metric.WithDescription("Conversion runs by terminal stage"),
			metric.WithUnit("{run}"),
		); err != nil {
			return err
		}
		if runDurationHist, err = meter.Float64Histogram("pic2md.run.duration",
			metric.WithDescription("Conversion run duration"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
		); err != nil {
			return err
		}
		if activeRuns, err = meter.Int64UpDownCounter("pic2md.run.active",
			metric.WithDescription("Runs in progress"),
			metric.WithUnit("{run}"),
		); err != nil {
			return err
		}
	}

	if groups[GroupPage] {
		if pagesCounter, err = meter.Int64Counter("pic2md.pages",
			metric.WithDescription("Pages recognised by result"),
			metric.WithUnit("{page}"),
		); err != nil {
			return err
		}
		if pageDurationHist, err = meter.Float64Histogram("pic2md.page.duration",
			metric.WithDescription("Page recognition duration including retries"),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(100, 250, 500, 1000, 2500, 5000, 10000, 30000),
		); err != nil {
			return err
		}
		if pageAttemptsHist, err = meter.Int64Histogram("pic2md.page.attempts",
			metric.WithDescription("OCR attempts per page"),
			metric.WithUnit("{attempt}"),
			metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10),
		); err != nil {
			return err
		}
	}

	if groups[GroupCache] {
		if cacheOpsCounter, err = meter.Int64Counter("pic2md.cache.operations",
			metric.WithDescription("Page cache operations"),
			metric.WithUnit("{operation}"),
		); err != nil {
			return err
		}
	}

	setMetricsState(mp, groups, true)
	return nil
}

// IsMetricsEnabled returns true if metrics collection is enabled
func IsMetricsEnabled() bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled
}

func isMetricGroupEnabled(group string) bool {
	metricsMutex.RLock()
	defer metricsMutex.RUnlock()
	return metricsEnabled && enabledMetricGroups[group]
}

// RecordRunStart increments the active run gauge
func RecordRunStart(ctx context.Context, backend string) {
	if !isMetricGroupEnabled(GroupRun) {
		return
	}
	activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrBackend, backend)))
}

// RecordRunEnd records a finished run
func RecordRunEnd(ctx context.Context, backend, stage string, duration time.Duration) {
	if !isMetricGroupEnabled(GroupRun) {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrBackend, backend))
	activeRuns.Add(ctx, -1, attrs)
	runsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrRunStage, stage),
	))
	runDurationHist.Record(ctx, duration.Seconds(), attrs)
}

// RecordPage records the outcome of one page. result is "ok", "failed" or "cached".
func RecordPage(ctx context.Context, backend, result, errorKind string, attempts int, duration time.Duration) {
	if !isMetricGroupEnabled(GroupPage) {
		return
	}
	pagesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String("result", result),
		attribute.String(AttrPageErrorKind, errorKind),
	))
	attrs := metric.WithAttributes(attribute.String(AttrBackend, backend))
	pageDurationHist.Record(ctx, float64(duration.Milliseconds()), attrs)
	pageAttemptsHist.Record(ctx, int64(attempts), attrs)
}

// RecordCacheOperation records a page cache lookup or store
func RecordCacheOperation(ctx context.Context, operation string, hit bool) {
	if !isMetricGroupEnabled(GroupCache) {
		return
	}
	cacheOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCacheOperation, operation),
		attribute.Bool(AttrCacheHit, hit),
	))
}

// Helper functions

func parseEnabledMetricGroups() map[string]bool {
	enabled := make(map[string]bool)
	for group := range strings.SplitSeq(os.Getenv("PIC2MD_METRICS_GROUPS"), ",") {
		if group = strings.TrimSpace(group); group != "" {
			enabled[group] = true
		}
	}
	return enabled
}

func getMetricExportInterval(logger *logrus.Logger) time.Duration {
	intervalStr := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")
	if intervalStr == "" {
		return defaultMetricExportInterval
	}

	// Bare numbers are milliseconds, as in the OTEL specification
	duration, err := time.ParseDuration(intervalStr)
	if err != nil {
		duration, err = time.ParseDuration(intervalStr + "ms")
		if err != nil || duration <= 0 {
			logger.WithField("interval", intervalStr).Warn("OTEL Metrics: Invalid export interval, using default")
			return defaultMetricExportInterval
		}
	}
	return duration
}
