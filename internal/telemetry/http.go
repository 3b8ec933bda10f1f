package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapHTTPTransport wraps an existing transport with OTEL instrumentation so
// OCR API calls appear as children of page spans. Proxy and timeout settings
// on the wrapped transport are preserved.
func WrapHTTPTransport(transport http.RoundTripper) http.RoundTripper {
	if !IsEnabled() {
		return transport
	}

	return otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "ocr " + r.Method + " " + r.URL.Host
		}),
	)
}
