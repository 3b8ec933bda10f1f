package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/sirupsen/logrus"
)

// Factory builds an engine from its credentials
type Factory func(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error)

// Backend describes a registered OCR backend
type Backend struct {
	Kind        ocr.Kind   `json:"kind"`
	DisplayName string     `json:"display_name"`
	Limits      ocr.Limits `json:"limits"`
	// CredentialFields names the configuration keys the backend needs
	CredentialFields []string `json:"credential_fields,omitempty"`
	New              Factory  `json:"-"`
}

var (
	mu       sync.RWMutex
	backends = make(map[ocr.Kind]Backend)

	// disabledBackends is a set of backend kinds to hide
	disabledBackends = make(map[ocr.Kind]bool)

	// logger is the shared logger instance
	logger *logrus.Logger
)

// Init sets the shared logger and reads PIC2MD_DISABLED_BACKENDS
func Init(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()

	logger = l
	parseDisabledBackends()
}

// parseDisabledBackends parses the comma separated PIC2MD_DISABLED_BACKENDS environment variable
func parseDisabledBackends() {
	disabledBackends = make(map[ocr.Kind]bool)

	for kind := range strings.SplitSeq(os.Getenv("PIC2MD_DISABLED_BACKENDS"), ",") {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind == "" {
			continue
		}
		disabledBackends[ocr.Kind(kind)] = true
		if logger != nil {
			logger.WithField("backend", kind).Debug("Backend disabled")
		}
	}
}

// Register adds a backend. Backends call this from init.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := backends[b.Kind]; exists {
		panic(fmt.Sprintf("registry: backend %q registered twice", b.Kind))
	}
	backends[b.Kind] = b
}

// Get returns the backend registered for kind unless it is disabled
func Get(kind ocr.Kind) (Backend, bool) {
	mu.RLock()
	defer mu.RUnlock()

	if disabledBackends[kind] {
		return Backend{}, false
	}
	b, ok := backends[kind]
	return b, ok
}

// List returns the enabled backends sorted by kind
func List() []Backend {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]Backend, 0, len(backends))
	for kind, b := range backends {
		if disabledBackends[kind] {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Kinds returns the enabled backend kinds, sorted
func Kinds() []string {
	var kinds []string
	for _, b := range List() {
		kinds = append(kinds, string(b.Kind))
	}
	return kinds
}

// New builds the engine selected by creds.Kind, wrapped with its own pacer
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	b, ok := Get(creds.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown or disabled OCR backend %q (available: %s)", creds.Kind, strings.Join(Kinds(), ", "))
	}

	if opts.Logger == nil {
		opts.Logger = GetLogger()
	}

	engine, err := b.New(creds, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", b.Kind, err)
	}

	qps := b.Limits.QPS
	if opts.QPS > 0 {
		qps = opts.QPS
	}
	opts.Logger.WithFields(logrus.Fields{
		"backend": b.Kind,
		"qps":     qps,
	}).Debug("OCR backend ready")

	return ocr.WithPacing(engine, qps), nil
}

// GetLogger returns the shared logger, or a standard logger before Init
func GetLogger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}
