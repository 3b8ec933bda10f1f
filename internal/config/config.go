// Package config loads pic2md settings from ~/.pic2md/config.yaml, .env files
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "PIC2MD_CONFIG"
	// EnvHome overrides the state directory (~/.pic2md)
	EnvHome = "PIC2MD_HOME"

	DefaultBackend     = ocr.KindBaidu
	DefaultConcurrency = 1
	DefaultCacheMaxAge = 30 * 24 * time.Hour
	DefaultDebounce    = 2 * time.Second
)

// Config is the complete pic2md configuration. It is loaded once and treated
// as read-only afterwards.
type Config struct {
	Backend   ocr.Kind        `yaml:"backend"`
	Baidu     BaiduConfig     `yaml:"baidu"`
	Tencent   TencentConfig   `yaml:"tencent"`
	Aliyun    AliyunConfig    `yaml:"aliyun"`
	Vision    VisionConfig    `yaml:"vision"`
	Tesseract TesseractConfig `yaml:"tesseract"`
	OCR       OCRConfig       `yaml:"ocr"`
	Output    OutputConfig    `yaml:"output"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
	Series    SeriesConfig    `yaml:"series"`

	// path is the file the config was read from, empty when none existed
	path string
}

type BaiduConfig struct {
	APIKey    string  `yaml:"api_key"`
	SecretKey string  `yaml:"secret_key"`
	QPS       float64 `yaml:"qps"`
	Endpoint  string  `yaml:"endpoint,omitempty"`
}

type TencentConfig struct {
	SecretID  string  `yaml:"secret_id"`
	SecretKey string  `yaml:"secret_key"`
	Region    string  `yaml:"region"`
	QPS       float64 `yaml:"qps"`
	Endpoint  string  `yaml:"endpoint,omitempty"`
}

type AliyunConfig struct {
	AccessKeyID     string  `yaml:"access_key_id"`
	AccessKeySecret string  `yaml:"access_key_secret"`
	Region          string  `yaml:"region"`
	QPS             float64 `yaml:"qps"`
	Endpoint        string  `yaml:"endpoint,omitempty"`
}

type VisionConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url,omitempty"`
	Model   string  `yaml:"model"`
	QPS     float64 `yaml:"qps"`
}

type TesseractConfig struct {
	Languages []string `yaml:"languages"`
}

// OCRConfig controls request behaviour shared by all backends
type OCRConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Concurrency int           `yaml:"concurrency"`
}

// OutputConfig controls where and how documents are written
type OutputConfig struct {
	// Dir defaults to the directory of the source images
	Dir string `yaml:"dir,omitempty"`
	// FilenamePattern supports {title}, {author} and {date}
	FilenamePattern string `yaml:"filename_pattern"`
	IncludeAuthor   bool   `yaml:"include_author"`
	Placeholder     string `yaml:"placeholder,omitempty"`
	HTML            bool   `yaml:"html"`
	PDF             bool   `yaml:"pdf"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir,omitempty"`
	MaxAge  time.Duration `yaml:"max_age"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type SeriesConfig struct {
	Suffix string `yaml:"suffix"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Backend: DefaultBackend,
		Baidu:   BaiduConfig{QPS: 2},
		Tencent: TencentConfig{Region: "ap-beijing", QPS: 5},
		Aliyun:  AliyunConfig{Region: "cn-shanghai", QPS: 5},
		Vision:  VisionConfig{Model: "gpt-4o-mini", QPS: 1},
		Tesseract: TesseractConfig{
			Languages: []string{"chi_sim", "eng"},
		},
		OCR: OCRConfig{
			Timeout:     ocr.DefaultTimeout,
			MaxAttempts: ocr.DefaultMaxAttempts,
			Concurrency: DefaultConcurrency,
		},
		Output: OutputConfig{FilenamePattern: "{title}"},
		Cache:  CacheConfig{Enabled: true, MaxAge: DefaultCacheMaxAge},
		Watch:  WatchConfig{Debounce: DefaultDebounce},
		Series: SeriesConfig{Suffix: "来自小红书网页版"},
	}
}

// HomeDir returns the pic2md state directory
func HomeDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".pic2md"
	}
	return filepath.Join(homeDir, ".pic2md")
}

// LogDir returns the directory for daily logs and the failure journal
func LogDir() string {
	return filepath.Join(HomeDir(), "logs")
}

// DefaultPath returns the config file location, honouring PIC2MD_CONFIG
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// Path returns the file the configuration was read from
func (c *Config) Path() string {
	return c.path
}

// CacheDir returns the on-disk page cache directory
func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return expandHome(c.Cache.Dir)
	}
	return filepath.Join(HomeDir(), "cache")
}

// Load reads configuration. Values are layered: defaults, then the YAML file,
// then .env files, then environment variables. A missing file is not an error
// unless path was given explicitly.
func Load(path string, logger *logrus.Logger) (*Config, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	path = expandHome(path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logger.WithField("config_path", path).Debug("Config file not found, using defaults")
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	loadDotEnv(logger, ".env", filepath.Join(HomeDir(), ".env"))
	applyEnv(cfg)

	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads each file that exists. Variables already in the
// environment win, matching godotenv.Load.
func loadDotEnv(logger *logrus.Logger, paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.WithError(err).WithField("path", p).Warn("Failed to load .env file")
			continue
		}
		logger.WithField("path", p).Debug("Loaded .env file")
	}
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setFloat := func(dst *float64, key string) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("PIC2MD_BACKEND")); v != "" {
		cfg.Backend = ocr.Kind(strings.ToLower(v))
	}

	setString(&cfg.Baidu.APIKey, "BAIDU_API_KEY")
	setString(&cfg.Baidu.SecretKey, "BAIDU_SECRET_KEY")
	setFloat(&cfg.Baidu.QPS, "BAIDU_QPS")

	setString(&cfg.Tencent.SecretID, "TENCENT_SECRET_ID")
	setString(&cfg.Tencent.SecretKey, "TENCENT_SECRET_KEY")
	setString(&cfg.Tencent.Region, "TENCENT_REGION")
	setFloat(&cfg.Tencent.QPS, "TENCENT_QPS")

	setString(&cfg.Aliyun.AccessKeyID, "ALIYUN_ACCESS_KEY_ID")
	setString(&cfg.Aliyun.AccessKeySecret, "ALIYUN_ACCESS_KEY_SECRET")
	setString(&cfg.Aliyun.Region, "ALIYUN_REGION")
	setFloat(&cfg.Aliyun.QPS, "ALIYUN_QPS")

	setString(&cfg.Vision.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Vision.Model, "PIC2MD_VISION_MODEL")
	setString(&cfg.Vision.BaseURL, "PIC2MD_VISION_BASE_URL")
	setFloat(&cfg.Vision.QPS, "PIC2MD_VISION_QPS")

	if v := strings.TrimSpace(os.Getenv("PIC2MD_TESSERACT_LANGUAGES")); v != "" {
		cfg.Tesseract.Languages = strings.Split(v, "+")
	}

	setString(&cfg.Output.Dir, "PIC2MD_OUTPUT_DIR")
	if v, err := strconv.Atoi(os.Getenv("PIC2MD_CONCURRENCY")); err == nil {
		cfg.OCR.Concurrency = v
	}
}

// Validate checks the configuration for the selected backend
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case ocr.KindBaidu:
		errs = append(errs, required("baidu.api_key", c.Baidu.APIKey), required("baidu.secret_key", c.Baidu.SecretKey))
	case ocr.KindTencent:
		errs = append(errs, required("tencent.secret_id", c.Tencent.SecretID), required("tencent.secret_key", c.Tencent.SecretKey))
	case ocr.KindAliyun:
		errs = append(errs, required("aliyun.access_key_id", c.Aliyun.AccessKeyID), required("aliyun.access_key_secret", c.Aliyun.AccessKeySecret))
	case ocr.KindVision:
		errs = append(errs, required("vision.api_key", c.Vision.APIKey))
	case ocr.KindTesseract:
		if len(c.Tesseract.Languages) == 0 {
			errs = append(errs, errors.New("tesseract.languages must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	for name, qps := range map[string]float64{
		"baidu.qps": c.Baidu.QPS, "tencent.qps": c.Tencent.QPS, "aliyun.qps": c.Aliyun.QPS, "vision.qps": c.Vision.QPS,
	} {
		if qps < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.OCR.Concurrency < 1 {
		errs = append(errs, errors.New("ocr.concurrency must be at least 1"))
	}
	if c.OCR.MaxAttempts < 1 {
		errs = append(errs, errors.New("ocr.max_attempts must be at least 1"))
	}
	if c.OCR.Timeout <= 0 {
		errs = append(errs, errors.New("ocr.timeout must be positive"))
	}
	if c.Output.FilenamePattern == "" {
		errs = append(errs, errors.New("output.filename_pattern must not be empty"))
	}
	if strings.TrimSpace(c.Series.Suffix) == "" {
		errs = append(errs, errors.New("series.suffix must not be empty"))
	}

	return errors.Join(errs...)
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// Credentials returns the credentials for kind
func (c *Config) Credentials(kind ocr.Kind) ocr.Credentials {
	creds := ocr.Credentials{Kind: kind}
	switch kind {
	case ocr.KindBaidu:
		creds.Baidu = &ocr.BaiduCredentials{APIKey: c.Baidu.APIKey, SecretKey: c.Baidu.SecretKey}
	case ocr.KindTencent:
		creds.Tencent = &ocr.TencentCredentials{SecretID: c.Tencent.SecretID, SecretKey: c.Tencent.SecretKey, Region: c.Tencent.Region}
	case ocr.KindAliyun:
		creds.Aliyun = &ocr.AliyunCredentials{AccessKeyID: c.Aliyun.AccessKeyID, AccessKeySecret: c.Aliyun.AccessKeySecret, Region: c.Aliyun.Region}
	case ocr.KindVision:
		creds.Vision = &ocr.VisionCredentials{APIKey: c.Vision.APIKey, BaseURL: c.Vision.BaseURL, Model: c.Vision.Model}
	case ocr.KindTesseract:
		creds.Tesseract = &ocr.TesseractOptions{Languages: c.Tesseract.Languages}
	}
	return creds
}

// EngineOptions returns the per-backend engine options for kind
func (c *Config) EngineOptions(kind ocr.Kind, logger *logrus.Logger) ocr.Options {
	opts := ocr.Options{Logger: logger, Timeout: c.OCR.Timeout}
	switch kind {
	case ocr.KindBaidu:
		opts.QPS, opts.Endpoint = c.Baidu.QPS, c.Baidu.Endpoint
	case ocr.KindTencent:
		opts.QPS, opts.Endpoint = c.Tencent.QPS, c.Tencent.Endpoint
	case ocr.KindAliyun:
		opts.QPS, opts.Endpoint = c.Aliyun.QPS, c.Aliyun.Endpoint
	case ocr.KindVision:
		opts.QPS = c.Vision.QPS
	}
	return opts
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() *Config {
	out := *c
	out.Baidu.APIKey = mask(c.Baidu.APIKey)
	out.Baidu.SecretKey = mask(c.Baidu.SecretKey)
	out.Tencent.SecretID = mask(c.Tencent.SecretID)
	out.Tencent.SecretKey = mask(c.Tencent.SecretKey)
	out.Aliyun.AccessKeyID = mask(c.Aliyun.AccessKeyID)
	out.Aliyun.AccessKeySecret = mask(c.Aliyun.AccessKeySecret)
	out.Vision.APIKey = mask(c.Vision.APIKey)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[1:])
		}
	}
	return path
}
