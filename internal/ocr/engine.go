// Package ocr defines the capability every OCR backend provides, the error
// taxonomy backends normalise their failures into, and the pacing and retry
// policy applied around every recognition call.
package ocr

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies an OCR backend
type Kind string

const (
	KindBaidu     Kind = "baidu"
	KindTencent   Kind = "tencent"
	KindAliyun    Kind = "aliyun"
	KindVision    Kind = "vision"
	KindTesseract Kind = "tesseract"
)

// ImageFormat is the encoding of an image payload
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatBMP  ImageFormat = "bmp"
	FormatGIF  ImageFormat = "gif"
	FormatWEBP ImageFormat = "webp"
)

// FormatFromExt maps a filename extension to an ImageFormat
func FormatFromExt(ext string) (ImageFormat, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "bmp":
		return FormatBMP, true
	case "gif":
		return FormatGIF, true
	case "webp":
		return FormatWEBP, true
	}
	return "", false
}

// MIMEType returns the media type for the format
func (f ImageFormat) MIMEType() string {
	return "image/" + string(f)
}

// Limits are the input constraints a backend declares. Zero values mean unconstrained.
type Limits struct {
	// MaxDimension caps the longest image edge in pixels
	MaxDimension int `json:"max_dimension,omitempty"`
	// MaxBytes caps the raw encoded image size
	MaxBytes int `json:"max_bytes,omitempty"`
	// Formats lists accepted encodings
	Formats []ImageFormat `json:"formats,omitempty"`
	// QPS is the default request rate when configuration does not override it
	QPS float64 `json:"qps,omitempty"`
}

// Accepts reports whether the backend takes images encoded as f
func (l Limits) Accepts(f ImageFormat) bool {
	return len(l.Formats) == 0 || slices.Contains(l.Formats, f)
}

// Engine turns one image into plain text
type Engine interface {
	Name() string
	Kind() Kind
	Limits() Limits
	// Recognize returns the recognised text. Failures are *Error values.
	Recognize(ctx context.Context, image []byte, format ImageFormat) (string, error)
}

// BaiduCredentials authenticate against Baidu AI Cloud OCR
type BaiduCredentials struct {
	APIKey    string
	SecretKey string
}

// TencentCredentials authenticate against Tencent Cloud OCR
type TencentCredentials struct {
	SecretID  string
	SecretKey string
	Region    string
}

// AliyunCredentials authenticate against Alibaba Cloud OCR
type AliyunCredentials struct {
	AccessKeyID     string
	AccessKeySecret string
	Region          string
}

// VisionCredentials configure an OpenAI compatible vision model
type VisionCredentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// TesseractOptions configure the local tesseract engine
type TesseractOptions struct {
	Languages []string
}

// Credentials carries the secret material for exactly one backend, selected by Kind
type Credentials struct {
	Kind      Kind
	Baidu     *BaiduCredentials
	Tencent   *TencentCredentials
	Aliyun    *AliyunCredentials
	Vision    *VisionCredentials
	Tesseract *TesseractOptions
}

// Options are the runtime dependencies handed to a backend factory
type Options struct {
	Logger     *logrus.Logger
	HTTPClient *http.Client
	// Endpoint overrides the backend's API base URL
	Endpoint string
	// QPS overrides Limits().QPS when positive
	QPS     float64
	Timeout time.Duration
}

// DefaultTimeout bounds a single OCR request
const DefaultTimeout = 30 * time.Second
