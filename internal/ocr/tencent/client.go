// Package tencent implements the Tencent Cloud GeneralBasicOCR backend.
package tencent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// Endpoint is the Tencent Cloud OCR API endpoint
	Endpoint = "https://ocr.tencentcloudapi.com"

	// DefaultRegion is used when no region is configured
	DefaultRegion = "ap-beijing"

	action      = "GeneralBasicOCR"
	version     = "2018-11-19"
	contentType = "application/json; charset=utf-8"

	maxResponseSize = 4 << 20
)

var limits = ocr.Limits{
	MaxDimension: 4096,
	MaxBytes:     7_000_000,
	Formats:      []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatBMP, ocr.FormatGIF, ocr.FormatWEBP},
	QPS:          5,
}

func init() {
	registry.Register(registry.Backend{
		Kind:             ocr.KindTencent,
		DisplayName:      "Tencent Cloud OCR (腾讯OCR)",
		Limits:           limits,
		CredentialFields: []string{"secret_id", "secret_key", "region"},
		New:              New,
	})
}

// Client calls GeneralBasicOCR with TC3 signed requests
type Client struct {
	signer     signer
	region     string
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
}

// New creates a Tencent client from credentials
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	if creds.Tencent == nil || creds.Tencent.SecretID == "" || creds.Tencent.SecretKey == "" {
		return nil, errors.New("tencent requires secret_id and secret_key")
	}

	c := &Client{
		signer:     signer{secretID: creds.Tencent.SecretID, secretKey: creds.Tencent.SecretKey},
		region:     creds.Tencent.Region,
		endpoint:   Endpoint,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if c.region == "" {
		c.region = DefaultRegion
	}
	if opts.Endpoint != "" {
		c.endpoint = opts.Endpoint
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = ocr.DefaultTimeout
		}
		c.httpClient = httpclient.New(timeout, c.logger)
	}
	return c, nil
}

func (c *Client) Name() string       { return "Tencent Cloud OCR" }
func (c *Client) Kind() ocr.Kind     { return ocr.KindTencent }
func (c *Client) Limits() ocr.Limits { return limits }

type ocrRequest struct {
	ImageBase64 string `json:"ImageBase64"`
}

type ocrResponse struct {
	Response struct {
		TextDetections []struct {
			DetectedText string `json:"DetectedText"`
		} `json:"TextDetections"`
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
		RequestID string `json:"RequestId"`
	} `json:"Response"`
}

// Recognize submits the image inline as base64
func (c *Client) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if !limits.Accepts(format) {
		return "", ocr.NewError(ocr.InvalidImage, ocr.KindTencent, "", fmt.Sprintf("format %s is not accepted", format))
	}

	payload, err := json.Marshal(ocrRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	ts := c.now()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", version)
	req.Header.Set("X-TC-Region", c.region)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("Authorization", c.signer.authorization(u.Host, contentType, payload, ts))

	c.logger.WithFields(logrus.Fields{
		"region":     c.region,
		"image_size": len(image),
	}).Debug("Sending Tencent OCR request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ocr.FromTransport(ctx, ocr.KindTencent, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", ocr.FromTransport(ctx, ocr.KindTencent, fmt.Errorf("failed to read response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", ocr.FromHTTPStatus(ocr.KindTencent, resp.StatusCode, resp.Header, string(body))
	}

	var out ocrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindTencent, Message: "malformed response", Err: err}
	}

	if apiErr := out.Response.Error; apiErr != nil {
		// A readable image without text is not a failure
		if apiErr.Code == "FailedOperation.ImageNoText" {
			return "", nil
		}
		c.logger.WithFields(logrus.Fields{
			"code":       apiErr.Code,
			"request_id": out.Response.RequestID,
		}).Debug("Tencent OCR request failed")
		return "", mapError(apiErr.Code, apiErr.Message)
	}

	lines := make([]string, 0, len(out.Response.TextDetections))
	for _, d := range out.Response.TextDetections {
		lines = append(lines, d.DetectedText)
	}
	return strings.Join(lines, "\n"), nil
}

// mapError normalises a Tencent Cloud error code
func mapError(code, msg string) *ocr.Error {
	e := ocr.NewError(ocr.UnknownError, ocr.KindTencent, code, msg)
	switch {
	case strings.HasPrefix(code, "AuthFailure"), code == "UnauthorizedOperation":
		e.Kind = ocr.AuthError
	case strings.HasPrefix(code, "RequestLimitExceeded"):
		e.Kind = ocr.QuotaExceeded
		e.RetryAfter = ocr.DefaultRateLimitCooldown
	case strings.HasPrefix(code, "ResourceUnavailable"), strings.HasPrefix(code, "ResourcesSoldOut"):
		e.Kind = ocr.QuotaExceeded
	case strings.HasPrefix(code, "FailedOperation.Image"), code == "LimitExceeded.TooLargeFileError",
		code == "FailedOperation.DownLoadError", strings.HasPrefix(code, "InvalidParameterValue"):
		e.Kind = ocr.InvalidImage
	case strings.HasPrefix(code, "InternalError"), code == "FailedOperation.UnKnowError",
		code == "FailedOperation.EngineRecognizeTimeout", code == "RequestTimeout":
		e.Kind = ocr.TransientError
	}
	return e
}
