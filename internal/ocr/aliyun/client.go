// Package aliyun implements the Alibaba Cloud RecognizeGeneral OCR backend.
package aliyun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRegion is used when no region is configured
	DefaultRegion = "cn-shanghai"

	action  = "RecognizeGeneral"
	version = "2021-07-07"

	maxResponseSize = 8 << 20
)

var limits = ocr.Limits{
	MaxDimension: 8192,
	MaxBytes:     10 << 20,
	Formats:      []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatBMP, ocr.FormatGIF, ocr.FormatWEBP},
	QPS:          5,
}

func init() {
	registry.Register(registry.Backend{
		Kind:             ocr.KindAliyun,
		DisplayName:      "Alibaba Cloud OCR (阿里云OCR)",
		Limits:           limits,
		CredentialFields: []string{"access_key_id", "access_key_secret", "region"},
		New:              New,
	})
}

// EndpointFor returns the regional API endpoint
func EndpointFor(region string) string {
	return fmt.Sprintf("https://ocr-api.%s.aliyuncs.com", region)
}

// Client calls RecognizeGeneral with the image as the raw request body
type Client struct {
	signer     signer
	region     string
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
	nonce      func() string
}

// New creates an Aliyun client from credentials
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	if creds.Aliyun == nil || creds.Aliyun.AccessKeyID == "" || creds.Aliyun.AccessKeySecret == "" {
		return nil, errors.New("aliyun requires access_key_id and access_key_secret")
	}

	c := &Client{
		signer:     signer{accessKeyID: creds.Aliyun.AccessKeyID, accessKeySecret: creds.Aliyun.AccessKeySecret},
		region:     creds.Aliyun.Region,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		now:        time.Now,
		nonce:      func() string { return uuid.New().String() },
	}
	if c.region == "" {
		c.region = DefaultRegion
	}
	c.endpoint = EndpointFor(c.region)
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

func (c *Client) Name() string       { return "Alibaba Cloud OCR" }
func (c *Client) Kind() ocr.Kind     { return ocr.KindAliyun }
func (c *Client) Limits() ocr.Limits { return limits }

type apiResponse struct {
	RequestID string `json:"RequestId"`
	Data      string `json:"Data"`
	Code      string `json:"Code"`
	Message   string `json:"Message"`
}

type recognizeData struct {
	Content   string `json:"content"`
	WordsInfo []struct {
		Word string `json:"word"`
	} `json:"prism_wordsInfo"`
}

// Recognize uploads the image bytes as the request body
func (c *Client) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if !limits.Accepts(format) {
		return "", ocr.NewError(ocr.InvalidImage, ocr.KindAliyun, "", fmt.Sprintf("format %s is not accepted", format))
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.endpoint, "/")+"/", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-acs-action", action)
	req.Header.Set("x-acs-version", version)
	req.Header.Set("x-acs-date", c.now().UTC().Format("2006-01-02T15:04:05Z"))
	req.Header.Set("x-acs-signature-nonce", c.nonce())
	req.Header.Set("x-acs-content-sha256", sha256Hex(image))
	req.Header.Set("Authorization", c.signer.authorization(http.MethodPost, req.Header, u.Host))

	c.logger.WithFields(logrus.Fields{
		"region":     c.region,
		"image_size": len(image),
	}).Debug("Sending Aliyun OCR request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ocr.FromTransport(ctx, ocr.KindAliyun, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", ocr.FromTransport(ctx, ocr.KindAliyun, fmt.Errorf("failed to read response body: %w", err))
	}

	var out apiResponse
	if jsonErr := json.Unmarshal(body, &out); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return "", ocr.FromHTTPStatus(ocr.KindAliyun, resp.StatusCode, resp.Header, string(body))
		}
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindAliyun, Message: "malformed response", Err: jsonErr}
	}

	if resp.StatusCode != http.StatusOK || (out.Code != "" && out.Data == "") {
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"code":        out.Code,
			"request_id":  out.RequestID,
		}).Debug("Aliyun OCR request failed")
		if out.Code == "" {
			return "", ocr.FromHTTPStatus(ocr.KindAliyun, resp.StatusCode, resp.Header, string(body))
		}
		return "", mapError(resp.StatusCode, out.Code, out.Message)
	}

	var data recognizeData
	if err := json.Unmarshal([]byte(out.Data), &data); err != nil {
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindAliyun, Message: "malformed result data", Err: err}
	}

	if len(data.WordsInfo) == 0 {
		return strings.TrimSpace(data.Content), nil
	}
	lines := make([]string, 0, len(data.WordsInfo))
	for _, w := range data.WordsInfo {
		lines = append(lines, w.Word)
	}
	return strings.Join(lines, "\n"), nil
}

// mapError normalises an Aliyun error code
func mapError(status int, code, msg string) *ocr.Error {
	e := ocr.NewError(ocr.UnknownError, ocr.KindAliyun, code, msg)
	lower := strings.ToLower(code)
	switch {
	case strings.HasPrefix(lower, "invalidaccesskeyid"), strings.HasPrefix(lower, "signature"),
		strings.HasPrefix(lower, "forbidden"), lower == "nopermission", lower == "incompletesignature":
		e.Kind = ocr.AuthError
	case strings.HasPrefix(lower, "throttling"):
		e.Kind = ocr.QuotaExceeded
		e.RetryAfter = ocr.DefaultRateLimitCooldown
	case strings.Contains(lower, "quota") || strings.Contains(lower, "arrear"):
		e.Kind = ocr.QuotaExceeded
	case strings.Contains(lower, "image"):
		e.Kind = ocr.InvalidImage
	case lower == "internalerror", lower == "serviceunavailable", status >= 500:
		e.Kind = ocr.TransientError
	}
	return e
}
