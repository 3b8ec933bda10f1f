// Package baidu implements the Baidu AI Cloud general_basic OCR backend.
package baidu

import (
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
	"sync"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/cache"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/telemetry"
	"github.com/shuncox/rednote-pic2md/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// BaseURL is the Baidu AI Cloud API host
	BaseURL = "https://aip.baidubce.com"

	tokenPath = "/oauth/2.0/token"
	ocrPath   = "/rest/2.0/ocr/v1/general_basic"

	// tokenExpiryMargin is subtracted from expires_in before caching a token
	tokenExpiryMargin = 5 * time.Minute

	maxResponseSize = 4 << 20
)

// limits as documented by Baidu; the base64 payload must stay under 10MB
var limits = ocr.Limits{
	MaxDimension: 4096,
	MaxBytes:     7_500_000,
	Formats:      []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatBMP},
	QPS:          2,
}

func init() {
	registry.Register(registry.Backend{
		Kind:             ocr.KindBaidu,
		DisplayName:      "Baidu OCR (百度OCR)",
		Limits:           limits,
		CredentialFields: []string{"api_key", "secret_key"},
		New:              New,
	})
}

// Client calls the Baidu general_basic endpoint
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger

	tokenMu sync.Mutex
	tokens  *cache.Cache
}

// New creates a Baidu client from credentials
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	if creds.Baidu == nil || creds.Baidu.APIKey == "" || creds.Baidu.SecretKey == "" {
		return nil, errors.New("baidu requires api_key and secret_key")
	}

	c := &Client{
		apiKey:     creds.Baidu.APIKey,
		secretKey:  creds.Baidu.SecretKey,
		baseURL:    BaseURL,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		tokens:     cache.NewCache(30 * 24 * time.Hour),
	}
	if opts.Endpoint != "" {
		c.baseURL = strings.TrimRight(opts.Endpoint, "/")
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = ocr.DefaultTimeout
		}
		c.httpClient = httpclient.New(timeout, c.logger)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c, nil
}

func (c *Client) Name() string       { return "Baidu OCR" }
func (c *Client) Kind() ocr.Kind     { return ocr.KindBaidu }
func (c *Client) Limits() ocr.Limits { return limits }

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type wordsResponse struct {
	LogID       int64  `json:"log_id"`
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	WordsResult []struct {
		Words string `json:"words"`
	} `json:"words_result"`
}

// Recognize submits the image as base64 form data. An access token rejected
// as invalid or expired is refreshed once before the error is surfaced.
func (c *Client) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if !limits.Accepts(format) {
		return "", ocr.NewError(ocr.InvalidImage, ocr.KindBaidu, "", fmt.Sprintf("format %s is not accepted", format))
	}

	text, err := c.recognize(ctx, image)
	var ocrErr *ocr.Error
	if errors.As(err, &ocrErr) && isTokenError(ocrErr.Code) {
		c.logger.WithField("code", ocrErr.Code).Debug("Baidu access token rejected, refreshing")
		c.tokens.Delete(c.apiKey)
		text, err = c.recognize(ctx, image)
	}
	return text, err
}

func (c *Client) recognize(ctx context.Context, image []byte) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))

	reqURL := c.baseURL + ocrPath + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{
		"url":        telemetry.SanitiseURL(reqURL),
		"image_size": len(image),
	}).Debug("Sending Baidu OCR request")

	body, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	var resp wordsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindBaidu, Message: "malformed response", Err: err}
	}
	if resp.ErrorCode != 0 {
		return "", mapError(resp.ErrorCode, resp.ErrorMsg)
	}

	lines := make([]string, 0, len(resp.WordsResult))
	for _, w := range resp.WordsResult {
		lines = append(lines, w.Words)
	}

	c.logger.WithFields(logrus.Fields{
		"log_id": resp.LogID,
		"lines":  len(lines),
	}).Debug("Baidu OCR request successful")

	return strings.Join(lines, "\n"), nil
}

// token returns a cached access token or fetches a new one
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if v, ok := c.tokens.Get(c.apiKey); ok {
		return v.(string), nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", c.apiKey)
	q.Set("client_secret", c.secretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req)
	if err != nil {
		var ocrErr *ocr.Error
		// The token endpoint answers bad credentials with 400/401
		if errors.As(err, &ocrErr) && (ocrErr.Code == "400" || ocrErr.Code == "401") {
			ocrErr.Kind = ocr.AuthError
		}
		return "", err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindBaidu, Message: "malformed token response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", ocr.NewError(ocr.AuthError, ocr.KindBaidu, tr.Error, tr.ErrorDescription)
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin
	if tr.ExpiresIn == 0 {
		ttl = 30*24*time.Hour - tokenExpiryMargin
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	c.tokens.SetWithTTL(c.apiKey, tr.AccessToken, ttl)

	c.logger.WithField("expires_in", tr.ExpiresIn).Debug("Baidu access token refreshed")
	return tr.AccessToken, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ocr.FromTransport(ctx, ocr.KindBaidu, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, ocr.FromTransport(ctx, ocr.KindBaidu, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Debug("Baidu API request failed")
		return nil, ocr.FromHTTPStatus(ocr.KindBaidu, resp.StatusCode, resp.Header, string(body))
	}
	return body, nil
}

func isTokenError(code string) bool {
	return code == "100" || code == "110" || code == "111"
}

// mapError normalises a Baidu error_code
func mapError(code int, msg string) *ocr.Error {
	e := ocr.NewError(ocr.UnknownError, ocr.KindBaidu, strconv.Itoa(code), msg)
	switch code {
	case 4, 6, 14, 100, 110, 111:
		e.Kind = ocr.AuthError
	case 17, 19:
		e.Kind = ocr.QuotaExceeded
	case 18:
		e.Kind = ocr.QuotaExceeded
		e.RetryAfter = ocr.DefaultRateLimitCooldown
	case 216100, 216101, 216200, 216201, 216202, 216203:
		e.Kind = ocr.InvalidImage
	case 2, 216630, 282000:
		e.Kind = ocr.TransientError
	}
	return e
}
