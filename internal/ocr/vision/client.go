// Package vision implements an OCR backend on top of any OpenAI compatible
// chat completions endpoint with image input.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens bounds the transcription length of a single page
	DefaultMaxTokens = 4096

	// Prompt asks for a plain transcription with the original line breaks
	Prompt = "Transcribe all text in this image exactly as written, preserving line breaks. " +
		"Output only the transcribed text with no commentary. " +
		"If the image contains no text, output nothing."
)

var limits = ocr.Limits{
	MaxDimension: 2048,
	MaxBytes:     20 << 20,
	Formats:      []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatGIF, ocr.FormatWEBP},
	QPS:          1,
}

func init() {
	registry.Register(registry.Backend{
		Kind:             ocr.KindVision,
		DisplayName:      "OpenAI compatible vision model",
		Limits:           limits,
		CredentialFields: []string{"api_key", "base_url", "model"},
		New:              New,
	})
}

// Client transcribes pages with a vision capable chat model
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int64
	logger    *logrus.Logger
}

// New creates a vision client from credentials
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	if creds.Vision == nil || creds.Vision.APIKey == "" {
		return nil, errors.New("vision requires api_key")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = ocr.DefaultTimeout
		}
		httpClient = httpclient.New(timeout, logger)
	}

	// Retries are owned by ocr.Retrier
	reqOpts := []option.RequestOption{
		option.WithAPIKey(creds.Vision.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	baseURL := creds.Vision.BaseURL
	if opts.Endpoint != "" {
		baseURL = opts.Endpoint
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	model := creds.Vision.Model
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(reqOpts...)
	return &Client{
		client:    &client,
		model:     model,
		maxTokens: DefaultMaxTokens,
		logger:    logger,
	}, nil
}

func (c *Client) Name() string       { return "Vision (" + c.model + ")" }
func (c *Client) Kind() ocr.Kind     { return ocr.KindVision }
func (c *Client) Limits() ocr.Limits { return limits }

// DataURI encodes an image for inline submission
func DataURI(image []byte, format ocr.ImageFormat) string {
	return "data:" + format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// Recognize sends the page as an inline image part alongside the transcription prompt
func (c *Client) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if !limits.Accepts(format) {
		return "", ocr.NewError(ocr.InvalidImage, ocr.KindVision, "", fmt.Sprintf("format %s is not accepted", format))
	}

	c.logger.WithFields(logrus.Fields{
		"model":      c.model,
		"image_size": len(image),
	}).Debug("Sending vision OCR request")

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(Prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: DataURI(image, format),
				}),
			}),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", mapError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", ocr.NewError(ocr.TransientError, ocr.KindVision, "", "no choices returned")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", ocr.NewError(ocr.InvalidImage, ocr.KindVision, "content_filter", "response was filtered")
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

// mapError converts an openai-go error into an ocr.Error
func mapError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return ocr.FromTransport(ctx, ocr.KindVision, err)
	}

	var header http.Header
	if apiErr.Response != nil {
		header = apiErr.Response.Header
	}
	e := ocr.FromHTTPStatus(ocr.KindVision, apiErr.StatusCode, header, apiErr.Message)
	if apiErr.Code != "" {
		e.Code = apiErr.Code
	}
	if apiErr.Code == "insufficient_quota" {
		// Billing exhaustion does not clear on retry
		e.RetryAfter = 0
	}
	if apiErr.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "image") {
		e.Kind = ocr.InvalidImage
	}
	e.Err = err
	return e
}
