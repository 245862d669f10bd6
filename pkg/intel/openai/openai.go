// Package openai implements the intel.Provider interface on top of the
// official OpenAI Go SDK. It serves as the vision-capable fallback tier:
// unlike the any-llm text tier it accepts inline image parts (sent as data
// URIs) and supports native JSON output mode.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/lokalos/citydna/pkg/intel"
)

var _ intel.Provider = (*Provider)(nil)

// Provider implements intel.Provider using the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Capabilities implements intel.Provider.
func (p *Provider) Capabilities() intel.Capabilities {
	return intel.Capabilities{SupportsVision: true}
}

// Generate implements intel.Provider.
func (p *Provider) Generate(ctx context.Context, req intel.Request) (*intel.Response, error) {
	if req.ImageOutput {
		return nil, fmt.Errorf("openai: image output: %w", intel.ErrUnsupported)
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &intel.Response{Text: resp.Choices[0].Message.Content}, nil
}

// buildParams converts an intel.Request into OpenAI SDK params. Inline image
// parts become data-URI image content; inline audio is not supported by the
// chat completions API.
func (p *Provider) buildParams(req intel.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemInstruction != "" {
		messages = append(messages, oai.SystemMessage(req.SystemInstruction))
	}

	var parts []oai.ChatCompletionContentPartUnionParam
	for _, part := range req.Parts {
		if len(part.Data) > 0 {
			if !strings.HasPrefix(part.MIMEType, "image/") {
				return oai.ChatCompletionNewParams{},
					fmt.Errorf("openai: inline %s part: %w", part.MIMEType, intel.ErrUnsupported)
			}
			uri := fmt.Sprintf("data:%s;base64,%s", part.MIMEType, base64.StdEncoding.EncodeToString(part.Data))
			parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
			continue
		}
		parts = append(parts, oai.TextContentPart(part.Text))
	}
	messages = append(messages, oai.UserMessage(parts))

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.JSONOutput {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params, nil
}

// mapError converts SDK API errors into structured intel errors so the retry
// layer sees the HTTP status, not a message string.
func mapError(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return &intel.Error{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Message,
		}
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}
