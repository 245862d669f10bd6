// Package gemini implements the intel.Provider interface for Google's Gemini
// generateContent REST API.
//
// Requests are sent as JSON to the generativelanguage endpoint with the API
// key in the query string. Inline image and audio parts are base64-encoded;
// JSON output mode uses responseMimeType, and web grounding uses the
// googleSearch tool. API failures are decoded into structured intel.Error
// values carrying the HTTP status and the API status string.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lokalos/citydna/pkg/intel"
)

// Compile-time assertion that Provider satisfies the intel interface.
var _ intel.Provider = (*Provider)(nil)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel      = "gemini-2.0-flash"
	defaultImageModel = "gemini-2.0-flash-exp-image-generation"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default Gemini model used for text and JSON requests.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithImageModel sets the model used for image-generation requests.
func WithImageModel(model string) Option {
	return func(p *Provider) { p.imageModel = model }
}

// WithBaseURL overrides the base API URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements intel.Provider for the Gemini REST API.
type Provider struct {
	apiKey     string
	model      string
	imageModel string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		imageModel: defaultImageModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini provider.
func (p *Provider) Capabilities() intel.Capabilities {
	return intel.Capabilities{
		SupportsVision:   true,
		SupportsAudio:    true,
		SupportsImageGen: true,
		SupportsSearch:   true,
	}
}

// ── Wire types ─────────────────────────────────────────────────────────────────

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []tool            `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type generationConfig struct {
	ResponseMIMEType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error,omitempty"`
}

type candidate struct {
	Content           *content           `json:"content,omitempty"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks,omitempty"`
}

type groundingChunk struct {
	Web  *groundingSource `json:"web,omitempty"`
	Maps *groundingSource `json:"maps,omitempty"`
}

type groundingSource struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

type errorResponse struct {
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ── Generate ───────────────────────────────────────────────────────────────────

// Generate sends req to the generateContent endpoint and decodes the response.
func (p *Provider) Generate(ctx context.Context, req intel.Request) (*intel.Response, error) {
	model := req.Model
	if model == "" {
		if req.ImageOutput {
			model = p.imageModel
		} else {
			model = p.model
		}
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: convertParts(req.Parts)}},
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}
	if req.JSONOutput {
		body.GenerationConfig = &generationConfig{ResponseMIMEType: "application/json"}
	}
	if req.ImageOutput {
		body.GenerationConfig = &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	}
	if req.WebSearch {
		body.Tools = append(body.Tools, tool{GoogleSearch: &struct{}{}})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeError(httpResp.StatusCode, data)
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &intel.Error{
			StatusCode: resp.Error.Code,
			Status:     resp.Error.Status,
			Message:    resp.Error.Message,
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &intel.Error{
			StatusCode: httpResp.StatusCode,
			Message:    "empty candidates in response",
		}
	}

	return convertResponse(&resp.Candidates[0])
}

// convertParts maps intel parts onto the wire format, base64-encoding inline data.
func convertParts(parts []intel.Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, part{InlineData: &inlineData{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		out = append(out, part{Text: p.Text})
	}
	return out
}

// convertResponse collects text, inline image data, and grounding references
// from the first candidate.
func convertResponse(c *candidate) (*intel.Response, error) {
	resp := &intel.Response{}

	for _, pt := range c.Content.Parts {
		if pt.Text != "" {
			resp.Text += pt.Text
		}
		if pt.InlineData != nil && resp.ImageData == nil {
			img, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode inline data: %w", err)
			}
			resp.ImageData = img
			resp.ImageMIMEType = pt.InlineData.MIMEType
		}
	}

	if c.GroundingMetadata != nil {
		for _, gc := range c.GroundingMetadata.GroundingChunks {
			if gc.Web != nil {
				resp.Grounding = append(resp.Grounding, intel.GroundingRef{
					URI: gc.Web.URI, Title: gc.Web.Title,
				})
			}
			if gc.Maps != nil {
				resp.Grounding = append(resp.Grounding, intel.GroundingRef{
					URI: gc.Maps.URI, Title: gc.Maps.Title, Maps: true,
				})
			}
		}
	}

	return resp, nil
}

// decodeError maps a non-200 response body onto a structured intel.Error.
// Bodies that are not the documented error envelope still produce an Error
// with the HTTP status code so classification never depends on message text.
func decodeError(statusCode int, data []byte) error {
	var envelope errorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		return &intel.Error{
			StatusCode: statusCode,
			Status:     envelope.Error.Status,
			Message:    envelope.Error.Message,
		}
	}
	return &intel.Error{
		StatusCode: statusCode,
		Message:    string(data),
	}
}
