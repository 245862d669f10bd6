// Package anyllm adapts github.com/mozilla-ai/any-llm-go backends to the
// intel.Provider interface.
//
// any-llm-go gives a unified chat-completion surface over OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, and local llama.cpp servers, which
// makes it the natural text-only fallback tier: when the primary Gemini
// provider is exhausted, any configured backend can still produce the JSON
// payloads the feature layer needs.
//
// Usage:
//
//	p, err := anyllm.New("gemini", "gemini-2.0-flash-lite", anyllmlib.WithAPIKey("..."))
//	p, err := anyllm.New("ollama", "llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lokalos/citydna/pkg/intel"
)

var _ intel.Provider = (*Provider)(nil)

// Provider implements intel.Provider by wrapping an any-llm-go backend.
// It is text-only: inline data parts and image output fail with
// intel.ErrUnsupported so a fallback group can skip to a capable tier.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the given any-llm-go provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp". If no API key option is given,
// the backend falls back to its usual environment variable (OPENAI_API_KEY,
// GEMINI_API_KEY, and so on).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp", providerName)
	}
}

// Capabilities implements intel.Provider.
func (p *Provider) Capabilities() intel.Capabilities {
	return intel.Capabilities{}
}

// Generate implements intel.Provider.
func (p *Provider) Generate(ctx context.Context, req intel.Request) (*intel.Response, error) {
	if req.ImageOutput {
		return nil, fmt.Errorf("anyllm: image output: %w", intel.ErrUnsupported)
	}

	var prompt strings.Builder
	for _, part := range req.Parts {
		if len(part.Data) > 0 {
			return nil, fmt.Errorf("anyllm: inline %s part: %w", part.MIMEType, intel.ErrUnsupported)
		}
		if prompt.Len() > 0 {
			prompt.WriteString("\n")
		}
		prompt.WriteString(part.Text)
	}

	var messages []anyllmlib.Message
	system := req.SystemInstruction
	if req.JSONOutput {
		// No portable structured-output mode across backends; instruct instead.
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single valid JSON document and nothing else. No markdown fences."
	}
	if system != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: system,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: prompt.String(),
	})

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	return &intel.Response{Text: resp.Choices[0].Message.ContentString()}, nil
}
