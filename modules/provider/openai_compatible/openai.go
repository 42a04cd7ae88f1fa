// Package openaicompat provides an OpenAI-compatible upstream provider.
// It works with any API that implements the OpenAI chat completions and
// image generation interfaces (Mistral, Groq, DeepSeek, Together, vLLM,
// LiteLLM, etc.) via a configurable base_url.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/pkg/message"
)

// maxImageResponseSize caps the decoded image generation response.
const maxImageResponseSize = 32 * 1024 * 1024 // 32 MB

// Provider is an OpenAI-compatible upstream instance.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and creates a provider.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		config: cfg,
		client: newClient(cfg.Timeout),
		logger: logger,
	}, nil
}

// newClient builds the upstream HTTP client. A global client timeout would
// kill long-running streams; the per-request context handles cancellation.
func newClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(ctx context.Context, call provider.Call) (*provider.Response, error) {
	model := call.Model
	if model == "" {
		model = p.config.Model
	}

	switch call.Capability {
	case provider.CapabilityChat, "":
		return p.chat(ctx, model, call)
	case provider.CapabilityImage:
		return p.image(ctx, model, call)
	default:
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupported, call.Capability)
	}
}

func (p *Provider) chat(ctx context.Context, model string, call provider.Call) (*provider.Response, error) {
	resp, err := p.doRequest(ctx, "/chat/completions", buildChatRequest(model, p.config.MaxTokens, call))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}
	p.logger.Debug("chat stream opened", "model", model)
	return &provider.Response{Stream: resp.Body}, nil
}

func (p *Provider) image(ctx context.Context, model string, call provider.Call) (*provider.Response, error) {
	resp, err := p.doRequest(ctx, "/images/generations", oaiImageRequest{
		Model:  model,
		Prompt: call.Prompt,
		N:      call.N,
		Size:   call.Size,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp)
	}

	var out oaiImageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxImageResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode image response: %w", provider.ErrProviderDown, err)
	}

	msg := message.Message{Role: message.RoleAssistant}
	for _, d := range out.Data {
		switch {
		case d.URL != "":
			msg.Content = append(msg.Content, message.NewImageBlock(d.URL, ""))
		case d.B64JSON != "":
			msg.Content = append(msg.Content, message.NewImageBlock("data:image/png;base64,"+d.B64JSON, "image/png"))
		}
	}
	return &provider.Response{Message: &msg}, nil
}

// HealthCheck implements provider.HealthChecker.
// It queries the /models endpoint to check provider availability.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/models", nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}

	return nil
}

// Compile-time interface assertions.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
