package llm

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hrygo/deskpet/ai/metrics"
	"github.com/hrygo/deskpet/internal/profile"
)

// ProviderSummary is the public description of one configured provider.
type ProviderSummary struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// ProviderInfo describes the registry state, exposed on the health surface.
type ProviderInfo struct {
	Available bool              `json:"available"`
	Providers []ProviderSummary `json:"providers"`
	Primary   *ProviderSummary  `json:"primary,omitempty"`
}

// Registry holds the configured providers in priority order. It is built
// once at startup and read-only afterwards.
type Registry struct {
	providers []Provider
	exporter  *metrics.PrometheusExporter
}

// NewRegistry builds providers from configs, ordered by ascending priority.
// Configs without an API key are skipped. The exporter may be nil.
func NewRegistry(configs []ProviderConfig, exporter *metrics.PrometheusExporter) *Registry {
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority < configs[j].Priority
	})

	r := &Registry{exporter: exporter}
	for _, cfg := range configs {
		if cfg.APIKey == "" {
			continue
		}
		r.providers = append(r.providers, newProvider(cfg))
		slog.Info("llm provider registered",
			"provider", cfg.Name,
			"kind", string(cfg.Kind),
			"model", cfg.Model,
			"priority", cfg.Priority,
		)
	}
	if len(r.providers) == 0 {
		slog.Warn("no llm providers configured; chat requests will fail until an API key is set")
	}
	return r
}

// BuildFromProfile assembles provider configs from the environment profile,
// honoring the configured priority order.
func BuildFromProfile(p *profile.Profile, exporter *metrics.PrometheusExporter) *Registry {
	configs := []ProviderConfig{}
	for i, name := range p.ProviderPriority {
		switch name {
		case "siliconflow":
			configs = append(configs, ProviderConfig{
				Name:     name,
				Kind:     ProviderDirectHTTP,
				Model:    p.SiliconFlowModel,
				BaseURL:  p.SiliconFlowBaseURL,
				APIKey:   p.SiliconFlowAPIKey,
				Priority: i,
			})
		case "openai":
			configs = append(configs, ProviderConfig{
				Name:     name,
				Kind:     ProviderOpenAISDK,
				Model:    p.OpenAIModel,
				BaseURL:  p.OpenAIBaseURL,
				APIKey:   p.OpenAIAPIKey,
				Priority: i,
			})
		default:
			slog.Warn("unknown provider in priority list, skipping", "provider", name)
		}
	}
	return NewRegistry(configs, exporter)
}

// Available reports whether at least one provider is configured.
func (r *Registry) Available() bool {
	return len(r.providers) > 0
}

// Providers returns the providers in priority order.
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Primary returns the highest-priority provider, nil when none exist.
func (r *Registry) Primary() Provider {
	if len(r.providers) == 0 {
		return nil
	}
	return r.providers[0]
}

// Info summarizes the registry for the health endpoint.
func (r *Registry) Info() ProviderInfo {
	info := ProviderInfo{
		Available: r.Available(),
		Providers: make([]ProviderSummary, 0, len(r.providers)),
	}
	for _, p := range r.providers {
		info.Providers = append(info.Providers, ProviderSummary{Name: p.Name(), Model: p.Model()})
	}
	if primary := r.Primary(); primary != nil {
		info.Primary = &ProviderSummary{Name: primary.Name(), Model: primary.Model()}
	}
	return info
}

// ensureSystem prepends the default persona when the caller supplied no
// system message. The registry never trims; callers own the window.
func ensureSystem(messages []Message) []Message {
	if HasSystem(messages) {
		return messages
	}
	return append([]Message{SystemPrompt(DefaultSystemPrompt)}, messages...)
}

// Send tries each provider in priority order and returns the first reply.
// Every failure is normalized; if all providers fail, the last normalized
// error is returned.
func (r *Registry) Send(ctx context.Context, messages []Message, opts CallOptions) (string, *Usage, error) {
	if len(r.providers) == 0 {
		return "", nil, Errorf(KindAuthConfig, "", "没有可用的 AI 服务")
	}
	messages = ensureSystem(messages)

	var lastErr error
	for i, p := range r.providers {
		start := time.Now()
		reply, usage, err := p.Chat(ctx, messages, opts)
		if r.exporter != nil {
			r.exporter.RecordLLMCall(p.Name(), p.Model(), time.Since(start), err == nil)
		}
		if err == nil {
			if r.exporter != nil && usage != nil {
				r.exporter.RecordLLMTokens(p.Name(), usage.PromptTokens, usage.CompletionTokens)
			}
			return reply, usage, nil
		}

		lastErr = err
		slog.Warn("llm provider call failed",
			"provider", p.Name(),
			"kind", string(KindOf(err)),
			"error", err,
		)
		if i+1 < len(r.providers) {
			slog.Info("failing over to next provider", "next", r.providers[i+1].Name())
			if r.exporter != nil {
				r.exporter.RecordFailover(p.Name(), r.providers[i+1].Name())
			}
		}
	}
	return "", nil, lastErr
}

// Stream opens a streaming completion on the primary provider only; there is
// no failover once a stream has started.
func (r *Registry) Stream(ctx context.Context, messages []Message, opts CallOptions) (<-chan string, <-chan error) {
	if len(r.providers) == 0 {
		contentChan := make(chan string)
		errChan := make(chan error, 1)
		close(contentChan)
		errChan <- Errorf(KindAuthConfig, "", "没有可用的 AI 服务")
		close(errChan)
		return contentChan, errChan
	}
	return r.providers[0].ChatStream(ctx, ensureSystem(messages), opts)
}
