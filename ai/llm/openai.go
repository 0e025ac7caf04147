package llm

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// sdkProvider reaches an OpenAI-compatible endpoint through go-openai.
type sdkProvider struct {
	cfg    ProviderConfig
	client *openai.Client
}

func newSDKProvider(cfg ProviderConfig) *sdkProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()
	return &sdkProvider{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (p *sdkProvider) Name() string  { return p.cfg.Name }
func (p *sdkProvider) Model() string { return p.cfg.Model }

func (p *sdkProvider) request(messages []Message, opts CallOptions, stream bool) openai.ChatCompletionRequest {
	opts = opts.withDefaults()
	return openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stop:        stopSequences,
		Stream:      stream,
		Messages:    convertMessages(messages),
	}
}

func (p *sdkProvider) Chat(ctx context.Context, messages []Message, opts CallOptions) (string, *Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, opts, false))
	if err != nil {
		return "", nil, Normalize(p.cfg.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, Errorf(KindUpstream, p.cfg.Name, "empty response")
	}

	slog.Debug("llm chat completed",
		"provider", p.cfg.Name,
		"model", p.cfg.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	usage := &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}

func (p *sdkProvider) ChatStream(ctx context.Context, messages []Message, opts CallOptions) (<-chan string, <-chan error) {
	contentChan := make(chan string, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		stream, err := p.client.CreateChatCompletionStream(ctx, p.request(messages, opts, true))
		if err != nil {
			errChan <- Normalize(p.cfg.Name, err)
			return
		}
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF || strings.Contains(err.Error(), "EOF") {
					return
				}
				errChan <- Normalize(p.cfg.Name, err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					return
				}
			}
			if resp.Choices[0].FinishReason != "" {
				return
			}
		}
	}()

	return contentChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
