package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// directProvider posts raw JSON to {base_url}/chat/completions. It exists
// for endpoints whose request schema carries fields the SDK does not, such
// as enable_thinking for Qwen-family models.
type directProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

func newDirectProvider(cfg ProviderConfig) *directProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &directProvider{cfg: cfg, client: newHTTPClient()}
}

func (p *directProvider) Name() string  { return p.cfg.Name }
func (p *directProvider) Model() string { return p.cfg.Model }

type directResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type directStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *directProvider) buildBody(messages []Message, opts CallOptions, stream bool) map[string]any {
	opts = opts.withDefaults()
	msgs := make([]map[string]string, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]string{"role": m.Role, "content": m.Content}
	}
	return map[string]any{
		"model":           p.cfg.Model,
		"messages":        msgs,
		"max_tokens":      opts.MaxTokens,
		"temperature":     opts.Temperature,
		"stream":          stream,
		"enable_thinking": false,
	}
}

func (p *directProvider) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(KindInternal, p.cfg.Name, "marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, Errorf(KindInternal, p.cfg.Name, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Normalize(p.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, Normalize(p.cfg.Name, &HTTPError{Status: resp.StatusCode, Body: string(respBody)})
	}
	return resp.Body, nil
}

func (p *directProvider) Chat(ctx context.Context, messages []Message, opts CallOptions) (string, *Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	respBody, err := p.doRequest(ctx, p.buildBody(messages, opts, false))
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = respBody.Close() }()

	var parsed directResponse
	if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
		return "", nil, Errorf(KindUpstream, p.cfg.Name, "decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, Errorf(KindUpstream, p.cfg.Name, "empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), parsed.Usage, nil
}

func (p *directProvider) ChatStream(ctx context.Context, messages []Message, opts CallOptions) (<-chan string, <-chan error) {
	contentChan := make(chan string, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		respBody, err := p.doRequest(ctx, p.buildBody(messages, opts, true))
		if err != nil {
			errChan <- err
			return
		}
		defer func() { _ = respBody.Close() }()

		scanner := bufio.NewScanner(respBody)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk directStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- Normalize(p.cfg.Name, err)
		}
	}()

	return contentChan, errChan
}
