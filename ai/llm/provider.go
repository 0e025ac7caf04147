package llm

import (
	"context"
	"net"
	"net/http"
	"time"
)

// ProviderKind selects the transport used to reach an endpoint.
type ProviderKind string

const (
	// ProviderOpenAISDK talks to any OpenAI-compatible endpoint through the
	// go-openai client.
	ProviderOpenAISDK ProviderKind = "openai_compatible_sdk"
	// ProviderDirectHTTP posts raw JSON to {base_url}/chat/completions. Used
	// for endpoints that need request fields the SDK does not carry.
	ProviderDirectHTTP ProviderKind = "direct_http"
)

// ProviderConfig describes one upstream LLM endpoint.
type ProviderConfig struct {
	Name     string
	Kind     ProviderKind
	Model    string
	BaseURL  string
	APIKey   string
	Priority int // lower is tried first
}

// CallOptions tune a single completion call. Zero values fall back to the
// package defaults.
type CallOptions struct {
	MaxTokens   int
	Temperature float32
}

const (
	DefaultMaxTokens   = 150
	DefaultTemperature = float32(0.8)

	// requestTimeout bounds one provider attempt; on expiry the failure is
	// classified as a network error and failover proceeds.
	requestTimeout = 30 * time.Second
)

func (o CallOptions) withDefaults() CallOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	return o
}

// stopSequences keep pet replies short and chatty.
var stopSequences = []string{"\n\n", "。。", "！！"}

// DefaultSystemPrompt is the pet persona used when the caller supplies no
// system message of its own.
const DefaultSystemPrompt = `你是一只可爱的桌面宠物，性格活泼开朗，喜欢和主人聊天。

你的特点：
- 友好、善解人意、有点调皮
- 会用可爱的语气和表情符号
- 回复要简短精炼，一般1-3句话
- 偶尔会提到自己是桌面宠物，需要休息和能量
- 会关心主人的工作和生活

回复风格：
- 使用口语化、轻松的语气
- 适当使用 emoji 表情 😊
- 不要太正式或太长
- 像朋友一样聊天

请记住你是一只虚拟宠物，要可爱且有趣！`

// Usage is the token accounting reported by a provider, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is one upstream chat-completion backend.
type Provider interface {
	Name() string
	Model() string

	// Chat performs a synchronous completion and returns the reply text.
	Chat(ctx context.Context, messages []Message, opts CallOptions) (string, *Usage, error)

	// ChatStream yields content deltas on the first channel; the channel is
	// closed when the upstream finishes. A terminal failure is delivered on
	// the second channel.
	ChatStream(ctx context.Context, messages []Message, opts CallOptions) (<-chan string, <-chan error)
}

// newProvider builds the transport for a config.
func newProvider(cfg ProviderConfig) Provider {
	if cfg.Kind == ProviderDirectHTTP {
		return newDirectProvider(cfg)
	}
	return newSDKProvider(cfg)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
