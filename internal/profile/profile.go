package profile

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo".
	Mode string
	// Addr is the binding address for server.
	Addr string
	// Port is the binding port for server.
	Port int
	// Version is the current version of server.
	Version string

	// Redis connection settings. The store falls back to an in-process
	// implementation when Redis is unreachable at startup.
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// ProviderPriority lists provider names in failover order (first wins).
	ProviderPriority []string

	// SiliconFlow provider (direct HTTP, OpenAI-compatible wire format).
	SiliconFlowAPIKey  string
	SiliconFlowBaseURL string
	SiliconFlowModel   string

	// OpenAI provider (official SDK).
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// AdminToken guards the /api/admin surface. Empty disables it.
	AdminToken string
}

// providerDefaults supplies BaseURL and Model per provider name.
// Used when the corresponding env vars are not explicitly set.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/QwQ-32B",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-3.5-turbo",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// HasProvider reports whether at least one LLM provider is configured.
func (p *Profile) HasProvider() bool {
	return p.SiliconFlowAPIKey != "" || p.OpenAIAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.Addr == "" {
		p.Addr = getEnvOrDefault("HOST", "0.0.0.0")
	}
	if p.Port == 0 {
		p.Port = getEnvOrDefaultInt("PORT", 3000)
	}

	p.RedisHost = getEnvOrDefault("REDIS_HOST", "localhost")
	p.RedisPort = getEnvOrDefaultInt("REDIS_PORT", 6379)
	p.RedisDB = getEnvOrDefaultInt("REDIS_DB", 0)
	p.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")

	priority := getEnvOrDefault("AI_PROVIDER_PRIORITY", "siliconflow,openai")
	p.ProviderPriority = nil
	for _, name := range strings.Split(priority, ",") {
		if name = strings.TrimSpace(name); name != "" {
			p.ProviderPriority = append(p.ProviderPriority, name)
		}
	}

	p.SiliconFlowAPIKey = getEnvOrDefault("SILICONFLOW_API_KEY", "")
	p.SiliconFlowBaseURL = getEnvOrDefault("SILICONFLOW_BASE_URL", providerDefaults["siliconflow"].BaseURL)
	p.SiliconFlowModel = getEnvOrDefault("SILICONFLOW_MODEL", providerDefaults["siliconflow"].Model)

	p.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	p.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", providerDefaults["openai"].BaseURL)
	p.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", providerDefaults["openai"].Model)

	p.AdminToken = getEnvOrDefault("ADMIN_TOKEN", "")
}

// PriorityOf returns the failover rank of a provider name.
// Names absent from ProviderPriority sort last.
func (p *Profile) PriorityOf(name string) int {
	for i, n := range p.ProviderPriority {
		if n == name {
			return i
		}
	}
	return 999
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	return nil
}
