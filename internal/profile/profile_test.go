package profile

import (
	"testing"
)

var profileEnvVars = []string{
	"HOST", "PORT",
	"REDIS_HOST", "REDIS_PORT", "REDIS_DB", "REDIS_PASSWORD",
	"AI_PROVIDER_PRIORITY",
	"SILICONFLOW_API_KEY", "SILICONFLOW_BASE_URL", "SILICONFLOW_MODEL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"ADMIN_TOKEN",
}

// clearProfileEnv blanks every recognized variable; FromEnv treats empty as
// unset, and t.Setenv restores the originals on cleanup.
func clearProfileEnv(t *testing.T) {
	t.Helper()
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearProfileEnv(t)

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"Addr", "0.0.0.0", profile.Addr},
		{"RedisHost", "localhost", profile.RedisHost},
		{"RedisPassword", "", profile.RedisPassword},
		{"SiliconFlowBaseURL", "https://api.siliconflow.cn/v1", profile.SiliconFlowBaseURL},
		{"SiliconFlowModel", "Qwen/QwQ-32B", profile.SiliconFlowModel},
		{"OpenAIBaseURL", "https://api.openai.com/v1", profile.OpenAIBaseURL},
		{"OpenAIModel", "gpt-3.5-turbo", profile.OpenAIModel},
		{"AdminToken", "", profile.AdminToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.Port != 3000 {
		t.Errorf("Port: expected 3000, got %d", profile.Port)
	}
	if profile.RedisPort != 6379 {
		t.Errorf("RedisPort: expected 6379, got %d", profile.RedisPort)
	}
	if profile.HasProvider() {
		t.Error("HasProvider should be false with no API keys")
	}
}

func TestProviderPriorityParsing(t *testing.T) {
	clearProfileEnv(t)

	tests := []struct {
		name     string
		env      string
		expected []string
	}{
		{"默认顺序", "", []string{"siliconflow", "openai"}},
		{"显式顺序", "openai,siliconflow", []string{"openai", "siliconflow"}},
		{"空白与空项被忽略", " openai , ,siliconflow ", []string{"openai", "siliconflow"}},
		{"单个提供商", "openai", []string{"openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("AI_PROVIDER_PRIORITY", tt.env)
			}
			profile := &Profile{}
			profile.FromEnv()
			if len(profile.ProviderPriority) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, profile.ProviderPriority)
			}
			for i, name := range tt.expected {
				if profile.ProviderPriority[i] != name {
					t.Errorf("position %d: expected %q, got %q", i, name, profile.ProviderPriority[i])
				}
			}
		})
	}
}

func TestPriorityOf(t *testing.T) {
	profile := &Profile{ProviderPriority: []string{"openai", "siliconflow"}}
	if got := profile.PriorityOf("openai"); got != 0 {
		t.Errorf("openai: expected 0, got %d", got)
	}
	if got := profile.PriorityOf("siliconflow"); got != 1 {
		t.Errorf("siliconflow: expected 1, got %d", got)
	}
	if got := profile.PriorityOf("unknown"); got != 999 {
		t.Errorf("unknown providers should sort last, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	profile := &Profile{Mode: "prod", Port: 3000}
	if err := profile.Validate(); err != nil {
		t.Errorf("valid profile rejected: %v", err)
	}

	profile = &Profile{Mode: "invalid", Port: 3000}
	if err := profile.Validate(); err != nil {
		t.Errorf("unknown mode should fall back, got error: %v", err)
	}
	if profile.Mode != "demo" {
		t.Errorf("unknown mode should become demo, got %q", profile.Mode)
	}

	profile = &Profile{Mode: "prod", Port: -1}
	if err := profile.Validate(); err == nil {
		t.Error("negative port should be rejected")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearProfileEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("SILICONFLOW_API_KEY", "sk-test")
	t.Setenv("SILICONFLOW_MODEL", "Qwen/Qwen2.5-7B-Instruct")
	t.Setenv("REDIS_DB", "3")

	profile := &Profile{}
	profile.FromEnv()

	if profile.Port != 8080 {
		t.Errorf("Port: expected 8080, got %d", profile.Port)
	}
	if profile.SiliconFlowModel != "Qwen/Qwen2.5-7B-Instruct" {
		t.Errorf("model override lost: %q", profile.SiliconFlowModel)
	}
	if profile.RedisDB != 3 {
		t.Errorf("RedisDB: expected 3, got %d", profile.RedisDB)
	}
	if !profile.HasProvider() {
		t.Error("HasProvider should be true with a configured key")
	}
}
