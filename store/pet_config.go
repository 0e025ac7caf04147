package store

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Default persona used until an admin customizes the pet.
const (
	DefaultPetName         = "小猫咪"
	DefaultPetSystemPrompt = "你是一个可爱的桌面宠物，名叫小猫咪。你性格活泼开朗，喜欢和用户互动聊天。"
	DefaultPetPersonality  = "活泼可爱"
	DefaultPetGreeting     = "喵~ 我是你的桌面宠物小猫咪！有什么可以帮你的吗？"
	DefaultPetAvatarStyle  = "cat"

	// resetSystemPrompt is the fuller prompt written by an explicit reset.
	resetSystemPrompt = DefaultPetSystemPrompt + "回复要简短、可爱、有趣，适当使用表情符号。"
)

// PetConfig is the customizable pet persona.
type PetConfig struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	Personality  string `json:"personality"`
	Greeting     string `json:"greeting"`
	AvatarStyle  string `json:"avatar_style"`
	VoiceEnabled bool   `json:"voice_enabled"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

// petConfigDefaults maps each updatable field to its default. Every field
// lives under its own pet:config:{field} string key.
var petConfigDefaults = map[string]string{
	"name":          DefaultPetName,
	"system_prompt": DefaultPetSystemPrompt,
	"personality":   DefaultPetPersonality,
	"greeting":      DefaultPetGreeting,
	"avatar_style":  DefaultPetAvatarStyle,
	"voice_enabled": "false",
}

func petConfigKey(field string) string { return "pet:config:" + field }

// PetConfigStore manages the pet persona record.
type PetConfigStore struct {
	kv KV

	now func() time.Time
}

func NewPetConfigStore(kv KV) *PetConfigStore {
	return &PetConfigStore{kv: kv, now: time.Now}
}

func (s *PetConfigStore) field(ctx context.Context, name string) (string, error) {
	v, err := s.kv.Get(ctx, petConfigKey(name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return petConfigDefaults[name], nil
		}
		return "", err
	}
	if v == "" {
		return petConfigDefaults[name], nil
	}
	return v, nil
}

// Get returns the stored configuration with defaults filled in for any
// missing field, so callers always see a complete persona.
func (s *PetConfigStore) Get(ctx context.Context) (*PetConfig, error) {
	cfg := &PetConfig{}
	var err error
	if cfg.Name, err = s.field(ctx, "name"); err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}
	if cfg.SystemPrompt, err = s.field(ctx, "system_prompt"); err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}
	if cfg.Personality, err = s.field(ctx, "personality"); err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}
	if cfg.Greeting, err = s.field(ctx, "greeting"); err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}
	if cfg.AvatarStyle, err = s.field(ctx, "avatar_style"); err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}

	voiceRaw, err := s.field(ctx, "voice_enabled")
	if err != nil {
		return nil, errors.Wrap(err, "get pet config")
	}
	cfg.VoiceEnabled, _ = strconv.ParseBool(voiceRaw)

	if updated, err := s.kv.Get(ctx, petConfigKey("last_updated")); err == nil {
		cfg.LastUpdated = updated
	}
	return cfg, nil
}

// Update applies the given fields, ignoring unknown ones, and returns the
// names of the fields actually written.
func (s *PetConfigStore) Update(ctx context.Context, fields map[string]string) ([]string, error) {
	updated := []string{}
	for field, value := range fields {
		if _, ok := petConfigDefaults[field]; !ok {
			continue
		}
		if err := s.kv.Set(ctx, petConfigKey(field), value, 0); err != nil {
			return nil, errors.Wrapf(err, "update pet config %s", field)
		}
		updated = append(updated, field)
	}
	if len(updated) == 0 {
		return nil, nil
	}
	sort.Strings(updated)

	if err := s.kv.Set(ctx, petConfigKey("last_updated"), s.now().Format(timeFormat), 0); err != nil {
		return nil, errors.Wrap(err, "stamp pet config")
	}
	return updated, nil
}

// Reset restores the default persona.
func (s *PetConfigStore) Reset(ctx context.Context) (*PetConfig, error) {
	now := s.now().Format(timeFormat)
	values := map[string]string{
		"name":          DefaultPetName,
		"system_prompt": resetSystemPrompt,
		"personality":   DefaultPetPersonality,
		"greeting":      DefaultPetGreeting,
		"avatar_style":  DefaultPetAvatarStyle,
		"voice_enabled": "false",
		"last_updated":  now,
	}
	for field, value := range values {
		if err := s.kv.Set(ctx, petConfigKey(field), value, 0); err != nil {
			return nil, errors.Wrapf(err, "reset pet config %s", field)
		}
	}
	return &PetConfig{
		Name:         DefaultPetName,
		SystemPrompt: resetSystemPrompt,
		Personality:  DefaultPetPersonality,
		Greeting:     DefaultPetGreeting,
		AvatarStyle:  DefaultPetAvatarStyle,
		VoiceEnabled: false,
		LastUpdated:  now,
	}, nil
}
