package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPetConfigFixture(t *testing.T) *PetConfigStore {
	t.Helper()
	kv := NewMemoryKV()
	s := NewPetConfigStore(kv)
	s.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func TestPetConfigStore_Defaults(t *testing.T) {
	ctx := context.Background()
	s := newPetConfigFixture(t)

	cfg, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPetName, cfg.Name)
	assert.Equal(t, DefaultPetSystemPrompt, cfg.SystemPrompt)
	assert.Equal(t, DefaultPetPersonality, cfg.Personality)
	assert.Equal(t, DefaultPetGreeting, cfg.Greeting)
	assert.Equal(t, DefaultPetAvatarStyle, cfg.AvatarStyle)
	assert.False(t, cfg.VoiceEnabled)
	assert.Empty(t, cfg.LastUpdated)
}

func TestPetConfigStore_Update(t *testing.T) {
	ctx := context.Background()
	s := newPetConfigFixture(t)

	updated, err := s.Update(ctx, map[string]string{
		"name":          "小狗狗",
		"voice_enabled": "true",
		"bogus_field":   "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "voice_enabled"}, updated)

	cfg, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "小狗狗", cfg.Name)
	assert.True(t, cfg.VoiceEnabled)
	assert.NotEmpty(t, cfg.LastUpdated)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultPetGreeting, cfg.Greeting)

	t.Run("empty update writes nothing", func(t *testing.T) {
		updated, err := s.Update(ctx, map[string]string{"bogus": "x"})
		require.NoError(t, err)
		assert.Empty(t, updated)
	})
}

func TestPetConfigStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newPetConfigFixture(t)

	_, err := s.Update(ctx, map[string]string{"name": "别的名字"})
	require.NoError(t, err)

	cfg, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPetName, cfg.Name)
	assert.Contains(t, cfg.SystemPrompt, "表情符号")
	assert.NotEmpty(t, cfg.LastUpdated)

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPetName, stored.Name)
}
