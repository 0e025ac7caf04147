package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfileFixture(t *testing.T) (*UserProfileStore, *time.Time) {
	t.Helper()
	kv := NewMemoryKV()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	kv.now = clock

	s := NewUserProfileStore(kv)
	s.now = clock
	return s, &now
}

func TestUserProfileStore_GetOrCreateUserID(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	t.Run("default id is persisted and stable", func(t *testing.T) {
		first, err := s.GetOrCreateUserID(ctx, "default")
		require.NoError(t, err)
		assert.Len(t, first, 32)

		second, err := s.GetOrCreateUserID(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("empty id is treated as default", func(t *testing.T) {
		viaDefault, err := s.GetOrCreateUserID(ctx, "default")
		require.NoError(t, err)
		viaEmpty, err := s.GetOrCreateUserID(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, viaDefault, viaEmpty)
	})

	t.Run("explicit ids map deterministically", func(t *testing.T) {
		a1, err := s.GetOrCreateUserID(ctx, "alice")
		require.NoError(t, err)
		a2, err := s.GetOrCreateUserID(ctx, "alice")
		require.NoError(t, err)
		b, err := s.GetOrCreateUserID(ctx, "bob")
		require.NoError(t, err)

		assert.Equal(t, a1, a2)
		assert.NotEqual(t, a1, b)
		assert.Len(t, a1, 32)
	})

	t.Run("mapping record is persisted for every raw id", func(t *testing.T) {
		id, err := s.GetOrCreateUserID(ctx, "carol")
		require.NoError(t, err)

		stored, err := s.kv.Get(ctx, "user:carol:mapping")
		require.NoError(t, err)
		assert.Equal(t, id, stored)

		// A fresh store over the same driver resolves through the record,
		// not by recomputing.
		again, err := NewUserProfileStore(s.kv).GetOrCreateUserID(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})
}

func TestUserProfileStore_InitAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	require.NoError(t, s.Init(ctx, "uid-1"))

	p, err := s.Get(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", p.UserID)
	assert.Equal(t, int64(0), p.TotalInteractions)
	assert.Equal(t, int64(0), p.IntimacyScore)
	assert.Equal(t, RelationshipStranger, p.RelationshipLevel)
	assert.Empty(t, p.Interests)
	assert.Empty(t, p.PersonalityTraits)
	assert.NotEmpty(t, p.CreatedAt)

	t.Run("init is idempotent", func(t *testing.T) {
		_, _, err := s.UpdateIntimacy(ctx, "uid-1", 5)
		require.NoError(t, err)
		require.NoError(t, s.Init(ctx, "uid-1"))

		p, err := s.Get(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), p.IntimacyScore)
	})

	t.Run("missing profile returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRelationshipLevelFor(t *testing.T) {
	testCases := []struct {
		score int64
		want  string
	}{
		{0, RelationshipStranger},
		{9, RelationshipStranger},
		{10, RelationshipAcquaintance},
		{29, RelationshipAcquaintance},
		{30, RelationshipFamiliar},
		{59, RelationshipFamiliar},
		{60, RelationshipFriend},
		{99, RelationshipFriend},
		{100, RelationshipCloseFriend},
		{199, RelationshipCloseFriend},
		{200, RelationshipConfidant},
		{1000, RelationshipConfidant},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, RelationshipLevelFor(tc.score), "score=%d", tc.score)
	}
}

func TestUserProfileStore_UpdateIntimacy(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)
	require.NoError(t, s.Init(ctx, "u"))

	score, level, err := s.UpdateIntimacy(ctx, "u", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), score)
	assert.Equal(t, RelationshipStranger, level)

	score, level, err = s.UpdateIntimacy(ctx, "u", 29)
	require.NoError(t, err)
	assert.Equal(t, int64(30), score)
	assert.Equal(t, RelationshipFamiliar, level)

	// The stored level always matches the stored score.
	p, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, RelationshipLevelFor(p.IntimacyScore), p.RelationshipLevel)
}

func TestUserProfileStore_AddInterests(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)
	require.NoError(t, s.Init(ctx, "u"))

	require.NoError(t, s.AddInterests(ctx, "u", []string{"科技", "游戏"}))
	require.NoError(t, s.AddInterests(ctx, "u", []string{"游戏", "音乐", "", "科技"}))

	p, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"科技", "游戏", "音乐"}, p.Interests)
}

func TestUserProfileStore_MergeTraits(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)
	require.NoError(t, s.Init(ctx, "u"))

	require.NoError(t, s.MergeTraits(ctx, "u", map[string]any{"幽默": "high", "外向": "medium"}))
	require.NoError(t, s.MergeTraits(ctx, "u", map[string]any{"幽默": "low", "细心": "high"}))

	p, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "low", p.PersonalityTraits["幽默"])
	assert.Equal(t, "medium", p.PersonalityTraits["外向"])
	assert.Equal(t, "high", p.PersonalityTraits["细心"])
}

func TestUserProfileStore_ChatHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	require.NoError(t, s.SaveChatMessage(ctx, "u", "user", "第一条"))
	require.NoError(t, s.SaveChatMessage(ctx, "u", "assistant", "第二条"))
	require.NoError(t, s.SaveChatMessage(ctx, "u", "user", "第三条"))

	msgs, err := s.GetChatHistory(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "第二条", msgs[0].Content)
	assert.Equal(t, "第三条", msgs[1].Content)

	t.Run("ring keeps the newest messages", func(t *testing.T) {
		for i := 0; i < chatHistoryCap+10; i++ {
			require.NoError(t, s.SaveChatMessage(ctx, "ring", "user", "msg"))
		}
		n, err := s.kv.LLen(ctx, chatHistoryKey("ring"))
		require.NoError(t, err)
		assert.Equal(t, int64(chatHistoryCap), n)
	})
}

func TestUserProfileStore_Behaviors(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	require.NoError(t, s.RecordBehavior(ctx, "u", "chat", map[string]any{"message_length": 12}))
	require.NoError(t, s.RecordBehavior(ctx, "u", "click", nil))

	events, err := s.GetBehaviors(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "chat", events[0].Type)
	assert.Equal(t, float64(12), events[0].Metadata["message_length"])
	assert.Equal(t, "click", events[1].Type)
	assert.NotEmpty(t, events[1].Timestamp)
}

func TestUserProfileStore_BuildContextPrompt(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	t.Run("no profile yields empty prompt", func(t *testing.T) {
		prompt, err := s.BuildContextPrompt(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, prompt)
	})

	t.Run("renders relationship, interests and traits", func(t *testing.T) {
		require.NoError(t, s.Init(ctx, "u"))
		require.NoError(t, s.AddInterests(ctx, "u", []string{"科技", "游戏", "音乐", "阅读", "运动", "旅游"}))
		require.NoError(t, s.MergeTraits(ctx, "u", map[string]any{"幽默": "high"}))

		prompt, err := s.BuildContextPrompt(ctx, "u")
		require.NoError(t, err)
		assert.Contains(t, prompt, "【用户画像】")
		assert.Contains(t, prompt, "你和主人的关系是：陌生人")
		assert.Contains(t, prompt, "科技")
		// Only the top five interests are shown.
		assert.NotContains(t, prompt, "旅游")
		assert.Contains(t, prompt, "幽默(high)")
		assert.NotContains(t, prompt, "你们已经比较熟悉了")
	})

	t.Run("familiarity hint above 50", func(t *testing.T) {
		require.NoError(t, s.Init(ctx, "close"))
		_, _, err := s.UpdateIntimacy(ctx, "close", 51)
		require.NoError(t, err)

		prompt, err := s.BuildContextPrompt(ctx, "close")
		require.NoError(t, err)
		assert.Contains(t, prompt, "你和主人的关系是：熟人")
		assert.Contains(t, prompt, "你们已经比较熟悉了，可以更亲密和随意一些")
	})
}

func TestUserProfileStore_RefreshMarker(t *testing.T) {
	ctx := context.Background()
	s, now := newProfileFixture(t)

	recent, err := s.UpdatedWithin(ctx, "u", 3*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)

	require.NoError(t, s.MarkProfileUpdated(ctx, "u"))

	recent, err = s.UpdatedWithin(ctx, "u", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, recent)

	*now = now.Add(4 * time.Minute)
	recent, err = s.UpdatedWithin(ctx, "u", 3*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestUserProfileStore_InferredFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)
	require.NoError(t, s.Init(ctx, "u"))

	require.NoError(t, s.SetOccupation(ctx, "u", ValueConfidence{Value: "程序员", Confidence: 0.8}))
	require.NoError(t, s.SetAgeRange(ctx, "u", ValueConfidence{Value: "25-30", Confidence: 0.6}))
	require.NoError(t, s.SetCurrentMood(ctx, "u", "平静"))
	require.NoError(t, s.SetMotivations(ctx, "u", map[string]float64{"companionship": 0.9}))

	p, err := s.Get(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, p.Occupation)
	assert.Equal(t, "程序员", p.Occupation.Value)
	assert.InDelta(t, 0.8, p.Occupation.Confidence, 1e-9)
	require.NotNil(t, p.AgeRange)
	assert.Equal(t, "25-30", p.AgeRange.Value)
	assert.Equal(t, "平静", p.CurrentMood)
	assert.InDelta(t, 0.9, p.Motivations["companionship"], 1e-9)
	assert.Nil(t, p.Gender)
}

func TestUserProfileStore_ListProfileUserIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newProfileFixture(t)

	require.NoError(t, s.Init(ctx, "b-user"))
	require.NoError(t, s.Init(ctx, "a-user"))
	require.NoError(t, s.SaveChatMessage(ctx, "c-user", "user", "no profile yet"))

	ids, err := s.ListProfileUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-user", "b-user"}, ids)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
