package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSessionFixture wires a SessionStore over an in-memory driver with a
// movable clock shared by both.
func newSessionFixture(t *testing.T) (*SessionStore, *time.Time) {
	t.Helper()
	kv := NewMemoryKV()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	kv.now = clock

	s := NewSessionStore(kv)
	s.now = clock
	return s, &now
}

func TestSessionStore_Create(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	sessionID, err := s.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessionID, 32)

	sess, err := s.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, sess.SessionID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, SessionActive, sess.Status)
	assert.Equal(t, int64(0), sess.MessageCount)
	assert.NotEmpty(t, sess.StartTime)

	active, err := s.GetActiveSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sessionID, active)
}

func TestSessionStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses recent session", func(t *testing.T) {
		s, now := newSessionFixture(t)
		first, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)

		*now = now.Add(29 * time.Minute)
		second, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rolls over after idle timeout", func(t *testing.T) {
		s, now := newSessionFixture(t)
		first, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)

		*now = now.Add(31 * time.Minute)
		second, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		old, err := s.Get(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, SessionEnded, old.Status)
		assert.NotEmpty(t, old.EndTime)
	})

	t.Run("rolls over exactly at the timeout", func(t *testing.T) {
		s, now := newSessionFixture(t)
		first, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)

		*now = now.Add(30 * time.Minute)
		second, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("recreates when metadata is gone", func(t *testing.T) {
		s, _ := newSessionFixture(t)
		first, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)

		require.NoError(t, s.kv.Del(ctx, sessionKey(first)))
		second, err := s.GetOrCreate(ctx, "u")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestSessionStore_AppendAndContext(t *testing.T) {
	ctx := context.Background()
	s, now := newSessionFixture(t)

	sessionID, err := s.Create(ctx, "u")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, sessionID, "user", "你好"))
	*now = now.Add(time.Second)
	require.NoError(t, s.AppendMessage(ctx, sessionID, "assistant", "喵~ 你好呀"))
	*now = now.Add(time.Second)
	require.NoError(t, s.AppendMessage(ctx, sessionID, "user", "在忙吗"))

	sess, err := s.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.MessageCount)
	assert.Equal(t, now.Format(timeFormat), sess.LastActive)

	msgs, err := s.GetContext(ctx, sessionID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "在忙吗", msgs[1].Content)

	all, err := s.GetFullContext(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "你好", all[0].Content)
}

func TestSessionStore_End(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	sessionID, err := s.Create(ctx, "u")
	require.NoError(t, err)

	require.NoError(t, s.End(ctx, sessionID))

	sess, err := s.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, sess.Status)
	assert.NotEmpty(t, sess.EndTime)

	_, err = s.GetActiveSession(ctx, "u")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_ShouldTriggerSummary(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		count int
		want  bool
	}{
		{0, false},
		{3, false},
		{10, true},
		{15, false},
		{20, true},
	}
	for _, tc := range testCases {
		s, _ := newSessionFixture(t)
		sessionID, err := s.Create(ctx, "u")
		require.NoError(t, err)
		for i := 0; i < tc.count; i++ {
			require.NoError(t, s.AppendMessage(ctx, sessionID, "user", "hi"))
		}
		got, err := s.ShouldTriggerSummary(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "count=%d", tc.count)
	}
}

func TestSessionStore_SummaryQueue(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	require.NoError(t, s.MarkForSummary(ctx, "sess-a"))
	require.NoError(t, s.MarkForSummary(ctx, "sess-a"))
	require.NoError(t, s.MarkForSummary(ctx, "sess-b"))

	tasks, err := s.SessionsToSummarize(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	ids := []string{tasks[0].SessionID, tasks[1].SessionID}
	assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, ids)
	for _, task := range tasks {
		assert.Equal(t, "pending", task.Status)
		assert.NotEmpty(t, task.QueuedAt)
	}

	require.NoError(t, s.RemoveFromSummaryQueue(ctx, "sess-a"))
	tasks, err = s.SessionsToSummarize(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "sess-b", tasks[0].SessionID)
}

func TestSessionStore_IncrementalSummaries(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	sessionID, err := s.Create(ctx, "u")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, sessionID, "user", "我最近在学吉他"))
	}

	fresh, next, err := s.GetNewContext(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, fresh, 5)
	assert.Equal(t, int64(5), next)

	summary := &SessionSummary{
		InterestsMentioned:   []string{"音乐"},
		PersonalityHints:     "好奇心强",
		RelationshipProgress: "互动有进展",
		TopicsDiscussed:      []string{"吉他"},
		EmotionalTone:        "积极",
	}
	require.NoError(t, s.SaveSummary(ctx, sessionID, summary, next))

	// Only messages appended after the save count as new.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, sessionID, "user", "练和弦好难"))
	}
	fresh, next, err = s.GetNewContext(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
	assert.Equal(t, int64(8), next)

	stored, err := s.GetSummary(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"音乐"}, stored.InterestsMentioned)
	assert.Equal(t, []string{"吉他"}, stored.TopicsDiscussed)
	assert.Equal(t, "互动有进展", stored.RelationshipProgress)
	assert.Equal(t, int64(5), stored.LastSummarizedIndex)
	assert.NotEmpty(t, stored.SummarizedAt)

	sess, err := s.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, SessionSummarized, sess.Status)
}

func TestSessionStore_GetSummaryMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	_, err := s.GetSummary(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Stats(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessionFixture(t)

	a, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	b, err := s.Create(ctx, "u2")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, a, "user", "hi"))
	require.NoError(t, s.AppendMessage(ctx, a, "assistant", "hello"))
	require.NoError(t, s.AppendMessage(ctx, b, "user", "hey"))

	sessions, messages, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sessions)
	assert.Equal(t, int64(3), messages)
}
