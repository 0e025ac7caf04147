package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/store"
)

type fakeSender struct {
	reply string
	err   error

	calls        int
	lastMessages []llm.Message
	lastOpts     llm.CallOptions
}

func (f *fakeSender) Send(_ context.Context, messages []llm.Message, opts llm.CallOptions) (string, *llm.Usage, error) {
	f.calls++
	f.lastMessages = messages
	f.lastOpts = opts
	if f.err != nil {
		return "", nil, f.err
	}
	return f.reply, &llm.Usage{TotalTokens: 30}, nil
}

func summaryMessages() []store.ChatMessage {
	return []store.ChatMessage{
		{Role: "user", Content: "我周末去爬山了"},
		{Role: "assistant", Content: "喵~ 听起来很棒！"},
		{Role: "user", Content: "下次想去露营"},
	}
}

func TestSummarizeSession(t *testing.T) {
	ctx := context.Background()

	t.Run("parses a clean reply", func(t *testing.T) {
		sender := &fakeSender{reply: `{
			"interests_mentioned": ["爬山", "露营"],
			"personality_hints": "喜欢户外活动",
			"relationship_progress": "信任感增强",
			"topics_discussed": ["周末计划"],
			"emotional_tone": "轻松愉快"
		}`}
		s := NewSummarizer(sender)

		summary, err := s.SummarizeSession(ctx, summaryMessages(), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"爬山", "露营"}, summary.InterestsMentioned)
		assert.Equal(t, "信任感增强", summary.RelationshipProgress)
		assert.Equal(t, "轻松愉快", summary.EmotionalTone)
		assert.Empty(t, summary.RawAnalysis)
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		sender := &fakeSender{reply: "```json\n{\"interests_mentioned\": [\"爬山\"], \"personality_hints\": \"\", \"relationship_progress\": \"\", \"topics_discussed\": [], \"emotional_tone\": \"平静\"}\n```"}
		s := NewSummarizer(sender)

		summary, err := s.SummarizeSession(ctx, summaryMessages(), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"爬山"}, summary.InterestsMentioned)
		assert.Equal(t, "平静", summary.EmotionalTone)
	})

	t.Run("garbage degrades to raw analysis", func(t *testing.T) {
		garbage := strings.Repeat("喵", 600)
		sender := &fakeSender{reply: garbage}
		s := NewSummarizer(sender)

		summary, err := s.SummarizeSession(ctx, summaryMessages(), "")
		require.NoError(t, err)
		assert.Empty(t, summary.InterestsMentioned)
		assert.Equal(t, strings.Repeat("喵", 500), summary.RawAnalysis)
	})

	t.Run("transport failures propagate", func(t *testing.T) {
		sender := &fakeSender{err: llm.Errorf(llm.KindNetwork, "siliconflow", "timeout")}
		s := NewSummarizer(sender)

		_, err := s.SummarizeSession(ctx, summaryMessages(), "")
		require.Error(t, err)
		assert.Equal(t, llm.KindNetwork, llm.KindOf(err))
	})
}

func TestSummarizeSession_Prompt(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{reply: `{}`}
	s := NewSummarizer(sender)

	_, err := s.SummarizeSession(ctx, summaryMessages(), "讨论过的话题：工作")
	require.NoError(t, err)

	require.Len(t, sender.lastMessages, 1)
	prompt := sender.lastMessages[0].Content
	assert.Contains(t, prompt, "用户: 我周末去爬山了")
	assert.Contains(t, prompt, "AI助手: 喵~ 听起来很棒！")
	assert.Contains(t, prompt, "【之前的对话总结】")
	assert.Contains(t, prompt, "讨论过的话题：工作")
	assert.Contains(t, prompt, "仅输出JSON")

	assert.Equal(t, summaryMaxTokens, sender.lastOpts.MaxTokens)
}

func TestSummarizeSession_NoPreviousContext(t *testing.T) {
	sender := &fakeSender{reply: `{}`}
	s := NewSummarizer(sender)

	_, err := s.SummarizeSession(context.Background(), summaryMessages(), "")
	require.NoError(t, err)
	assert.NotContains(t, sender.lastMessages[0].Content, "【之前的对话总结】")
}

func TestFormatSummaryContext(t *testing.T) {
	t.Run("renders the non-empty parts", func(t *testing.T) {
		got := FormatSummaryContext(&store.SessionSummary{
			InterestsMentioned:   []string{"爬山", "露营"},
			PersonalityHints:     "外向",
			RelationshipProgress: "有进展",
			TopicsDiscussed:      []string{"周末计划"},
			EmotionalTone:        "愉快",
		})
		assert.Equal(t, "讨论过的话题：周末计划\n提到的兴趣：爬山、露营\n性格线索：外向\n关系进展：有进展\n情感基调：愉快", got)
	})

	t.Run("empty summary renders nothing", func(t *testing.T) {
		assert.Empty(t, FormatSummaryContext(&store.SessionSummary{}))
		assert.Empty(t, FormatSummaryContext(nil))
	})
}

func TestExtractJSON(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"prose around", `好的，这是结果：{"a": 1}，请查收`, `{"a": 1}`, true},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{"no object", "抱歉，我不知道", "", false},
		{"only opening", "{oops", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "喵喵", truncateRunes("喵喵喵", 2))
	assert.Equal(t, "ok", truncateRunes("ok", 10))
}
