package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMessages_Empty(t *testing.T) {
	engine := NewInferenceEngine()

	out := engine.AnalyzeMessages(nil)
	require.NotNil(t, out)
	assert.True(t, out.Empty())
	assert.Nil(t, out.Occupation)
	assert.Nil(t, out.Interests)
	assert.Nil(t, out.CommunicationStyle)
}

func TestAnalyzeMessages_Occupation(t *testing.T) {
	engine := NewInferenceEngine()

	t.Run("programmer vocabulary wins", func(t *testing.T) {
		messages := []string{"今天写代码遇到一个bug", "调试了一下午", "编程真有意思"}

		out := engine.AnalyzeMessages(messages)
		require.NotNil(t, out.Occupation)
		assert.Equal(t, "程序员", out.Occupation.Value)
		assert.InDelta(t, 0.9, out.Occupation.Confidence, 0.001)

		// Same input, same output.
		again := engine.AnalyzeMessages(messages)
		assert.Equal(t, out, again)
	})

	t.Run("below the three-hit threshold", func(t *testing.T) {
		out := engine.AnalyzeMessages([]string{"今天改了一个bug", "写了点代码"})
		assert.Nil(t, out.Occupation)
	})
}

func TestAnalyzeMessages_AgeAndEducation(t *testing.T) {
	engine := NewInferenceEngine()

	out := engine.AnalyzeMessages([]string{"刚毕业进了大学实验室", "和室友住宿舍"})

	require.NotNil(t, out.AgeRange)
	assert.Equal(t, "18-24", out.AgeRange.Value)
	assert.InDelta(t, 0.8, out.AgeRange.Confidence, 0.001)

	// 大学 also matches the first education level that mentions it.
	require.NotNil(t, out.Education)
	assert.Equal(t, "本科", out.Education.Value)
	assert.InDelta(t, 0.7, out.Education.Confidence, 0.001)
}

func TestAnalyzeMessages_Gender(t *testing.T) {
	engine := NewInferenceEngine()

	t.Run("male indicators dominate", func(t *testing.T) {
		out := engine.AnalyzeMessages([]string{"哥们昨晚打游戏", "兄弟们一起看足球"})
		require.NotNil(t, out.Gender)
		assert.Equal(t, "male", out.Gender.Value)
		assert.InDelta(t, 0.7, out.Gender.Confidence, 0.001)
	})

	t.Run("tie reports nothing", func(t *testing.T) {
		out := engine.AnalyzeMessages([]string{"哥们和姐妹都来了"})
		assert.Nil(t, out.Gender)
	})
}

func TestAnalyzeMessages_Interests(t *testing.T) {
	engine := NewInferenceEngine()

	out := engine.AnalyzeMessages([]string{
		"我喜欢听歌，周末去了演唱会，音乐会也不错",
		"最近在玩游戏，原神和steam都玩",
	})

	require.Len(t, out.Interests, 2)
	assert.Equal(t, "音乐", out.Interests[0].Name)
	assert.InDelta(t, 0.4, out.Interests[0].Weight, 0.001)
	assert.Equal(t, "游戏", out.Interests[1].Name)
	assert.InDelta(t, 0.3, out.Interests[1].Weight, 0.001)
}

func TestAnalyzeMessages_CommunicationStyle(t *testing.T) {
	engine := NewInferenceEngine()

	out := engine.AnalyzeMessages([]string{"请问您好，谢谢", "哈哈哈哈"})
	style := out.CommunicationStyle
	require.NotNil(t, style)

	assert.Equal(t, 5, style["avg_message_length"])
	assert.Equal(t, "short", style["response_length_preference"])
	assert.Equal(t, "low", style["emoji_frequency"])
	assert.Equal(t, "formal", style["formality"])
	assert.Equal(t, float64(0), style["question_tendency"])
}

func TestAnalyzeMessages_EmojiBuckets(t *testing.T) {
	engine := NewInferenceEngine()

	// Two emoji runs across two messages: ratio 1.0 per message.
	out := engine.AnalyzeMessages([]string{"好耶😀😀", "出发🚀"})
	style := out.CommunicationStyle
	assert.Equal(t, "high", style["emoji_frequency"])
	// Consecutive emojis count as one run, regex-style.
	assert.Equal(t, 1.0, style["emoji_per_message"])
}

func TestAnalyzeMessages_EmotionalPattern(t *testing.T) {
	engine := NewInferenceEngine()

	t.Run("anxious messages raise stress", func(t *testing.T) {
		out := engine.AnalyzeMessages([]string{"压力好大，好焦虑", "担心明天的考试"})
		pattern := out.EmotionalPattern
		require.NotNil(t, pattern)

		assert.Equal(t, "high", pattern["stress_level"])
		assert.InDelta(t, 0.4, pattern["positive_ratio"].(float64), 0.001)
		assert.Equal(t, 3, pattern["anxiety_indicators"])
		assert.InDelta(t, 1.0, pattern["emotional_stability"].(float64), 0.001)
	})

	t.Run("no emotional words defaults to neutral", func(t *testing.T) {
		out := engine.AnalyzeMessages([]string{"在吗"})
		pattern := out.EmotionalPattern
		assert.InDelta(t, 0.5, pattern["positive_ratio"].(float64), 0.001)
		assert.Equal(t, "low", pattern["stress_level"])
	})
}

func TestCountEmojiRuns(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want int
	}{
		{"none", "你好", 0},
		{"single", "你好😀", 1},
		{"consecutive collapse", "😀😁😂", 1},
		{"separated", "😀好😁", 2},
		{"transport and flags", "🚀去🇨🇳", 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, countEmojiRuns(tc.in))
		})
	}
}
