package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/internal/profile"
	"github.com/hrygo/deskpet/store"
)

func newChatFixture(t *testing.T) *store.Store {
	t.Helper()
	return store.New(store.NewMemoryKV(), &profile.Profile{})
}

func systemCount(messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == "system" {
			n++
		}
	}
	return n
}

func TestAssembler_Order(t *testing.T) {
	ctx := context.Background()
	st := newChatFixture(t)
	asm := NewAssembler(st)

	require.NoError(t, st.Users.Init(ctx, "u1"))
	sid, err := st.Sessions.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "早上好"))
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "assistant", "早上好呀，主人！"))
	// The orchestrator appends the current message before assembling.
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "今天天气怎么样"))

	messages := asm.Assemble(ctx, "u1", sid, "今天天气怎么样")

	require.Len(t, messages, 5)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, store.DefaultPetSystemPrompt)
	assert.Contains(t, messages[0].Content, "你的名字叫：小猫咪")

	assert.Equal(t, "system", messages[1].Role)
	assert.Contains(t, messages[1].Content, "【用户画像】")
	assert.Contains(t, messages[1].Content, "你和主人的关系是：陌生人")

	assert.Equal(t, llm.UserMessage("早上好"), messages[2])
	assert.Equal(t, llm.AssistantMessage("早上好呀，主人！"), messages[3])
	assert.Equal(t, llm.UserMessage("今天天气怎么样"), messages[4])

	// The just-appended copy is not replayed on top of the explicit tail.
	occurrences := 0
	for _, m := range messages {
		if m.Content == "今天天气怎么样" {
			occurrences++
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestAssembler_RepeatedMessageKeepsOlderCopy(t *testing.T) {
	ctx := context.Background()
	st := newChatFixture(t)
	asm := NewAssembler(st)

	sid, err := st.Sessions.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "在吗"))
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "assistant", "在的哦！"))
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "在吗"))

	messages := asm.Assemble(ctx, "u1", sid, "在吗")

	occurrences := 0
	for _, m := range messages {
		if m.Role == "user" && m.Content == "在吗" {
			occurrences++
		}
	}
	assert.Equal(t, 2, occurrences, "only the just-appended copy is stripped")
}

func TestAssembler_TrimKeepsSystemMessages(t *testing.T) {
	ctx := context.Background()
	st := newChatFixture(t)
	asm := NewAssembler(st)

	require.NoError(t, st.Users.Init(ctx, "u1"))
	sid, err := st.Sessions.Create(ctx, "u1")
	require.NoError(t, err)
	for i := 1; i <= 25; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		require.NoError(t, st.Sessions.AppendMessage(ctx, sid, role, fmt.Sprintf("消息%d", i)))
	}
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "当前消息"))

	messages := asm.Assemble(ctx, "u1", sid, "当前消息")

	assert.Equal(t, 2, systemCount(messages))
	assert.Len(t, messages, 13, "two system messages plus eleven turns")
	assert.Equal(t, "消息16", messages[2].Content)
	assert.Equal(t, "当前消息", messages[len(messages)-1].Content)
}

func TestAssembler_CustomPersona(t *testing.T) {
	ctx := context.Background()
	st := newChatFixture(t)
	asm := NewAssembler(st)

	_, err := st.PetConfig.Update(ctx, map[string]string{
		"name":          "阿福",
		"system_prompt": "你是一只稳重的柴犬。",
	})
	require.NoError(t, err)

	sid, err := st.Sessions.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "你好"))

	messages := asm.Assemble(ctx, "u1", sid, "你好")

	require.NotEmpty(t, messages)
	assert.Equal(t, "你是一只稳重的柴犬。\n\n你的名字叫：阿福", messages[0].Content)
}

func TestAssembler_NoProfileBlockForUnknownUser(t *testing.T) {
	ctx := context.Background()
	st := newChatFixture(t)
	asm := NewAssembler(st)

	sid, err := st.Sessions.Create(ctx, "ghost")
	require.NoError(t, err)
	require.NoError(t, st.Sessions.AppendMessage(ctx, sid, "user", "你好"))

	messages := asm.Assemble(ctx, "ghost", sid, "你好")

	assert.Equal(t, 1, systemCount(messages), "no profile record, no profile block")
	assert.Equal(t, "你好", messages[len(messages)-1].Content)
}

func TestTrimHistory(t *testing.T) {
	system := llm.SystemPrompt("persona")
	turns := make([]llm.Message, 0, 6)
	for i := 0; i < 6; i++ {
		turns = append(turns, llm.UserMessage(fmt.Sprintf("t%d", i)))
	}

	t.Run("under limit unchanged", func(t *testing.T) {
		in := append([]llm.Message{system}, turns[:3]...)
		assert.Equal(t, in, trimHistory(in, 11))
	})

	t.Run("drops oldest non-system", func(t *testing.T) {
		in := append([]llm.Message{system}, turns...)
		out := trimHistory(in, 4)
		require.Len(t, out, 5)
		assert.Equal(t, system, out[0])
		assert.Equal(t, "t2", out[1].Content)
		assert.Equal(t, "t5", out[4].Content)
	})

	t.Run("system only", func(t *testing.T) {
		in := []llm.Message{system, llm.SystemPrompt("profile")}
		assert.Equal(t, in, trimHistory(in, 1))
	})
}
