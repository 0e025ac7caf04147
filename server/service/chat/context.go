package chat

import (
	"context"
	"log/slog"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/store"
)

const (
	// contextWindow is how many session messages one turn replays.
	contextWindow = 20
	// historyKeep bounds the non-system messages sent upstream.
	historyKeep = 11
)

// Assembler composes the provider message list for one chat turn: pet
// persona first, then the profile digest, then prior session context, and
// the current user message last.
type Assembler struct {
	store *store.Store
}

func NewAssembler(st *store.Store) *Assembler {
	return &Assembler{store: st}
}

// Assemble builds the ordered message list for a turn. Store read failures
// degrade: the persona falls back to the defaults and missing context is
// simply absent.
func (a *Assembler) Assemble(ctx context.Context, userID, sessionID, userMessage string) []llm.Message {
	messages := make([]llm.Message, 0, historyKeep+3)
	messages = append(messages, llm.SystemPrompt(a.personaPrompt(ctx)))

	profilePrompt, err := a.store.Users.BuildContextPrompt(ctx, userID)
	switch {
	case err != nil:
		slog.Warn("chat: profile prompt failed", "user", userID, "error", err)
	case profilePrompt != "":
		messages = append(messages, llm.SystemPrompt(profilePrompt))
	}

	history, err := a.store.Sessions.GetContext(ctx, sessionID, contextWindow)
	if err != nil {
		slog.Warn("chat: session context read failed", "session", sessionID, "error", err)
	}
	// The current message was already appended to the session; keep that
	// copy out of the replayed history.
	if n := len(history); n > 0 && history[n-1].Role == "user" && history[n-1].Content == userMessage {
		history = history[:n-1]
	}
	for _, m := range history {
		if m.Role == "assistant" {
			messages = append(messages, llm.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, llm.UserMessage(m.Content))
	}

	messages = append(messages, llm.UserMessage(userMessage))
	return trimHistory(messages, historyKeep)
}

// personaPrompt renders the configured pet persona as a system message.
func (a *Assembler) personaPrompt(ctx context.Context) string {
	cfg, err := a.store.PetConfig.Get(ctx)
	if err != nil {
		slog.Warn("chat: pet config read failed, using defaults", "error", err)
		cfg = &store.PetConfig{
			Name:         store.DefaultPetName,
			SystemPrompt: store.DefaultPetSystemPrompt,
		}
	}
	return cfg.SystemPrompt + "\n\n你的名字叫：" + cfg.Name
}

// trimHistory keeps every system message plus the last keep non-system
// messages, preserving relative order.
func trimHistory(messages []llm.Message, keep int) []llm.Message {
	nonSystem := 0
	for _, m := range messages {
		if m.Role != "system" {
			nonSystem++
		}
	}
	if nonSystem <= keep {
		return messages
	}

	drop := nonSystem - keep
	out := make([]llm.Message, 0, len(messages)-drop)
	for _, m := range messages {
		if m.Role != "system" && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}
