// Package chat runs the full pipeline for one conversational turn: identity
// resolution, session bookkeeping, context assembly, the provider call, and
// the long-term profile side effects.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/ai/metrics"
	"github.com/hrygo/deskpet/store"
)

// Upstream is the slice of the provider registry the chat path uses.
type Upstream interface {
	Send(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (string, *llm.Usage, error)
	Stream(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (<-chan string, <-chan error)
}

// Response is one completed chat turn.
type Response struct {
	Reply     string `json:"reply"`
	Timestamp string `json:"timestamp"`
}

// Service orchestrates chat turns. Everything that happens after the reply
// is obtained is best effort: the user gets their answer even when profile
// bookkeeping fails.
type Service struct {
	store     *store.Store
	upstream  Upstream
	assembler *Assembler
	exporter  *metrics.PrometheusExporter

	now func() time.Time
}

func NewService(st *store.Store, upstream Upstream, exporter *metrics.PrometheusExporter) *Service {
	return &Service{
		store:     st,
		upstream:  upstream,
		assembler: NewAssembler(st),
		exporter:  exporter,
		now:       time.Now,
	}
}

// SendMessage runs one full turn for rawUserID (empty means the anonymous
// desktop identity). Errors carry an llm.Kind so handlers can map them to
// the friendly strings.
func (s *Service) SendMessage(ctx context.Context, rawUserID, message string) (*Response, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, llm.Errorf(llm.KindValidation, "", "消息不能为空")
	}
	if rawUserID == "" {
		rawUserID = "default"
	}
	started := s.now()

	userID, err := s.store.Users.GetOrCreateUserID(ctx, rawUserID)
	if err != nil {
		return nil, s.failTurn(started, err)
	}
	if err := s.store.Users.Init(ctx, userID); err != nil {
		return nil, s.failTurn(started, err)
	}
	sessionID, err := s.store.Sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, s.failTurn(started, err)
	}
	if err := s.store.Sessions.AppendMessage(ctx, sessionID, "user", message); err != nil {
		return nil, s.failTurn(started, err)
	}

	slog.Info("chat: message received", "user", userID, "session", sessionID, "length", utf8.RuneCountInString(message))

	messages := s.assembler.Assemble(ctx, userID, sessionID, message)

	reply, _, err := s.upstream.Send(ctx, messages, llm.CallOptions{})
	if err != nil {
		s.recordChat("message", started, false)
		return nil, err
	}

	s.finishTurn(ctx, userID, sessionID, message, reply)

	s.recordChat("message", started, true)
	return &Response{Reply: reply, Timestamp: s.now().Format(time.RFC3339)}, nil
}

// Stream sends one turn to the primary provider only, replaying the
// client-provided history. It touches no session or profile state.
func (s *Service) Stream(ctx context.Context, message string, history []llm.Message) (<-chan string, <-chan error) {
	message = strings.TrimSpace(message)
	if message == "" {
		content := make(chan string)
		close(content)
		errCh := make(chan error, 1)
		errCh <- llm.Errorf(llm.KindValidation, "", "消息不能为空")
		return content, errCh
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemPrompt(s.assembler.personaPrompt(ctx)))
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(message))

	return s.upstream.Stream(ctx, messages, llm.CallOptions{})
}

// failTurn wraps a pre-reply store failure as an internal error.
func (s *Service) failTurn(started time.Time, err error) error {
	s.recordChat("message", started, false)
	return llm.NewError(llm.KindInternal, "", err)
}

// finishTurn runs the post-reply bookkeeping. Failures are logged and
// swallowed; the reply is already in hand.
func (s *Service) finishTurn(ctx context.Context, userID, sessionID, message, reply string) {
	warn := func(step string, err error) {
		if err != nil {
			slog.Warn("chat: "+step+" failed", "user", userID, "session", sessionID, "error", err)
		}
	}

	warn("append assistant message", s.store.Sessions.AppendMessage(ctx, sessionID, "assistant", reply))
	warn("mirror user message", s.store.Users.SaveChatMessage(ctx, userID, "user", message))
	warn("mirror assistant message", s.store.Users.SaveChatMessage(ctx, userID, "assistant", reply))
	warn("record chat behavior", s.store.Users.RecordBehavior(ctx, userID, "chat", map[string]any{
		"message_length": utf8.RuneCountInString(message),
	}))
	warn("update last seen", s.store.Users.UpdateLastSeen(ctx, userID))

	_, err := s.store.Users.IncrementInteractions(ctx, userID)
	warn("count interaction", err)

	trigger, err := s.store.Sessions.ShouldTriggerSummary(ctx, sessionID)
	warn("summary trigger check", err)
	if err == nil && trigger {
		if err := s.store.Sessions.MarkForSummary(ctx, sessionID); err != nil {
			warn("queue for summary", err)
		} else {
			slog.Info("chat: session queued for summary", "session", sessionID)
		}
	}

	score, level, err := s.store.Users.UpdateIntimacy(ctx, userID, 1)
	warn("update intimacy", err)
	if err == nil {
		slog.Debug("chat: turn complete", "user", userID, "intimacy", score, "relationship", level)
	}
}

func (s *Service) recordChat(mode string, started time.Time, success bool) {
	if s.exporter != nil {
		s.exporter.RecordChatRequest(mode, s.now().Sub(started), success)
	}
}

// FriendlyMessage maps a classified provider error to the pet-voice string
// shown to the desktop client.
func FriendlyMessage(err error) string {
	switch llm.KindOf(err) {
	case llm.KindValidation:
		return "消息不能为空"
	case llm.KindAuthConfig:
		return "配置错误，请检查 API Key 设置"
	case llm.KindRateLimited:
		return "请求太频繁了，休息一下吧～"
	case llm.KindNetwork:
		return "网络连接失败，请检查网络设置"
	default:
		return "抱歉，我现在有点累，稍后再聊吧～"
	}
}
