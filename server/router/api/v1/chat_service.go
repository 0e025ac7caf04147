package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/server/service/chat"
)

// ChatService exposes the conversational turn endpoints.
type ChatService struct {
	Chat *chat.Service

	// streamSemaphore caps concurrent SSE streams; each one pins an
	// upstream connection for its whole duration.
	streamSemaphore *semaphore.Weighted
}

// ChatRequest is the desktop client's turn payload. ConversationHistory is
// only honored on the stream path; the message path owns its own context.
type ChatRequest struct {
	Message             string        `json:"message"`
	UserID              string        `json:"user_id,omitempty"`
	ConversationHistory []llm.Message `json:"conversation_history,omitempty"`
}

// ChatResponse is one completed turn.
type ChatResponse struct {
	Success   bool   `json:"success"`
	Reply     string `json:"reply"`
	Timestamp string `json:"timestamp"`
}

// SendMessage handles POST /api/chat/message.
func (s *ChatService) SendMessage(c echo.Context) error {
	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "消息不能为空").SetInternal(err)
	}

	resp, err := s.Chat.SendMessage(c.Request().Context(), req.UserID, req.Message)
	if err != nil {
		if llm.KindOf(err) == llm.KindValidation {
			return echo.NewHTTPError(http.StatusBadRequest, chat.FriendlyMessage(err)).SetInternal(err)
		}
		slog.Error("chat turn failed", "user", req.UserID, "kind", string(llm.KindOf(err)), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, chat.FriendlyMessage(err)).SetInternal(err)
	}

	return c.JSON(http.StatusOK, &ChatResponse{
		Success:   true,
		Reply:     resp.Reply,
		Timestamp: resp.Timestamp,
	})
}

// StreamMessage handles POST /api/chat/stream. Each content delta goes out
// as `data: {"chunk": "..."}` and the stream always ends with `data: [DONE]`.
// Closing the connection cancels further chunk production via the request
// context.
func (s *ChatService) StreamMessage(c echo.Context) error {
	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "消息不能为空").SetInternal(err)
	}

	if s.streamSemaphore != nil {
		if !s.streamSemaphore.TryAcquire(1) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "请求太频繁了，休息一下吧～")
		}
		defer s.streamSemaphore.Release(1)
	}

	ctx := c.Request().Context()
	content, errCh := s.Chat.Stream(ctx, req.Message, req.ConversationHistory)

	// Validation fails before any byte is written, so it can still be a
	// plain HTTP error.
	select {
	case err, ok := <-errCh:
		if ok && llm.KindOf(err) == llm.KindValidation {
			return echo.NewHTTPError(http.StatusBadRequest, chat.FriendlyMessage(err)).SetInternal(err)
		}
		if ok && err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, chat.FriendlyMessage(err)).SetInternal(err)
		}
	default:
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for chunk := range content {
		payload, err := json.Marshal(map[string]string{"chunk": chunk})
		if err != nil {
			continue
		}
		fmt.Fprintf(resp, "data: %s\n\n", payload)
		resp.Flush()
	}

	if err := <-errCh; err != nil {
		slog.Warn("stream interrupted", "kind", string(llm.KindOf(err)), "error", err)
		payload, _ := json.Marshal(map[string]string{"error": chat.FriendlyMessage(err)})
		fmt.Fprintf(resp, "data: %s\n\n", payload)
	}

	fmt.Fprint(resp, "data: [DONE]\n\n")
	resp.Flush()
	return nil
}
