package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
	SessionSummarized SessionStatus = "summarized"
)

const (
	sessionTTL  = 24 * time.Hour
	summaryTTL  = 30 * 24 * time.Hour
	idleTimeout = 30 * time.Minute

	summaryQueueKey = "session:summary_queue"

	// timeFormat is the wire format for every timestamp the store writes.
	timeFormat = time.RFC3339
)

// Session is the per-session metadata hash.
type Session struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	StartTime    string        `json:"start_time"`
	LastActive   string        `json:"last_active"`
	EndTime      string        `json:"end_time,omitempty"`
	MessageCount int64         `json:"message_count"`
	Status       SessionStatus `json:"status"`
}

// ChatMessage is one turn in a conversation. Timestamps stay strings on the
// wire (ISO-8601); both the session context and the long-term history list
// store messages in this shape.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// SummaryTask is one queued summarization request, serialized as a JSON
// member of the summary queue set.
type SummaryTask struct {
	SessionID string `json:"session_id"`
	QueuedAt  string `json:"queued_at"`
	Status    string `json:"status"`
}

// SessionSummary is the structured extract of a session. The first five
// fields are the LLM contract; the rest is bookkeeping added on save.
type SessionSummary struct {
	InterestsMentioned   []string `json:"interests_mentioned"`
	PersonalityHints     string   `json:"personality_hints"`
	RelationshipProgress string   `json:"relationship_progress"`
	TopicsDiscussed      []string `json:"topics_discussed"`
	EmotionalTone        string   `json:"emotional_tone"`
	RawAnalysis          string   `json:"raw_analysis,omitempty"`

	SummarizedAt        string `json:"summarized_at,omitempty"`
	LastSummarizedIndex int64  `json:"last_summarized_index,omitempty"`
}

// SessionStore manages per-session metadata, the rolling context list, the
// summary record, and the global summarization queue.
type SessionStore struct {
	kv KV

	now func() time.Time
}

func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv, now: time.Now}
}

func sessionKey(sessionID string) string { return "session:" + sessionID }
func contextKey(sessionID string) string { return "session:" + sessionID + ":context" }
func summaryKey(sessionID string) string { return "session:" + sessionID + ":summary" }
func activeSessionKey(userID string) string {
	return "user:" + userID + ":active_session"
}

// newSessionID returns a random 128-bit identifier as 32 hex characters.
func newSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Create starts a fresh active session for the user and installs it as the
// user's active session pointer.
func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	sessionID := newSessionID()
	now := s.now().Format(timeFormat)

	fields := map[string]string{
		"session_id":    sessionID,
		"user_id":       userID,
		"start_time":    now,
		"last_active":   now,
		"message_count": "0",
		"status":        string(SessionActive),
	}
	if err := s.kv.HSet(ctx, sessionKey(sessionID), fields); err != nil {
		return "", errors.Wrap(err, "create session")
	}
	if err := s.kv.Expire(ctx, sessionKey(sessionID), sessionTTL); err != nil {
		return "", errors.Wrap(err, "expire session")
	}
	if err := s.kv.Set(ctx, activeSessionKey(userID), sessionID, sessionTTL); err != nil {
		return "", errors.Wrap(err, "set active session")
	}
	return sessionID, nil
}

// GetActiveSession returns the user's active session id, or ErrNotFound.
func (s *SessionStore) GetActiveSession(ctx context.Context, userID string) (string, error) {
	return s.kv.Get(ctx, activeSessionKey(userID))
}

// GetOrCreate returns the user's active session, rolling over to a new one
// when the previous session has been idle for more than 30 minutes or its
// metadata is gone.
func (s *SessionStore) GetOrCreate(ctx context.Context, userID string) (string, error) {
	sessionID, err := s.GetActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.Create(ctx, userID)
		}
		return "", err
	}

	lastActive, err := s.kv.HGet(ctx, sessionKey(sessionID), "last_active")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Metadata expired underneath the pointer; treat as idle.
			_ = s.End(ctx, sessionID)
			return s.Create(ctx, userID)
		}
		return "", err
	}

	last, parseErr := time.Parse(timeFormat, lastActive)
	if parseErr == nil && s.now().Sub(last) < idleTimeout {
		return sessionID, nil
	}

	if err := s.End(ctx, sessionID); err != nil {
		return "", err
	}
	return s.Create(ctx, userID)
}

// AppendMessage pushes a message onto the session context, bumps
// message_count, touches last_active, and refreshes the TTLs.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	msg := ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: s.now().Format(timeFormat),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	if err := s.kv.RPush(ctx, contextKey(sessionID), string(raw)); err != nil {
		return errors.Wrap(err, "push message")
	}
	if err := s.kv.Expire(ctx, contextKey(sessionID), sessionTTL); err != nil {
		return err
	}
	if _, err := s.kv.HIncrBy(ctx, sessionKey(sessionID), "message_count", 1); err != nil {
		return errors.Wrap(err, "bump message count")
	}
	if err := s.kv.HSet(ctx, sessionKey(sessionID), map[string]string{
		"last_active": msg.Timestamp,
	}); err != nil {
		return err
	}
	return s.kv.Expire(ctx, sessionKey(sessionID), sessionTTL)
}

func decodeMessages(items []string) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(items))
	for _, item := range items {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// GetContext returns the most recent limit messages in chronological order.
func (s *SessionStore) GetContext(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := s.kv.LRange(ctx, contextKey(sessionID), int64(-limit), -1)
	if err != nil {
		return nil, errors.Wrap(err, "get session context")
	}
	return decodeMessages(items), nil
}

// GetFullContext returns the entire session context.
func (s *SessionStore) GetFullContext(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	items, err := s.kv.LRange(ctx, contextKey(sessionID), 0, -1)
	if err != nil {
		return nil, errors.Wrap(err, "get full session context")
	}
	return decodeMessages(items), nil
}

// lastSummarizedIndex returns the context index one past the last summarized
// message, 0 when the session has never been summarized.
func (s *SessionStore) lastSummarizedIndex(ctx context.Context, sessionID string) int64 {
	for _, key := range []string{sessionKey(sessionID), summaryKey(sessionID)} {
		raw, err := s.kv.HGet(ctx, key, "last_summarized_index")
		if err != nil {
			continue
		}
		if idx, err := strconv.ParseInt(raw, 10, 64); err == nil && idx >= 0 {
			return idx
		}
	}
	return 0
}

// GetNewContext returns the messages appended since the last successful
// summary plus the context index one past the returned batch. Passing the
// index back to SaveSummary keeps incremental summarization exact even when
// more messages arrive while summarizing.
func (s *SessionStore) GetNewContext(ctx context.Context, sessionID string) ([]ChatMessage, int64, error) {
	start := s.lastSummarizedIndex(ctx, sessionID)
	items, err := s.kv.LRange(ctx, contextKey(sessionID), start, -1)
	if err != nil {
		return nil, 0, errors.Wrap(err, "get new session context")
	}
	return decodeMessages(items), start + int64(len(items)), nil
}

// End marks the session ended and clears the user's active pointer.
func (s *SessionStore) End(ctx context.Context, sessionID string) error {
	if err := s.kv.HSet(ctx, sessionKey(sessionID), map[string]string{
		"status":   string(SessionEnded),
		"end_time": s.now().Format(timeFormat),
	}); err != nil {
		return errors.Wrap(err, "end session")
	}

	userID, err := s.kv.HGet(ctx, sessionKey(sessionID), "user_id")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.kv.Del(ctx, activeSessionKey(userID))
}

// Get returns the session metadata, or ErrNotFound when it does not exist.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	count, _ := strconv.ParseInt(data["message_count"], 10, 64)
	return &Session{
		SessionID:    data["session_id"],
		UserID:       data["user_id"],
		StartTime:    data["start_time"],
		LastActive:   data["last_active"],
		EndTime:      data["end_time"],
		MessageCount: count,
		Status:       SessionStatus(data["status"]),
	}, nil
}

// ShouldTriggerSummary reports whether the session just crossed a
// summarization checkpoint (every 10 messages).
func (s *SessionStore) ShouldTriggerSummary(ctx context.Context, sessionID string) (bool, error) {
	raw, err := s.kv.HGet(ctx, sessionKey(sessionID), "message_count")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return count > 0 && count%10 == 0, nil
}

// MarkForSummary enqueues the session for background summarization.
// The queue is deduplicated by session id.
func (s *SessionStore) MarkForSummary(ctx context.Context, sessionID string) error {
	members, err := s.kv.SMembers(ctx, summaryQueueKey)
	if err != nil {
		return errors.Wrap(err, "read summary queue")
	}
	for _, member := range members {
		var task SummaryTask
		if err := json.Unmarshal([]byte(member), &task); err == nil && task.SessionID == sessionID {
			return nil
		}
	}

	task := SummaryTask{
		SessionID: sessionID,
		QueuedAt:  s.now().Format(timeFormat),
		Status:    "pending",
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal summary task")
	}
	return s.kv.SAdd(ctx, summaryQueueKey, string(raw))
}

// SessionsToSummarize returns the queued summarization tasks.
func (s *SessionStore) SessionsToSummarize(ctx context.Context) ([]SummaryTask, error) {
	members, err := s.kv.SMembers(ctx, summaryQueueKey)
	if err != nil {
		return nil, errors.Wrap(err, "read summary queue")
	}
	tasks := make([]SummaryTask, 0, len(members))
	for _, member := range members {
		var task SummaryTask
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			// Unparseable members can never be processed; drop them.
			_ = s.kv.SRem(ctx, summaryQueueKey, member)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// RemoveFromSummaryQueue drops every queued task for the session.
func (s *SessionStore) RemoveFromSummaryQueue(ctx context.Context, sessionID string) error {
	members, err := s.kv.SMembers(ctx, summaryQueueKey)
	if err != nil {
		return errors.Wrap(err, "read summary queue")
	}
	for _, member := range members {
		var task SummaryTask
		if err := json.Unmarshal([]byte(member), &task); err == nil && task.SessionID == sessionID {
			if err := s.kv.SRem(ctx, summaryQueueKey, member); err != nil {
				return err
			}
		}
	}
	return nil
}

// SummaryQueueLen returns the number of queued summarization tasks.
func (s *SessionStore) SummaryQueueLen(ctx context.Context) (int, error) {
	members, err := s.kv.SMembers(ctx, summaryQueueKey)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// SaveSummary persists the summary record, marks the session summarized, and
// advances last_summarized_index to upTo (the index returned by
// GetNewContext).
func (s *SessionStore) SaveSummary(ctx context.Context, sessionID string, summary *SessionSummary, upTo int64) error {
	interests, err := json.Marshal(summary.InterestsMentioned)
	if err != nil {
		return errors.Wrap(err, "marshal interests")
	}
	topics, err := json.Marshal(summary.TopicsDiscussed)
	if err != nil {
		return errors.Wrap(err, "marshal topics")
	}

	now := s.now().Format(timeFormat)
	fields := map[string]string{
		"interests_mentioned":   string(interests),
		"personality_hints":     summary.PersonalityHints,
		"relationship_progress": summary.RelationshipProgress,
		"topics_discussed":      string(topics),
		"emotional_tone":        summary.EmotionalTone,
		"summarized_at":         now,
		"last_summarized_index": strconv.FormatInt(upTo, 10),
	}
	if summary.RawAnalysis != "" {
		fields["raw_analysis"] = summary.RawAnalysis
	}

	if err := s.kv.HSet(ctx, summaryKey(sessionID), fields); err != nil {
		return errors.Wrap(err, "save summary")
	}
	if err := s.kv.Expire(ctx, summaryKey(sessionID), summaryTTL); err != nil {
		return err
	}

	// Best effort: the session hash may already be gone.
	_ = s.kv.HSet(ctx, sessionKey(sessionID), map[string]string{
		"status":                string(SessionSummarized),
		"last_summarized_index": strconv.FormatInt(upTo, 10),
	})
	return nil
}

// GetSummary returns the stored summary, or ErrNotFound when the session has
// not been summarized yet.
func (s *SessionStore) GetSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	data, err := s.kv.HGetAll(ctx, summaryKey(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "get summary")
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	summary := &SessionSummary{
		PersonalityHints:     data["personality_hints"],
		RelationshipProgress: data["relationship_progress"],
		EmotionalTone:        data["emotional_tone"],
		RawAnalysis:          data["raw_analysis"],
		SummarizedAt:         data["summarized_at"],
	}
	_ = json.Unmarshal([]byte(data["interests_mentioned"]), &summary.InterestsMentioned)
	_ = json.Unmarshal([]byte(data["topics_discussed"]), &summary.TopicsDiscussed)
	if idx, err := strconv.ParseInt(data["last_summarized_index"], 10, 64); err == nil {
		summary.LastSummarizedIndex = idx
	}
	return summary, nil
}

// Stats returns the number of live session hashes and the total message
// count across them.
func (s *SessionStore) Stats(ctx context.Context) (sessions int, messages int64, err error) {
	keys, err := s.kv.Keys(ctx, "session:*")
	if err != nil {
		return 0, 0, err
	}
	for _, key := range keys {
		if key == summaryQueueKey {
			continue
		}
		// Context and summary keys carry a suffix after the id.
		if strings.Contains(key[len("session:"):], ":") {
			continue
		}
		sessions++
		if raw, err := s.kv.HGet(ctx, key, "message_count"); err == nil {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				messages += n
			}
		}
	}
	return sessions, messages, nil
}
