package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/store"
)

// Sender is the slice of the provider registry the analyzers need.
type Sender interface {
	Send(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (string, *llm.Usage, error)
}

// The chat path caps replies at 150 tokens to keep the pet terse; analysis
// calls return JSON documents and need room for them.
const (
	summaryMaxTokens = 500
	deepMaxTokens    = 1000
)

// Summarizer turns a batch of new session messages into structured notes
// about the user.
type Summarizer struct {
	sender Sender
}

func NewSummarizer(sender Sender) *Summarizer {
	return &Summarizer{sender: sender}
}

// SummarizeSession analyzes only the given (new) messages. previousContext,
// when non-empty, is a digest of earlier summaries handed to the model so
// incremental batches stay coherent. LLM transport failures return an
// error; malformed model output does not, it degrades to a summary holding
// only raw_analysis.
func (s *Summarizer) SummarizeSession(ctx context.Context, messages []store.ChatMessage, previousContext string) (*store.SessionSummary, error) {
	var conversation strings.Builder
	for _, m := range messages {
		role := "AI助手"
		if m.Role == "user" {
			role = "用户"
		}
		conversation.WriteString(role)
		conversation.WriteString(": ")
		conversation.WriteString(m.Content)
		conversation.WriteString("\n")
	}

	contextSection := ""
	if previousContext != "" {
		contextSection = "【之前的对话总结】\n" + previousContext +
			"\n\n注意：以上是之前对话的总结，请参考这些信息来理解本次对话的连贯性。\n\n"
	}

	prompt := fmt.Sprintf(`%s请分析以下对话（本次新增内容），提取用户的关键信息：

%s
请以JSON格式输出分析结果，包含以下字段：
1. interests_mentioned: 对话中提到的用户兴趣爱好（列表，只包含本次新提到的）
2. personality_hints: 用户性格特点的线索
3. relationship_progress: 关系进展情况描述
4. topics_discussed: 讨论的主要话题（列表，只包含本次讨论的）
5. emotional_tone: 对话的情感基调

重要：只需分析本次新增的对话内容，但可以参考之前的总结理解上下文连贯性。
仅输出JSON，不要其他说明。`, contextSection, conversation.String())

	raw, _, err := s.sender.Send(ctx, []llm.Message{llm.UserMessage(prompt)}, llm.CallOptions{MaxTokens: summaryMaxTokens})
	if err != nil {
		return nil, err
	}
	return parseSummary(raw), nil
}

func parseSummary(raw string) *store.SessionSummary {
	jsonStr, ok := extractJSON(raw)
	if !ok {
		return &store.SessionSummary{RawAnalysis: truncateRunes(raw, 500)}
	}
	summary := &store.SessionSummary{}
	if err := json.Unmarshal([]byte(jsonStr), summary); err != nil {
		return &store.SessionSummary{RawAnalysis: truncateRunes(raw, 500)}
	}
	return summary
}

// FormatSummaryContext renders a stored summary as the short digest handed
// back to the model on the next incremental call.
func FormatSummaryContext(s *store.SessionSummary) string {
	if s == nil {
		return ""
	}
	var parts []string
	if len(s.TopicsDiscussed) > 0 {
		parts = append(parts, "讨论过的话题："+strings.Join(s.TopicsDiscussed, "、"))
	}
	if len(s.InterestsMentioned) > 0 {
		parts = append(parts, "提到的兴趣："+strings.Join(s.InterestsMentioned, "、"))
	}
	if s.PersonalityHints != "" {
		parts = append(parts, "性格线索："+s.PersonalityHints)
	}
	if s.RelationshipProgress != "" {
		parts = append(parts, "关系进展："+s.RelationshipProgress)
	}
	if s.EmotionalTone != "" {
		parts = append(parts, "情感基调："+s.EmotionalTone)
	}
	return strings.Join(parts, "\n")
}
