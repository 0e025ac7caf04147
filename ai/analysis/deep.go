package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/store"
)

// deepRecentMessages caps how much history a deep analysis reads.
const deepRecentMessages = 30

// InterestTag is one weighted interest from the deep analyzer.
type InterestTag struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
}

// DeepDemographics carries the model's demographic guesses. Fields are
// nil when the model omitted them.
type DeepDemographics struct {
	AgeRange   *store.ValueConfidence `json:"age_range"`
	Gender     *store.ValueConfidence `json:"gender"`
	Occupation *store.ValueConfidence `json:"occupation"`
	Education  *store.ValueConfidence `json:"education"`
}

// DeepAnalysis is the structured output of a deep profile pass.
type DeepAnalysis struct {
	Demographics       DeepDemographics   `json:"demographics"`
	InterestTags       []InterestTag      `json:"interest_tags"`
	Personality        map[string]float64 `json:"personality"`
	CurrentMood        string             `json:"current_mood"`
	CommunicationStyle map[string]any     `json:"communication_style"`
	Motivations        map[string]float64 `json:"motivations"`
	Suggestions        []string           `json:"suggestions"`
	RawAnalysis        string             `json:"raw_analysis,omitempty"`
}

// DeepAnalyzer asks the model for a full profile read over recent history.
// Runs at low temperature so repeated passes stay consistent.
type DeepAnalyzer struct {
	sender Sender
}

func NewDeepAnalyzer(sender Sender) *DeepAnalyzer {
	return &DeepAnalyzer{sender: sender}
}

// AnalyzeProfile sends the last 30 history messages plus a profile digest
// and parses the pinned JSON schema defensively, like the summarizer.
func (d *DeepAnalyzer) AnalyzeProfile(ctx context.Context, history []store.ChatMessage, prof *store.UserProfile) (*DeepAnalysis, error) {
	recent := history
	if len(recent) > deepRecentMessages {
		recent = recent[len(recent)-deepRecentMessages:]
	}

	var conversation strings.Builder
	for _, m := range recent {
		role := "AI"
		if m.Role == "user" {
			role = "用户"
		}
		conversation.WriteString(role)
		conversation.WriteString(": ")
		conversation.WriteString(m.Content)
		conversation.WriteString("\n")
	}

	level := store.RelationshipStranger
	var interactions int64
	knownInterests := "未知"
	if prof != nil {
		level = prof.RelationshipLevel
		interactions = prof.TotalInteractions
		if len(prof.Interests) > 0 {
			interests := prof.Interests
			if len(interests) > 5 {
				interests = interests[:5]
			}
			knownInterests = strings.Join(interests, ", ")
		}
	}

	prompt := fmt.Sprintf(`作为一个专业的用户画像分析师，请基于以下对话内容，深入分析用户的特征。

【对话内容】
%s
【当前画像概要】
- 亲密度等级: %s
- 互动次数: %d
- 已知兴趣: %s

请严格按照下面的 JSON 结构输出分析结果（confidence、weight 和各项得分均为 0-1 的小数）：
{
    "demographics": {
        "age_range": {"value": "18-24 / 25-30 / 31-40 / 40+", "confidence": 0.0},
        "gender": {"value": "male / female / unknown", "confidence": 0.0},
        "occupation": {"value": "如 程序员、学生、设计师", "confidence": 0.0},
        "education": {"value": "本科 / 硕士 / 博士 等", "confidence": 0.0}
    },
    "interest_tags": [{"tag": "兴趣标签", "weight": 0.0}],
    "personality": {
        "openness": 0.0,
        "conscientiousness": 0.0,
        "extraversion": 0.0,
        "agreeableness": 0.0,
        "neuroticism": 0.0
    },
    "current_mood": "happy / neutral / sad / anxious / excited 等",
    "communication_style": {
        "formality": "formal / casual",
        "humor_appreciation": 0.0,
        "preferred_tone": "friendly / professional / humorous"
    },
    "motivations": {
        "companionship": 0.0,
        "productivity": 0.0,
        "entertainment": 0.0,
        "learning": 0.0,
        "emotional_support": 0.0
    },
    "suggestions": ["互动建议"]
}

没有把握的维度可以省略。只返回纯 JSON 对象，不要包含任何多余的文字说明。`,
		conversation.String(), store.RelationshipLabel(level), interactions, knownInterests)

	raw, _, err := d.sender.Send(ctx, []llm.Message{llm.UserMessage(prompt)}, llm.CallOptions{
		MaxTokens:   deepMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	return parseDeepAnalysis(raw), nil
}

func parseDeepAnalysis(raw string) *DeepAnalysis {
	jsonStr, ok := extractJSON(raw)
	if !ok {
		return &DeepAnalysis{RawAnalysis: truncateRunes(raw, 500)}
	}
	analysis := &DeepAnalysis{}
	if err := json.Unmarshal([]byte(jsonStr), analysis); err != nil {
		return &DeepAnalysis{RawAnalysis: truncateRunes(raw, 500)}
	}
	return analysis
}
