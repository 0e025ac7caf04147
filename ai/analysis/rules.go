package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hrygo/deskpet/store"
)

// WeightedInterest is an interest category with its keyword-derived weight.
type WeightedInterest struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// RuleInference is the output of the keyword analyzer. Demographic fields
// are nil when the evidence did not clear the per-field threshold, so
// callers can apply non-nil fields without a second gate.
type RuleInference struct {
	Occupation *store.ValueConfidence `json:"occupation,omitempty"`
	AgeRange   *store.ValueConfidence `json:"age_range,omitempty"`
	Gender     *store.ValueConfidence `json:"gender,omitempty"`
	Education  *store.ValueConfidence `json:"education,omitempty"`

	Interests []WeightedInterest `json:"interests,omitempty"`

	CommunicationStyle map[string]any `json:"communication_style,omitempty"`
	EmotionalPattern   map[string]any `json:"emotional_pattern,omitempty"`
}

// Empty reports whether the analyzer found nothing worth applying.
func (r *RuleInference) Empty() bool {
	return r.Occupation == nil && r.AgeRange == nil && r.Gender == nil &&
		r.Education == nil && len(r.Interests) == 0 &&
		len(r.CommunicationStyle) == 0 && len(r.EmotionalPattern) == 0
}

// InferenceEngine derives user attributes from raw message text using the
// package keyword tables. It holds no state; identical inputs yield
// identical outputs.
type InferenceEngine struct{}

func NewInferenceEngine() *InferenceEngine { return &InferenceEngine{} }

// AnalyzeMessages runs every rule over the given user messages. Empty
// input produces an empty inference.
func (e *InferenceEngine) AnalyzeMessages(messages []string) *RuleInference {
	out := &RuleInference{}
	if len(messages) == 0 {
		return out
	}

	combined := strings.Join(messages, " ")
	out.Occupation = e.inferOccupation(combined)
	out.AgeRange = e.inferAgeRange(combined)
	out.Gender = e.inferGender(combined)
	out.Education = e.inferEducation(combined)
	out.Interests = e.extractInterests(combined)
	out.CommunicationStyle = e.analyzeCommunicationStyle(messages)
	out.EmotionalPattern = e.analyzeEmotionalPatterns(messages)
	return out
}

// inferOccupation scores by total keyword occurrences. Needs at least 3
// hits on the winner to report anything.
func (e *InferenceEngine) inferOccupation(text string) *store.ValueConfidence {
	var best keywordSet
	bestScore, total := 0, 0
	for _, set := range occupationKeywords {
		score := 0
		for _, kw := range set.keywords {
			score += strings.Count(text, kw)
		}
		total += score
		if score > bestScore {
			best, bestScore = set, score
		}
	}
	if bestScore < 3 || total == 0 {
		return nil
	}
	return &store.ValueConfidence{
		Value:      best.label,
		Confidence: math.Min(float64(bestScore)/float64(total), 0.9),
	}
}

// inferAgeRange scores 1 point per distinct keyword present; needs 2.
func (e *InferenceEngine) inferAgeRange(text string) *store.ValueConfidence {
	var best keywordSet
	bestScore := 0
	for _, set := range ageIndicators {
		score := countPresent(text, set.keywords)
		if score > bestScore {
			best, bestScore = set, score
		}
	}
	if bestScore < 2 {
		return nil
	}
	return &store.ValueConfidence{
		Value:      best.label,
		Confidence: math.Min(float64(bestScore)*0.2, 0.8),
	}
}

// inferGender needs a strict majority of one indicator class; ties and
// zero evidence report nothing.
func (e *InferenceEngine) inferGender(text string) *store.ValueConfidence {
	male := countPresent(text, maleIndicators)
	female := countPresent(text, femaleIndicators)
	if male == female {
		return nil
	}
	value, dominant := "male", male
	if female > male {
		value, dominant = "female", female
	}
	return &store.ValueConfidence{
		Value:      value,
		Confidence: math.Min(float64(dominant)/float64(male+female), 0.7),
	}
}

func (e *InferenceEngine) inferEducation(text string) *store.ValueConfidence {
	for _, set := range educationKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(text, kw) {
				return &store.ValueConfidence{Value: set.label, Confidence: 0.7}
			}
		}
	}
	return nil
}

// extractInterests keeps categories with at least 2 distinct keyword hits,
// weighted min(0.1*hits, 1.0), top five by weight.
func (e *InferenceEngine) extractInterests(text string) []WeightedInterest {
	var interests []WeightedInterest
	for _, set := range interestKeywords {
		score := countPresent(text, set.keywords)
		if score >= 2 {
			interests = append(interests, WeightedInterest{
				Name:   set.label,
				Weight: math.Min(float64(score)*0.1, 1.0),
			})
		}
	}
	sort.SliceStable(interests, func(i, j int) bool {
		return interests[i].Weight > interests[j].Weight
	})
	if len(interests) > 5 {
		interests = interests[:5]
	}
	return interests
}

func (e *InferenceEngine) analyzeCommunicationStyle(messages []string) map[string]any {
	if len(messages) == 0 {
		return nil
	}
	n := float64(len(messages))

	totalRunes := 0
	emojiRuns := 0
	questions, exclamations := 0, 0
	formal, casual := 0, 0
	for _, msg := range messages {
		totalRunes += utf8.RuneCountInString(msg)
		emojiRuns += countEmojiRuns(msg)
		questions += strings.Count(msg, "?") + strings.Count(msg, "？")
		exclamations += strings.Count(msg, "!") + strings.Count(msg, "！")
		for _, w := range formalIndicators {
			formal += strings.Count(msg, w)
		}
		for _, w := range casualIndicators {
			casual += strings.Count(msg, w)
		}
	}

	avgLength := float64(totalRunes) / n
	emojiRatio := float64(emojiRuns) / n

	emojiFrequency := "low"
	if emojiRatio > 0.5 {
		emojiFrequency = "high"
	} else if emojiRatio > 0.2 {
		emojiFrequency = "medium"
	}

	formality := "casual"
	if formal > casual {
		formality = "formal"
	}

	lengthPreference := "short"
	if avgLength > 50 {
		lengthPreference = "detailed"
	} else if avgLength > 20 {
		lengthPreference = "medium"
	}

	return map[string]any{
		"avg_message_length":         int(avgLength),
		"emoji_frequency":            emojiFrequency,
		"emoji_per_message":          round2(emojiRatio),
		"question_tendency":          float64(questions) / n,
		"excitement_level":           float64(exclamations) / n,
		"formality":                  formality,
		"response_length_preference": lengthPreference,
	}
}

func (e *InferenceEngine) analyzeEmotionalPatterns(messages []string) map[string]any {
	if len(messages) == 0 {
		return nil
	}
	n := float64(len(messages))

	positive, negative, anxious := 0, 0, 0
	for _, msg := range messages {
		for _, w := range positiveWords {
			positive += strings.Count(msg, w)
		}
		for _, w := range negativeWords {
			negative += strings.Count(msg, w)
		}
		for _, w := range anxiousWords {
			anxious += strings.Count(msg, w)
		}
	}

	total := positive + negative + anxious
	positiveRatio := 0.5
	stress := "low"
	if total > 0 {
		positiveRatio = float64(positive) / float64(total)
		anxiousRate := float64(anxious) / n
		if anxiousRate > 0.5 {
			stress = "high"
		} else if anxiousRate > 0.2 {
			stress = "medium"
		}
	}

	return map[string]any{
		"positive_ratio":      round2(positiveRatio),
		"emotional_stability": round2(1 - float64(negative)/n),
		"stress_level":        stress,
		"anxiety_indicators":  anxious,
	}
}

// countPresent counts how many of the keywords occur at least once.
func countPresent(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// countEmojiRuns counts maximal runs of consecutive emoji runes, matching
// a regex character-class-plus scan.
func countEmojiRuns(s string) int {
	runs := 0
	inRun := false
	for _, r := range s {
		if isEmojiRune(r) {
			if !inRun {
				runs++
				inRun = true
			}
		} else {
			inRun = false
		}
	}
	return runs
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols and pictographs
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport and map
		return true
	case r >= 0x1F1E0 && r <= 0x1F1FF: // flags
		return true
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
