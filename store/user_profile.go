package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Relationship levels derived from the intimacy score.
const (
	RelationshipStranger     = "stranger"
	RelationshipAcquaintance = "acquaintance"
	RelationshipFamiliar     = "familiar"
	RelationshipFriend       = "friend"
	RelationshipCloseFriend  = "close_friend"
	RelationshipConfidant    = "confidant"
)

// relationshipLabels are the Chinese display names used in prompt text.
var relationshipLabels = map[string]string{
	RelationshipStranger:     "陌生人",
	RelationshipAcquaintance: "初识",
	RelationshipFamiliar:     "熟人",
	RelationshipFriend:       "朋友",
	RelationshipCloseFriend:  "好友",
	RelationshipConfidant:    "挚友",
}

// RelationshipLabel returns the Chinese display name for a stored level,
// falling back to the raw value for anything unrecognized.
func RelationshipLabel(level string) string {
	if label, ok := relationshipLabels[level]; ok {
		return label
	}
	return level
}

// RelationshipLevelFor maps an intimacy score to its relationship level.
func RelationshipLevelFor(score int64) string {
	switch {
	case score < 10:
		return RelationshipStranger
	case score < 30:
		return RelationshipAcquaintance
	case score < 60:
		return RelationshipFamiliar
	case score < 100:
		return RelationshipFriend
	case score < 200:
		return RelationshipCloseFriend
	default:
		return RelationshipConfidant
	}
}

// ValueConfidence is an inferred attribute plus the confidence of the
// inference, in [0, 1].
type ValueConfidence struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// BehaviorEvent is one recorded desktop interaction.
type BehaviorEvent struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UserProfile is the long-lived per-user record. Trait and preference values
// may be strings or numeric scores depending on which analyzer wrote them.
type UserProfile struct {
	UserID            string         `json:"user_id"`
	CreatedAt         string         `json:"created_at"`
	LastSeen          string         `json:"last_seen"`
	TotalInteractions int64          `json:"total_interactions"`
	IntimacyScore     int64          `json:"intimacy_score"`
	RelationshipLevel string         `json:"relationship_level"`
	Interests         []string       `json:"interests"`
	PersonalityTraits map[string]any `json:"personality_traits"`
	Preferences       map[string]any `json:"preferences"`
	ChatStyle         map[string]any `json:"chat_style"`

	Occupation *ValueConfidence `json:"occupation_data,omitempty"`
	AgeRange   *ValueConfidence `json:"age_data,omitempty"`
	Gender     *ValueConfidence `json:"gender_data,omitempty"`
	Education  *ValueConfidence `json:"education_data,omitempty"`

	CommunicationStyle map[string]any     `json:"communication_style,omitempty"`
	EmotionalPattern   map[string]any     `json:"emotional_pattern,omitempty"`
	CurrentMood        string             `json:"current_mood,omitempty"`
	Motivations        map[string]float64 `json:"motivations,omitempty"`
	LastDeepAnalysis   string             `json:"last_deep_analysis,omitempty"`
}

const (
	chatHistoryCap = 500
	behaviorsCap   = 200

	// profileRefreshTTL caps how often the background refresh may touch a
	// profile even if the marker key is cleared early.
	profileRefreshTTL = 10 * time.Minute
)

// UserProfileStore manages long-term per-user state: the profile hash, the
// chat history ring, and the behavior ring.
type UserProfileStore struct {
	kv KV

	now func() time.Time
}

func NewUserProfileStore(kv KV) *UserProfileStore {
	return &UserProfileStore{kv: kv, now: time.Now}
}

func profileKey(userID string) string     { return "user:" + userID + ":profile" }
func chatHistoryKey(userID string) string { return "user:" + userID + ":chat_history" }
func behaviorsKey(userID string) string   { return "user:" + userID + ":behaviors" }
func mappingKey(rawID string) string      { return "user:" + rawID + ":mapping" }
func profileUpdateKey(userID string) string {
	return "user:" + userID + ":last_profile_update"
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// GetOrCreateUserID maps a raw external id to a stable internal id. The
// mapping record is persisted under user:{raw_id}:mapping for every raw id,
// so the resolution survives restarts and stays readable by external
// tooling. The anonymous id "default" gets a time-salted id so each desktop
// keeps its own identity; any other raw id maps deterministically.
func (s *UserProfileStore) GetOrCreateUserID(ctx context.Context, rawID string) (string, error) {
	if rawID == "" {
		rawID = "default"
	}

	id, err := s.kv.Get(ctx, mappingKey(rawID))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if rawID == "default" {
		id = md5Hex("default_" + s.now().Format(timeFormat))
	} else {
		id = md5Hex(rawID)
	}
	if err := s.kv.Set(ctx, mappingKey(rawID), id, 0); err != nil {
		return "", errors.Wrap(err, "persist user id mapping")
	}
	return id, nil
}

// Exists reports whether a profile record exists for the user.
func (s *UserProfileStore) Exists(ctx context.Context, userID string) (bool, error) {
	return s.kv.Exists(ctx, profileKey(userID))
}

// Init writes the initial profile record unless one already exists.
func (s *UserProfileStore) Init(ctx context.Context, userID string) error {
	exists, err := s.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	now := s.now().Format(timeFormat)
	fields := map[string]string{
		"user_id":            userID,
		"created_at":         now,
		"last_seen":          now,
		"total_interactions": "0",
		"intimacy_score":     "0",
		"relationship_level": RelationshipStranger,
		"interests":          "[]",
		"personality_traits": "{}",
		"preferences":        "{}",
		"chat_style":         "{}",
	}
	return errors.Wrap(s.kv.HSet(ctx, profileKey(userID), fields), "init profile")
}

// Get returns the decoded profile, or ErrNotFound.
func (s *UserProfileStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	data, err := s.kv.HGetAll(ctx, profileKey(userID))
	if err != nil {
		return nil, errors.Wrap(err, "get profile")
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return decodeProfile(data), nil
}

func decodeProfile(data map[string]string) *UserProfile {
	p := &UserProfile{
		UserID:            data["user_id"],
		CreatedAt:         data["created_at"],
		LastSeen:          data["last_seen"],
		RelationshipLevel: data["relationship_level"],
		CurrentMood:       data["current_mood"],
		LastDeepAnalysis:  data["last_deep_analysis"],
		Interests:         []string{},
		PersonalityTraits: map[string]any{},
		Preferences:       map[string]any{},
		ChatStyle:         map[string]any{},
	}
	p.TotalInteractions, _ = strconv.ParseInt(data["total_interactions"], 10, 64)
	p.IntimacyScore, _ = strconv.ParseInt(data["intimacy_score"], 10, 64)

	// Nested fields are JSON on the wire; malformed values decode to empty.
	_ = json.Unmarshal([]byte(data["interests"]), &p.Interests)
	_ = json.Unmarshal([]byte(data["personality_traits"]), &p.PersonalityTraits)
	_ = json.Unmarshal([]byte(data["preferences"]), &p.Preferences)
	_ = json.Unmarshal([]byte(data["chat_style"]), &p.ChatStyle)

	for field, dst := range map[string]**ValueConfidence{
		"occupation_data": &p.Occupation,
		"age_data":        &p.AgeRange,
		"gender_data":     &p.Gender,
		"education_data":  &p.Education,
	} {
		if raw := data[field]; raw != "" {
			var vc ValueConfidence
			if err := json.Unmarshal([]byte(raw), &vc); err == nil {
				*dst = &vc
			}
		}
	}
	if raw := data["communication_style"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &p.CommunicationStyle)
	}
	if raw := data["emotional_pattern"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &p.EmotionalPattern)
	}
	if raw := data["motivations"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &p.Motivations)
	}
	return p
}

// UpdateLastSeen stamps the profile with the current time.
func (s *UserProfileStore) UpdateLastSeen(ctx context.Context, userID string) error {
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{
		"last_seen": s.now().Format(timeFormat),
	})
}

// IncrementInteractions bumps total_interactions and returns the new count.
func (s *UserProfileStore) IncrementInteractions(ctx context.Context, userID string) (int64, error) {
	return s.kv.HIncrBy(ctx, profileKey(userID), "total_interactions", 1)
}

// SaveChatMessage appends a message to the long-term history ring.
func (s *UserProfileStore) SaveChatMessage(ctx context.Context, userID, role, content string) error {
	msg := ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: s.now().Format(timeFormat),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal history message")
	}
	if err := s.kv.RPush(ctx, chatHistoryKey(userID), string(raw)); err != nil {
		return errors.Wrap(err, "push history message")
	}
	return s.kv.LTrim(ctx, chatHistoryKey(userID), -chatHistoryCap, -1)
}

// GetChatHistory returns the most recent limit messages (default 50).
func (s *UserProfileStore) GetChatHistory(ctx context.Context, userID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.kv.LRange(ctx, chatHistoryKey(userID), int64(-limit), -1)
	if err != nil {
		return nil, errors.Wrap(err, "get chat history")
	}
	return decodeMessages(items), nil
}

// RecordBehavior appends a behavior event to the behavior ring.
func (s *UserProfileStore) RecordBehavior(ctx context.Context, userID, behaviorType string, metadata map[string]any) error {
	event := BehaviorEvent{
		Type:      behaviorType,
		Timestamp: s.now().Format(timeFormat),
		Metadata:  metadata,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal behavior event")
	}
	if err := s.kv.RPush(ctx, behaviorsKey(userID), string(raw)); err != nil {
		return errors.Wrap(err, "push behavior event")
	}
	return s.kv.LTrim(ctx, behaviorsKey(userID), -behaviorsCap, -1)
}

// GetBehaviors returns the most recent limit events, oldest first. A
// non-positive limit returns the whole ring.
func (s *UserProfileStore) GetBehaviors(ctx context.Context, userID string, limit int) ([]BehaviorEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := s.kv.LRange(ctx, behaviorsKey(userID), start, -1)
	if err != nil {
		return nil, errors.Wrap(err, "get behaviors")
	}
	events := make([]BehaviorEvent, 0, len(items))
	for _, item := range items {
		var event BehaviorEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// AddInterests unions new tags into the interest list, preserving the order
// in which tags were first seen.
func (s *UserProfileStore) AddInterests(ctx context.Context, userID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	interests := []string{}
	if raw, err := s.kv.HGet(ctx, profileKey(userID), "interests"); err == nil {
		_ = json.Unmarshal([]byte(raw), &interests)
	}

	seen := make(map[string]bool, len(interests))
	for _, tag := range interests {
		seen[tag] = true
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		interests = append(interests, tag)
		seen[tag] = true
	}

	raw, err := json.Marshal(interests)
	if err != nil {
		return errors.Wrap(err, "marshal interests")
	}
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{"interests": string(raw)})
}

// UpdateIntimacy atomically adds delta to the intimacy score, re-derives the
// relationship level, and returns both.
func (s *UserProfileStore) UpdateIntimacy(ctx context.Context, userID string, delta int64) (int64, string, error) {
	score, err := s.kv.HIncrBy(ctx, profileKey(userID), "intimacy_score", delta)
	if err != nil {
		return 0, "", errors.Wrap(err, "bump intimacy")
	}
	level := RelationshipLevelFor(score)
	if err := s.kv.HSet(ctx, profileKey(userID), map[string]string{
		"relationship_level": level,
	}); err != nil {
		return score, level, err
	}
	return score, level, nil
}

func (s *UserProfileStore) mergeJSONField(ctx context.Context, userID, field string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	merged := map[string]any{}
	if raw, err := s.kv.HGet(ctx, profileKey(userID), field); err == nil {
		_ = json.Unmarshal([]byte(raw), &merged)
	}
	for k, v := range updates {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", field)
	}
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{field: string(raw)})
}

// MergeTraits merges new personality traits into the profile; new keys win.
func (s *UserProfileStore) MergeTraits(ctx context.Context, userID string, traits map[string]any) error {
	return s.mergeJSONField(ctx, userID, "personality_traits", traits)
}

// MergePreferences merges new preferences into the profile; new keys win.
func (s *UserProfileStore) MergePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	return s.mergeJSONField(ctx, userID, "preferences", prefs)
}

// ApplyAnalysis conditionally applies the non-empty parts of a structured
// LLM analysis payload to the profile.
func (s *UserProfileStore) ApplyAnalysis(ctx context.Context, userID string, interests []string, personality, preferences map[string]any) error {
	if err := s.AddInterests(ctx, userID, interests); err != nil {
		return err
	}
	if err := s.MergeTraits(ctx, userID, personality); err != nil {
		return err
	}
	return s.MergePreferences(ctx, userID, preferences)
}

func (s *UserProfileStore) setJSONField(ctx context.Context, userID, field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", field)
	}
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{field: string(raw)})
}

// Inferred-attribute setters used by the background analyzers.

func (s *UserProfileStore) SetOccupation(ctx context.Context, userID string, vc ValueConfidence) error {
	return s.setJSONField(ctx, userID, "occupation_data", vc)
}

func (s *UserProfileStore) SetAgeRange(ctx context.Context, userID string, vc ValueConfidence) error {
	return s.setJSONField(ctx, userID, "age_data", vc)
}

func (s *UserProfileStore) SetGender(ctx context.Context, userID string, vc ValueConfidence) error {
	return s.setJSONField(ctx, userID, "gender_data", vc)
}

func (s *UserProfileStore) SetEducation(ctx context.Context, userID string, vc ValueConfidence) error {
	return s.setJSONField(ctx, userID, "education_data", vc)
}

func (s *UserProfileStore) SetCommunicationStyle(ctx context.Context, userID string, style map[string]any) error {
	return s.setJSONField(ctx, userID, "communication_style", style)
}

func (s *UserProfileStore) SetEmotionalPattern(ctx context.Context, userID string, pattern map[string]any) error {
	return s.setJSONField(ctx, userID, "emotional_pattern", pattern)
}

func (s *UserProfileStore) SetMotivations(ctx context.Context, userID string, motivations map[string]float64) error {
	return s.setJSONField(ctx, userID, "motivations", motivations)
}

func (s *UserProfileStore) SetCurrentMood(ctx context.Context, userID, mood string) error {
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{"current_mood": mood})
}

func (s *UserProfileStore) SetLastDeepAnalysis(ctx context.Context, userID string) error {
	return s.kv.HSet(ctx, profileKey(userID), map[string]string{
		"last_deep_analysis": s.now().Format(timeFormat),
	})
}

// BuildContextPrompt renders the profile as a short Chinese system-prompt
// block, or "" when the user has no profile yet.
func (s *UserProfileStore) BuildContextPrompt(ctx context.Context, userID string) (string, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	parts := []string{"你和主人的关系是：" + RelationshipLabel(p.RelationshipLevel)}

	if len(p.Interests) > 0 {
		interests := p.Interests
		if len(interests) > 5 {
			interests = interests[:5]
		}
		parts = append(parts, "主人的兴趣爱好包括："+strings.Join(interests, "、"))
	}

	if len(p.PersonalityTraits) > 0 {
		keys := make([]string, 0, len(p.PersonalityTraits))
		for k := range p.PersonalityTraits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 3 {
			keys = keys[:3]
		}
		traits := make([]string, 0, len(keys))
		for _, k := range keys {
			traits = append(traits, fmt.Sprintf("%s(%v)", k, p.PersonalityTraits[k]))
		}
		parts = append(parts, "主人的性格特点："+strings.Join(traits, "、"))
	}

	if p.IntimacyScore > 50 {
		parts = append(parts, "你们已经比较熟悉了，可以更亲密和随意一些")
	}

	return "【用户画像】\n" + strings.Join(parts, "\n") + "\n\n请根据这些信息，以更个性化的方式回复主人。", nil
}

// UpdatedWithin reports whether the profile-refresh marker is younger than d.
func (s *UserProfileStore) UpdatedWithin(ctx context.Context, userID string, d time.Duration) (bool, error) {
	raw, err := s.kv.Get(ctx, profileUpdateKey(userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return false, nil
	}
	return s.now().Sub(t) < d, nil
}

// MarkProfileUpdated stamps the refresh marker with a 10-minute TTL.
func (s *UserProfileStore) MarkProfileUpdated(ctx context.Context, userID string) error {
	return s.kv.Set(ctx, profileUpdateKey(userID), s.now().Format(timeFormat), profileRefreshTTL)
}

// ListProfileUserIDs returns the internal ids of every stored profile,
// sorted for deterministic iteration.
func (s *UserProfileStore) ListProfileUserIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, "user:*:profile")
	if err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, "user:"), ":profile")
		if id != "" && id != key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountUsers returns the number of stored profiles.
func (s *UserProfileStore) CountUsers(ctx context.Context) (int, error) {
	ids, err := s.ListProfileUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
