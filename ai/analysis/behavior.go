package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/hrygo/deskpet/store"
)

// Behavior event types the desktop client reports.
const (
	BehaviorPetClick    = "pet_click"
	BehaviorPetDrag     = "pet_drag"
	BehaviorChatSession = "chat_session"
	BehaviorStateChange = "state_change"
)

// InteractionPatterns summarizes how a user touches the pet.
type InteractionPatterns struct {
	TotalInteractions int     `json:"total_interactions"`
	ClickCount        int     `json:"click_count"`
	DragCount         int     `json:"drag_count"`
	ChatCount         int     `json:"chat_count"`
	StateChangeCount  int     `json:"state_change_count"`
	ClickRatio        float64 `json:"click_ratio"`
	DragRatio         float64 `json:"drag_ratio"`
	ChatRatio         float64 `json:"chat_ratio"`
	InteractionLevel  string  `json:"interaction_level"`
	InteractionStyle  string  `json:"interaction_style"`
}

// TimePatterns describes when a user is active.
type TimePatterns struct {
	PeakHours        []int       `json:"peak_hours"`
	PeakDays         []string    `json:"peak_days"`
	TimePattern      string      `json:"time_pattern"`
	TotalActiveHours int         `json:"total_active_hours"`
	MostActiveHour   *int        `json:"most_active_hour"`
	HourDistribution map[int]int `json:"hour_distribution"`
}

// StatePreferences tallies pet state switches.
type StatePreferences struct {
	TotalStateChanges    int            `json:"total_state_changes"`
	FavoriteState        string         `json:"favorite_state,omitempty"`
	StatePreferences     map[string]int `json:"state_preferences"`
	StateChangeFrequency float64        `json:"state_change_frequency"`
}

// EngagementScore is a 0-100 composite with its per-dimension breakdown.
type EngagementScore struct {
	Score     float64            `json:"score"`
	Level     string             `json:"level"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// BehaviorReport is the full derived view over a user's behavior events.
type BehaviorReport struct {
	TotalBehaviors      int                  `json:"total_behaviors"`
	Summary             string               `json:"summary,omitempty"`
	InteractionPatterns *InteractionPatterns `json:"interaction_patterns,omitempty"`
	PersonalityTraits   map[string]string    `json:"personality_traits,omitempty"`
	TimePatterns        *TimePatterns        `json:"time_patterns,omitempty"`
	StatePreferences    *StatePreferences    `json:"state_preferences,omitempty"`
	Engagement          *EngagementScore     `json:"engagement,omitempty"`
	AnalyzedAt          string               `json:"analyzed_at,omitempty"`
}

// BehaviorSummary derives every report section from the raw events. It is
// a pure function; now is only used for the analyzed_at stamp.
func BehaviorSummary(events []store.BehaviorEvent, now time.Time) *BehaviorReport {
	if len(events) == 0 {
		return &BehaviorReport{TotalBehaviors: 0, Summary: "暂无行为数据"}
	}
	return &BehaviorReport{
		TotalBehaviors:      len(events),
		InteractionPatterns: interactionPatterns(events),
		PersonalityTraits:   personalityFromBehavior(events),
		TimePatterns:        activeTimePatterns(events),
		StatePreferences:    statePreferences(events),
		Engagement:          engagementScore(events),
		AnalyzedAt:          now.Format(time.RFC3339),
	}
}

// TypeCounts tallies events per type.
func TypeCounts(events []store.BehaviorEvent) map[string]int {
	counts := make(map[string]int, 4)
	for _, e := range events {
		t := e.Type
		if t == "" {
			t = "unknown"
		}
		counts[t]++
	}
	return counts
}

func interactionPatterns(events []store.BehaviorEvent) *InteractionPatterns {
	counts := TypeCounts(events)
	total := len(events)

	clickRatio := float64(counts[BehaviorPetClick]) / float64(total)
	dragRatio := float64(counts[BehaviorPetDrag]) / float64(total)
	chatRatio := float64(counts[BehaviorChatSession]) / float64(total)

	style := "observer"
	switch {
	case chatRatio > 0.4:
		style = "chatty"
	case dragRatio > 0.3:
		style = "controlling"
	case clickRatio > 0.5:
		style = "interactive"
	}

	return &InteractionPatterns{
		TotalInteractions: total,
		ClickCount:        counts[BehaviorPetClick],
		DragCount:         counts[BehaviorPetDrag],
		ChatCount:         counts[BehaviorChatSession],
		StateChangeCount:  counts[BehaviorStateChange],
		ClickRatio:        round2(clickRatio),
		DragRatio:         round2(dragRatio),
		ChatRatio:         round2(chatRatio),
		InteractionLevel:  interactionLevel(total, events),
		InteractionStyle:  style,
	}
}

// interactionLevel buckets events per hour over the observed span.
func interactionLevel(total int, events []store.BehaviorEvent) string {
	times := eventTimes(events)
	if len(times) < 2 {
		if total < 10 {
			return "low"
		}
		return "medium"
	}

	spanHours := maxTime(times).Sub(minTime(times)).Hours()
	if spanHours == 0 {
		spanHours = 1
	}
	perHour := float64(total) / spanHours

	switch {
	case perHour > 10:
		return "very_high"
	case perHour > 5:
		return "high"
	case perHour > 2:
		return "medium"
	case perHour > 0.5:
		return "low"
	default:
		return "very_low"
	}
}

func personalityFromBehavior(events []store.BehaviorEvent) map[string]string {
	counts := TypeCounts(events)
	days := timeSpanDays(events)

	perDay := float64(len(events)) / days
	dragFrequency := float64(counts[BehaviorPetDrag]) / float64(len(events))
	chatFrequency := float64(counts[BehaviorChatSession]) / days

	var avgChatDuration float64
	var totalChatMessages float64
	chatEvents := 0
	for _, e := range events {
		if e.Type != BehaviorChatSession {
			continue
		}
		chatEvents++
		avgChatDuration += metaNumber(e.Metadata, "duration")
		totalChatMessages += metaNumber(e.Metadata, "message_count")
	}
	if chatEvents > 0 {
		avgChatDuration = avgChatDuration / float64(chatEvents) / 1000 // ms to s
	}

	return map[string]string{
		"外向性":  mapToLevel(perDay, 2, 5, 10),
		"控制欲":  mapToLevel(dragFrequency, 0.1, 0.2, 0.4),
		"社交需求": mapToLevel(chatFrequency, 0.5, 1, 2),
		"耐心程度": mapToLevel(avgChatDuration, 60, 180, 600),
		"参与度":  mapToLevel(float64(len(counts)), 2, 4, 6),
		"使用习惯": usageHabit(perDay),
		"聊天偏好": chatPreference(avgChatDuration, totalChatMessages),
	}
}

func mapToLevel(value float64, low, mid, high float64) string {
	switch {
	case value >= high:
		return "高"
	case value >= mid:
		return "中"
	case value >= low:
		return "低"
	default:
		return "极低"
	}
}

func usageHabit(perDay float64) string {
	switch {
	case perDay > 20:
		return "重度用户"
	case perDay > 10:
		return "活跃用户"
	case perDay > 5:
		return "中度用户"
	case perDay > 1:
		return "轻度用户"
	default:
		return "偶尔使用"
	}
}

func chatPreference(avgDuration, totalMessages float64) string {
	switch {
	case avgDuration > 600:
		return "深度交流型"
	case avgDuration > 300:
		return "正常交流型"
	case avgDuration > 60:
		return "快速交流型"
	case totalMessages > 0:
		return "简短交流型"
	default:
		return "很少聊天"
	}
}

var dayNames = []string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}

func activeTimePatterns(events []store.BehaviorEvent) *TimePatterns {
	var hours, weekdays []int
	for _, t := range eventTimes(events) {
		hours = append(hours, t.Hour())
		weekdays = append(weekdays, (int(t.Weekday())+6)%7) // Monday = 0
	}
	if len(hours) == 0 {
		return nil
	}

	hourCounter := newOrderedCounter()
	for _, h := range hours {
		hourCounter.add(h)
	}
	dayCounter := newOrderedCounter()
	for _, d := range weekdays {
		dayCounter.add(d)
	}

	peakDays := make([]string, 0, 3)
	for _, d := range dayCounter.mostCommon(3) {
		peakDays = append(peakDays, dayNames[d])
	}

	top := hourCounter.mostCommon(1)
	mostActive := top[0]

	return &TimePatterns{
		PeakHours:        hourCounter.mostCommon(3),
		PeakDays:         peakDays,
		TimePattern:      timePattern(hours),
		TotalActiveHours: len(hourCounter.counts),
		MostActiveHour:   &mostActive,
		HourDistribution: hourCounter.counts,
	}
}

func timePattern(hours []int) string {
	var morning, afternoon, evening, night int
	for _, h := range hours {
		switch {
		case h >= 6 && h < 12:
			morning++
		case h >= 12 && h < 18:
			afternoon++
		case h >= 18:
			evening++
		default:
			night++
		}
	}
	total := float64(len(hours))
	switch {
	case float64(evening)/total > 0.4:
		return "evening"
	case float64(morning)/total > 0.4:
		return "morning"
	case float64(afternoon)/total > 0.4:
		return "afternoon"
	case float64(night)/total > 0.3:
		return "night"
	default:
		return "dispersed"
	}
}

func statePreferences(events []store.BehaviorEvent) *StatePreferences {
	var changes []store.BehaviorEvent
	for _, e := range events {
		if e.Type == BehaviorStateChange {
			changes = append(changes, e)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	toStates := newStringCounter()
	for _, e := range changes {
		if to := metaString(e.Metadata, "to_state"); to != "" {
			toStates.add(to)
		}
	}

	favorite := ""
	if top := toStates.mostCommon(1); len(top) > 0 {
		favorite = top[0]
	}

	return &StatePreferences{
		TotalStateChanges:    len(changes),
		FavoriteState:        favorite,
		StatePreferences:     toStates.counts,
		StateChangeFrequency: float64(len(changes)) / float64(len(events)),
	}
}

func engagementScore(events []store.BehaviorEvent) *EngagementScore {
	if len(events) == 0 {
		return &EngagementScore{Score: 0, Level: "none"}
	}

	interaction := math.Min(float64(len(events))/100, 1.0) * 30
	diversity := math.Min(float64(len(TypeCounts(events)))/8, 1.0) * 20
	timeScore := math.Min(timeSpanDays(events)/30, 1.0) * 20

	var chatMessages float64
	hasChat := false
	for _, e := range events {
		if e.Type == BehaviorChatSession {
			hasChat = true
			chatMessages += metaNumber(e.Metadata, "message_count")
		}
	}
	chatScore := 0.0
	if hasChat {
		chatScore = math.Min(chatMessages/50, 1.0) * 30
	}

	total := interaction + diversity + timeScore + chatScore
	level := "very_low"
	switch {
	case total >= 80:
		level = "very_high"
	case total >= 60:
		level = "high"
	case total >= 40:
		level = "medium"
	case total >= 20:
		level = "low"
	}

	return &EngagementScore{
		Score: round2(total),
		Level: level,
		Breakdown: map[string]float64{
			"interaction": round2(interaction),
			"diversity":   round2(diversity),
			"time_span":   round2(timeScore),
			"chat_depth":  round2(chatScore),
		},
	}
}

// eventTimes parses whatever timestamps the events carry, preferring the
// client-supplied metadata stamp over the server receive time.
func eventTimes(events []store.BehaviorEvent) []time.Time {
	var times []time.Time
	for _, e := range events {
		raw := metaString(e.Metadata, "timestamp")
		if raw == "" {
			raw = e.Timestamp
		}
		if t, ok := parseEventTime(raw); ok {
			times = append(times, t)
		}
	}
	return times
}

func parseEventTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	// Desktop clients send bare ISO stamps without a zone.
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func timeSpanDays(events []store.BehaviorEvent) float64 {
	times := eventTimes(events)
	if len(times) < 2 {
		return 1.0
	}
	span := maxTime(times).Sub(minTime(times)).Seconds() / 86400
	return math.Max(span, 1.0)
}

func minTime(ts []time.Time) time.Time {
	min := ts[0]
	for _, t := range ts[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
}

func maxTime(ts []time.Time) time.Time {
	max := ts[0]
	for _, t := range ts[1:] {
		if t.After(max) {
			max = t
		}
	}
	return max
}

func metaNumber(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// orderedCounter is a counter whose mostCommon breaks ties by first
// insertion, so results are stable across runs.
type orderedCounter struct {
	counts map[int]int
	order  []int
}

func newOrderedCounter() *orderedCounter {
	return &orderedCounter{counts: make(map[int]int)}
}

func (c *orderedCounter) add(key int) {
	if _, seen := c.counts[key]; !seen {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *orderedCounter) mostCommon(n int) []int {
	keys := make([]int, len(c.order))
	copy(keys, c.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.counts[keys[i]] > c.counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

type stringCounter struct {
	counts map[string]int
	order  []string
}

func newStringCounter() *stringCounter {
	return &stringCounter{counts: make(map[string]int)}
}

func (c *stringCounter) add(key string) {
	if _, seen := c.counts[key]; !seen {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *stringCounter) mostCommon(n int) []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.counts[keys[i]] > c.counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
