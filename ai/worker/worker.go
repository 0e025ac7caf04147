// Package worker runs the background maintenance loop: it drains the
// session summary queue and refreshes stale user profiles on a fixed tick.
package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/deskpet/ai/analysis"
	"github.com/hrygo/deskpet/ai/metrics"
	"github.com/hrygo/deskpet/store"
)

// stopJoinTimeout bounds how long Stop waits for an in-flight tick.
const stopJoinTimeout = 5 * time.Second

// intimacyProgressDelta is the bonus applied when a summary reports
// relationship progress.
const intimacyProgressDelta = 2

// Config tunes the worker cadence. Zero fields fall back to the defaults.
type Config struct {
	// TickInterval is the pause between maintenance passes.
	TickInterval time.Duration
	// MaxProfilesPerTick caps how many profiles one pass may refresh.
	MaxProfilesPerTick int
	// ProfileRefreshInterval is the minimum age before a profile is
	// refreshed again.
	ProfileRefreshInterval time.Duration
	// MinNewMessages is the smallest batch of unsummarized messages worth
	// sending to the model. Queued sessions below it are dropped.
	MinNewMessages int
	// DeepAnalysisThreshold is the history size that triggers the deep
	// profile pass on top of rule inference.
	DeepAnalysisThreshold int
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval:           30 * time.Second,
		MaxProfilesPerTick:     10,
		ProfileRefreshInterval: 3 * time.Minute,
		MinNewMessages:         3,
		DeepAnalysisThreshold:  8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.MaxProfilesPerTick <= 0 {
		c.MaxProfilesPerTick = def.MaxProfilesPerTick
	}
	if c.ProfileRefreshInterval <= 0 {
		c.ProfileRefreshInterval = def.ProfileRefreshInterval
	}
	if c.MinNewMessages <= 0 {
		c.MinNewMessages = def.MinNewMessages
	}
	if c.DeepAnalysisThreshold <= 0 {
		c.DeepAnalysisThreshold = def.DeepAnalysisThreshold
	}
	return c
}

// Worker owns the maintenance loop. All failures are logged and absorbed;
// a broken tick never takes the process down, and failed summaries stay
// queued for the next tick.
type Worker struct {
	store      *store.Store
	summarizer *analysis.Summarizer
	deep       *analysis.DeepAnalyzer
	engine     *analysis.InferenceEngine
	exporter   *metrics.PrometheusExporter
	cfg        Config

	ticker  *time.Ticker
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New builds a stopped worker. The exporter may be nil.
func New(st *store.Store, sender analysis.Sender, exporter *metrics.PrometheusExporter, cfg Config) *Worker {
	return &Worker{
		store:      st,
		summarizer: analysis.NewSummarizer(sender),
		deep:       analysis.NewDeepAnalyzer(sender),
		engine:     analysis.NewInferenceEngine(),
		exporter:   exporter,
		cfg:        cfg.withDefaults(),
	}
}

// Start launches the tick loop. Calling Start on a running worker is a no-op.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.ticker = time.NewTicker(w.cfg.TickInterval)
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stopCh, w.done)
	slog.Info("background worker started",
		"tick_interval", w.cfg.TickInterval,
		"max_profiles_per_tick", w.cfg.MaxProfilesPerTick)
}

// Stop ends the loop and waits up to stopJoinTimeout for an in-flight tick.
// Calling Stop on a stopped worker is a no-op.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stopCh)
	w.ticker.Stop()
	select {
	case <-w.done:
	case <-time.After(stopJoinTimeout):
		slog.Warn("background worker tick still in flight after stop timeout")
	}
	slog.Info("background worker stopped")
}

// IsRunning reports whether the tick loop is active.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-w.ticker.C:
			w.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce executes a single maintenance pass: drain the summary queue, then
// refresh stale profiles. The ticker loop calls it; tests may call it
// directly.
func (w *Worker) RunOnce(ctx context.Context) {
	runID := shortuuid.New()
	if w.exporter != nil {
		w.exporter.RecordWorkerTick()
	}
	w.drainSummaryQueue(ctx, runID)
	w.refreshProfiles(ctx, runID)
}

func (w *Worker) drainSummaryQueue(ctx context.Context, runID string) {
	tasks, err := w.store.Sessions.SessionsToSummarize(ctx)
	if err != nil {
		slog.Warn("worker: summary queue read failed", "run", runID, "error", err)
		return
	}
	if w.exporter != nil {
		w.exporter.SetSummaryQueueDepth(len(tasks))
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.summarizeSession(ctx, runID, task.SessionID)
	}
}

func (w *Worker) summarizeSession(ctx context.Context, runID, sessionID string) {
	messages, upTo, err := w.store.Sessions.GetNewContext(ctx, sessionID)
	if err != nil {
		slog.Warn("worker: read new context failed", "run", runID, "session", sessionID, "error", err)
		w.recordSummary(false)
		return
	}
	if len(messages) < w.cfg.MinNewMessages {
		if err := w.store.Sessions.RemoveFromSummaryQueue(ctx, sessionID); err != nil {
			slog.Warn("worker: dequeue failed", "run", runID, "session", sessionID, "error", err)
		}
		slog.Debug("worker: skipping summary, too few new messages",
			"run", runID, "session", sessionID, "new_messages", len(messages))
		return
	}

	previous := ""
	prior, err := w.store.Sessions.GetSummary(ctx, sessionID)
	switch {
	case err == nil:
		previous = analysis.FormatSummaryContext(prior)
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("worker: read prior summary failed", "run", runID, "session", sessionID, "error", err)
	}

	summary, err := w.summarizer.SummarizeSession(ctx, messages, previous)
	if err != nil {
		// The task stays queued; the next tick retries it.
		slog.Warn("worker: summarization failed", "run", runID, "session", sessionID, "error", err)
		w.recordSummary(false)
		return
	}

	if err := w.store.Sessions.SaveSummary(ctx, sessionID, summary, upTo); err != nil {
		slog.Warn("worker: save summary failed", "run", runID, "session", sessionID, "error", err)
		w.recordSummary(false)
		return
	}

	if sess, err := w.store.Sessions.Get(ctx, sessionID); err == nil && sess.UserID != "" {
		w.applySummaryToProfile(ctx, sess.UserID, summary)
	}

	if err := w.store.Sessions.RemoveFromSummaryQueue(ctx, sessionID); err != nil {
		slog.Warn("worker: dequeue failed", "run", runID, "session", sessionID, "error", err)
	}
	w.recordSummary(true)
	slog.Info("worker: session summarized",
		"run", runID, "session", sessionID, "messages", len(messages), "up_to", upTo)
}

// applySummaryToProfile folds summary findings into the long-term profile:
// mentioned interests are merged, and reported relationship progress earns
// an intimacy bonus.
func (w *Worker) applySummaryToProfile(ctx context.Context, userID string, summary *store.SessionSummary) {
	if len(summary.InterestsMentioned) > 0 {
		if err := w.store.Users.AddInterests(ctx, userID, summary.InterestsMentioned); err != nil {
			slog.Warn("worker: merge interests failed", "user", userID, "error", err)
		}
	}
	progress := summary.RelationshipProgress
	if strings.Contains(progress, "进展") || strings.Contains(progress, "信任") {
		if _, _, err := w.store.Users.UpdateIntimacy(ctx, userID, intimacyProgressDelta); err != nil {
			slog.Warn("worker: intimacy bump failed", "user", userID, "error", err)
		}
	}
}

func (w *Worker) refreshProfiles(ctx context.Context, runID string) {
	userIDs, err := w.store.Users.ListProfileUserIDs(ctx)
	if err != nil {
		slog.Warn("worker: list profiles failed", "run", runID, "error", err)
		return
	}
	if len(userIDs) > w.cfg.MaxProfilesPerTick {
		userIDs = userIDs[:w.cfg.MaxProfilesPerTick]
	}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		fresh, err := w.store.Users.UpdatedWithin(ctx, userID, w.cfg.ProfileRefreshInterval)
		if err != nil {
			slog.Warn("worker: staleness check failed", "run", runID, "user", userID, "error", err)
			continue
		}
		if fresh {
			continue
		}
		w.refreshProfile(ctx, runID, userID)
	}
}

func (w *Worker) refreshProfile(ctx context.Context, runID, userID string) {
	history, err := w.store.Users.GetChatHistory(ctx, userID, 0)
	if err != nil {
		slog.Warn("worker: read history failed", "run", runID, "user", userID, "error", err)
		w.recordRefresh(false)
		return
	}

	var userText []string
	for _, m := range history {
		if m.Role == "user" {
			userText = append(userText, m.Content)
		}
	}
	w.applyRuleInference(ctx, userID, w.engine.AnalyzeMessages(userText))

	if len(history) >= w.cfg.DeepAnalysisThreshold {
		prof, err := w.store.Users.Get(ctx, userID)
		if err != nil {
			slog.Warn("worker: read profile failed", "run", runID, "user", userID, "error", err)
			w.recordRefresh(false)
			return
		}
		deep, err := w.deep.AnalyzeProfile(ctx, history, prof)
		if err != nil {
			// No refresh marker is written, so the next tick retries.
			slog.Warn("worker: deep analysis failed", "run", runID, "user", userID, "error", err)
			w.recordRefresh(false)
			return
		}
		w.applyDeepAnalysis(ctx, userID, deep)
	}

	if err := w.store.Users.MarkProfileUpdated(ctx, userID); err != nil {
		slog.Warn("worker: mark profile updated failed", "run", runID, "user", userID, "error", err)
	}
	w.recordRefresh(true)
	slog.Debug("worker: profile refreshed", "run", runID, "user", userID, "history", len(history))
}

func (w *Worker) applyRuleInference(ctx context.Context, userID string, inferred *analysis.RuleInference) {
	if inferred == nil || inferred.Empty() {
		return
	}
	if inferred.Occupation != nil {
		w.warnOn(w.store.Users.SetOccupation(ctx, userID, *inferred.Occupation), "occupation", userID)
	}
	if inferred.AgeRange != nil {
		w.warnOn(w.store.Users.SetAgeRange(ctx, userID, *inferred.AgeRange), "age_range", userID)
	}
	if inferred.Gender != nil {
		w.warnOn(w.store.Users.SetGender(ctx, userID, *inferred.Gender), "gender", userID)
	}
	if inferred.Education != nil {
		w.warnOn(w.store.Users.SetEducation(ctx, userID, *inferred.Education), "education", userID)
	}
	if len(inferred.Interests) > 0 {
		names := make([]string, 0, len(inferred.Interests))
		for _, interest := range inferred.Interests {
			names = append(names, interest.Name)
		}
		w.warnOn(w.store.Users.AddInterests(ctx, userID, names), "interests", userID)
	}
	if len(inferred.CommunicationStyle) > 0 {
		w.warnOn(w.store.Users.SetCommunicationStyle(ctx, userID, inferred.CommunicationStyle), "communication_style", userID)
	}
	if len(inferred.EmotionalPattern) > 0 {
		w.warnOn(w.store.Users.SetEmotionalPattern(ctx, userID, inferred.EmotionalPattern), "emotional_pattern", userID)
	}
}

// applyDeepAnalysis writes the model's findings through the granular profile
// setters. Only fields the model actually filled are applied; an unknown
// gender guess is treated as absent.
func (w *Worker) applyDeepAnalysis(ctx context.Context, userID string, deep *analysis.DeepAnalysis) {
	demo := deep.Demographics
	if vc := demo.Occupation; vc != nil && vc.Value != "" {
		w.warnOn(w.store.Users.SetOccupation(ctx, userID, *vc), "occupation", userID)
	}
	if vc := demo.AgeRange; vc != nil && vc.Value != "" {
		w.warnOn(w.store.Users.SetAgeRange(ctx, userID, *vc), "age_range", userID)
	}
	if vc := demo.Gender; vc != nil && vc.Value != "" && vc.Value != "unknown" {
		w.warnOn(w.store.Users.SetGender(ctx, userID, *vc), "gender", userID)
	}
	if vc := demo.Education; vc != nil && vc.Value != "" {
		w.warnOn(w.store.Users.SetEducation(ctx, userID, *vc), "education", userID)
	}
	if len(deep.InterestTags) > 0 {
		tags := make([]string, 0, len(deep.InterestTags))
		for _, tag := range deep.InterestTags {
			if tag.Tag != "" {
				tags = append(tags, tag.Tag)
			}
		}
		if len(tags) > 0 {
			w.warnOn(w.store.Users.AddInterests(ctx, userID, tags), "interests", userID)
		}
	}
	if len(deep.Personality) > 0 {
		traits := make(map[string]any, len(deep.Personality))
		for trait, score := range deep.Personality {
			traits[trait] = score
		}
		w.warnOn(w.store.Users.MergeTraits(ctx, userID, traits), "personality", userID)
	}
	if len(deep.CommunicationStyle) > 0 {
		w.warnOn(w.store.Users.SetCommunicationStyle(ctx, userID, deep.CommunicationStyle), "communication_style", userID)
	}
	if len(deep.Motivations) > 0 {
		w.warnOn(w.store.Users.SetMotivations(ctx, userID, deep.Motivations), "motivations", userID)
	}
	if deep.CurrentMood != "" {
		w.warnOn(w.store.Users.SetCurrentMood(ctx, userID, deep.CurrentMood), "current_mood", userID)
	}
	w.warnOn(w.store.Users.SetLastDeepAnalysis(ctx, userID), "last_deep_analysis", userID)
}

func (w *Worker) warnOn(err error, field, userID string) {
	if err != nil {
		slog.Warn("worker: profile write failed", "field", field, "user", userID, "error", err)
	}
}

func (w *Worker) recordSummary(ok bool) {
	if w.exporter != nil {
		w.exporter.RecordSummary(ok)
	}
}

func (w *Worker) recordRefresh(ok bool) {
	if w.exporter != nil {
		w.exporter.RecordProfileRefresh(ok)
	}
}
