package highlight

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/rtm"
)

// Provider is the slice of the task-manager API the selector uses.
type Provider interface {
	CreateTimeline(ctx context.Context, token string) (string, error)
	ListTasks(ctx context.Context, token, listID, filter string) ([]rtm.TaskEntry, error)
	AddTag(ctx context.Context, token, timeline string, ref rtm.TaskRef, tag string) error
	RemoveTag(ctx context.Context, token, timeline string, ref rtm.TaskRef, tag string) error
	Configured() bool
}

// TokenSource yields a valid provider auth token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Result summarizes one selection run.
type Result struct {
	SelectedCount int      `json:"selected_count"`
	SelectedIDs   []string `json:"selected_ids,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Selector picks the day's highlighted tasks: a band of old stalled
// tasks and a band of fresh ones, verified against the provider, scored
// and labeled. Two labels are involved: the user-owned opt-out label is
// never written, only the transient system label is.
type Selector struct {
	db       *sql.DB
	provider Provider
	tokens   TokenSource
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
	randF    func() float64
}

// NewSelector creates a highlight selector.
func NewSelector(database *sql.DB, provider Provider, tokens TokenSource, cfg *config.Config, log *slog.Logger) *Selector {
	return &Selector{
		db:       database,
		provider: provider,
		tokens:   tokens,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		randF:    rand.Float64,
	}
}

// Run executes one full selection cycle.
func (s *Selector) Run(ctx context.Context) (*Result, error) {
	if !s.provider.Configured() {
		return &Result{Reason: "provider_not_configured"}, nil
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	s.log.Info("starting highlight selection")

	timeline, err := s.provider.CreateTimeline(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.clearSystemLabel(ctx, token, timeline); err != nil {
		return nil, err
	}

	candidates, err := s.candidatePool()
	if err != nil {
		return nil, err
	}
	s.log.Info("built candidate pool", "candidates", len(candidates))
	if len(candidates) == 0 {
		return &Result{Reason: "no_candidates"}, nil
	}

	valid := s.verify(ctx, token, candidates)
	s.log.Info("verified candidates", "valid", len(valid))
	if len(valid) == 0 {
		return &Result{Reason: "none_valid"}, nil
	}

	selected := s.selectFinal(valid)

	now := s.now().Unix()
	var ids []string
	for _, t := range selected {
		ref := rtm.TaskRef{ListID: t.ListID, SeriesID: t.TaskSeriesID, TaskID: t.TaskID}
		if err := s.provider.AddTag(ctx, token, timeline, ref, s.cfg.HighlightSystemLabel); err != nil {
			s.log.Warn("applying highlight label failed", "task_id", t.TaskID, "error", err)
			continue
		}
		if err := db.MarkSuggested(s.db, t.TaskID, now); err != nil {
			s.log.Warn("persisting suggestion failed", "task_id", t.TaskID, "error", err)
		}
		ids = append(ids, t.TaskID)
	}

	s.log.Info("highlight selection done", "selected", len(ids))
	return &Result{SelectedCount: len(ids), SelectedIDs: ids}, nil
}

// clearSystemLabel removes yesterday's transient label everywhere. The
// user-owned label is never touched.
func (s *Selector) clearSystemLabel(ctx context.Context, token, timeline string) error {
	entries, err := s.provider.ListTasks(ctx, token, "", "tag:"+s.cfg.HighlightSystemLabel)
	if err != nil {
		return err
	}

	cleared := 0
	for _, e := range entries {
		if err := s.provider.RemoveTag(ctx, token, timeline, e.Ref, s.cfg.HighlightSystemLabel); err != nil {
			s.log.Warn("clearing highlight label failed", "task_id", e.Ref.TaskID, "error", err)
			continue
		}
		cleared++
	}
	if cleared > 0 {
		s.log.Info("cleared previous highlights", "count", cleared)
	}
	return nil
}

// candidatePool builds the two bands. The bands cannot overlap: one
// requires tasks at least the old-band age, the other newer than the
// recent-band age.
func (s *Selector) candidatePool() ([]*capture.CachedTask, error) {
	now := s.now()
	f := capture.HighlightFilter{
		OldCutoff:      now.AddDate(0, 0, -s.cfg.HighlightOldBandDays).Unix(),
		RecentCutoff:   now.AddDate(0, 0, -s.cfg.HighlightRecentBandDays).Unix(),
		NagCutoff:      now.AddDate(0, 0, -s.cfg.HighlightNagWindowDays).Unix(),
		MaxSuggestions: s.cfg.HighlightMaxSuggestions,
		ExcludeLabel:   s.cfg.HighlightUserLabel,
	}

	old, err := db.SelectHighlightOld(s.db, f, s.cfg.HighlightBandLimit)
	if err != nil {
		return nil, err
	}
	recent, err := db.SelectHighlightRecent(s.db, f, s.cfg.HighlightBandLimit)
	if err != nil {
		return nil, err
	}
	return append(old, recent...), nil
}

// verify checks each candidate against the provider. Tasks completed or
// gone remotely are marked completed locally so they stop reappearing;
// lookup failures just skip the task for today.
func (s *Selector) verify(ctx context.Context, token string, candidates []*capture.CachedTask) []*capture.CachedTask {
	var valid []*capture.CachedTask
	for _, t := range candidates {
		entries, err := s.provider.ListTasks(ctx, token, t.ListID, "")
		if err != nil {
			s.log.Warn("verifying task failed", "task_id", t.TaskID, "error", err)
			continue
		}

		found := false
		completed := false
		for _, e := range entries {
			if e.Ref.SeriesID == t.TaskSeriesID && e.Ref.TaskID == t.TaskID {
				found = true
				completed = e.Completed
				break
			}
		}

		if !found || completed {
			if err := db.MarkTaskCompleted(s.db, t.TaskID); err != nil {
				s.log.Warn("marking task completed failed", "task_id", t.TaskID, "error", err)
			}
			continue
		}
		valid = append(valid, t)
	}
	return valid
}

// selectFinal scores the verified pool and keeps the top tasks. Weights
// favor never-suggested and long-stalled tasks with a random tiebreak.
func (s *Selector) selectFinal(candidates []*capture.CachedTask) []*capture.CachedTask {
	now := s.now()
	ageBonus := time.Duration(s.cfg.HighlightAgeBonusDays) * 24 * time.Hour

	type scored struct {
		task  *capture.CachedTask
		score float64
	}
	pool := make([]scored, 0, len(candidates))
	for _, t := range candidates {
		score := 0.0
		if t.TimesSuggested == 0 {
			score += 5
		}
		if now.Sub(time.Unix(t.CreatedAt, 0)) >= ageBonus {
			score += 3
		}
		score += s.randF() * 2
		pool = append(pool, scored{task: t, score: score})
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	n := s.cfg.HighlightFinalSelect
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]*capture.CachedTask, 0, n)
	for _, sc := range pool[:n] {
		out = append(out, sc.task)
	}
	return out
}
