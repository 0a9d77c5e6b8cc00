package highlight

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/rtm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Token(context.Context) (string, error) { return f.token, f.err }

// fakeProvider simulates the remote task list. remote is what the
// provider knows about, tagged is what carries the transient label from
// a previous run.
type fakeProvider struct {
	configured bool
	remote     []rtm.TaskEntry
	tagged     []rtm.TaskEntry
	listErr    error

	addTagErr map[string]error
	added     []string
	removed   []string
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) CreateTimeline(context.Context, string) (string, error) {
	return "tl-1", nil
}

func (f *fakeProvider) ListTasks(_ context.Context, _, _, filter string) ([]rtm.TaskEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if strings.HasPrefix(filter, "tag:") {
		return f.tagged, nil
	}
	return f.remote, nil
}

func (f *fakeProvider) AddTag(_ context.Context, _, _ string, ref rtm.TaskRef, tag string) error {
	if err := f.addTagErr[ref.TaskID]; err != nil {
		return err
	}
	f.added = append(f.added, ref.TaskID+":"+tag)
	return nil
}

func (f *fakeProvider) RemoveTag(_ context.Context, _, _ string, ref rtm.TaskRef, tag string) error {
	f.removed = append(f.removed, ref.TaskID+":"+tag)
	return nil
}

func newHighlightEnv(t *testing.T) (*sql.DB, *fakeProvider, *Selector) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	provider := &fakeProvider{configured: true}
	s := NewSelector(database, provider, &fakeTokens{token: "tok"}, config.DefaultConfig(), testLogger())
	s.randF = func() float64 { return 0.5 }
	return database, provider, s
}

// seedTask inserts a cached task aged the given number of days and
// mirrors it into the fake provider's remote list.
func seedTask(t *testing.T, database *sql.DB, provider *fakeProvider, taskID string, ageDays int) *capture.CachedTask {
	t.Helper()
	task := &capture.CachedTask{
		TaskID:       taskID,
		TaskSeriesID: "series-" + taskID,
		ListID:       "list-1",
		Name:         "Tehtävä " + taskID,
		CreatedAt:    time.Now().AddDate(0, 0, -ageDays).Unix(),
		Tags:         []string{"#na"},
		LastSyncedAt: time.Now().Unix(),
	}
	require.NoError(t, db.UpsertCachedTask(database, task))
	if provider != nil {
		provider.remote = append(provider.remote, rtm.TaskEntry{
			Ref:  rtm.TaskRef{ListID: task.ListID, SeriesID: task.TaskSeriesID, TaskID: task.TaskID},
			Name: task.Name,
		})
	}
	return task
}

func TestSelector_ProviderNotConfigured(t *testing.T) {
	_, provider, s := newHighlightEnv(t)
	provider.configured = false

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "provider_not_configured", res.Reason)
	require.Zero(t, res.SelectedCount)
}

func TestSelector_NoCandidates(t *testing.T) {
	_, _, s := newHighlightEnv(t)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "no_candidates", res.Reason)
}

func TestSelector_SelectsAndLabels(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	old := seedTask(t, database, provider, "old-1", 30)
	recent := seedTask(t, database, provider, "new-1", 2)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.SelectedCount)
	require.ElementsMatch(t, []string{old.TaskID, recent.TaskID}, res.SelectedIDs)
	require.ElementsMatch(t, []string{"old-1:highlight-today", "new-1:highlight-today"}, provider.added)

	// Suggestions are persisted for the anti-nag window
	for _, id := range res.SelectedIDs {
		cached, getErr := db.GetCachedTask(database, id)
		require.NoError(t, getErr)
		require.Equal(t, 1, cached.TimesSuggested)
		require.NotNil(t, cached.LastSuggestedAt)
	}
}

// Mid-band tasks (older than the recent band but younger than the old
// band) are never candidates.
func TestSelector_MidBandExcluded(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	seedTask(t, database, provider, "mid-1", 10)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "no_candidates", res.Reason)
}

func TestSelector_ClearsPreviousLabels(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	seedTask(t, database, provider, "old-1", 30)
	provider.tagged = []rtm.TaskEntry{
		{Ref: rtm.TaskRef{ListID: "list-1", SeriesID: "series-y", TaskID: "yesterday-1"}},
	}

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"yesterday-1:highlight-today"}, provider.removed)
}

// Tasks completed or deleted remotely are marked completed locally so
// they stop surfacing.
func TestSelector_VerificationMarksStale(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	gone := seedTask(t, database, nil, "gone-1", 30)
	done := seedTask(t, database, provider, "done-1", 25)
	provider.remote[len(provider.remote)-1].Completed = true
	alive := seedTask(t, database, provider, "alive-1", 20)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{alive.TaskID}, res.SelectedIDs)

	for _, id := range []string{gone.TaskID, done.TaskID} {
		cached, getErr := db.GetCachedTask(database, id)
		require.NoError(t, getErr)
		require.True(t, cached.Completed)
	}
}

func TestSelector_VerificationFailureSkipsRun(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	task := seedTask(t, database, provider, "old-1", 30)
	provider.listErr = fmt.Errorf("provider down")

	// clearSystemLabel is the first listing call, so the whole run fails
	_, err := s.Run(context.Background())
	require.Error(t, err)

	// Nothing was mutated locally
	cached, err := db.GetCachedTask(database, task.TaskID)
	require.NoError(t, err)
	require.False(t, cached.Completed)
	require.Zero(t, cached.TimesSuggested)
}

func TestSelector_LabelFailureSkipsPersist(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	task := seedTask(t, database, provider, "old-1", 30)
	provider.addTagErr = map[string]error{task.TaskID: fmt.Errorf("tag rejected")}

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.SelectedCount)
	require.Empty(t, res.SelectedIDs)

	// Failed labeling must not consume a suggestion slot
	cached, err := db.GetCachedTask(database, task.TaskID)
	require.NoError(t, err)
	require.Zero(t, cached.TimesSuggested)
	require.Nil(t, cached.LastSuggestedAt)
}

func TestSelector_FinalSelectionCapped(t *testing.T) {
	database, provider, s := newHighlightEnv(t)
	s.cfg.HighlightFinalSelect = 2
	for i := 0; i < 4; i++ {
		seedTask(t, database, provider, fmt.Sprintf("old-%d", i), 30+i)
	}

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.SelectedCount)
}

func TestSelectFinal_Scoring(t *testing.T) {
	_, _, s := newHighlightEnv(t)
	s.cfg.HighlightFinalSelect = 2
	// Deterministic tiebreak
	s.randF = func() float64 { return 0 }

	now := time.Now()
	fresh := &capture.CachedTask{TaskID: "fresh", CreatedAt: now.AddDate(0, 0, -2).Unix(), TimesSuggested: 1}
	neverNew := &capture.CachedTask{TaskID: "never-new", CreatedAt: now.AddDate(0, 0, -2).Unix()}
	neverOld := &capture.CachedTask{TaskID: "never-old", CreatedAt: now.AddDate(0, 0, -60).Unix()}
	suggestedOld := &capture.CachedTask{TaskID: "seen-old", CreatedAt: now.AddDate(0, 0, -60).Unix(), TimesSuggested: 2}

	// never-suggested beats age bonus beats nothing
	out := s.selectFinal([]*capture.CachedTask{fresh, suggestedOld, neverNew, neverOld})
	require.Len(t, out, 2)
	require.Equal(t, "never-old", out[0].TaskID)
	require.Equal(t, "never-new", out[1].TaskID)
}
