package db

import (
	"database/sql"
	"encoding/json"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
)

const cachedTaskColumns = `
	task_id, task_series_id, list_id, name, created_at, project_id,
	completed, tags_json, times_suggested, last_suggested_at, last_synced_at
`

// UpsertCachedTask stores or refreshes a task in the local cache.
// Suggestion counters survive refreshes.
func UpsertCachedTask(q Querier, t *capture.CachedTask) error {
	var tagsJSON sql.NullString
	if len(t.Tags) > 0 {
		data, err := json.Marshal(t.Tags)
		if err != nil {
			return errors.NewInternal(err)
		}
		tagsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.Exec(`
		INSERT INTO cached_tasks (`+cachedTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			task_series_id = excluded.task_series_id,
			list_id = excluded.list_id,
			name = excluded.name,
			project_id = excluded.project_id,
			completed = excluded.completed,
			tags_json = excluded.tags_json,
			last_synced_at = excluded.last_synced_at
	`, t.TaskID, t.TaskSeriesID, t.ListID, t.Name, t.CreatedAt,
		toNullString(t.ProjectID), boolToInt(t.Completed), tagsJSON,
		t.TimesSuggested, toNullInt64(t.LastSuggestedAt), t.LastSyncedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetCachedTask retrieves a cached task by external task id.
func GetCachedTask(q Querier, taskID string) (*capture.CachedTask, error) {
	row := q.QueryRow(`SELECT `+cachedTaskColumns+` FROM cached_tasks WHERE task_id = ?`, taskID)
	t, err := scanCachedTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(taskID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return t, nil
}

// highlightEligible is the shared exclusion filter for highlight
// candidates: incomplete standalone tasks without the user opt-out
// label, not suggested too often recently. The label is matched as a
// quoted JSON element so "highlight" never matches "highlight-today".
const highlightEligible = `
	completed = 0
	AND project_id IS NULL
	AND (tags_json IS NULL OR instr(tags_json, ?) = 0)
	AND (times_suggested < ?
		OR last_suggested_at IS NULL
		OR last_suggested_at <= ?)
`

// SelectHighlightOld returns the band of older eligible tasks, least
// recently suggested first with never-suggested tasks ahead of all.
func SelectHighlightOld(q Querier, f capture.HighlightFilter, limit int) ([]*capture.CachedTask, error) {
	return listCachedTasks(q, `
		SELECT `+cachedTaskColumns+` FROM cached_tasks
		WHERE created_at <= ? AND `+highlightEligible+`
		ORDER BY last_suggested_at IS NOT NULL, last_suggested_at ASC
		LIMIT ?
	`, f.OldCutoff, quotedLabel(f.ExcludeLabel), f.MaxSuggestions, f.NagCutoff, limit)
}

// SelectHighlightRecent returns the band of freshly created eligible
// tasks, newest first.
func SelectHighlightRecent(q Querier, f capture.HighlightFilter, limit int) ([]*capture.CachedTask, error) {
	return listCachedTasks(q, `
		SELECT `+cachedTaskColumns+` FROM cached_tasks
		WHERE created_at >= ? AND `+highlightEligible+`
		ORDER BY created_at DESC
		LIMIT ?
	`, f.RecentCutoff, quotedLabel(f.ExcludeLabel), f.MaxSuggestions, f.NagCutoff, limit)
}

// MarkSuggested bumps the suggestion counter and timestamp for a task.
func MarkSuggested(q Querier, taskID string, now int64) error {
	result, err := q.Exec(`
		UPDATE cached_tasks
		SET times_suggested = times_suggested + 1, last_suggested_at = ?
		WHERE task_id = ?
	`, now, taskID)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(taskID)
	}
	return nil
}

// MarkTaskCompleted flags a cached task as completed.
func MarkTaskCompleted(q Querier, taskID string) error {
	_, err := q.Exec(`UPDATE cached_tasks SET completed = 1 WHERE task_id = ?`, taskID)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func listCachedTasks(q Querier, query string, args ...any) ([]*capture.CachedTask, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*capture.CachedTask
	for rows.Next() {
		t, err := scanCachedTask(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func scanCachedTask(row rowScanner) (*capture.CachedTask, error) {
	var (
		t               capture.CachedTask
		projectID       sql.NullString
		completed       int
		tagsJSON        sql.NullString
		lastSuggestedAt sql.NullInt64
	)

	err := row.Scan(
		&t.TaskID, &t.TaskSeriesID, &t.ListID, &t.Name, &t.CreatedAt,
		&projectID, &completed, &tagsJSON, &t.TimesSuggested,
		&lastSuggestedAt, &t.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ProjectID = fromNullString(projectID)
	t.Completed = completed != 0
	t.LastSuggestedAt = fromNullInt64(lastSuggestedAt)

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &t.Tags); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func quotedLabel(label string) string {
	return `"` + label + `"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
