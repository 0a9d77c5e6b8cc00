package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds application tunables. Secrets (API keys, shared secrets)
// are read from the environment by the entrypoint, never from this file.
type Config struct {
	// Poll intervals, seconds
	ClarifyPollSecs int `json:"clarify_poll_secs,omitempty"`
	CommitPollSecs  int `json:"commit_poll_secs,omitempty"`
	IngestPollSecs  int `json:"ingest_poll_secs,omitempty"`

	// Worker retry ceilings
	MaxClarifyAttempts int `json:"max_clarify_attempts,omitempty"`
	MaxCommitAttempts  int `json:"max_commit_attempts,omitempty"`

	// ClarifyRetryDelaySecs is the backoff schedule for failed
	// clarifications: index attempt-1 holds the delay before that attempt.
	ClarifyRetryDelaySecs []int `json:"clarify_retry_delay_secs,omitempty"`

	// Outbound HTTP retry policy
	MaxHTTPRetries   int     `json:"max_http_retries,omitempty"`
	RetryInitialMS   int     `json:"retry_initial_ms,omitempty"`
	RetryMaxMS       int     `json:"retry_max_ms,omitempty"`
	RetryBackoffMult float64 `json:"retry_backoff_mult,omitempty"`
	LLMTimeoutSecs   int     `json:"llm_timeout_secs,omitempty"`
	RTMTimeoutSecs   int     `json:"rtm_timeout_secs,omitempty"`

	// Circuit breaker
	BreakerFailureThreshold int `json:"breaker_failure_threshold,omitempty"`
	BreakerRecoverySecs     int `json:"breaker_recovery_secs,omitempty"`

	// Daily jobs, UTC wall-clock
	HighlightsHour   int `json:"highlights_hour"`
	HighlightsMinute int `json:"highlights_minute"`
	BacklogHour      int `json:"backlog_hour"`
	BacklogMinute    int `json:"backlog_minute"`

	// Highlight selection constants. Empirically chosen in the original
	// system; kept as configuration, not rationalized.
	HighlightBandLimit      int    `json:"highlight_band_limit,omitempty"`
	HighlightFinalSelect    int    `json:"highlight_final_select,omitempty"`
	HighlightMaxSuggestions int    `json:"highlight_max_suggestions,omitempty"`
	HighlightNagWindowDays  int    `json:"highlight_nag_window_days,omitempty"`
	HighlightOldBandDays    int    `json:"highlight_old_band_days,omitempty"`
	HighlightRecentBandDays int    `json:"highlight_recent_band_days,omitempty"`
	HighlightAgeBonusDays   int    `json:"highlight_age_bonus_days,omitempty"`
	HighlightUserLabel      string `json:"highlight_user_label,omitempty"`
	HighlightSystemLabel    string `json:"highlight_system_label,omitempty"`

	// Backlog drain
	BacklogDailyLimit         int `json:"backlog_daily_limit,omitempty"`
	BacklogMaxClarifyAttempts int `json:"backlog_max_clarify_attempts,omitempty"`

	// AnchorTaskName is the exact external reminder task name; the anchor
	// manager matches on it verbatim when checking for duplicates.
	AnchorTaskName string `json:"anchor_task_name,omitempty"`

	// DBMaxOpenConns limits open database connections. If set to 1, all
	// database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle database connections. 0 means default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ClarifyPollSecs: 30,
		CommitPollSecs:  30,
		IngestPollSecs:  60,

		MaxClarifyAttempts: 5,
		MaxCommitAttempts:  5,

		// attempt 1 immediate, then 5 min, 30 min, 2 h
		ClarifyRetryDelaySecs: []int{0, 300, 1800, 7200},

		MaxHTTPRetries:   3,
		RetryInitialMS:   1000,
		RetryMaxMS:       30000,
		RetryBackoffMult: 2.0,
		LLMTimeoutSecs:   30,
		RTMTimeoutSecs:   20,

		BreakerFailureThreshold: 5,
		BreakerRecoverySecs:     60,

		HighlightsHour:   2,
		HighlightsMinute: 0,
		BacklogHour:      3,
		BacklogMinute:    0,

		HighlightBandLimit:      5,
		HighlightFinalSelect:    5,
		HighlightMaxSuggestions: 3,
		HighlightNagWindowDays:  14,
		HighlightOldBandDays:    14,
		HighlightRecentBandDays: 7,
		HighlightAgeBonusDays:   30,
		HighlightUserLabel:      "highlight",
		HighlightSystemLabel:    "highlight-today",

		BacklogDailyLimit:         5,
		BacklogMaxClarifyAttempts: 3,

		AnchorTaskName: "Tarkista GTD-hyväksynnät",
	}
}

// ClarifyRetryDelay returns the backoff delay gating the given attempt
// number (1-based). Attempts past the schedule get the last entry.
func (c *Config) ClarifyRetryDelay(attempt int) time.Duration {
	if len(c.ClarifyRetryDelaySecs) == 0 || attempt < 1 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(c.ClarifyRetryDelaySecs) {
		idx = len(c.ClarifyRetryDelaySecs) - 1
	}
	return time.Duration(c.ClarifyRetryDelaySecs[idx]) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inflow.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs. Overlay values take precedence
// for non-zero scalars; the clarify schedule is replaced wholesale when set.
func Merge(base, overlay *Config) *Config {
	result := *base

	overlayInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	overlayInt(&result.ClarifyPollSecs, overlay.ClarifyPollSecs)
	overlayInt(&result.CommitPollSecs, overlay.CommitPollSecs)
	overlayInt(&result.IngestPollSecs, overlay.IngestPollSecs)
	overlayInt(&result.MaxClarifyAttempts, overlay.MaxClarifyAttempts)
	overlayInt(&result.MaxCommitAttempts, overlay.MaxCommitAttempts)
	overlayInt(&result.MaxHTTPRetries, overlay.MaxHTTPRetries)
	overlayInt(&result.RetryInitialMS, overlay.RetryInitialMS)
	overlayInt(&result.RetryMaxMS, overlay.RetryMaxMS)
	overlayInt(&result.LLMTimeoutSecs, overlay.LLMTimeoutSecs)
	overlayInt(&result.RTMTimeoutSecs, overlay.RTMTimeoutSecs)
	overlayInt(&result.BreakerFailureThreshold, overlay.BreakerFailureThreshold)
	overlayInt(&result.BreakerRecoverySecs, overlay.BreakerRecoverySecs)
	overlayInt(&result.HighlightBandLimit, overlay.HighlightBandLimit)
	overlayInt(&result.HighlightFinalSelect, overlay.HighlightFinalSelect)
	overlayInt(&result.HighlightMaxSuggestions, overlay.HighlightMaxSuggestions)
	overlayInt(&result.HighlightNagWindowDays, overlay.HighlightNagWindowDays)
	overlayInt(&result.HighlightOldBandDays, overlay.HighlightOldBandDays)
	overlayInt(&result.HighlightRecentBandDays, overlay.HighlightRecentBandDays)
	overlayInt(&result.HighlightAgeBonusDays, overlay.HighlightAgeBonusDays)
	overlayInt(&result.BacklogDailyLimit, overlay.BacklogDailyLimit)
	overlayInt(&result.BacklogMaxClarifyAttempts, overlay.BacklogMaxClarifyAttempts)
	overlayInt(&result.DBMaxOpenConns, overlay.DBMaxOpenConns)
	overlayInt(&result.DBMaxIdleConns, overlay.DBMaxIdleConns)

	if overlay.RetryBackoffMult != 0 {
		result.RetryBackoffMult = overlay.RetryBackoffMult
	}
	if len(overlay.ClarifyRetryDelaySecs) > 0 {
		result.ClarifyRetryDelaySecs = overlay.ClarifyRetryDelaySecs
	}
	if overlay.HighlightUserLabel != "" {
		result.HighlightUserLabel = overlay.HighlightUserLabel
	}
	if overlay.HighlightSystemLabel != "" {
		result.HighlightSystemLabel = overlay.HighlightSystemLabel
	}
	if overlay.AnchorTaskName != "" {
		result.AnchorTaskName = overlay.AnchorTaskName
	}

	// Run times: hour 0 is a legitimate value, so only override when the
	// overlay sets any scheduling field at all.
	if overlay.HighlightsHour != 0 || overlay.HighlightsMinute != 0 {
		result.HighlightsHour = overlay.HighlightsHour
		result.HighlightsMinute = overlay.HighlightsMinute
	}
	if overlay.BacklogHour != 0 || overlay.BacklogMinute != 0 {
		result.BacklogHour = overlay.BacklogHour
		result.BacklogMinute = overlay.BacklogMinute
	}

	return &result
}
