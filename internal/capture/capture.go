package capture

// ClarifyStatus tracks AI clarification progress on a capture.
type ClarifyStatus string

const (
	ClarifyPending           ClarifyStatus = "pending"
	ClarifyInProgress        ClarifyStatus = "in_progress"
	ClarifyCompleted         ClarifyStatus = "completed"
	ClarifyFailed            ClarifyStatus = "failed"
	ClarifyPermanentlyFailed ClarifyStatus = "permanently_failed"
)

// DecisionStatus tracks the human approval decision on a capture.
// proposed is the only non-terminal state; approved and rejected are final.
type DecisionStatus string

const (
	DecisionProposed DecisionStatus = "proposed"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// CommitStatus tracks the external task-creation outcome for a capture.
//
// unknown is a trap state: once a commit outcome cannot be determined
// (timeout, partial multi-request sequence), no automatic retry is ever
// allowed because the external system has no idempotency key.
type CommitStatus string

const (
	CommitPending           CommitStatus = "pending"
	CommitCommitted         CommitStatus = "committed"
	CommitFailed            CommitStatus = "failed"
	CommitAuthFailed        CommitStatus = "auth_failed"
	CommitUnknown           CommitStatus = "unknown"
	CommitPermanentlyFailed CommitStatus = "permanently_failed"
)

// Capture is the central entity: one row per raw input, carrying its
// clarification, decision, and commit sub-states.
type Capture struct {
	// ID is a ULID that uniquely identifies this capture
	ID string `json:"id"`

	// CreatedAt is the Unix timestamp when the capture was created
	CreatedAt int64 `json:"created_at"`

	// RawText is the unmodified captured input
	RawText string `json:"raw_text"`

	// Source indicates where the capture originated ("email", "manual", "backlog")
	Source string `json:"source"`

	// SourceID is an optional per-source dedup key (e.g. a Message-Id)
	SourceID *string `json:"source_id,omitempty"`

	// SourceLink is an optional URL back to the original input
	SourceLink *string `json:"source_link,omitempty"`

	// Clarification sub-state
	ClarifyStatus   ClarifyStatus `json:"clarify_status"`
	ClarifyAttempts int           `json:"clarify_attempts"`
	LastClarifyAt   *int64        `json:"last_clarify_at,omitempty"`
	// ClarifyJSON holds the provider payload verbatim on success, or a
	// structured error marker on failure (operator visibility).
	ClarifyJSON *string `json:"clarify_json,omitempty"`

	// Decision sub-state
	DecisionStatus DecisionStatus `json:"decision_status"`
	DecisionAt     *int64         `json:"decision_at,omitempty"`
	DecisionNotes  *string        `json:"decision_notes,omitempty"`

	// Commit sub-state
	CommitStatus   CommitStatus `json:"commit_status"`
	CommitAttempts int          `json:"commit_attempts"`
	LastCommitAt   *int64       `json:"last_commit_at,omitempty"`
	CommitError    *string      `json:"commit_error,omitempty"`

	// External identifiers of the first created task, set once committed
	TaskID       *string `json:"task_id,omitempty"`
	TaskSeriesID *string `json:"task_series_id,omitempty"`
	ListID       *string `json:"list_id,omitempty"`
}

// Decided reports whether the human decision has been made.
func (c *Capture) Decided() bool {
	return c.DecisionStatus != DecisionProposed
}

// AnchorStatus is the lifecycle state of a daily reminder anchor.
type AnchorStatus string

const (
	AnchorActive  AnchorStatus = "active"
	AnchorExpired AnchorStatus = "expired"
)

// AnchorKindApproval is the only anchor kind currently in use.
const AnchorKindApproval = "approval_anchor"

// Anchor is a daily singleton reminder record. At most one active anchor
// with ValidUntil >= today may exist at any time.
type Anchor struct {
	ID        string
	CreatedAt int64
	Kind      string
	Status    AnchorStatus

	// ValidUntil is a calendar date in YYYY-MM-DD form (UTC); the anchor
	// covers pending-approval reminders through that date.
	ValidUntil string

	// ExternalState is an opaque JSON blob recording the provider outcome
	// (committed / already_exists / unknown plus ids or error).
	ExternalState *string
}

// CachedTask is a read-through cache row of external task-manager state,
// consumed by the daily highlight selector.
type CachedTask struct {
	TaskID       string
	TaskSeriesID string
	ListID       string
	Name         string
	CreatedAt    int64

	// ProjectID links the task to its parent project; nil means the task
	// is standalone and eligible for highlighting.
	ProjectID *string

	Completed bool
	Tags      []string

	TimesSuggested  int
	LastSuggestedAt *int64
	LastSyncedAt    int64
}

// HighlightFilter carries the resolved exclusion thresholds for one
// highlight selection run. Cutoffs are unix seconds computed from the
// run's wall clock.
type HighlightFilter struct {
	// OldCutoff bounds the older band: tasks created at or before it.
	OldCutoff int64
	// RecentCutoff bounds the recent band: tasks created at or after it.
	RecentCutoff int64
	// NagCutoff readmits over-suggested tasks whose last suggestion is
	// at or before it.
	NagCutoff int64
	// MaxSuggestions is the suggestion count at which a task is rested.
	MaxSuggestions int
	// ExcludeLabel is the user opt-out label.
	ExcludeLabel string
}

// BacklogStatus is the lifecycle state of a bulk-imported backlog item.
type BacklogStatus string

const (
	BacklogPending    BacklogStatus = "pending"
	BacklogProcessing BacklogStatus = "processing"
	BacklogProcessed  BacklogStatus = "processed"
	BacklogFailed     BacklogStatus = "failed"
)

// BacklogItem is one bulk-imported line awaiting its slow drain into the
// standard clarify, approve, commit pipeline.
type BacklogItem struct {
	ID              string
	CreatedAt       int64
	RawText         string
	Status          BacklogStatus
	ClarifyAttempts int
	ProcessedAt     *int64

	// CaptureID links to the capture created by a successful drain.
	CaptureID *string
}

// ProviderAuth is the persisted external task-manager credential.
type ProviderAuth struct {
	Token    string
	Perms    string
	Username string
	UserID   string

	// Valid records the outcome of the latest token check. An invalid
	// token is kept so the operator can inspect it.
	Valid         bool
	LastCheckedAt int64
}
