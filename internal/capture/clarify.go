package capture

import (
	"encoding/json"
	"strings"

	"github.com/mkoskin/inflow/internal/errors"
)

// ClarifyKind is the classification variant of a clarification result.
type ClarifyKind string

const (
	KindProject       ClarifyKind = "project"
	KindNextAction    ClarifyKind = "next_action"
	KindNonActionable ClarifyKind = "non_actionable"
)

// Clarification is the validated interpretation of a raw capture. Exactly
// one variant is populated according to Kind: Project for KindProject,
// Action for KindNextAction. KindNonActionable carries only the common
// fields.
type Clarification struct {
	Kind       ClarifyKind `json:"kind"`
	Text       string      `json:"text"` // clarified text, normalized phrasing
	Confidence float64     `json:"confidence"`
	Context    string      `json:"context,omitempty"`  // optional @context tag
	DueDate    string      `json:"due_date,omitempty"` // optional YYYY-MM-DD
	Notes      string      `json:"notes,omitempty"`

	Project *ProjectClarification `json:"project,omitempty"`
	Action  *ActionClarification  `json:"action,omitempty"`
}

// ProjectClarification carries the project-variant fields.
type ProjectClarification struct {
	Name      string `json:"name"`
	Shortname string `json:"shortname"` // short uppercase identifier, e.g. "AUTO"
	// FirstAction is the project's first concrete step, prefixed
	// "SHORTNAME --- " by the provider contract.
	FirstAction string `json:"first_action"`
}

// ActionClarification carries the standalone-action variant fields.
type ActionClarification struct {
	Action string `json:"action"`
}

// clarifyWire is the provider's JSON schema. confidence_score is a pointer
// so a missing field can be distinguished from a zero score.
type clarifyWire struct {
	Type             string   `json:"type"`
	ClarifiedText    string   `json:"clarified_text"`
	ProjectName      string   `json:"project_name"`
	ProjectShortname string   `json:"project_shortname"`
	NextAction       string   `json:"next_action"`
	SuggestedContext string   `json:"suggested_context"`
	DueDate          string   `json:"due_date"`
	Notes            string   `json:"notes"`
	ConfidenceScore  *float64 `json:"confidence_score"`
}

// ParseClarification validates a raw provider payload and maps it onto the
// tagged union. The minimum required shape is a recognized type plus a
// numeric confidence field; anything less is a clarification failure.
func ParseClarification(raw []byte) (*Clarification, error) {
	var w clarifyWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.NewInvalidRequest("clarification payload is not valid JSON: " + err.Error())
	}
	if w.ConfidenceScore == nil {
		return nil, errors.NewInvalidRequest("clarification payload missing confidence_score")
	}

	c := &Clarification{
		Text:       strings.TrimSpace(w.ClarifiedText),
		Confidence: *w.ConfidenceScore,
		Context:    strings.TrimSpace(w.SuggestedContext),
		DueDate:    strings.TrimSpace(w.DueDate),
		Notes:      strings.TrimSpace(w.Notes),
	}

	switch strings.TrimSpace(w.Type) {
	case "project":
		c.Kind = KindProject
		c.Project = &ProjectClarification{
			Name:        strings.TrimSpace(w.ProjectName),
			Shortname:   strings.ToUpper(strings.TrimSpace(w.ProjectShortname)),
			FirstAction: strings.TrimSpace(w.NextAction),
		}
	case "action", "next_action":
		// The provider historically answered both; normalize.
		c.Kind = KindNextAction
		c.Action = &ActionClarification{Action: strings.TrimSpace(w.NextAction)}
	case "non_actionable":
		c.Kind = KindNonActionable
	default:
		return nil, errors.NewInvalidRequest("clarification payload has unrecognized type " + strings.TrimSpace(w.Type))
	}

	return c, nil
}

// ValidShortname reports whether a project shortname satisfies the
// 2-6 character contract required for commit.
func ValidShortname(s string) bool {
	n := len([]rune(s))
	return n >= 2 && n <= 6
}
