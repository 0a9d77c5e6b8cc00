package worker

import (
	"strings"

	"github.com/mkoskin/inflow/internal/capture"
)

// Tag vocabulary. The actionable tag marks next actions; the keyword
// tags are matched against the clarified text.
const (
	TagActionable = "#na"
	TagHealth     = "#terveys"
	TagTax        = "#vero"
	TagChristmas  = "#joulu"
)

// projectMarker separates the shortname from the outcome name in a
// project record's task name.
const projectMarker = "§§§"

// CommitEntry is one create-task request derived from a clarification.
type CommitEntry struct {
	// SmartAdd is the full Smart Add string sent to the provider: name,
	// tags and optional due date.
	SmartAdd string
	// Name is the bare task name without tags.
	Name string
	Tags []string
	// ProjectID groups the entry under a project shortname; nil for
	// standalone actions.
	ProjectID *string
}

// BuildEntries turns an approved clarification into its create-task
// requests. Projects always yield exactly two entries: the project
// record first (never actionable), then its first action (always
// actionable). Everything else yields a single actionable entry.
func BuildEntries(clar *capture.Clarification) []CommitEntry {
	switch clar.Kind {
	case capture.KindProject:
		return projectEntries(clar)
	default:
		return []CommitEntry{actionEntry(clar)}
	}
}

func projectEntries(clar *capture.Clarification) []CommitEntry {
	p := clar.Project
	base := firstNonEmpty(p.Name, clar.Text, "Projekti")
	shortname := strings.ToUpper(strings.TrimSpace(p.Shortname))
	projectID := shortname

	record := CommitEntry{
		Name:      shortname + " - " + projectMarker + " - " + base,
		Tags:      keywordTags(clar),
		ProjectID: &projectID,
	}
	record.SmartAdd = assemble(record.Name, record.Tags, "")

	actionName := firstNonEmpty(p.FirstAction, clar.Text, "Tehtävä")
	if !strings.HasPrefix(actionName, shortname+" --- ") {
		actionName = shortname + " --- " + actionName
	}
	action := CommitEntry{
		Name:      actionName,
		Tags:      append([]string{TagActionable}, keywordTags(clar)...),
		ProjectID: &projectID,
	}
	action.SmartAdd = assemble(action.Name, action.Tags, clar.DueDate)

	return []CommitEntry{record, action}
}

// actionEntry covers standalone next actions and approved
// non-actionables alike: approval overrides the model's hesitation.
func actionEntry(clar *capture.Clarification) CommitEntry {
	name := clar.Text
	if clar.Action != nil && clar.Action.Action != "" {
		name = clar.Action.Action
	}
	name = firstNonEmpty(name, "Tehtävä")

	e := CommitEntry{
		Name: name,
		Tags: append([]string{TagActionable}, keywordTags(clar)...),
	}
	e.SmartAdd = assemble(e.Name, e.Tags, clar.DueDate)
	return e
}

// keywordTags scans the clarification text for the tag vocabulary.
func keywordTags(clar *capture.Clarification) []string {
	var pieces []string
	pieces = append(pieces, clar.Text)
	if clar.Project != nil {
		pieces = append(pieces, clar.Project.Name, clar.Project.FirstAction)
	}
	if clar.Action != nil {
		pieces = append(pieces, clar.Action.Action)
	}
	text := strings.ToLower(strings.Join(pieces, " "))

	var tags []string
	if strings.Contains(text, "terveys") {
		tags = append(tags, TagHealth)
	}
	if strings.Contains(text, "vero") {
		tags = append(tags, TagTax)
	}
	if strings.Contains(text, "joulu") {
		tags = append(tags, TagChristmas)
	}
	return tags
}

func assemble(name string, tags []string, dueDate string) string {
	parts := []string{name}
	if len(tags) > 0 {
		parts = append(parts, strings.Join(tags, " "))
	}
	if dueDate != "" {
		parts = append(parts, "^"+dueDate)
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
