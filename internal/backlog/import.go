package backlog

import (
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/db"
	"github.com/mkoskin/inflow/internal/errors"
)

// ImportInput contains parameters for a bulk backlog import.
type ImportInput struct {
	// Text is the exported task dump: a markdown list, or plain text
	// with one task per line.
	Text string
}

// ImportOutput reports what the import did.
type ImportOutput struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped_empty"`
}

// Import stores the dump as pending backlog items. Markdown list items
// are preferred as task boundaries; a dump without any list structure
// falls back to one task per line.
func Import(database *sql.DB, input ImportInput) (*ImportOutput, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, errors.NewInvalidRequest("text is required")
	}

	items, skipped := extractItems(input.Text)
	if len(items) == 0 {
		return nil, errors.NewInvalidRequest("no tasks found in import text")
	}

	now := time.Now().Unix()
	err := db.WithTx(database, func(tx *sql.Tx) error {
		for _, raw := range items {
			b := &capture.BacklogItem{
				ID:        newULID(),
				CreatedAt: now,
				RawText:   raw,
				Status:    capture.BacklogPending,
			}
			if err := db.InsertBacklogItem(tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ImportOutput{Imported: len(items), Skipped: skipped}, nil
}

// extractItems pulls task lines out of the dump. Markdown list items
// win when present; otherwise every non-empty line is a task.
func extractItems(input string) (items []string, skipped int) {
	src := []byte(input)
	md := goldmark.New()
	doc := md.Parser().Parse(gtext.NewReader(src))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindListItem {
			return ast.WalkContinue, nil
		}
		item := strings.TrimSpace(nodeText(n, src))
		if item != "" {
			items = append(items, item)
		}
		return ast.WalkSkipChildren, nil
	})
	if len(items) > 0 {
		return items, 0
	}

	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			skipped++
			continue
		}
		items = append(items, line)
	}
	return items, skipped
}

// nodeText collects the raw text under a node.
func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
