package ingest

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/mkoskin/inflow/internal/errors"
	"github.com/mkoskin/inflow/internal/ops"
)

// Message is one inbound raw capture from an external source.
type Message struct {
	// ID is the source's stable per-message identifier, used for
	// idempotent ingestion.
	ID   string
	Text string
	// Link points back at the original message, when the source has one.
	Link string
}

// Source yields inbound messages. Fetch returns whatever is currently
// available; the poller handles deduplication, so returning the same
// message twice is harmless.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Message, error)
	Configured() bool
}

// Poller turns inbound messages into proposed captures. Each message id
// is ingested at most once.
type Poller struct {
	db     *sql.DB
	source Source
	log    *slog.Logger
}

// NewPoller creates an ingestion poller for one source.
func NewPoller(database *sql.DB, source Source, log *slog.Logger) *Poller {
	return &Poller{db: database, source: source, log: log}
}

// RunOnce fetches and ingests one batch. Already-seen messages are
// skipped silently; other per-message failures are logged and the batch
// continues.
func (p *Poller) RunOnce(ctx context.Context) error {
	if !p.source.Configured() {
		p.log.Debug("ingestion source not configured, skipping cycle")
		return nil
	}

	messages, err := p.source.Fetch(ctx)
	if err != nil {
		return err
	}

	ingested := 0
	for _, msg := range messages {
		if msg.ID == "" || msg.Text == "" {
			p.log.Warn("skipping malformed inbound message", "source", p.source.Name())
			continue
		}

		id := msg.ID
		input := ops.SubmitInput{
			RawText:  msg.Text,
			Source:   p.source.Name(),
			SourceID: &id,
		}
		if msg.Link != "" {
			link := msg.Link
			input.SourceLink = &link
		}

		_, err := ops.Submit(p.db, input)
		if err != nil {
			if errors.Is(err, errors.ErrConflict) {
				continue
			}
			p.log.Error("ingesting message failed",
				"source", p.source.Name(), "source_id", msg.ID, "error", err)
			continue
		}
		ingested++
	}

	if ingested > 0 {
		p.log.Info("ingested inbound messages",
			"source", p.source.Name(), "count", ingested)
	}
	return nil
}
