package repo

import (
	"context"
	"encoding/json"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/events/domain"

	"github.com/google/uuid"
)

type writerBinder struct{}

// NewWriterPG constructs a binder for the Postgres-backed event writer
func NewWriterPG() repokit.Binder[domain.WriterPort] { return writerBinder{} }

// Bind implements repokit.Binder
func (writerBinder) Bind(q repokit.Queryer) domain.WriterPort { return &pgWriter{q: q} }

type pgWriter struct{ q repokit.Queryer }

// Write inserts one freshly ingested sensor event
func (s *pgWriter) Write(ctx context.Context, e domain.Event) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO events (id, ts, category, room, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, e.Timestamp.UTC(), string(e.Category), e.Room, e.EntityID, string(payload))
	return err
}
