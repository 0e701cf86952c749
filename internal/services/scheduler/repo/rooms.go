package repo

import (
	"context"
	"time"

	"aginosd/internal/modkit/repokit"
)

type roomsBinder struct{}

// NewRoomsPG constructs a binder for the baseline room lister
func NewRoomsPG() repokit.Binder[Rooms] { return roomsBinder{} }

func (roomsBinder) Bind(q repokit.Queryer) Rooms { return &pgRooms{q: q} }

// Rooms enumerates rooms known to a given baseline model
type Rooms interface {
	RoomsWithBaseline(ctx context.Context, modelEnd time.Time) ([]string, error)
}

type pgRooms struct{ q repokit.Queryer }

func (s *pgRooms) RoomsWithBaseline(ctx context.Context, modelEnd time.Time) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT room_id FROM baseline_room_bucket WHERE model_end = $1 ORDER BY room_id
	`, modelEnd.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}
