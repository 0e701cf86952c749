// Package monitormode implements the (monitor_key, room_id|__GLOBAL__) -> mode
// lookup C11 consults to suppress or tag a rule's deviations, per spec.md's
// MonitorMode glossary entry.
package monitormode

import (
	"context"
	stdsql "database/sql"
	"errors"

	"aginosd/internal/modkit/repokit"
)

// Mode is a monitor's current operating mode
type Mode string

const (
	ModeOff  Mode = "OFF"
	ModeTest Mode = "TEST"
	ModeOn   Mode = "ON"
)

// GlobalRoom is the sentinel room id for a monitor's global setting
const GlobalRoom = "__GLOBAL__"

// Reader looks up a monitor's mode, defaulting to ON when unset
type Reader interface {
	Mode(ctx context.Context, monitorKey, roomID string) (Mode, error)
}

type binder struct{}

// NewPG constructs a binder for the Postgres monitor_modes reader
func NewPG() repokit.Binder[Reader] { return binder{} }

func (binder) Bind(q repokit.Queryer) Reader { return &pg{q: q} }

type pg struct{ q repokit.Queryer }

func (s *pg) Mode(ctx context.Context, monitorKey, roomID string) (Mode, error) {
	row := s.q.QueryRow(ctx, `
		SELECT mode FROM monitor_modes WHERE monitor_key = $1 AND room_id = $2
	`, monitorKey, roomID)
	var m string
	if err := row.Scan(&m); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			if roomID != GlobalRoom {
				return s.Mode(ctx, monitorKey, GlobalRoom)
			}
			return ModeOn, nil
		}
		return ModeOn, err
	}
	return Mode(m), nil
}
