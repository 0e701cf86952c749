// Package service runs the proposal miner (C9) and transitions proposals
// through their lifecycle (C10), grounded on
// original_source/backend/services/proposals_miner.py's mine_proposals and
// proposals_expiry.py's expire_testing_proposals.
package service

import (
	"context"
	"errors"
	"time"

	"aginosd/internal/modkit/repokit"
	perr "aginosd/internal/platform/errors"
	"aginosd/internal/services/proposals/domain"
	prepo "aginosd/internal/services/proposals/repo"
)

// MinerResult summarizes one mining run
type MinerResult struct {
	NightUpserts      int
	DoorUpserts       int
	BootstrapUpserts  int
	NightRoomUpserts  int
}

// Miner runs the four proposal queries and upserts each draft
type Miner struct {
	Store repokit.Binder[prepo.Miner]
	Q     repokit.Queryer
}

// NewMiner constructs a Miner bound to a single Queryer (not transactional;
// each query+upsert pair commits independently, matching the original's
// per-statement autocommit-within-session style)
func NewMiner(q repokit.Queryer) *Miner {
	return &Miner{Store: prepo.NewMinerPG(), Q: q}
}

// Run mines all four proposal types and upserts their drafts
func (m *Miner) Run(ctx context.Context, now time.Time) (MinerResult, error) {
	store := m.Store.Bind(m.Q)
	var result MinerResult

	night, err := store.MineNightActivityEarlySignal(ctx, now)
	if err != nil {
		return result, err
	}
	for _, d := range night {
		if err := store.Upsert(ctx, d); err != nil {
			return result, err
		}
		result.NightUpserts++
	}

	door, err := store.MineDoorAnomalyBurst(ctx, now)
	if err != nil {
		return result, err
	}
	for _, d := range door {
		if err := store.Upsert(ctx, d); err != nil {
			return result, err
		}
		result.DoorUpserts++
	}

	bootstrap, err := store.MineMVPBootstrap(ctx, now)
	if err != nil {
		return result, err
	}
	for _, d := range bootstrap {
		if err := store.Upsert(ctx, d); err != nil {
			return result, err
		}
		result.BootstrapUpserts++
	}

	nightRoom, err := store.MineNightActivityFrequent(ctx, now)
	if err != nil {
		return result, err
	}
	for _, d := range nightRoom {
		if err := store.Upsert(ctx, d); err != nil {
			return result, err
		}
		result.NightRoomUpserts++
	}

	return result, nil
}

// Lifecycle applies C10's transition table under a row lock
type Lifecycle struct {
	Tx    repokit.TxRunner
	Store repokit.Binder[prepo.LifecycleStore]
}

// NewLifecycle constructs a Lifecycle bound to a TxRunner
func NewLifecycle(tx repokit.TxRunner) *Lifecycle {
	return &Lifecycle{Tx: tx, Store: prepo.NewLifecyclePG()}
}

// ErrNotFound signals the proposal id doesn't exist
var ErrNotFound = errors.New("proposals: not found")

// Apply transitions one proposal; actor is nil for system-sourced actions
func (l *Lifecycle) Apply(ctx context.Context, id uint64, action domain.Action, actor *string, source, note string) (domain.Proposal, error) {
	var out domain.Proposal
	err := l.Tx.Tx(ctx, func(q repokit.Queryer) error {
		store := l.Store.Bind(q)
		p, ok, err := store.Locked(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		next, allowed := domain.NextState(action, p.State)
		if !allowed {
			return perr.TransitionNotAllowedf("proposals: %s not allowed from %s", action, p.State)
		}
		if err := store.ApplyTransition(ctx, id, action, p.State, next, actor, source, note); err != nil {
			return err
		}
		p.State = next
		out = p
		return nil
	})
	if err != nil {
		return domain.Proposal{}, err
	}
	return out, nil
}

// AutoExpireTesting applies AUTO_EXPIRE_TEST to every TESTING proposal whose
// test_until < now, under row lock, matching proposals_expiry.py
func (l *Lifecycle) AutoExpireTesting(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := l.Tx.Tx(ctx, func(q repokit.Queryer) error {
		store := l.Store.Bind(q)
		ids, err := store.TestingExpiredLocked(ctx, now)
		if err != nil {
			return err
		}
		for _, id := range ids {
			p, ok, err := store.Locked(ctx, id)
			if err != nil {
				return err
			}
			if !ok || p.State != domain.StateTesting {
				continue
			}
			if err := store.ApplyTransition(ctx, id, domain.ActionAutoExpireTest, p.State, domain.StateNew, nil, "system", "test expired -> NEW"); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	return expired, err
}
