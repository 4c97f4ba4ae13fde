// Package cursor persists the relay's resume position.
package cursor

import (
	"context"
	"errors"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

// ErrRegression is returned by Advance when the new position is behind
// the stored one.
var ErrRegression = errors.New("cursor: sequence id would move backwards")

// Store loads and saves the cursor state. Save must be atomic: after a crash
// a later Load sees either the previous state or the new one.
type Store interface {
	Load(ctx context.Context) (model.CursorState, error)
	Save(ctx context.Context, state model.CursorState) error
}

// Get returns the last persisted sequence id, 0 when never set.
func Get(ctx context.Context, s Store) (int64, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return state.LastSequenceID, nil
}

// Advance writes next unless it would move the cursor backwards. The seed
// marker of the current state is kept.
func Advance(ctx context.Context, s Store, current, next model.CursorState) error {
	if next.LastSequenceID < current.LastSequenceID {
		return ErrRegression
	}
	if next.SeededAt == nil {
		next.SeededAt = current.SeededAt
	}
	return s.Save(ctx, next)
}
