package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lysyi3m/manga-reader/app/blob"
)

type move struct {
	from, to string
}

// journal records blob moves made inside a transaction so they can be
// reversed if the transaction does not commit.
type journal struct {
	blobs blob.Storage
	moves []move
}

// move renames from to to. A missing source is not an error: the move is
// then a no-op and nothing is recorded.
func (j *journal) move(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	err := j.blobs.Move(ctx, from, to)
	if errors.Is(err, blob.ErrNotExist) {
		slog.Debug("Nothing to move", "from", from, "to", to)
		return nil
	}
	if err != nil {
		return err
	}
	j.moves = append(j.moves, move{from: from, to: to})
	return nil
}

// rollback reverses recorded moves, newest first.
func (j *journal) rollback() {
	ctx := context.Background()
	for i := len(j.moves) - 1; i >= 0; i-- {
		m := j.moves[i]
		if err := j.blobs.Move(ctx, m.to, m.from); err != nil {
			slog.Error("Failed to roll back blob move", "from", m.to, "to", m.from, "error", err)
		}
	}
	j.moves = nil
}
