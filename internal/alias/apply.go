package alias

import (
	"context"
	"errors"
	"fmt"
)

// Applied records one executed (or deliberately skipped) alias write.
type Applied struct {
	Op       Op
	Skipped  bool   // an IfAbsent op found the alias already claimed
	Previous string // prior target, empty when the alias was new
}

// Apply executes ops in order against the store. IfAbsent ops consult
// the store first and skip when the alias already exists, which gives
// series aliases their first-claim-wins behavior. All other ops are
// plain overwrites: concurrent appliers race last-writer-wins, and
// the promotion model accepts that rather than locking.
//
// Apply stops at the first store error; ops already applied stay
// applied. Re-running the same op list converges on the same table.
func Apply(ctx context.Context, store Store, ops []Op) ([]Applied, error) {
	results := make([]Applied, 0, len(ops))

	for _, op := range ops {
		prev, err := store.Get(ctx, op.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			prev = ""
		case err != nil:
			return results, fmt.Errorf("reading alias %q: %w", op.Name, err)
		}

		if op.IfAbsent && prev != "" {
			results = append(results, Applied{Op: op, Skipped: true, Previous: prev})
			continue
		}

		if err := store.Set(ctx, op.Name, op.Version); err != nil {
			return results, fmt.Errorf("pointing alias %q at %q: %w", op.Name, op.Version, err)
		}
		results = append(results, Applied{Op: op, Previous: prev})
	}

	return results, nil
}
