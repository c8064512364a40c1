// Package policy applies the multitask strategy table (spec 4.E) to the
// result of creating a run against a thread: whether the new run is
// rejected because of an inflight run, queued behind it, or created while
// the inflight runs are cancelled.
package policy

import (
	"context"

	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/model"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/storeerr"
)

// Applier applies a MultitaskStrategy to the result of store.CreateRun.
type Applier struct {
	store *store.Store
	bus   *bus.Bus
}

// NewApplier wires the Run Store and Stream Bus the Applier needs to cancel
// inflight runs.
func NewApplier(s *store.Store, b *bus.Bus) *Applier {
	return &Applier{store: s, bus: b}
}

// PreventInsert reports whether strategy requires CreateRun to be called
// with PreventInsertInInflight=true. Only "reject" does: "interrupt" and
// "rollback" must create the new run regardless of inflight state so they
// have something to hand to the picker once the inflight runs are
// cancelled — this resolves the spec's open question about the two flags
// colliding by scoping PreventInsertInInflight to "reject" alone.
func PreventInsert(strategy model.MultitaskStrategy) bool {
	return strategy == model.StrategyReject
}

// Apply applies strategy to a CreateRun result, cancelling inflight runs
// where the strategy calls for it, and returns the run the caller should
// report to the client.
func (a *Applier) Apply(ctx context.Context, result *store.CreateRunResult, strategy model.MultitaskStrategy) (*model.Run, error) {
	switch strategy {
	case model.StrategyReject:
		if len(result.Inflight) > 0 {
			return nil, storeerr.NewConflict("thread has an inflight run")
		}
		return result.NewRun, nil

	case model.StrategyEnqueue:
		return result.NewRun, nil

	case model.StrategyInterrupt, model.StrategyRollback:
		if len(result.Inflight) == 0 {
			return result.NewRun, nil
		}
		action := model.CancelInterrupt
		if strategy == model.StrategyRollback {
			action = model.CancelRollback
		}
		ids := runIDs(result.Inflight)
		if err := a.store.CancelRuns(ctx, a.bus, result.NewRun.ThreadID, ids, action); err != nil {
			return nil, err
		}
		return result.NewRun, nil

	default:
		return result.NewRun, nil
	}
}

func runIDs(runs []*model.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
