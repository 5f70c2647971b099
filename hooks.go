package gradsync

import (
	"context"

	"github.com/tsukuba-hpcs/gradsync/types"
)

// Hook dispatch helpers shared by both trainer variants.
//
// Hooks run in background goroutines so a slow callback never blocks the
// training step. Hook errors are logged and dropped; they never fail the
// step that fired them.

func fireTopologyChanged(h types.Hooks, logger types.Logger, added, removed []string) {
	if h.OnTopologyChanged == nil {
		return
	}
	go func() {
		if err := h.OnTopologyChanged(context.Background(), added, removed); err != nil {
			logger.Warn("topology-changed hook failed", "error", err)
		}
	}()
}

func fireStepCompleted(h types.Hooks, logger types.Logger, step uint64, loss float64) {
	if h.OnStepCompleted == nil {
		return
	}
	go func() {
		if err := h.OnStepCompleted(context.Background(), step, loss); err != nil {
			logger.Warn("step-completed hook failed", "step", step, "error", err)
		}
	}()
}

func fireError(h types.Hooks, logger types.Logger, stepErr error) {
	if h.OnError == nil {
		return
	}
	go func() {
		if err := h.OnError(context.Background(), stepErr); err != nil {
			logger.Warn("error hook failed", "error", err)
		}
	}()
}
