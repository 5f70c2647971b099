// Package hooks provides the default no-op hook callbacks used by the
// trainer coordinators when the caller injects none.
package hooks

import (
	"context"

	"github.com/tsukuba-hpcs/gradsync/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements the hook callbacks.
var (
	_ func(context.Context, []string, []string) error = (*NopHooks)(nil).OnTopologyChanged
	_ func(context.Context, uint64, float64) error    = (*NopHooks)(nil).OnStepCompleted
	_ func(context.Context, error) error              = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnTopologyChanged: h.OnTopologyChanged,
		OnStepCompleted:   h.OnStepCompleted,
		OnError:           h.OnError,
	}
}

// OnTopologyChanged is a no-op implementation.
func (h *NopHooks) OnTopologyChanged(_ context.Context, _, _ []string) error {
	return nil
}

// OnStepCompleted is a no-op implementation.
func (h *NopHooks) OnStepCompleted(_ context.Context, _ uint64, _ float64) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
