package netns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runtime manages the set of Machines that make up a simulated topology. It
// has no analog in the original's per-process global; it exists here purely
// so cmd/netsimd can create and tear down every machine in a topology
// together (spec §4.5's "scheduling model": one runtime per machine, no
// state shared between them, but something has to own the collection).
type Runtime struct {
	log *slog.Logger

	mu       sync.Mutex
	machines map[*Machine]struct{}
}

// NewRuntime returns an empty Runtime.
func NewRuntime(log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{log: log, machines: make(map[*Machine]struct{})}
}

// NewMachine creates a Machine with its own network namespace and dedicated
// thread, and registers it with the runtime for bulk teardown via Close.
func (r *Runtime) NewMachine(ctx context.Context) (*Machine, error) {
	m, err := newMachine(ctx, r.log.With(slog.String("component", "machine")))
	if err != nil {
		return nil, fmt.Errorf("netns: new machine: %w", err)
	}
	r.mu.Lock()
	r.machines[m] = struct{}{}
	r.mu.Unlock()
	return m, nil
}

// Close closes every machine the runtime created.
func (r *Runtime) Close() error {
	r.mu.Lock()
	machines := make([]*Machine, 0, len(r.machines))
	for m := range r.machines {
		machines = append(machines, m)
	}
	r.machines = make(map[*Machine]struct{})
	r.mu.Unlock()

	for _, m := range machines {
		if err := m.Close(); err != nil {
			return err
		}
	}
	return nil
}
