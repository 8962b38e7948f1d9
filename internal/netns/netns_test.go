package netns_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/netsim/netsim/internal/netns"
)

// TestMachineRunsSubmittedTasks covers the basic Do contract: a submitted
// function runs on the machine's dedicated goroutine and Do blocks until it
// completes.
func TestMachineRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt := netns.NewRuntime(nil)
	defer rt.Close()

	m, err := rt.NewMachine(ctx)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	ran := make(chan struct{})
	if err := m.Do(ctx, func() { close(ran) }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Fatalf("task did not run before Do returned")
	}
}

// TestSpawnJoinReturnsValue covers the spawn/JoinHandle contract: Join
// returns the task's value and ok == true for a task that ran to
// completion.
func TestSpawnJoinReturnsValue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt := netns.NewRuntime(nil)
	defer rt.Close()

	m, err := rt.NewMachine(ctx)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	handle := netns.Spawn(m, func() int { return 42 })
	value, ok, err := handle.Join(ctx)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !ok {
		t.Fatalf("Join: ok = false, want true")
	}
	if value != 42 {
		t.Fatalf("Join: value = %d, want 42", value)
	}
}

// TestSpawnJoinRecoversPanic covers spec §4.5's Err(panic) join outcome: a
// task that panics must not crash the machine's runtime goroutine, and
// Join must surface the panic as an error.
func TestSpawnJoinRecoversPanic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt := netns.NewRuntime(nil)
	defer rt.Close()

	m, err := rt.NewMachine(ctx)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	handle := netns.Spawn(m, func() int {
		panic("boom")
	})
	_, _, err = handle.Join(ctx)
	if err == nil {
		t.Fatalf("Join: expected error from panicking task")
	}

	// The machine's runtime goroutine must have survived the panic and
	// still accept new tasks.
	ran := make(chan struct{})
	if err := m.Do(ctx, func() { close(ran) }); err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Fatalf("machine did not survive a panicking task")
	}
}

// TestDoAfterCloseReturnsErrMachineClosed covers the Machine lifecycle
// invariant: once closed, Do must not block forever or panic, but report
// ErrMachineClosed.
func TestDoAfterCloseReturnsErrMachineClosed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt := netns.NewRuntime(nil)
	m, err := rt.NewMachine(ctx)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := m.Do(ctx, func() {}); !errors.Is(err, netns.ErrMachineClosed) {
		t.Fatalf("Do after close: got %v, want ErrMachineClosed", err)
	}
}

// TestMultipleMachinesAreIndependent covers spec §4.5's "no state shared
// across machines" scheduling model at the Runtime level: each machine
// created by the same Runtime gets its own goroutine and can run tasks
// concurrently with the others.
func TestMultipleMachinesAreIndependent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt := netns.NewRuntime(nil)
	defer rt.Close()

	const n = 4
	machines := make([]*netns.Machine, n)
	for i := range machines {
		m, err := rt.NewMachine(ctx)
		if err != nil {
			t.Fatalf("NewMachine %d: %v", i, err)
		}
		machines[i] = m
	}

	release := make(chan struct{})
	started := make(chan int, n)
	for i, m := range machines {
		i, m := i, m
		go func() {
			_ = m.Do(ctx, func() {
				started <- i
				<-release
			})
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(3 * time.Second):
			t.Fatalf("not all machines ran concurrently: only %d started", i)
		}
	}
	close(release)
}
