package netns

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
)

// Machine is a namespace join-handle plus a task submission channel (spec
// §4.5 "Machine"): created, it accepts task submissions; once closed, its
// stop channel is closed, further submissions are refused, and the
// namespace thread exits.
type Machine struct {
	ID uuid.UUID

	commands chan func()
	stop     chan struct{}
	done     chan struct{}
	log      *slog.Logger
}

// newMachine spawns the machine's dedicated goroutine, locks it to its own
// OS thread, and blocks until the namespace is set up (or setup fails).
func newMachine(ctx context.Context, log *slog.Logger) (*Machine, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{
		ID:       uuid.New(),
		commands: make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
	}

	ready := make(chan error, 1)
	go m.run(ctx, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m, nil
}

func (m *Machine) run(ctx context.Context, ready chan<- error) {
	runtime.LockOSThread()
	defer close(m.done)

	if err := setupNamespace(); err != nil {
		ready <- fmt.Errorf("%w: %w", ErrNamespaceSetup, err)
		return
	}
	setParentDeathSignal(m.log)
	ready <- nil

	m.log.Debug("machine namespace ready", slog.String("machine_id", m.ID.String()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case task, ok := <-m.commands:
			if !ok {
				return
			}
			task()
		}
	}
}

// submit hands task to the machine's runtime goroutine, reporting false
// instead of panicking if the machine has already been closed.
func (m *Machine) submit(task func()) bool {
	select {
	case m.commands <- task:
		return true
	case <-m.stop:
		return false
	case <-m.done:
		return false
	}
}

// Do runs fn on the machine's dedicated thread, inside its namespace, and
// blocks until fn returns or ctx is done.
func (m *Machine) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ok := m.submit(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return ErrMachineClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the machine's stop channel and waits for its goroutine to
// finish any task already running and exit (spec §4.5 "Dropping the
// machine").
func (m *Machine) Close() error {
	close(m.stop)
	<-m.done
	return nil
}

// JoinHandle is returned by Spawn; joining it yields the task's return
// value, an error if the task panicked, or ok=false if the machine closed
// before it ran (spec §4.5 "spawn(future) -> JoinHandle").
type JoinHandle[T any] struct {
	done     chan struct{}
	value    T
	panicVal any
	notRun   bool
}

// Spawn submits fn to run on m's dedicated thread and returns immediately
// with a handle for its eventual result.
func Spawn[T any](m *Machine, fn func() T) *JoinHandle[T] {
	h := &JoinHandle[T]{done: make(chan struct{})}
	ok := m.submit(func() {
		defer func() {
			if r := recover(); r != nil {
				h.panicVal = r
			}
			close(h.done)
		}()
		h.value = fn()
	})
	if !ok {
		h.notRun = true
		close(h.done)
	}
	return h
}

// Join blocks until the task completes, returning its value. Ok is false
// if the machine closed before the task ran. An error is returned only if
// the task panicked.
func (h *JoinHandle[T]) Join(ctx context.Context) (value T, ok bool, err error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
	if h.notRun {
		return value, false, nil
	}
	if h.panicVal != nil {
		if pErr, isErr := h.panicVal.(error); isErr {
			return value, false, fmt.Errorf("netns: task panicked: %w", pErr)
		}
		return value, false, fmt.Errorf("netns: task panicked: %v", h.panicVal)
	}
	return h.value, true, nil
}
