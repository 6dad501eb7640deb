// Package krm is the kick resource manager: it tracks which GPU resources are
// referenced by hardware kicks that have not completed yet.
//
// A kick is a batch of hardware work. While a kick is being built, every
// resource a draw call uses is attached to it. Submitting the kick (Flush)
// stamps the attached resources with the submission index returned by the
// Kicker; the resource stays needed until the Kicker reports that index as
// completed.
//
// A resource is in one of four states:
//
//	StateUnused     never referenced by a kick, safe to free
//	StateCompleted  referenced only by completed kicks, safe to free
//	StateCurrent    referenced by the kick being built: flush, then wait
//	StateSubmitted  referenced by a submitted kick: wait only
//
// WaitUntilNotNeeded drives a resource to one of the first two states.
package krm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/logging"
)

// Manager errors.
var (
	// ErrKickFailed is returned when submitting a kick fails.
	ErrKickFailed = errors.New("krm: kick failed")

	// ErrWaitTimeout is returned when a resource is still needed after the
	// retry budget is exhausted.
	ErrWaitTimeout = errors.New("krm: timed out waiting for hardware")
)

const (
	// DefaultWaitRetries is the default number of completion polls.
	DefaultWaitRetries = 10000

	// DefaultPollInterval is the default delay between completion polls.
	DefaultPollInterval = 50 * time.Microsecond
)

// State describes how outstanding hardware work references a resource.
type State int

const (
	// StateUnused means no kick ever referenced the resource.
	StateUnused State = iota
	// StateCompleted means every kick that referenced it has completed.
	StateCompleted
	// StateCurrent means the kick being built references it.
	StateCurrent
	// StateSubmitted means a submitted, incomplete kick references it.
	StateSubmitted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnused:
		return "Unused"
	case StateCompleted:
		return "Completed"
	case StateCurrent:
		return "Current"
	case StateSubmitted:
		return "Submitted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Resource is the tracking record embedded in every shareable GPU object.
// Its fields are guarded by the Manager.
type Resource struct {
	label     string
	inCurrent bool
	fence     uint64
}

// SetLabel sets the name used in log messages.
func (r *Resource) SetLabel(label string) { r.label = label }

// Label returns the name used in log messages.
func (r *Resource) Label() string { return r.label }

// Config holds the wait policy of a Manager.
type Config struct {
	// MaxRetries is the number of completion polls before a wait fails.
	// Defaults to DefaultWaitRetries if <= 0.
	MaxRetries int

	// PollInterval is the delay between polls.
	// Defaults to DefaultPollInterval if <= 0.
	PollInterval time.Duration
}

// Manager tracks resource references of in-flight kicks.
//
// Manager is safe for concurrent use. Its lock is a leaf: the Kicker and the
// heap are called with it held and must not call back into the Manager.
type Manager struct {
	mu sync.Mutex

	kicker Kicker
	heap   *devmem.Heap
	cfg    Config

	current   []*Resource
	submitted uint64
	kicks     uint64
	ghosts    []*Ghost
}

// New creates a manager submitting through kicker and releasing ghost memory
// to heap.
func New(kicker Kicker, heap *devmem.Heap, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultWaitRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Manager{
		kicker: kicker,
		heap:   heap,
		cfg:    cfg,
	}
}

// Attach records that the kick being built references r.
func (m *Manager) Attach(r *Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.inCurrent {
		return
	}
	r.inCurrent = true
	m.current = append(m.current, r)
}

func (m *Manager) neededLocked(r *Resource) bool {
	if r.inCurrent {
		return true
	}
	return r.fence != 0 && r.fence > m.kicker.Completed()
}

// IsNeeded reports whether outstanding hardware work may still read r.
func (m *Manager) IsNeeded(r *Resource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.neededLocked(r)
}

// IsInUse reports whether the kick being built references r.
func (m *Manager) IsInUse(r *Resource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.inCurrent
}

// State returns the tracking state of r.
func (m *Manager) State(r *Resource) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.inCurrent:
		return StateCurrent
	case r.fence == 0:
		return StateUnused
	case r.fence > m.kicker.Completed():
		return StateSubmitted
	default:
		return StateCompleted
	}
}

// Flush submits the kick being built. It does nothing when no resource is
// attached. On failure the attached resources stay in the current kick.
func (m *Manager) Flush(ctx context.Context, flags KickFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(ctx, flags)
}

func (m *Manager) flushLocked(ctx context.Context, flags KickFlags) error {
	if len(m.current) == 0 {
		return nil
	}
	idx, err := m.kicker.Kick(ctx, flags)
	if err != nil {
		logging.Logger().Warn("krm: kick failed", "resources", len(m.current), "err", err)
		return fmt.Errorf("%w: %v", ErrKickFailed, err)
	}
	for _, r := range m.current {
		r.inCurrent = false
		r.fence = idx
	}
	m.current = m.current[:0]
	m.submitted = idx
	m.kicks++
	logging.Logger().Debug("krm: kick", "index", idx, "flags", flags)
	return nil
}

// WaitUntilNotNeeded blocks until no outstanding hardware work references r.
// A resource referenced by the kick being built forces that kick first. The
// wait gives up after the configured number of polls with ErrWaitTimeout.
func (m *Manager) WaitUntilNotNeeded(ctx context.Context, r *Resource) error {
	m.mu.Lock()
	if r.inCurrent {
		if err := m.flushLocked(ctx, KickWaitForTA|KickWaitFor3D); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	needed := m.neededLocked(r)
	m.mu.Unlock()
	if !needed {
		return nil
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for range m.cfg.MaxRetries {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrWaitTimeout, r.label, ctx.Err())
		case <-ticker.C:
		}
		if !m.IsNeeded(r) {
			return nil
		}
	}
	logging.Logger().Warn("krm: wait timed out", "resource", r.label, "retries", m.cfg.MaxRetries)
	return fmt.Errorf("%w: %s after %d polls", ErrWaitTimeout, r.label, m.cfg.MaxRetries)
}

// RemoveFromAllLists forgets every reference to r. Use it only once r is
// known to be safe to free.
func (m *Manager) RemoveFromAllLists(r *Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.inCurrent {
		m.current = slices.DeleteFunc(m.current, func(x *Resource) bool { return x == r })
		r.inCurrent = false
	}
	r.fence = 0
}

// Kicks returns the number of kicks submitted so far.
func (m *Manager) Kicks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kicks
}

// LastSubmitted returns the submission index of the most recent kick.
func (m *Manager) LastSubmitted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted
}
