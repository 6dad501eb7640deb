package krm

import (
	"context"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/logging"
)

// Ghost keeps a superseded device allocation alive until the kicks that may
// read it have completed. A ghost is tracked like any other resource.
type Ghost struct {
	Resource

	mem     *devmem.Allocation
	release []func()
}

// Memory returns the retained allocation.
func (g *Ghost) Memory() *devmem.Allocation { return g.mem }

// Ghost detaches mem from r. The ghost inherits every kick reference of r and
// r becomes untracked, ready for a fresh allocation. release functions run
// when the ghost is reaped; they free handles that lived alongside mem.
func (m *Manager) Ghost(r *Resource, mem *devmem.Allocation, release ...func()) *Ghost {
	g := &Ghost{
		mem:     mem,
		release: release,
	}
	g.label = r.label + " (ghost)"

	m.mu.Lock()
	g.inCurrent = r.inCurrent
	g.fence = r.fence
	if r.inCurrent {
		for i, x := range m.current {
			if x == r {
				m.current[i] = &g.Resource
				break
			}
		}
	}
	r.inCurrent = false
	r.fence = 0
	m.ghosts = append(m.ghosts, g)
	m.mu.Unlock()

	logging.Logger().Debug("krm: ghosted", "resource", r.label, "bytes", mem.Size(), "fence", g.fence)
	return g
}

// Retire releases mem, which r has stopped using. If hardware may still read
// it the allocation is ghosted and freed by a later Reap, otherwise it is
// freed immediately. It reports whether a ghost was created.
func (m *Manager) Retire(r *Resource, mem *devmem.Allocation, release ...func()) bool {
	if mem == nil {
		return false
	}
	if m.IsNeeded(r) {
		m.Ghost(r, mem, release...)
		return true
	}
	m.heap.Free(mem)
	for _, fn := range release {
		fn()
	}
	return false
}

// Reap frees every ghost no longer needed by hardware and returns how many
// were freed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	var dead []*Ghost
	kept := m.ghosts[:0]
	for _, g := range m.ghosts {
		if m.neededLocked(&g.Resource) {
			kept = append(kept, g)
		} else {
			dead = append(dead, g)
		}
	}
	clear(m.ghosts[len(kept):])
	m.ghosts = kept
	m.mu.Unlock()

	for _, g := range dead {
		m.heap.Free(g.mem)
		for _, fn := range g.release {
			fn()
		}
	}
	if len(dead) > 0 {
		logging.Logger().Debug("krm: reaped ghosts", "count", len(dead))
	}
	return len(dead)
}

// Ghosts returns the number of ghosts waiting to be reaped.
func (m *Manager) Ghosts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ghosts)
}

// Drain submits outstanding work, waits for every ghost to become free and
// reaps them.
func (m *Manager) Drain(ctx context.Context) error {
	if err := m.Flush(ctx, KickWaitForTA|KickWaitFor3D|KickLastInScene); err != nil {
		return err
	}
	m.mu.Lock()
	pending := make([]*Ghost, len(m.ghosts))
	copy(pending, m.ghosts)
	m.mu.Unlock()

	for _, g := range pending {
		if err := m.WaitUntilNotNeeded(ctx, &g.Resource); err != nil {
			return err
		}
	}
	m.Reap()
	return nil
}

// WaitIdle submits outstanding work and waits until every submitted kick has
// completed, then reaps all ghosts.
func (m *Manager) WaitIdle(ctx context.Context) error {
	if err := m.Flush(ctx, KickWaitForTA|KickWaitFor3D|KickLastInScene); err != nil {
		return err
	}
	idle := Resource{label: "idle"}
	m.mu.Lock()
	idle.fence = m.submitted
	m.mu.Unlock()

	if err := m.WaitUntilNotNeeded(ctx, &idle); err != nil {
		return err
	}
	m.Reap()
	return nil
}
