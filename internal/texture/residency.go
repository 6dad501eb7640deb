package texture

import (
	"context"
	"fmt"

	"github.com/gogpu/glesres/internal/logging"
)

// IsConsistent resolves an Unknown state and reports whether t can be
// sampled as it is. The dummy texture is always consistent.
//
// Every face needs level 0, and cube faces must be square with equal size
// and format. A mipmapped texture further needs every level of the full
// chain, each half the size of the previous one (floor 1) in the base format,
// and a power of two base.
func (m *Manager) IsConsistent(t *Texture) bool {
	switch t.consistency {
	case Consistent, Dummy:
		return true
	case Inconsistent:
		return false
	}
	t.consistency = Inconsistent
	if levelsConsistent(t) {
		t.consistency = Consistent
	}
	return t.consistency == Consistent
}

func levelsConsistent(t *Texture) bool {
	base := &t.levels[0][0]
	if !base.Defined() {
		return false
	}
	if t.target == TargetCubeMap && base.Width != base.Height {
		return false
	}
	if t.mipmapped() && t.flags&FlagNonPow2 != 0 {
		return false
	}
	n := ChainLength(base.Width, base.Height)
	for f := range t.levels {
		b := &t.levels[f][0]
		if b.Width != base.Width || b.Height != base.Height || b.Format != base.Format {
			return false
		}
		if !t.mipmapped() {
			continue
		}
		for l := 1; l < n; l++ {
			lv := &t.levels[f][l]
			w, h := levelSize(base.Width, base.Height, l)
			if lv.Width != w || lv.Height != h || lv.Format != base.Format {
				return false
			}
		}
	}
	return true
}

// CreateMemory allocates device memory laid out for the full mipmap chain
// of the current level 0. It does nothing when t already has memory.
func (m *Manager) CreateMemory(t *Texture) error {
	if t.mem != nil {
		return nil
	}
	if !t.levels[0][0].Defined() {
		return fmt.Errorf("%w: texture %d has no level 0", ErrInvalidValue, t.Name())
	}
	hw := m.hwStateFor(t)
	m.krm.Reap()
	mem, err := m.heap.Alloc(hw.size, 0, textureUsage, t.Label())
	if err != nil {
		return fmt.Errorf("texture %d: %w", t.Name(), err)
	}
	t.mem = mem
	t.hw = hw
	return nil
}

func (m *Manager) hasHostLevels(t *Texture) bool {
	for f := range t.levels {
		for l := range t.hw.levels {
			lv := &t.levels[f][l]
			if lv.storage == StorageHost && t.hw.fitsLayout(l, lv) {
				return true
			}
		}
	}
	return false
}

// protect makes the allocation of t safe to overwrite. A render target is
// waited for; anything else still read by hardware is ghosted.
func (m *Manager) protect(ctx context.Context, t *Texture) error {
	if !m.krm.IsNeeded(&t.Resource) {
		return nil
	}
	if t.renderTarget {
		return m.krm.WaitUntilNotNeeded(ctx, &t.Resource)
	}
	return m.Ghost(ctx, t)
}

// MakeResident uploads every host level of a consistent texture into device
// memory, allocating it when t was never uploaded or its layout no longer
// matches level 0. Uploaded levels drop their host copy.
func (m *Manager) MakeResident(ctx context.Context, t *Texture) error {
	if t.consistency == Dummy || t.resident {
		return nil
	}
	if !m.IsConsistent(t) {
		return fmt.Errorf("%w: texture %d", ErrInconsistent, t.Name())
	}

	t.upload.Lock()
	defer t.upload.Unlock()

	want := m.hwStateFor(t)
	if t.mem == nil || t.hw.geom != want.geom {
		// Never uploaded, or uploaded with a stale layout: both need a
		// fresh allocation.
		if err := m.unload(ctx, t, nil); err != nil {
			return err
		}
		if err := m.CreateMemory(t); err != nil {
			return err
		}
	} else if m.hasHostLevels(t) {
		if err := m.protect(ctx, t); err != nil {
			return err
		}
	}

	for f := range t.levels {
		for l := range t.hw.levels {
			lv := &t.levels[f][l]
			if lv.storage != StorageHost || !t.hw.fitsLayout(l, lv) {
				continue
			}
			if err := m.xfer.Upload(ctx, t.mem, t.hw.offset(f, l), lv.host); err != nil {
				return fmt.Errorf("texture %d: %w", t.Name(), err)
			}
			lv.setResident()
		}
	}
	t.resident = true
	logging.Logger().Debug("texture: resident", "name", t.Name(), "bytes", t.mem.Size())
	return nil
}

// Ghost moves the allocation of t into a ghost that lives until hardware no
// longer reads it, and gives t a fresh allocation holding the same bytes.
// Nothing happens when hardware does not need the allocation. On failure t
// keeps its allocation.
func (m *Manager) Ghost(ctx context.Context, t *Texture) error {
	if t.mem == nil || !m.krm.IsNeeded(&t.Resource) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	old := t.mem
	m.krm.Reap()
	fresh, err := m.heap.Alloc(old.Size(), 0, textureUsage, t.Label())
	if err != nil {
		return fmt.Errorf("texture %d: ghost: %w", t.Name(), err)
	}
	src, err := old.Bytes(0, old.Size())
	if err == nil {
		err = fresh.Write(0, src)
	}
	if err != nil {
		m.heap.Free(fresh)
		return fmt.Errorf("texture %d: ghost: %w", t.Name(), err)
	}

	m.krm.Ghost(&t.Resource, old)
	t.mem = fresh
	t.hasEverBeenGhosted = true
	return nil
}

// ReadBack returns a copy of a level. Device resident levels are read from
// device memory; for a render target outstanding kicks are waited for first.
func (m *Manager) ReadBack(ctx context.Context, t *Texture, face, level int) ([]byte, error) {
	if face < 0 || face >= len(t.levels) || level < 0 || level >= MaxLevels {
		return nil, fmt.Errorf("%w: face %d level %d", ErrInvalidValue, face, level)
	}
	lv := &t.levels[face][level]
	switch lv.storage {
	case StorageNone:
		return nil, nil
	case StorageHost:
		return append([]byte(nil), lv.host...), nil
	}

	if t.renderTarget && m.krm.IsNeeded(&t.Resource) {
		if err := m.krm.WaitUntilNotNeeded(ctx, &t.Resource); err != nil {
			return nil, fmt.Errorf("texture %d: read back: %w", t.Name(), err)
		}
	}
	buf := make([]byte, lv.ImageSize)
	if err := t.mem.Read(t.hw.offset(face, level), buf); err != nil {
		return nil, fmt.Errorf("texture %d: read back: %w", t.Name(), err)
	}
	return buf, nil
}

// unload reads every resident level back to host memory and retires the
// allocation. Levels for which drop returns true are discarded instead of
// read back. On failure t is unchanged.
func (m *Manager) unload(ctx context.Context, t *Texture, drop func(face, level int) bool) error {
	if t.mem == nil {
		return nil
	}

	type readLevel struct {
		face, level int
		data        []byte
	}
	var read []readLevel
	for f := range t.levels {
		for l := range MaxLevels {
			if t.levels[f][l].storage != StorageResident {
				continue
			}
			if drop != nil && drop(f, l) {
				read = append(read, readLevel{f, l, nil})
				continue
			}
			data, err := m.ReadBack(ctx, t, f, l)
			if err != nil {
				return err
			}
			read = append(read, readLevel{f, l, data})
		}
	}

	for _, r := range read {
		if r.data == nil {
			t.levels[r.face][r.level] = Level{}
			continue
		}
		t.levels[r.face][r.level].setHost(r.data)
	}
	m.retire(t)
	return nil
}

// UnloadInconsistent moves the device resident levels of t back to host
// memory and releases its allocation, so an inconsistent texture holds no
// device memory.
func (m *Manager) UnloadInconsistent(ctx context.Context, t *Texture) error {
	if t.mem == nil {
		return nil
	}
	logging.Logger().Debug("texture: unloading inconsistent texture", "name", t.Name())
	return m.unload(ctx, t, nil)
}

// ForDraw prepares t for a draw call and attaches it to the current kick.
// Inconsistent textures, and a nil t, are replaced by the dummy texture.
func (m *Manager) ForDraw(ctx context.Context, t *Texture) (*Texture, error) {
	if t == nil || !m.IsConsistent(t) {
		if t != nil {
			if err := m.UnloadInconsistent(ctx, t); err != nil {
				return nil, err
			}
		}
		m.krm.Attach(&m.dummy.Resource)
		return m.dummy, nil
	}
	if err := m.MakeResident(ctx, t); err != nil {
		return nil, err
	}
	m.krm.Attach(&t.Resource)
	return t, nil
}
