package texture

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/logging"
)

// errHardwareRestriction is returned by the hardware path for base levels
// the transfer queue cannot mipmap.
var errHardwareRestriction = errors.New("texture: base level outside hardware mipmap limits")

// MipStrategy selects how GenerateMipmaps builds the chain.
type MipStrategy int

const (
	// MipSoftware averages levels on the CPU into host memory.
	MipSoftware MipStrategy = iota
	// MipHardware generates levels in device memory with a queue transfer,
	// falling back to MipSoftware on failure.
	MipHardware
)

// String returns the strategy name.
func (s MipStrategy) String() string {
	if s == MipHardware {
		return "Hardware"
	}
	return "Software"
}

// MipStrategyFor returns the strategy GenerateMipmaps would try first for t.
func (m *Manager) MipStrategyFor(t *Texture) MipStrategy {
	switch {
	case m.cfg.DisableHardwareMipmaps,
		m.cfg.Adapter.Type == gpucontext.AdapterTypeSoftware,
		t.flags&(FlagNonPow2|FlagCompressed) != 0,
		t.target != Target2D && t.target != TargetCubeMap:
		return MipSoftware
	}
	return MipHardware
}

// hardwareFilter maps the sampler state to a transfer filter. Without a
// minification filter the hardware point samples.
func (t *Texture) hardwareFilter() Filter {
	switch {
	case t.anisotropy > 1:
		return FilterAnisotropic
	case t.minFilter == gputypes.FilterModeLinear:
		return FilterLinear
	default:
		return FilterPoint
	}
}

// GenerateMipmaps replaces levels 1 and up of every face with a full chain
// computed from level 0. The hardware path is tried first when allowed; any
// failure there falls back to software generation.
func (m *Manager) GenerateMipmaps(ctx context.Context, t *Texture) error {
	base := &t.levels[0][0]
	if !base.Defined() || t.flags&FlagCompressed != 0 {
		return fmt.Errorf("%w: texture %d", ErrNotMipmappable, t.Name())
	}
	for f := range t.levels {
		b := &t.levels[f][0]
		if b.Width != base.Width || b.Height != base.Height || b.Format != base.Format {
			return fmt.Errorf("%w: texture %d face %d differs from face 0", ErrNotMipmappable, t.Name(), f)
		}
	}
	if !isPow2(base.Width) || !isPow2(base.Height) {
		return fmt.Errorf("%w: %dx%d", ErrNonPowerOfTwo, base.Width, base.Height)
	}
	if base.Width == 1 && base.Height == 1 {
		m.trimLevels(t, 1)
		t.consistency = Unknown
		return nil
	}

	if m.MipStrategyFor(t) == MipHardware {
		err := m.hardwareMips(ctx, t)
		if err == nil {
			return nil
		}
		if errors.Is(err, errHardwareRestriction) {
			logging.Logger().Debug("texture: hardware mipmaps skipped", "name", t.Name(), "err", err)
		} else {
			logging.Logger().Warn("texture: hardware mipmaps failed, using software", "name", t.Name(), "err", err)
		}
	}
	return m.softwareMips(ctx, t)
}

// trimLevels undefines levels n and up of every face.
func (m *Manager) trimLevels(t *Texture, n int) {
	for f := range t.levels {
		for l := n; l < MaxLevels; l++ {
			t.levels[f][l] = Level{}
		}
	}
}

func (m *Manager) hardwareMips(ctx context.Context, t *Texture) error {
	base := t.levels[0][0]
	if max(base.Width, base.Height) < m.cfg.MinHardwareRegion || (base.Width == 1 && base.Height > 1) {
		return fmt.Errorf("%w: %dx%d", errHardwareRestriction, base.Width, base.Height)
	}

	t.upload.Lock()
	defer t.upload.Unlock()

	want := m.hwStateFor(t)
	switch {
	case t.mem != nil && t.hw.geom != want.geom:
		// The control words changed: only level 0 survives into the new
		// allocation, everything else is regenerated.
		if err := m.unload(ctx, t, func(_, level int) bool { return level != 0 }); err != nil {
			return err
		}
	case t.mem != nil:
		if err := m.protect(ctx, t); err != nil {
			return err
		}
	}
	if err := m.CreateMemory(t); err != nil {
		return err
	}

	n := t.hw.levels
	filter := t.hardwareFilter()
	for f := range t.levels {
		b := &t.levels[f][0]
		if b.storage == StorageHost {
			if err := m.xfer.Upload(ctx, t.mem, t.hw.offset(f, 0), b.host); err != nil {
				t.resident = false
				return err
			}
		}
		chain := make([]MipRegion, n)
		for l := range n {
			w, h := levelSize(base.Width, base.Height, l)
			chain[l] = MipRegion{Offset: t.hw.offset(f, l), Width: w, Height: h}
		}
		if err := m.xfer.GenerateMips(ctx, t.mem, base.Format, chain, filter); err != nil {
			t.resident = false
			return err
		}
	}

	m.krm.Attach(&t.Resource)
	if err := m.krm.Flush(ctx, krm.KickWaitForTA); err != nil {
		t.resident = false
		return err
	}

	for f := range t.levels {
		t.levels[f][0].setResident()
		for l := 1; l < n; l++ {
			w, h := levelSize(base.Width, base.Height, l)
			lv := newLevel(base.Format, w, h)
			lv.Requested = base.Requested
			lv.setResident()
			t.levels[f][l] = lv
		}
	}
	m.trimLevels(t, n)
	t.consistency = Consistent
	t.resident = true
	logging.Logger().Debug("texture: hardware mipmaps", "name", t.Name(), "levels", n, "filter", filter)
	return nil
}

func (m *Manager) softwareMips(ctx context.Context, t *Texture) error {
	base := t.levels[0][0]
	n := ChainLength(base.Width, base.Height)
	bpp := BytesPerTexel(base.Format)

	generated := make([][]Level, len(t.levels))
	for f := range t.levels {
		src, err := m.ReadBack(ctx, t, f, 0)
		if err != nil {
			return err
		}
		w, h := base.Width, base.Height
		out := make([]Level, n)
		for l := 1; l < n; l++ {
			nw, nh := levelSize(base.Width, base.Height, l)
			dst := make([]byte, nw*nh*bpp)
			m.filterLevel(dst, src, w, h, bpp)

			lv := newLevel(base.Format, nw, nh)
			lv.Requested = base.Requested
			lv.setHost(dst)
			out[l] = lv
			src, w, h = dst, nw, nh
		}
		generated[f] = out
	}

	for f := range t.levels {
		for l := 1; l < n; l++ {
			t.levels[f][l] = generated[f][l]
		}
	}
	m.trimLevels(t, n)
	t.consistency = Consistent
	t.resident = false
	logging.Logger().Debug("texture: software mipmaps", "name", t.Name(), "levels", n)
	return nil
}

// filterLevel box filters one level, in row bands on the worker pool when
// the destination is tall enough.
func (m *Manager) filterLevel(dst, src []byte, width, height, bpp int) {
	_, dh := levelSize(width, height, 1)
	workers := m.pool.Workers()
	if dh < m.cfg.ParallelRows || workers < 2 {
		BoxFilter(dst, src, width, height, bpp)
		return
	}

	m.pool.Rows(dh, func(y0, y1 int) {
		boxFilterRows(dst, src, width, height, bpp, y0, y1)
	})
}
