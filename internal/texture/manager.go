package texture

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/cache"
	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/logging"
	"github.com/gogpu/glesres/internal/parallel"
)

// Texture errors.
var (
	// ErrInvalidValue is returned for out of range levels, faces and sizes.
	ErrInvalidValue = errors.New("texture: invalid value")

	// ErrInvalidFormat is returned for formats textures cannot use.
	ErrInvalidFormat = errors.New("texture: unsupported format")

	// ErrInconsistent is returned when an inconsistent texture is made resident.
	ErrInconsistent = errors.New("texture: levels are not consistent")

	// ErrNotMipmappable is returned when mipmaps cannot be generated for a
	// texture: level 0 is undefined or compressed, or cube faces differ.
	ErrNotMipmappable = errors.New("texture: cannot generate mipmaps")

	// ErrNonPowerOfTwo is returned when generating mipmaps for a base level
	// that is not a power of two in both dimensions.
	ErrNonPowerOfTwo = errors.New("texture: base level is not a power of two")
)

const (
	// DefaultMinHardwareRegion is the smallest base level, in texels along
	// its longer side, the hardware mipmap path accepts.
	DefaultMinHardwareRegion = 8

	// DefaultParallelRows is the destination row count from which software
	// mipmap generation is split across workers.
	DefaultParallelRows = 64

	// DefaultControlCacheSize is the soft limit of memoised control words.
	DefaultControlCacheSize = 64
)

// textureUsage is the usage of texture allocations. Levels are written by
// uploads and copied when a texture is ghosted.
const textureUsage = gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

// Config holds texture manager configuration.
type Config struct {
	// DisableHardwareMipmaps forces software mipmap generation.
	DisableHardwareMipmaps bool

	// MinHardwareRegion defaults to DefaultMinHardwareRegion if <= 0.
	MinHardwareRegion int

	// Adapter describes the device. Software adapters never take the
	// hardware mipmap path.
	Adapter gpucontext.AdapterInfo

	// ParallelRows defaults to DefaultParallelRows if <= 0.
	ParallelRows int

	// Workers is the size of the software mipmap worker pool.
	// 0 uses GOMAXPROCS.
	Workers int

	// ControlCacheSize defaults to DefaultControlCacheSize if <= 0.
	ControlCacheSize int

	// Transfer performs hardware queue transfers. Nil transfers directly on
	// mapped device memory.
	Transfer Transfer
}

// Manager owns texture device memory and drives the residency state machine.
//
// Manager methods that take a *Texture must be serialized by the caller.
type Manager struct {
	heap *devmem.Heap
	krm  *krm.Manager
	cfg  Config
	xfer Transfer

	hwCache *cache.Cache[geometry, *hwState]
	pool    *parallel.WorkerPool
	dummy   *Texture
}

// NewManager creates a texture manager allocating from heap and tracking
// hardware use through resources. It creates the resident dummy texture.
func NewManager(heap *devmem.Heap, resources *krm.Manager, cfg Config) (*Manager, error) {
	if cfg.MinHardwareRegion <= 0 {
		cfg.MinHardwareRegion = DefaultMinHardwareRegion
	}
	if cfg.ParallelRows <= 0 {
		cfg.ParallelRows = DefaultParallelRows
	}
	if cfg.ControlCacheSize <= 0 {
		cfg.ControlCacheSize = DefaultControlCacheSize
	}
	xfer := cfg.Transfer
	if xfer == nil {
		xfer = deviceTransfer{}
	}

	m := &Manager{
		heap:    heap,
		krm:     resources,
		cfg:     cfg,
		xfer:    xfer,
		hwCache: cache.New[geometry, *hwState](cfg.ControlCacheSize),
		pool:    parallel.NewWorkerPool(cfg.Workers),
	}
	if err := m.createDummy(); err != nil {
		m.pool.Close()
		return nil, err
	}
	return m, nil
}

// createDummy builds the opaque white 1x1 texture drawn in place of
// inconsistent textures.
func (m *Manager) createDummy() error {
	d := m.Create(0, Target2D)
	d.SetLabel("dummy texture")
	if err := m.TexImage(context.Background(), d, 0, 0, gputypes.TextureFormatRGBA8Unorm, 1, 1,
		[]byte{0xFF, 0xFF, 0xFF, 0xFF}); err != nil {
		return err
	}
	if err := m.MakeResident(context.Background(), d); err != nil {
		return fmt.Errorf("texture: dummy: %w", err)
	}
	d.consistency = Dummy
	m.dummy = d
	return nil
}

// Dummy returns the placeholder texture.
func (m *Manager) Dummy() *Texture { return m.dummy }

// Close releases the dummy texture and stops the worker pool.
func (m *Manager) Close() {
	if m.dummy != nil {
		m.Free(m.dummy, true)
		m.dummy = nil
	}
	m.pool.Close()
}

// ControlCacheStats returns statistics of the control word cache.
func (m *Manager) ControlCacheStats() cache.Stats { return m.hwCache.Stats() }

func (m *Manager) hwStateFor(t *Texture) *hwState {
	g := t.baseGeometry()
	return m.hwCache.GetOrCreate(g, func() *hwState { return computeHWState(g) })
}

// Create returns a new texture object named name with no levels.
func (m *Manager) Create(name uint32, target Target) *Texture {
	t := &Texture{
		target:      target,
		levels:      make([][MaxLevels]Level, target.Faces()),
		consistency: Unknown,
		mipFilter:   gputypes.MipmapFilterModeLinear,
		anisotropy:  1,
	}
	t.SetName(name, false)
	t.SetLabel(fmt.Sprintf("texture %d", name))
	return t
}

// TexImage defines level of face with width x height texels of format.
// data may be nil for undefined contents; otherwise it must hold exactly
// ImageSize(format, width, height) bytes. A zero size undefines the level.
//
// Redefining level 0 of face 0 with a new geometry invalidates the device
// layout: resident levels are read back and the allocation is retired.
func (m *Manager) TexImage(ctx context.Context, t *Texture, face, level int,
	format gputypes.TextureFormat, width, height int, data []byte) error {
	if face < 0 || face >= t.target.Faces() || level < 0 || level >= MaxLevels {
		return fmt.Errorf("%w: face %d level %d", ErrInvalidValue, face, level)
	}
	if width < 0 || height < 0 || width > MaxSize>>level || height > MaxSize>>level {
		return fmt.Errorf("%w: %dx%d at level %d", ErrInvalidValue, width, height, level)
	}
	if t.target == TargetCubeMap && width != height {
		return fmt.Errorf("%w: cube face %dx%d is not square", ErrInvalidValue, width, height)
	}
	if !IsSupportedFormat(format) {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, format)
	}
	size := ImageSize(format, width, height)
	if data != nil && len(data) != size {
		return fmt.Errorf("%w: %d bytes for a %dx%d %s image, want %d",
			ErrInvalidValue, len(data), width, height, format, size)
	}

	if t.mem != nil && face == 0 && level == 0 {
		g := t.hw.geom
		if g.width != width || g.height != height || g.format != format {
			if err := m.unload(ctx, t, isBase); err != nil {
				return err
			}
		}
	}

	if width == 0 || height == 0 {
		t.levels[face][level] = Level{}
	} else {
		host := make([]byte, size)
		copy(host, data)
		lv := newLevel(format, width, height)
		lv.setHost(host)
		t.levels[face][level] = lv
	}

	t.updateFlags()
	t.consistency = Unknown
	t.resident = false
	return nil
}

// SetFilters sets the minification and mipmap filters. A mipmap filter of
// MipmapFilterModeUndefined samples level 0 only.
func (m *Manager) SetFilters(t *Texture, minFilter gputypes.FilterMode, mipFilter gputypes.MipmapFilterMode) {
	if t.mipmapped() != (mipFilter != gputypes.MipmapFilterModeUndefined) {
		t.consistency = Unknown
	}
	t.minFilter = minFilter
	t.mipFilter = mipFilter
}

// SetMaxAnisotropy sets the maximum sampling anisotropy, at least 1.
func (m *Manager) SetMaxAnisotropy(t *Texture, v float32) error {
	if v < 1 {
		return fmt.Errorf("%w: anisotropy %g", ErrInvalidValue, v)
	}
	t.anisotropy = v
	return nil
}

// retire hands the allocation of t to the resource manager, which frees it
// now or ghosts it until hardware is done with it.
func (m *Manager) retire(t *Texture) {
	if t.mem == nil {
		return
	}
	if m.krm.Retire(&t.Resource, t.mem) {
		t.hasEverBeenGhosted = true
	}
	t.mem = nil
	t.hw = nil
	t.resident = false
}

// Free destroys t. It is the free callback of the texture names array.
func (m *Manager) Free(t *Texture, shutdown bool) {
	logging.Logger().Debug("texture: free", "name", t.Name(), "shutdown", shutdown)
	m.retire(t)
	m.krm.RemoveFromAllLists(&t.Resource)
	for f := range t.levels {
		t.levels[f] = [MaxLevels]Level{}
	}
	t.consistency = Unknown
}

func isBase(face, level int) bool { return face == 0 && level == 0 }
