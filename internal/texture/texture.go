// Package texture implements texture objects and their residency state
// machine: consistency of the mipmap level set, upload to device memory,
// ghosting of superseded allocations and mipmap generation.
//
// A texture's level data lives either in host memory or, once uploaded, only
// in device memory. A texture is resident when its device allocation exists
// and holds every host-side level; several TexImage calls are therefore
// coalesced into a single upload at the next draw.
//
// Texture state is not locked here. Callers serialize access with the shared
// state lock that guards the texture manager; the per-texture upload lock
// only keeps two contexts from uploading the same texture concurrently.
package texture

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/names"
)

// Target is the kind of texture.
type Target int

const (
	// Target2D is a two dimensional texture.
	Target2D Target = iota
	// TargetCubeMap is a cube map with six faces.
	TargetCubeMap
	// TargetStream is an externally fed stream texture. It has one level and
	// never takes the hardware mipmap path.
	TargetStream
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case Target2D:
		return "2D"
	case TargetCubeMap:
		return "CubeMap"
	case TargetStream:
		return "Stream"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Faces returns the number of faces of the target.
func (t Target) Faces() int {
	if t == TargetCubeMap {
		return 6
	}
	return 1
}

// Consistency is the result of validating a texture's level set.
type Consistency int

const (
	// Inconsistent means the defined levels do not form a usable texture.
	Inconsistent Consistency = iota
	// Consistent means the levels are usable as they are.
	Consistent
	// Unknown means levels changed since the last check.
	Unknown
	// Dummy marks the placeholder texture drawn in place of inconsistent ones.
	Dummy
)

// String returns the state name.
func (c Consistency) String() string {
	switch c {
	case Inconsistent:
		return "Inconsistent"
	case Consistent:
		return "Consistent"
	case Unknown:
		return "Unknown"
	case Dummy:
		return "Dummy"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Storage tells where the bytes of a level live.
type Storage int

const (
	// StorageNone means the level holds no data.
	StorageNone Storage = iota
	// StorageHost means the level is held in host memory.
	StorageHost
	// StorageResident means the level exists only in device memory.
	StorageResident
)

// String returns the storage name.
func (s Storage) String() string {
	switch s {
	case StorageNone:
		return "None"
	case StorageHost:
		return "Host"
	case StorageResident:
		return "Resident"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Level is one mipmap level of one face.
type Level struct {
	Width, Height         int
	WidthLog2, HeightLog2 int
	ImageSize             int

	// Requested is the internal format asked for by the application, Format
	// the one the data is stored in.
	Requested gputypes.TextureFormat
	Format    gputypes.TextureFormat

	storage Storage
	host    []byte
}

// Defined reports whether the level has a size.
func (l *Level) Defined() bool { return l.Width > 0 && l.Height > 0 }

// Storage returns where the level data lives.
func (l *Level) Storage() Storage { return l.storage }

// Host returns the host copy of the level, nil unless Storage is StorageHost.
func (l *Level) Host() []byte { return l.host }

func (l *Level) setHost(data []byte) {
	l.storage = StorageHost
	l.host = data
}

func (l *Level) setResident() {
	l.storage = StorageResident
	l.host = nil
}

func newLevel(format gputypes.TextureFormat, width, height int) Level {
	return Level{
		Width:      width,
		Height:     height,
		WidthLog2:  log2(width),
		HeightLog2: log2(height),
		ImageSize:  ImageSize(format, width, height),
		Requested:  format,
		Format:     format,
	}
}

// Flags are geometry and format properties of level 0.
type Flags uint8

const (
	// FlagNonPow2 is set when level 0 is not a power of two in both dimensions.
	FlagNonPow2 Flags = 1 << iota
	// FlagCompressed is set when level 0 uses a block-compressed format.
	FlagCompressed
)

// Texture is a named texture object.
type Texture struct {
	names.Item
	krm.Resource

	target Target
	levels [][MaxLevels]Level

	resident           bool
	hasEverBeenGhosted bool
	consistency        Consistency
	flags              Flags
	renderTarget       bool

	mem *devmem.Allocation
	hw  *hwState

	minFilter  gputypes.FilterMode
	mipFilter  gputypes.MipmapFilterMode
	anisotropy float32

	// upload keeps two contexts from uploading this texture at once.
	upload sync.Mutex
}

var _ gpucontext.Texture = (*Texture)(nil)

// Target returns the texture target.
func (t *Texture) Target() Target { return t.target }

// Level returns a level of a face. It panics on out of range arguments.
func (t *Texture) Level(face, level int) *Level { return &t.levels[face][level] }

// Width returns the width of level 0.
func (t *Texture) Width() int { return t.levels[0][0].Width }

// Height returns the height of level 0.
func (t *Texture) Height() int { return t.levels[0][0].Height }

// Resident reports whether device memory holds every level.
func (t *Texture) Resident() bool { return t.resident }

// HasEverBeenGhosted reports whether an allocation of t was ever ghosted.
func (t *Texture) HasEverBeenGhosted() bool { return t.hasEverBeenGhosted }

// Consistency returns the last computed consistency state.
func (t *Texture) Consistency() Consistency { return t.consistency }

// Flags returns the level 0 flags.
func (t *Texture) Flags() Flags { return t.flags }

// Memory returns the device allocation, nil when the texture has none.
func (t *Texture) Memory() *devmem.Allocation { return t.mem }

// ControlWords returns the hardware state words of the current allocation.
func (t *Texture) ControlWords() (ControlWords, bool) {
	if t.hw == nil {
		return ControlWords{}, false
	}
	return t.hw.ctrl, true
}

// MinFilter returns the minification filter.
func (t *Texture) MinFilter() gputypes.FilterMode { return t.minFilter }

// MipFilter returns the mipmap filter; MipmapFilterModeUndefined means the
// texture is sampled without mipmaps.
func (t *Texture) MipFilter() gputypes.MipmapFilterMode { return t.mipFilter }

// IsRenderTarget reports whether a framebuffer renders into t.
func (t *Texture) IsRenderTarget() bool { return t.renderTarget }

// SetRenderTarget marks t as written by hardware. Read-backs of a render
// target wait for outstanding kicks.
func (t *Texture) SetRenderTarget(v bool) { t.renderTarget = v }

func (t *Texture) mipmapped() bool {
	return t.mipFilter != gputypes.MipmapFilterModeUndefined
}

// String returns a short description for logs.
func (t *Texture) String() string {
	return fmt.Sprintf("Texture[%d %s %dx%d %s resident=%v]",
		t.Name(), t.target, t.Width(), t.Height(), t.consistency, t.resident)
}

func (t *Texture) updateFlags() {
	base := &t.levels[0][0]
	t.flags = 0
	if !base.Defined() {
		return
	}
	if !isPow2(base.Width) || !isPow2(base.Height) {
		t.flags |= FlagNonPow2
	}
	if IsCompressed(base.Format) {
		t.flags |= FlagCompressed
	}
}
