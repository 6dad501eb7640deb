package glesres

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/names"
	"github.com/gogpu/glesres/internal/texture"
)

// Renderbuffer is an image used only as a framebuffer attachment.
type Renderbuffer struct {
	names.Item
	krm.Resource

	format gputypes.TextureFormat
	width  int
	height int
	mem    *devmem.Allocation
}

// Format returns the storage format.
func (rb *Renderbuffer) Format() gputypes.TextureFormat { return rb.format }

// Width returns the storage width in pixels.
func (rb *Renderbuffer) Width() int { return rb.width }

// Height returns the storage height in pixels.
func (rb *Renderbuffer) Height() int { return rb.height }

func renderbufferBytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth32Float:
		return 4
	}
	if texture.IsSupportedFormat(f) && !texture.IsCompressed(f) {
		return texture.BytesPerTexel(f)
	}
	return 0
}

func newRenderbuffer(name uint32) *Renderbuffer {
	rb := &Renderbuffer{}
	rb.SetName(name, false)
	rb.SetLabel(fmt.Sprintf("renderbuffer %d", name))
	return rb
}

// renderbufferStorage replaces the storage of rb. The old storage is
// released once the new one exists; hardware still rendering into it keeps
// it alive as a ghost.
func (g primaryGuard) renderbufferStorage(rb *Renderbuffer, format gputypes.TextureFormat, width, height int) error {
	bpp := renderbufferBytesPerPixel(format)
	if bpp == 0 {
		return fmt.Errorf("%w: renderbuffer format %s", errInvalidEnum, format)
	}
	if width < 0 || height < 0 || width > texture.MaxSize || height > texture.MaxSize {
		return fmt.Errorf("%w: renderbuffer %dx%d", errInvalidValue, width, height)
	}

	var fresh *devmem.Allocation
	if width > 0 && height > 0 {
		g.s.krm.Reap()
		var err error
		fresh, err = g.s.heap.Alloc(uint64(width*height*bpp), 0,
			gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst, rb.Label())
		if err != nil {
			return fmt.Errorf("renderbuffer %d: %w", rb.Name(), err)
		}
	}

	g.s.krm.Retire(&rb.Resource, rb.mem)
	rb.mem = fresh
	rb.format = format
	rb.width = width
	rb.height = height
	return nil
}

// releaseRenderbuffer is the free callback of the renderbuffer names array.
func (g primaryGuard) releaseRenderbuffer(rb *Renderbuffer, shutdown bool) {
	Logger().Debug("glesres: free renderbuffer", "name", rb.Name(), "shutdown", shutdown)
	g.s.krm.Retire(&rb.Resource, rb.mem)
	g.s.krm.RemoveFromAllLists(&rb.Resource)
	rb.mem = nil
	rb.width, rb.height = 0, 0
}
