package texture

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/devmem"
)

// ErrTransferFailed is returned when a queue transfer cannot be carried out.
var ErrTransferFailed = errors.New("texture: queue transfer failed")

// Filter selects how hardware mipmap generation downsamples.
type Filter int

const (
	// FilterPoint takes one source texel per destination texel.
	FilterPoint Filter = iota
	// FilterLinear averages each 2x2 block.
	FilterLinear
	// FilterAnisotropic averages each 2x2 block; the hardware uses it when
	// anisotropic sampling is enabled.
	FilterAnisotropic
)

// String returns the filter name.
func (f Filter) String() string {
	switch f {
	case FilterPoint:
		return "Point"
	case FilterLinear:
		return "Linear"
	case FilterAnisotropic:
		return "Anisotropic"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// MipRegion locates one level of a chain inside device memory.
type MipRegion struct {
	Offset        uint64
	Width, Height int
}

// Transfer performs hardware queue transfers: uploads into device memory and
// in-place mipmap generation.
type Transfer interface {
	// Upload copies data into mem at offset.
	Upload(ctx context.Context, mem *devmem.Allocation, offset uint64, data []byte) error

	// GenerateMips fills chain[1:] from chain[0], all inside mem.
	GenerateMips(ctx context.Context, mem *devmem.Allocation, format gputypes.TextureFormat, chain []MipRegion, filter Filter) error
}

// deviceTransfer carries out transfers directly on mapped device memory.
type deviceTransfer struct{}

func (deviceTransfer) Upload(ctx context.Context, mem *devmem.Allocation, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mem.Write(offset, data); err != nil {
		return fmt.Errorf("%w: upload: %v", ErrTransferFailed, err)
	}
	return nil
}

func (deviceTransfer) GenerateMips(ctx context.Context, mem *devmem.Allocation, format gputypes.TextureFormat, chain []MipRegion, filter Filter) error {
	bpp := BytesPerTexel(format)
	if bpp == 0 {
		return fmt.Errorf("%w: format %s", ErrTransferFailed, format)
	}
	for i := 1; i < len(chain); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, d := chain[i-1], chain[i]
		src, err := mem.Bytes(s.Offset, uint64(s.Width*s.Height*bpp))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		dst, err := mem.Bytes(d.Offset, uint64(d.Width*d.Height*bpp))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if filter == FilterPoint {
			pointSample(dst, src, s.Width, s.Height, bpp)
		} else {
			BoxFilter(dst, src, s.Width, s.Height, bpp)
		}
	}
	return nil
}
