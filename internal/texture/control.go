package texture

import (
	"github.com/gogpu/gputypes"
)

// ControlWords are the hardware texture state words derived from level 0.
type ControlWords struct {
	// Size packs width-1 in bits 0-10 and height-1 in bits 11-21.
	Size uint32
	// Format holds the format in bits 8-15 and Flags in bits 0-7.
	Format uint32
	// Mip holds the level count in bits 0-3 and the face count in bits 4-7.
	Mip uint32
}

// geometry identifies an allocation layout.
type geometry struct {
	width, height int
	format        gputypes.TextureFormat
	faces         int
}

// hwState is the memoised per-geometry hardware state: control words plus
// the offset of every level inside the allocation.
type hwState struct {
	geom    geometry
	ctrl    ControlWords
	levels  int
	offsets [][]uint64 // [face][level]
	size    uint64
}

// offset returns where a level starts in device memory.
func (s *hwState) offset(face, level int) uint64 { return s.offsets[face][level] }

func computeHWState(g geometry) *hwState {
	n := ChainLength(g.width, g.height)
	var flags Flags
	if !isPow2(g.width) || !isPow2(g.height) {
		flags |= FlagNonPow2
	}
	if IsCompressed(g.format) {
		flags |= FlagCompressed
	}

	s := &hwState{
		geom:   g,
		levels: n,
		ctrl: ControlWords{
			Size:   uint32(g.width-1)&0x7FF | (uint32(g.height-1)&0x7FF)<<11,
			Format: uint32(g.format)&0xFF<<8 | uint32(flags),
			Mip:    uint32(n)&0xF | uint32(g.faces)&0xF<<4,
		},
		offsets: make([][]uint64, g.faces),
	}

	// Each level starts on a 16 byte boundary.
	var off uint64
	for f := range g.faces {
		s.offsets[f] = make([]uint64, n)
		for l := range n {
			w, h := levelSize(g.width, g.height, l)
			s.offsets[f][l] = off
			off += (uint64(ImageSize(g.format, w, h)) + 15) &^ 15
		}
	}
	s.size = off
	return s
}

// baseGeometry returns the layout geometry level 0 of face 0 asks for.
func (t *Texture) baseGeometry() geometry {
	base := &t.levels[0][0]
	return geometry{
		width:  base.Width,
		height: base.Height,
		format: base.Format,
		faces:  t.target.Faces(),
	}
}

// fitsLayout reports whether a level can be stored at its slot of s.
func (s *hwState) fitsLayout(level int, l *Level) bool {
	if level >= s.levels || l.Format != s.geom.format {
		return false
	}
	w, h := levelSize(s.geom.width, s.geom.height, level)
	return l.Width == w && l.Height == h
}
