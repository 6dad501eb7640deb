package texture

// Box filter for software mipmap generation.
//
// Texels of up to four bytes are loaded into a uint32 and averaged one byte
// lane at a time with masks that keep carries from crossing lanes. Results are
// rounded with a bias that alternates between rows so the truncation error
// does not accumulate in one direction down the chain.

const (
	laneLow1 = 0x01010101
	laneLow2 = 0x03030303
	laneHi7  = 0xFEFEFEFE
	laneHi6  = 0x3F3F3F3F
)

func loadTexel(p []byte, bpp int) uint32 {
	switch bpp {
	case 1:
		return uint32(p[0])
	case 2:
		return uint32(p[0]) | uint32(p[1])<<8
	default:
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}
}

func storeTexel(p []byte, bpp int, v uint32) {
	switch bpp {
	case 1:
		p[0] = byte(v)
	case 2:
		p[0] = byte(v)
		p[1] = byte(v >> 8)
	default:
		p[0] = byte(v)
		p[1] = byte(v >> 8)
		p[2] = byte(v >> 16)
		p[3] = byte(v >> 24)
	}
}

// average2 returns the per-lane mean of a and b, rounded down when up is
// false and up otherwise.
func average2(a, b uint32, up bool) uint32 {
	half := ((a ^ b) & laneHi7) >> 1
	if up {
		return (a | b) - half
	}
	return (a & b) + half
}

// average4 returns the per-lane mean of four texels. bias is 1 or 2 in every
// lane and is added before the division by four.
func average4(a, b, c, d, bias uint32) uint32 {
	hi := (a>>2)&laneHi6 + (b>>2)&laneHi6 + (c>>2)&laneHi6 + (d>>2)&laneHi6
	lo := a&laneLow2 + b&laneLow2 + c&laneLow2 + d&laneLow2 + bias
	return hi + (lo>>2)&laneLow2
}

// BoxFilter writes the next mipmap level of the width x height image src into
// dst. dst must hold max(width/2, 1) * max(height/2, 1) texels of bpp bytes;
// bpp is 1, 2 or 4.
func BoxFilter(dst, src []byte, width, height, bpp int) {
	_, dh := levelSize(width, height, 1)
	boxFilterRows(dst, src, width, height, bpp, 0, dh)
}

// boxFilterRows computes destination rows [y0, y1).
func boxFilterRows(dst, src []byte, width, height, bpp, y0, y1 int) {
	dw, _ := levelSize(width, height, 1)
	stride := width * bpp

	for y := y0; y < y1; y++ {
		odd := y&1 == 1
		bias := uint32(laneLow1)
		if odd {
			bias = 2 * laneLow1
		}
		row0 := src[min(2*y, height-1)*stride:]
		out := dst[y*dw*bpp:]

		switch {
		case width > 1 && height > 1:
			row1 := src[min(2*y+1, height-1)*stride:]
			for x := range dw {
				i := 2 * x * bpp
				v := average4(
					loadTexel(row0[i:], bpp), loadTexel(row0[i+bpp:], bpp),
					loadTexel(row1[i:], bpp), loadTexel(row1[i+bpp:], bpp),
					bias)
				storeTexel(out[x*bpp:], bpp, v)
			}
		case width > 1:
			// Single row: 2x1 average.
			for x := range dw {
				i := 2 * x * bpp
				v := average2(loadTexel(row0[i:], bpp), loadTexel(row0[i+bpp:], bpp), odd)
				storeTexel(out[x*bpp:], bpp, v)
			}
		default:
			// Single column: 1x2 average.
			row1 := src[min(2*y+1, height-1)*stride:]
			v := average2(loadTexel(row0, bpp), loadTexel(row1, bpp), odd)
			storeTexel(out, bpp, v)
		}
	}
}

// pointSample writes the next level by taking the top-left texel of every
// 2x2 block.
func pointSample(dst, src []byte, width, height, bpp int) {
	dw, dh := levelSize(width, height, 1)
	stride := width * bpp
	for y := range dh {
		sy := min(2*y, height-1)
		for x := range dw {
			sx := min(2*x, width-1)
			copy(dst[(y*dw+x)*bpp:(y*dw+x+1)*bpp], src[sy*stride+sx*bpp:])
		}
	}
}
