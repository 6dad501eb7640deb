package texture

import (
	"math/bits"

	"github.com/gogpu/gputypes"
)

const (
	// MaxSize is the largest supported texture dimension.
	MaxSize = 2048

	// MaxLevels is the number of mipmap levels of a MaxSize texture.
	MaxLevels = 12
)

// formatInfo describes the storage of one texture format.
// Uncompressed formats use 1x1 blocks.
type formatInfo struct {
	blockW, blockH int
	blockBytes     int
	compressed     bool
}

func lookupFormat(f gputypes.TextureFormat) (formatInfo, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return formatInfo{1, 1, 1, false}, true
	case gputypes.TextureFormatRG8Unorm:
		return formatInfo{1, 1, 2, false}, true
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm:
		return formatInfo{1, 1, 4, false}, true
	case gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb,
		gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb,
		gputypes.TextureFormatETC2RGB8A1Unorm:
		return formatInfo{4, 4, 8, true}, true
	case gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC3RGBAUnorm,
		gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatETC2RGBA8Unorm,
		gputypes.TextureFormatASTC4x4Unorm:
		return formatInfo{4, 4, 16, true}, true
	default:
		return formatInfo{}, false
	}
}

// IsSupportedFormat reports whether textures may be created with f.
func IsSupportedFormat(f gputypes.TextureFormat) bool {
	_, ok := lookupFormat(f)
	return ok
}

// IsCompressed reports whether f is a block-compressed format.
func IsCompressed(f gputypes.TextureFormat) bool {
	info, _ := lookupFormat(f)
	return info.compressed
}

// BytesPerTexel returns the texel size of an uncompressed format, 0 otherwise.
func BytesPerTexel(f gputypes.TextureFormat) int {
	info, ok := lookupFormat(f)
	if !ok || info.compressed {
		return 0
	}
	return info.blockBytes
}

// ImageSize returns the number of bytes of a width x height image in f.
func ImageSize(f gputypes.TextureFormat, width, height int) int {
	info, ok := lookupFormat(f)
	if !ok || width <= 0 || height <= 0 {
		return 0
	}
	bw := (width + info.blockW - 1) / info.blockW
	bh := (height + info.blockH - 1) / info.blockH
	return bw * bh * info.blockBytes
}

// ChainLength returns the number of levels of a full mipmap chain whose base
// is width x height: floor(log2(max(width, height))) + 1.
func ChainLength(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return bits.Len(uint(max(width, height)))
}

func isPow2(v int) bool { return v > 0 && v&(v-1) == 0 }

func log2(v int) int {
	if v <= 0 {
		return 0
	}
	return bits.Len(uint(v)) - 1
}

// levelSize returns the dimensions of level n of a chain based at width x height.
func levelSize(width, height, n int) (int, int) {
	return max(width>>n, 1), max(height>>n, 1)
}
