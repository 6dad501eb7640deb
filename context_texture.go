package glesres

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/texture"
)

// TextureTarget is a texture binding point.
type TextureTarget int

const (
	// Texture2D binds two-dimensional textures.
	Texture2D TextureTarget = iota
	// TextureCubeMap binds cube map textures.
	TextureCubeMap

	numTextureTargets
)

func (t TextureTarget) valid() bool { return t >= 0 && t < numTextureTargets }

func (t TextureTarget) internal() texture.Target {
	if t == TextureCubeMap {
		return texture.TargetCubeMap
	}
	return texture.Target2D
}

// ImageTarget selects the image of a texture a level is specified for:
// the 2D image or one cube map face.
type ImageTarget int

const (
	// Image2D is the image of a 2D texture.
	Image2D ImageTarget = iota
	CubeMapPositiveX
	CubeMapNegativeX
	CubeMapPositiveY
	CubeMapNegativeY
	CubeMapPositiveZ
	CubeMapNegativeZ
)

// split returns the binding point and face of an image target.
func (t ImageTarget) split() (TextureTarget, int, bool) {
	switch {
	case t == Image2D:
		return Texture2D, 0, true
	case t >= CubeMapPositiveX && t <= CubeMapNegativeZ:
		return TextureCubeMap, int(t - CubeMapPositiveX), true
	default:
		return 0, 0, false
	}
}

// GenTextures returns n unused texture names.
func (c *Context) GenTextures(n int) []uint32 {
	out, err := c.shared.textures.GenNames(n)
	if err != nil {
		c.setError(err)
		return nil
	}
	return out
}

// BindTexture binds the texture named name to target, creating it if the
// name is not bound to a texture yet. Name 0 unbinds.
func (c *Context) BindTexture(target TextureTarget, name uint32) {
	if !target.valid() {
		c.setError(fmt.Errorf("%w: texture target %d", errInvalidEnum, target))
		return
	}
	s := c.shared

	var t *texture.Texture
	if name != 0 {
		var err error
		t, err = lookupOrCreate(s.textures, name, func() *texture.Texture {
			g := s.lockSecondary()
			defer g.unlock()
			return g.textures().Create(name, target.internal())
		})
		if err != nil {
			c.setError(err)
			return
		}
		if t.Target() != target.internal() {
			s.textures.DelRef(t)
			c.setError(fmt.Errorf("%w: texture %d is a %s texture", errInvalidOperation, name, t.Target()))
			return
		}
	}

	old := c.textures[target]
	c.textures[target] = t
	if old != nil {
		s.textures.DelRef(old)
	}
}

// DeleteTextures removes the names from the namespace. A texture that is
// still bound stays alive until it is unbound.
func (c *Context) DeleteTextures(names ...uint32) {
	c.shared.textures.DelRefByName(names)
}

// boundImage returns the texture bound to the binding point of target and the
// face target selects.
func (c *Context) boundImage(target ImageTarget) (*texture.Texture, int, error) {
	tt, face, ok := target.split()
	if !ok {
		return nil, 0, fmt.Errorf("%w: image target %d", errInvalidEnum, target)
	}
	t := c.textures[tt]
	if t == nil {
		return nil, 0, fmt.Errorf("%w: no texture bound", errInvalidOperation)
	}
	return t, face, nil
}

func (c *Context) boundTexture(target TextureTarget) (*texture.Texture, error) {
	if !target.valid() {
		return nil, fmt.Errorf("%w: texture target %d", errInvalidEnum, target)
	}
	t := c.textures[target]
	if t == nil {
		return nil, fmt.Errorf("%w: no texture bound", errInvalidOperation)
	}
	return t, nil
}

// TexImage2D specifies level of the image target selects. data holds the
// texels in format, or is nil for undefined contents.
func (c *Context) TexImage2D(target ImageTarget, level int, format gputypes.TextureFormat,
	width, height int, data []byte) {
	t, face, err := c.boundImage(target)
	if err != nil {
		c.setError(err)
		return
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	c.setError(g.textures().TexImage(context.Background(), t, face, level, format, width, height, data))
}

// TexParameterFilter sets the minification filter and the mipmap filter of
// the bound texture. MipmapFilterModeUndefined disables mipmapping.
func (c *Context) TexParameterFilter(target TextureTarget, minFilter gputypes.FilterMode,
	mipFilter gputypes.MipmapFilterMode) {
	t, err := c.boundTexture(target)
	if err != nil {
		c.setError(err)
		return
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	g.textures().SetFilters(t, minFilter, mipFilter)
}

// TexParameterAnisotropy sets the maximum anisotropy of the bound texture.
func (c *Context) TexParameterAnisotropy(target TextureTarget, v float32) {
	t, err := c.boundTexture(target)
	if err != nil {
		c.setError(err)
		return
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	c.setError(g.textures().SetMaxAnisotropy(t, v))
}

// GenerateMipmap replaces levels 1 and up of the bound texture with a chain
// filtered from level 0.
func (c *Context) GenerateMipmap(target TextureTarget) {
	t, err := c.boundTexture(target)
	if err != nil {
		c.setError(err)
		return
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	c.setError(g.textures().GenerateMipmaps(context.Background(), t))
}

// GetTexImage returns a copy of a level of the bound texture, nil for an
// undefined level.
func (c *Context) GetTexImage(target ImageTarget, level int) []byte {
	t, face, err := c.boundImage(target)
	if err != nil {
		c.setError(err)
		return nil
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	data, err := g.textures().ReadBack(context.Background(), t, face, level)
	if err != nil {
		c.setError(err)
		return nil
	}
	return data
}

// TextureLevel describes a level of the bound texture.
type TextureLevel struct {
	Width, Height int
	Format        gputypes.TextureFormat
}

// TexLevelParameter returns the size and format of a level of the bound
// texture; ok is false for an undefined level.
func (c *Context) TexLevelParameter(target ImageTarget, level int) (lv TextureLevel, ok bool) {
	t, face, err := c.boundImage(target)
	if err != nil {
		c.setError(err)
		return lv, false
	}
	if level < 0 || level >= texture.MaxLevels {
		c.setError(fmt.Errorf("%w: level %d", errInvalidValue, level))
		return lv, false
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	l := t.Level(face, level)
	if !l.Defined() {
		return lv, false
	}
	return TextureLevel{Width: l.Width, Height: l.Height, Format: l.Format}, true
}

// IsTextureComplete reports whether the bound texture can be sampled as
// specified. Draws substitute a placeholder for incomplete textures.
func (c *Context) IsTextureComplete(target TextureTarget) bool {
	t, err := c.boundTexture(target)
	if err != nil {
		c.setError(err)
		return false
	}
	g := c.shared.lockSecondary()
	defer g.unlock()
	return g.textures().IsConsistent(t)
}

// Texture limits.
const (
	// MaxTextureSize is the largest texture width or height.
	MaxTextureSize = texture.MaxSize

	// MaxTextureLevels is the number of mipmap levels of a texture.
	MaxTextureLevels = texture.MaxLevels
)
