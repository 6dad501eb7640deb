package glesres

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/names"
	"github.com/gogpu/glesres/internal/texture"
)

// FramebufferStatus is the completeness of a framebuffer.
type FramebufferStatus int

const (
	// FramebufferComplete can be rendered to.
	FramebufferComplete FramebufferStatus = iota
	// FramebufferIncompleteAttachment has an attachment without a defined
	// image.
	FramebufferIncompleteAttachment
	// FramebufferIncompleteMissingAttachment has no attachment.
	FramebufferIncompleteMissingAttachment
)

// String returns the status name.
func (s FramebufferStatus) String() string {
	switch s {
	case FramebufferComplete:
		return "Complete"
	case FramebufferIncompleteAttachment:
		return "IncompleteAttachment"
	case FramebufferIncompleteMissingAttachment:
		return "IncompleteMissingAttachment"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Framebuffer is a render destination with one color attachment: a texture
// image or a renderbuffer. Attachments hold a reference on the attached
// object.
type Framebuffer struct {
	names.Item

	tex   *texture.Texture
	face  int
	level int
	rb    *Renderbuffer
}

// status must be called with both locks held.
func (fb *Framebuffer) status(_ secondaryGuard) FramebufferStatus {
	switch {
	case fb.tex != nil:
		if !fb.tex.Level(fb.face, fb.level).Defined() {
			return FramebufferIncompleteAttachment
		}
		return FramebufferComplete
	case fb.rb != nil:
		if fb.rb.mem == nil {
			return FramebufferIncompleteAttachment
		}
		return FramebufferComplete
	default:
		return FramebufferIncompleteMissingAttachment
	}
}

// attach adds the attachment of fb to the current kick. Rendering needs the
// attached texture resident, so an inconsistent texture cannot be a
// destination.
func (fb *Framebuffer) attach(ctx context.Context, g secondaryGuard) error {
	if fb.rb != nil {
		g.s.krm.Attach(&fb.rb.Resource)
		return nil
	}
	if !g.textures().IsConsistent(fb.tex) {
		return fmt.Errorf("%w: texture %d is incomplete", errIncompleteFB, fb.tex.Name())
	}
	_, err := g.textures().ForDraw(ctx, fb.tex)
	return err
}

// detach drops the references of fb on its attachment.
func (c *Context) detach(fb *Framebuffer) {
	if fb.tex != nil {
		c.shared.textures.DelRef(fb.tex)
		fb.tex = nil
	}
	if fb.rb != nil {
		c.shared.renderbuffers.DelRef(fb.rb)
		fb.rb = nil
	}
}

func (c *Context) freeFramebuffer(fb *Framebuffer, _ bool) {
	c.detach(fb)
}

// GenFramebuffers returns n unused framebuffer names.
func (c *Context) GenFramebuffers(n int) []uint32 {
	out, err := c.framebuffers.GenNames(n)
	if err != nil {
		c.setError(err)
		return nil
	}
	return out
}

// BindFramebuffer makes the framebuffer named name the draw destination.
// Name 0 selects the default framebuffer.
func (c *Context) BindFramebuffer(name uint32) {
	var fb *Framebuffer
	if name != 0 {
		var err error
		fb, err = lookupOrCreate(c.framebuffers, name, func() *Framebuffer {
			f := &Framebuffer{}
			f.SetName(name, false)
			return f
		})
		if err != nil {
			c.setError(err)
			return
		}
	}
	old := c.framebuffer
	c.framebuffer = fb
	if old != nil {
		c.framebuffers.DelRef(old)
	}
}

// DeleteFramebuffers removes the names of this context's framebuffers.
func (c *Context) DeleteFramebuffers(names ...uint32) {
	c.framebuffers.DelRefByName(names)
}

func (c *Context) boundFramebuffer() (*Framebuffer, error) {
	if c.framebuffer == nil {
		return nil, fmt.Errorf("%w: default framebuffer bound", errInvalidOperation)
	}
	return c.framebuffer, nil
}

// FramebufferTexture2D attaches level of the texture named name to the bound
// framebuffer. Name 0 detaches. The texture becomes a render target: reading
// it back waits for pending rendering.
func (c *Context) FramebufferTexture2D(target ImageTarget, name uint32, level int) {
	fb, err := c.boundFramebuffer()
	if err != nil {
		c.setError(err)
		return
	}
	tt, face, ok := target.split()
	if !ok {
		c.setError(fmt.Errorf("%w: image target %d", errInvalidEnum, target))
		return
	}
	if name == 0 {
		c.detach(fb)
		return
	}
	if level < 0 || level >= texture.MaxLevels {
		c.setError(fmt.Errorf("%w: level %d", errInvalidValue, level))
		return
	}

	t, ok := c.shared.textures.AddRef(name)
	if !ok {
		c.setError(fmt.Errorf("%w: no texture %d", errInvalidOperation, name))
		return
	}
	if t.Target() != tt.internal() {
		c.shared.textures.DelRef(t)
		c.setError(fmt.Errorf("%w: texture %d is a %s texture", errInvalidOperation, name, t.Target()))
		return
	}
	g := c.shared.lockSecondary()
	t.SetRenderTarget(true)
	g.unlock()

	c.detach(fb)
	fb.tex, fb.face, fb.level = t, face, level
}

// FramebufferRenderbuffer attaches the renderbuffer named name to the bound
// framebuffer. Name 0 detaches.
func (c *Context) FramebufferRenderbuffer(name uint32) {
	fb, err := c.boundFramebuffer()
	if err != nil {
		c.setError(err)
		return
	}
	if name == 0 {
		c.detach(fb)
		return
	}
	rb, ok := c.shared.renderbuffers.AddRef(name)
	if !ok {
		c.setError(fmt.Errorf("%w: no renderbuffer %d", errInvalidOperation, name))
		return
	}
	c.detach(fb)
	fb.rb = rb
}

// CheckFramebufferStatus returns the completeness of the bound framebuffer.
// The default framebuffer is always complete.
func (c *Context) CheckFramebufferStatus() FramebufferStatus {
	fb := c.framebuffer
	if fb == nil {
		return FramebufferComplete
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	sg := g.lockSecondary()
	defer sg.unlock()
	return fb.status(sg)
}

// GenRenderbuffers returns n unused renderbuffer names.
func (c *Context) GenRenderbuffers(n int) []uint32 {
	out, err := c.shared.renderbuffers.GenNames(n)
	if err != nil {
		c.setError(err)
		return nil
	}
	return out
}

// BindRenderbuffer binds the renderbuffer named name, creating it if needed.
// Name 0 unbinds.
func (c *Context) BindRenderbuffer(name uint32) {
	s := c.shared
	var rb *Renderbuffer
	if name != 0 {
		var err error
		rb, err = lookupOrCreate(s.renderbuffers, name, func() *Renderbuffer {
			return newRenderbuffer(name)
		})
		if err != nil {
			c.setError(err)
			return
		}
	}
	old := c.renderbuffer
	c.renderbuffer = rb
	if old != nil {
		s.renderbuffers.DelRef(old)
	}
}

// RenderbufferStorage allocates storage of width x height pixels in format
// for the bound renderbuffer.
func (c *Context) RenderbufferStorage(format gputypes.TextureFormat, width, height int) {
	rb := c.renderbuffer
	if rb == nil {
		c.setError(fmt.Errorf("%w: no renderbuffer bound", errInvalidOperation))
		return
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	c.setError(g.renderbufferStorage(rb, format, width, height))
}

// DeleteRenderbuffers removes the names from the namespace.
func (c *Context) DeleteRenderbuffers(names ...uint32) {
	c.shared.renderbuffers.DelRefByName(names)
}
