package glesres

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gogpu/glesres/internal/bufobj"
	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/names"
	"github.com/gogpu/glesres/internal/texture"
)

// Context is a GL ES context: its bindings, its framebuffers and its error
// state, plus a reference to the state of its share group.
//
// A Context is used from one goroutine at a time. Contexts of one share
// group may be used concurrently.
type Context struct {
	shared *SharedState

	err Error

	textures     [numTextureTargets]*texture.Texture
	buffers      [numBufferTargets]*bufobj.Buffer
	renderbuffer *Renderbuffer
	framebuffer  *Framebuffer

	fbMu         sync.Mutex
	framebuffers *names.Array[*Framebuffer]

	closed bool
}

// Ensure Context implements io.Closer
var _ io.Closer = (*Context)(nil)

// NewContext creates a context. Without WithShareContext it starts a new
// share group.
//
//	c, err := glesres.NewContext(glesres.WithHardwareMipmaps(false))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func NewContext(opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var shared *SharedState
	if o.share != nil {
		if o.share.closed {
			return nil, ErrContextDestroyed
		}
		if err := o.share.shared.retain(); err != nil {
			return nil, err
		}
		shared = o.share.shared
	} else {
		var err error
		if shared, err = newSharedState(&o); err != nil {
			return nil, fmt.Errorf("glesres: create context: %w", err)
		}
	}

	c := &Context{shared: shared}
	c.framebuffers = names.New[*Framebuffer](names.Config{Type: names.TypeFramebuffer},
		&c.fbMu, c.freeFramebuffer)
	return c, nil
}

// Close unbinds everything, destroys the framebuffers of c and leaves the
// share group. The last context of a group releases all shared objects and
// device memory. The context should not be used after Close is called.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	s := c.shared
	for i, t := range c.textures {
		if t != nil {
			s.textures.DelRef(t)
			c.textures[i] = nil
		}
	}
	for i, b := range c.buffers {
		if b != nil {
			s.buffers.DelRef(b)
			c.buffers[i] = nil
		}
	}
	if c.renderbuffer != nil {
		s.renderbuffers.DelRef(c.renderbuffer)
		c.renderbuffer = nil
	}
	if c.framebuffer != nil {
		c.framebuffers.DelRef(c.framebuffer)
		c.framebuffer = nil
	}
	c.framebuffers.Destroy()

	s.release()
	return nil
}

// Flush submits the work recorded so far and frees ghosts hardware is done
// with.
func (c *Context) Flush() {
	if err := c.shared.krm.Flush(context.Background(), krm.KickLastInScene); err != nil {
		c.setError(err)
	}
	c.shared.krm.Reap()
}

// Finish submits the work recorded so far and waits until hardware has
// completed all of it.
func (c *Context) Finish() {
	if err := c.shared.krm.WaitIdle(context.Background()); err != nil {
		c.setError(err)
	}
}

// MemoryStats describes the device memory of a share group.
type MemoryStats struct {
	devmem.Stats

	// Ghosts is the number of superseded allocations waiting for hardware.
	Ghosts int

	// Kicks is the number of kicks submitted so far.
	Kicks uint64

	// Textures, Buffers and Renderbuffers count named objects.
	Textures      int
	Buffers       int
	Renderbuffers int
}

// String returns a human-readable string of the statistics.
func (s MemoryStats) String() string {
	return fmt.Sprintf("%s ghosts=%d kicks=%d textures=%d buffers=%d renderbuffers=%d",
		s.Stats, s.Ghosts, s.Kicks, s.Textures, s.Buffers, s.Renderbuffers)
}

// MemoryStats returns device memory statistics of the share group.
func (c *Context) MemoryStats() MemoryStats {
	s := c.shared
	return MemoryStats{
		Stats:         s.heap.Stats(),
		Ghosts:        s.krm.Ghosts(),
		Kicks:         s.krm.Kicks(),
		Textures:      s.textures.Len(),
		Buffers:       s.buffers.Len(),
		Renderbuffers: s.renderbuffers.Len(),
	}
}

// DrawArrays validates the bound state for drawing count vertices starting
// at first and attaches every resource the draw reads or writes to the
// current kick.
func (c *Context) DrawArrays(first, count int) {
	if first < 0 || count < 0 {
		c.setError(fmt.Errorf("%w: draw [%d, +%d)", errInvalidValue, first, count))
		return
	}
	c.setError(c.draw(false))
}

// DrawElements is DrawArrays for indexed drawing; an element array buffer
// must be bound.
func (c *Context) DrawElements(count int) {
	if count < 0 {
		c.setError(fmt.Errorf("%w: draw %d elements", errInvalidValue, count))
		return
	}
	c.setError(c.draw(true))
}

func (c *Context) draw(indexed bool) error {
	array, elements := c.buffers[ArrayBuffer], c.buffers[ElementArrayBuffer]
	if indexed && elements == nil {
		return fmt.Errorf("%w: no element array buffer bound", errInvalidOperation)
	}
	fb := c.framebuffer

	g := c.shared.lockPrimary()
	defer g.unlock()
	if array != nil {
		if err := g.buffers().ForDraw(array); err != nil {
			return err
		}
	}
	if indexed {
		if err := g.buffers().ForDraw(elements); err != nil {
			return err
		}
	}

	sg := g.lockSecondary()
	defer sg.unlock()
	if fb != nil {
		if st := fb.status(sg); st != FramebufferComplete {
			return fmt.Errorf("%w: %s", errIncompleteFB, st)
		}
		if err := fb.attach(context.Background(), sg); err != nil {
			return err
		}
	}
	for _, t := range c.textures {
		if t == nil {
			continue
		}
		if _, err := sg.textures().ForDraw(context.Background(), t); err != nil {
			return err
		}
	}
	return nil
}
