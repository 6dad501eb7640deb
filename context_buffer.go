package glesres

import (
	"context"
	"fmt"

	"github.com/gogpu/glesres/internal/bufobj"
)

// BufferTarget is a buffer binding point.
type BufferTarget int

const (
	// ArrayBuffer binds vertex attribute data.
	ArrayBuffer BufferTarget = iota
	// ElementArrayBuffer binds vertex indices.
	ElementArrayBuffer

	numBufferTargets
)

func (t BufferTarget) internal() bufobj.Target {
	if t == ElementArrayBuffer {
		return bufobj.TargetElementArray
	}
	return bufobj.TargetArray
}

// BufferUsage is the usage hint of BufferData.
type BufferUsage int

const (
	StaticDraw BufferUsage = iota
	DynamicDraw
	StreamDraw
)

func (u BufferUsage) internal() (bufobj.Usage, bool) {
	switch u {
	case StaticDraw:
		return bufobj.UsageStaticDraw, true
	case DynamicDraw:
		return bufobj.UsageDynamicDraw, true
	case StreamDraw:
		return bufobj.UsageStreamDraw, true
	}
	return 0, false
}

// MapAccess is the access of MapBuffer.
type MapAccess int

// WriteOnly is the only supported mapping access.
const WriteOnly MapAccess = MapAccess(bufobj.AccessWriteOnly)

// GenBuffers returns n unused buffer names.
func (c *Context) GenBuffers(n int) []uint32 {
	out, err := c.shared.buffers.GenNames(n)
	if err != nil {
		c.setError(err)
		return nil
	}
	return out
}

// BindBuffer binds the buffer named name to target, creating it if needed.
// Name 0 unbinds.
func (c *Context) BindBuffer(target BufferTarget, name uint32) {
	if target < 0 || target >= numBufferTargets {
		c.setError(fmt.Errorf("%w: buffer target %d", errInvalidEnum, target))
		return
	}
	s := c.shared

	var b *bufobj.Buffer
	if name != 0 {
		var err error
		b, err = lookupOrCreate(s.buffers, name, func() *bufobj.Buffer {
			return s.bufMgr.Create(name, target.internal())
		})
		if err != nil {
			c.setError(err)
			return
		}
	}

	old := c.buffers[target]
	c.buffers[target] = b
	if old != nil {
		s.buffers.DelRef(old)
	}
}

// DeleteBuffers removes the names from the namespace. The data store of a
// deleted buffer is released once no binding holds it and hardware is done
// with it.
func (c *Context) DeleteBuffers(names ...uint32) {
	c.shared.buffers.DelRefByName(names)
}

func (c *Context) boundBuffer(target BufferTarget) (*bufobj.Buffer, error) {
	if target < 0 || target >= numBufferTargets {
		return nil, fmt.Errorf("%w: buffer target %d", errInvalidEnum, target)
	}
	b := c.buffers[target]
	if b == nil {
		return nil, fmt.Errorf("%w: no buffer bound", errInvalidOperation)
	}
	return b, nil
}

// BufferData creates a data store of size bytes for the bound buffer, filled
// from data unless it is nil.
func (c *Context) BufferData(target BufferTarget, size int, data []byte, usage BufferUsage) {
	b, err := c.boundBuffer(target)
	if err != nil {
		c.setError(err)
		return
	}
	u, ok := usage.internal()
	if !ok {
		c.setError(fmt.Errorf("%w: buffer usage %d", errInvalidEnum, usage))
		return
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	c.setError(g.buffers().Data(context.Background(), b, target.internal(), size, data, u))
}

// BufferSubData updates part of the data store of the bound buffer.
func (c *Context) BufferSubData(target BufferTarget, offset int, data []byte) {
	b, err := c.boundBuffer(target)
	if err != nil {
		c.setError(err)
		return
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	c.setError(g.buffers().SubData(context.Background(), b, offset, data))
}

// MapBuffer maps the data store of the bound buffer for CPU writes. The
// returned slice is valid until UnmapBuffer.
func (c *Context) MapBuffer(target BufferTarget, access MapAccess) []byte {
	b, err := c.boundBuffer(target)
	if err != nil {
		c.setError(err)
		return nil
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	p, err := g.buffers().Map(context.Background(), b, bufobj.Access(access))
	if err != nil {
		c.setError(err)
		return nil
	}
	return p
}

// UnmapBuffer ends the mapping of the bound buffer.
func (c *Context) UnmapBuffer(target BufferTarget) bool {
	b, err := c.boundBuffer(target)
	if err != nil {
		c.setError(err)
		return false
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	if err := g.buffers().Unmap(b); err != nil {
		c.setError(err)
		return false
	}
	return true
}

// BufferSize returns the data store size of the bound buffer.
func (c *Context) BufferSize(target BufferTarget) int {
	b, err := c.boundBuffer(target)
	if err != nil {
		c.setError(err)
		return 0
	}
	g := c.shared.lockPrimary()
	defer g.unlock()
	return b.Size()
}
