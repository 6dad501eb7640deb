package glesres

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/texture"
)

// testKicker completes kicks on submission unless held.
type testKicker struct {
	mu        sync.Mutex
	submitted uint64
	completed uint64
	hold      bool
}

func (k *testKicker) Kick(context.Context, KickFlags) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.submitted++
	if !k.hold {
		k.completed = k.submitted
	}
	return k.submitted, nil
}

func (k *testKicker) Completed() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.completed
}

func (k *testKicker) setHold(v bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hold = v
	if !v {
		k.completed = k.submitted
	}
}

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{WithWaitPolicy(20, time.Microsecond)}, opts...)
	c, err := NewContext(opts...)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func checkError(t *testing.T, c *Context, want Error) {
	t.Helper()
	if got := c.GetError(); got != want {
		t.Errorf("GetError() = %s, want %s", got, want)
	}
}

func rgba(w, h int, v byte) []byte {
	return bytes.Repeat([]byte{v}, w*h*4)
}

func TestDeleteWhileBound(t *testing.T) {
	c := newTestContext(t)
	name := c.GenTextures(1)[0]
	c.BindTexture(Texture2D, name)
	c.TexImage2D(Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 4, 4, rgba(4, 4, 1))
	c.TexParameterFilter(Texture2D, gputypes.FilterModeLinear, gputypes.MipmapFilterModeUndefined)
	c.DrawArrays(0, 3)
	checkError(t, c, NoError)

	tex := c.textures[Texture2D]
	mem := tex.Memory()
	if mem == nil {
		t.Fatal("draw did not make the texture resident")
	}

	c.DeleteTextures(name)
	if _, ok := c.shared.textures.AddRef(name); ok {
		t.Fatal("deleted name still resolves")
	}
	if tex.RefCount() != 1 || c.textures[Texture2D] != tex {
		t.Fatalf("RefCount() = %d, want the binding to keep the texture alive", tex.RefCount())
	}
	if mem.Freed() {
		t.Fatal("texture memory freed while bound")
	}

	// Rebinding the deleted name creates a new, empty texture.
	c.BindTexture(Texture2D, name)
	if c.textures[Texture2D] == tex {
		t.Error("rebinding a deleted name returned the old texture")
	}
	if c.IsTextureComplete(Texture2D) {
		t.Error("new texture reports complete")
	}

	// The draw's kick has not been submitted, so the memory is ghosted.
	if got := c.MemoryStats().Ghosts; got != 1 {
		t.Fatalf("Ghosts = %d, want 1", got)
	}
	c.Flush()
	if !mem.Freed() {
		t.Error("memory of the destroyed texture not freed after Flush")
	}
	checkError(t, c, NoError)
}

func TestInconsistentTextureDrawUsesDummy(t *testing.T) {
	c := newTestContext(t)
	c.BindTexture(Texture2D, 7)
	c.TexImage2D(Image2D, 3, gputypes.TextureFormatRGBA8Unorm, 8, 8, rgba(8, 8, 9))

	c.DrawArrays(0, 3)
	checkError(t, c, NoError)

	tex := c.textures[Texture2D]
	if tex.Consistency() != texture.Inconsistent {
		t.Errorf("Consistency() = %s, want Inconsistent", tex.Consistency())
	}
	if tex.Memory() != nil {
		t.Error("inconsistent texture was made resident")
	}
	if !c.shared.krm.IsInUse(&c.shared.texMgr.Dummy().Resource) {
		t.Error("dummy texture not attached to the draw")
	}
	if lv, ok := c.TexLevelParameter(Image2D, 3); !ok || lv.Width != 8 {
		t.Errorf("TexLevelParameter(3) = %+v, %v", lv, ok)
	}
}

func TestTextureErrors(t *testing.T) {
	c := newTestContext(t)

	c.TexImage2D(Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 1, 1, nil)
	checkError(t, c, InvalidOperation)

	c.BindTexture(TextureTarget(9), 1)
	checkError(t, c, InvalidEnum)

	c.BindTexture(TextureCubeMap, 1)
	c.BindTexture(Texture2D, 1)
	checkError(t, c, InvalidOperation)

	c.BindTexture(Texture2D, 2)
	tests := []struct {
		name   string
		target ImageTarget
		format gputypes.TextureFormat
		w, h   int
		want   Error
	}{
		{"bad image target", ImageTarget(42), gputypes.TextureFormatRGBA8Unorm, 1, 1, InvalidEnum},
		{"cube face uses the cube binding", CubeMapPositiveX, gputypes.TextureFormatRGBA8Unorm, 1, 1, NoError},
		{"unsupported format", Image2D, gputypes.TextureFormatDepth32Float, 1, 1, InvalidEnum},
		{"too large", Image2D, gputypes.TextureFormatRGBA8Unorm, texture.MaxSize + 1, 1, InvalidValue},
		{"negative", Image2D, gputypes.TextureFormatRGBA8Unorm, -1, 1, InvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.TexImage2D(tt.target, 0, tt.format, tt.w, tt.h, nil)
			checkError(t, c, tt.want)
		})
	}

	c.TexParameterAnisotropy(Texture2D, 0.5)
	checkError(t, c, InvalidValue)

	c.GenerateMipmap(Texture2D)
	checkError(t, c, InvalidOperation)
}

func TestGenerateMipmapThroughContext(t *testing.T) {
	for _, hw := range []bool{true, false} {
		c := newTestContext(t, WithHardwareMipmaps(hw))
		c.BindTexture(Texture2D, 1)
		c.TexImage2D(Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 16, 16, rgba(16, 16, 200))
		c.GenerateMipmap(Texture2D)
		checkError(t, c, NoError)

		if !c.IsTextureComplete(Texture2D) {
			t.Fatalf("hardware=%v: texture incomplete after GenerateMipmap", hw)
		}
		if lv, ok := c.TexLevelParameter(Image2D, 4); !ok || lv.Width != 1 || lv.Height != 1 {
			t.Errorf("hardware=%v: level 4 = %+v, %v; want 1x1", hw, lv, ok)
		}
		if got := c.GetTexImage(Image2D, 2); !bytes.Equal(got, rgba(4, 4, 200)) {
			t.Errorf("hardware=%v: level 2 = %v, want a uniform 4x4 image", hw, got)
		}
		if c.textures[Texture2D].Resident() != hw {
			t.Errorf("hardware=%v: Resident() = %v", hw, c.textures[Texture2D].Resident())
		}
	}
}

func TestBufferReuseDrainsBeforeCopy(t *testing.T) {
	c := newTestContext(t)
	c.BindBuffer(ArrayBuffer, c.GenBuffers(1)[0])
	c.BufferData(ArrayBuffer, 1024, bytes.Repeat([]byte{1}, 1024), StaticDraw)
	b := c.buffers[ArrayBuffer]
	mem := b.Memory()

	c.DrawArrays(0, 3)
	kicks := c.MemoryStats().Kicks
	c.BufferData(ArrayBuffer, 1024, bytes.Repeat([]byte{2}, 1024), StaticDraw)
	checkError(t, c, NoError)

	if b.Memory() != mem {
		t.Error("same size BufferData reallocated device memory")
	}
	if got := c.MemoryStats().Kicks; got != kicks+1 {
		t.Errorf("Kicks = %d, want %d", got, kicks+1)
	}
	got := make([]byte, 1024)
	_ = mem.Read(0, got)
	if !bytes.Equal(got, bytes.Repeat([]byte{2}, 1024)) {
		t.Error("new data not copied")
	}
}

func TestBufferDataDrainTimeoutIsOutOfMemory(t *testing.T) {
	k := &testKicker{}
	c := newTestContext(t, WithKicker(k))
	c.BindBuffer(ArrayBuffer, 1)
	c.BufferData(ArrayBuffer, 16, bytes.Repeat([]byte{5}, 16), DynamicDraw)
	c.DrawArrays(0, 1)
	k.setHold(true)
	c.Flush()

	c.BufferData(ArrayBuffer, 16, bytes.Repeat([]byte{6}, 16), DynamicDraw)
	checkError(t, c, OutOfMemory)

	got := make([]byte, 16)
	_ = c.buffers[ArrayBuffer].Memory().Read(0, got)
	if !bytes.Equal(got, bytes.Repeat([]byte{5}, 16)) {
		t.Error("failed BufferData changed the data store")
	}
	k.setHold(false)
}

func TestBufferMapping(t *testing.T) {
	c := newTestContext(t)
	c.BindBuffer(ElementArrayBuffer, 3)

	c.MapBuffer(ElementArrayBuffer, WriteOnly)
	checkError(t, c, InvalidOperation)

	c.BufferData(ElementArrayBuffer, 8, nil, StreamDraw)
	c.BufferData(ElementArrayBuffer, 8, nil, BufferUsage(99))
	checkError(t, c, InvalidEnum)

	p := c.MapBuffer(ElementArrayBuffer, WriteOnly)
	if len(p) != 8 {
		t.Fatalf("MapBuffer() len = %d, want 8", len(p))
	}
	copy(p, []byte{0, 1, 2, 3, 4, 5, 6, 7})

	c.DrawElements(4)
	checkError(t, c, InvalidOperation)
	c.BufferSubData(ElementArrayBuffer, 0, []byte{1})
	checkError(t, c, InvalidOperation)

	if !c.UnmapBuffer(ElementArrayBuffer) {
		t.Fatal("UnmapBuffer() = false")
	}
	if c.UnmapBuffer(ElementArrayBuffer) {
		t.Error("second UnmapBuffer() = true")
	}
	checkError(t, c, InvalidOperation)

	c.DrawElements(4)
	checkError(t, c, NoError)
	if c.BufferSize(ElementArrayBuffer) != 8 {
		t.Errorf("BufferSize() = %d, want 8", c.BufferSize(ElementArrayBuffer))
	}
}

func TestBufferSubDataHugeOffset(t *testing.T) {
	c := newTestContext(t)
	c.BindBuffer(ArrayBuffer, 1)
	c.BufferData(ArrayBuffer, 16, nil, StaticDraw)

	c.BufferSubData(ArrayBuffer, math.MaxInt, []byte{1})
	checkError(t, c, InvalidValue)
}

func TestBufferSizeWhileSiblingRespecifies(t *testing.T) {
	reader := newTestContext(t)
	writer := newTestContext(t, WithShareContext(reader))
	reader.BindBuffer(ArrayBuffer, 5)
	writer.BindBuffer(ArrayBuffer, 5)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			writer.BufferData(ArrayBuffer, 16+16*(i%4), nil, DynamicDraw)
		}
	}()
	for {
		select {
		case <-done:
			if got := reader.BufferSize(ArrayBuffer); got != 16+16*(199%4) {
				t.Errorf("BufferSize() = %d, want %d", got, 16+16*(199%4))
			}
			checkError(t, reader, NoError)
			checkError(t, writer, NoError)
			return
		default:
			if got := reader.BufferSize(ArrayBuffer); got != 0 && (got < 16 || got > 64) {
				t.Errorf("BufferSize() = %d during respecification", got)
				<-done
				return
			}
		}
	}
}

func TestDrawValidation(t *testing.T) {
	c := newTestContext(t)

	c.DrawElements(3)
	checkError(t, c, InvalidOperation)
	c.DrawArrays(-1, 3)
	checkError(t, c, InvalidValue)
	c.DrawArrays(0, 3)
	checkError(t, c, NoError)
}

func TestOutOfMemory(t *testing.T) {
	c := newTestContext(t, WithMemoryBudget(1024))
	c.BindBuffer(ArrayBuffer, 1)
	c.BufferData(ArrayBuffer, 4096, nil, StaticDraw)
	checkError(t, c, OutOfMemory)
	if c.BufferSize(ArrayBuffer) != 0 {
		t.Error("failed BufferData changed the buffer size")
	}
}

func TestFramebuffers(t *testing.T) {
	c := newTestContext(t)

	c.FramebufferTexture2D(Image2D, 1, 0)
	checkError(t, c, InvalidOperation)

	fbo := c.GenFramebuffers(1)[0]
	c.BindFramebuffer(fbo)
	if got := c.CheckFramebufferStatus(); got != FramebufferIncompleteMissingAttachment {
		t.Errorf("status = %s, want IncompleteMissingAttachment", got)
	}
	c.DrawArrays(0, 3)
	checkError(t, c, InvalidFramebufferOperation)

	c.BindTexture(Texture2D, 5)
	c.FramebufferTexture2D(Image2D, 5, 0)
	checkError(t, c, NoError)
	if got := c.CheckFramebufferStatus(); got != FramebufferIncompleteAttachment {
		t.Errorf("status = %s, want IncompleteAttachment", got)
	}

	c.TexImage2D(Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 8, 8, nil)
	c.TexParameterFilter(Texture2D, gputypes.FilterModeLinear, gputypes.MipmapFilterModeUndefined)
	if got := c.CheckFramebufferStatus(); got != FramebufferComplete {
		t.Fatalf("status = %s, want Complete", got)
	}
	c.DrawArrays(0, 3)
	checkError(t, c, NoError)

	tex := c.textures[Texture2D]
	if !tex.IsRenderTarget() || !c.shared.krm.IsInUse(&tex.Resource) {
		t.Error("attached texture not used as a render target")
	}

	// The attachment keeps the texture alive after it is deleted and unbound.
	c.DeleteTextures(5)
	c.BindTexture(Texture2D, 0)
	if tex.RefCount() != 1 {
		t.Errorf("RefCount() = %d, want 1 held by the framebuffer", tex.RefCount())
	}
	c.DeleteFramebuffers(fbo)
	if tex.RefCount() != 1 {
		t.Error("deleting the bound framebuffer dropped its attachment")
	}
	c.BindFramebuffer(0)
	if tex.Memory() != nil {
		t.Error("texture not freed with its last framebuffer")
	}
}

func TestRenderbuffers(t *testing.T) {
	c := newTestContext(t)

	c.RenderbufferStorage(gputypes.TextureFormatRGBA8Unorm, 4, 4)
	checkError(t, c, InvalidOperation)

	rbo := c.GenRenderbuffers(1)[0]
	c.BindRenderbuffer(rbo)
	c.RenderbufferStorage(gputypes.TextureFormatBC1RGBAUnorm, 4, 4)
	checkError(t, c, InvalidEnum)
	c.RenderbufferStorage(gputypes.TextureFormatDepth24PlusStencil8, 64, 32)
	checkError(t, c, NoError)

	rb := c.renderbuffer
	if rb.Width() != 64 || rb.Height() != 32 || rb.mem.Size() != 64*32*4 {
		t.Errorf("renderbuffer %dx%d with %d bytes", rb.Width(), rb.Height(), rb.mem.Size())
	}

	c.BindFramebuffer(1)
	c.FramebufferRenderbuffer(rbo)
	c.DrawArrays(0, 3)
	checkError(t, c, NoError)

	// Respecifying storage still in use by the current kick ghosts it.
	old := rb.mem
	c.RenderbufferStorage(gputypes.TextureFormatRGBA8Unorm, 16, 16)
	checkError(t, c, NoError)
	if old.Freed() || c.MemoryStats().Ghosts != 1 {
		t.Error("storage in use was not ghosted")
	}
	c.Finish()
	checkError(t, c, NoError)
	if !old.Freed() || c.MemoryStats().Ghosts != 0 {
		t.Error("Finish did not release the ghost")
	}
}

func TestShareGroup(t *testing.T) {
	c1, err := NewContext()
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewContext(WithShareContext(c1))
	if err != nil {
		t.Fatal(err)
	}

	c1.BindTexture(Texture2D, 10)
	c1.TexImage2D(Image2D, 0, gputypes.TextureFormatR8Unorm, 4, 4, make([]byte, 16))
	c2.BindTexture(Texture2D, 10)
	if c1.textures[Texture2D] != c2.textures[Texture2D] {
		t.Fatal("contexts of a share group see different textures")
	}

	// Framebuffers are per context.
	c1.BindFramebuffer(3)
	if c2.framebuffers.Len() != 0 {
		t.Error("framebuffer visible in a sibling context")
	}

	heap := c1.shared.heap
	_ = c1.Close()
	c2.DrawArrays(0, 3)
	checkError(t, c2, NoError)
	if heap.Stats().Allocations == 0 {
		t.Fatal("closing one context released shared memory")
	}

	_ = c2.Close()
	if heap.Stats().Allocations != 0 {
		t.Errorf("Allocations = %d after the last context closed", heap.Stats().Allocations)
	}
	if _, err := NewContext(WithShareContext(c2)); err == nil {
		t.Error("sharing with a closed context succeeded")
	}
}

func TestShareGroupConcurrentUse(t *testing.T) {
	root := newTestContext(t)
	var wg sync.WaitGroup
	for i := range 4 {
		c, err := NewContext(WithShareContext(root))
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer c.Close()
			for j := range 20 {
				c.BindTexture(Texture2D, c.GenTextures(1)[0])
				c.TexImage2D(Image2D, 0, gputypes.TextureFormatRGBA8Unorm, 2, 2, rgba(2, 2, byte(j)))
				c.TexParameterFilter(Texture2D, gputypes.FilterModeNearest, gputypes.MipmapFilterModeUndefined)
				c.BindBuffer(ArrayBuffer, 1)
				c.BufferData(ArrayBuffer, 64, nil, DynamicDraw)
				c.DrawArrays(0, 3)
				c.Flush()
				if e := c.GetError(); e != NoError {
					t.Errorf("context %d iteration %d: GetError() = %s", i, j, e)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := root.MemoryStats().Textures; got != 80 {
		t.Errorf("Textures = %d, want 80", got)
	}
}

func TestMemoryStatsString(t *testing.T) {
	c := newTestContext(t)
	c.BindBuffer(ArrayBuffer, 1)
	c.BufferData(ArrayBuffer, 32, nil, StaticDraw)

	s := c.MemoryStats()
	if s.Buffers != 1 || s.UsedBytes == 0 {
		t.Errorf("MemoryStats() = %+v", s)
	}
	if !strings.Contains(s.String(), "buffers=1") {
		t.Errorf("String() = %q", s.String())
	}
}

var _ krm.Kicker = (*testKicker)(nil)
