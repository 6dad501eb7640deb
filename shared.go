package glesres

import (
	"context"
	"errors"
	"sync"

	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/glesres/internal/bufobj"
	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/names"
	"github.com/gogpu/glesres/internal/texture"
)

// SharedState is the part of a context shared by every context of its share
// group: the namespaces of shareable objects, device memory and the kick
// resource manager.
//
// Lock order: primary before secondary, never the other way round.
//
//	primary    name arrays, reference counts, buffer and renderbuffer storage
//	secondary  the texture manager
//
// The name arrays take the primary lock on every call, so it must not be
// held across a names operation. Each texture also carries an upload lock,
// taken inside the texture manager while its levels are copied to device
// memory.
type SharedState struct {
	primary   sync.Mutex
	secondary sync.Mutex

	refs      int
	destroyed bool

	heap *devmem.Heap
	krm  *krm.Manager

	textures      *names.Array[*texture.Texture]
	buffers       *names.Array[*bufobj.Buffer]
	renderbuffers *names.Array[*Renderbuffer]

	texMgr *texture.Manager
	bufMgr *bufobj.Manager
}

// primaryGuard is proof that the primary lock is held.
type primaryGuard struct{ s *SharedState }

// secondaryGuard is proof that the secondary lock is held. It can only be
// obtained from a primaryGuard or with no lock held.
type secondaryGuard struct{ s *SharedState }

func (s *SharedState) lockPrimary() primaryGuard {
	s.primary.Lock()
	return primaryGuard{s}
}

func (g primaryGuard) unlock() { g.s.primary.Unlock() }

// lockSecondary takes the secondary lock while the primary is held.
func (g primaryGuard) lockSecondary() secondaryGuard {
	g.s.secondary.Lock()
	return secondaryGuard(g)
}

func (g primaryGuard) buffers() *bufobj.Manager { return g.s.bufMgr }

// lockSecondary takes the secondary lock with no other lock held.
func (s *SharedState) lockSecondary() secondaryGuard {
	s.secondary.Lock()
	return secondaryGuard{s}
}

func (g secondaryGuard) unlock() { g.s.secondary.Unlock() }

func (g secondaryGuard) textures() *texture.Manager { return g.s.texMgr }

// newSharedState creates the state of a new share group.
func newSharedState(o *options) (*SharedState, error) {
	device, queue := o.device, o.queue
	if device == nil || queue == nil {
		device, queue = &noop.Device{}, &noop.Queue{}
	}
	kicker := o.kicker
	if kicker == nil {
		kicker = krm.QueueKicker{Queue: queue}
	}

	s := &SharedState{refs: 1}
	s.heap = devmem.NewHeap(device, queue, devmem.Config{BudgetBytes: o.budget})
	s.krm = krm.New(kicker, s.heap, krm.Config{
		MaxRetries:   o.waitRetries,
		PollInterval: o.pollInterval,
	})

	var err error
	s.texMgr, err = texture.NewManager(s.heap, s.krm, texture.Config{
		DisableHardwareMipmaps: !o.hardwareMips,
		Adapter:                o.adapter,
		Workers:                o.workers,
	})
	if err != nil {
		s.heap.Close()
		return nil, err
	}
	s.bufMgr = bufobj.NewManager(s.heap, s.krm)

	s.textures = names.New[*texture.Texture](names.Config{Type: names.TypeTexture, Shareable: true},
		&s.primary, s.freeTexture)
	s.buffers = names.New[*bufobj.Buffer](names.Config{Type: names.TypeBuffer, Shareable: true},
		&s.primary, s.freeBuffer)
	s.renderbuffers = names.New[*Renderbuffer](names.Config{Type: names.TypeRenderbuffer, Shareable: true},
		&s.primary, s.freeRenderbuffer)
	return s, nil
}

func (s *SharedState) freeTexture(t *texture.Texture, shutdown bool) {
	g := s.lockSecondary()
	defer g.unlock()
	g.textures().Free(t, shutdown)
}

func (s *SharedState) freeBuffer(b *bufobj.Buffer, shutdown bool) {
	g := s.lockPrimary()
	defer g.unlock()
	g.buffers().Free(b, shutdown)
}

func (s *SharedState) freeRenderbuffer(rb *Renderbuffer, shutdown bool) {
	g := s.lockPrimary()
	defer g.unlock()
	g.releaseRenderbuffer(rb, shutdown)
}

// retain adds a context to the share group.
func (s *SharedState) retain() error {
	s.primary.Lock()
	defer s.primary.Unlock()
	if s.destroyed {
		return ErrContextDestroyed
	}
	s.refs++
	return nil
}

// release removes a context from the share group and destroys the shared
// state with the last one.
func (s *SharedState) release() {
	s.primary.Lock()
	s.refs--
	last := s.refs == 0
	if last {
		s.destroyed = true
	}
	s.primary.Unlock()

	if last {
		s.destroy()
	}
}

// destroy frees every object regardless of outstanding references, waits
// for hardware to release ghosted memory and closes the heap.
func (s *SharedState) destroy() {
	s.textures.Destroy()
	s.buffers.Destroy()
	s.renderbuffers.Destroy()

	if err := s.krm.Drain(context.Background()); err != nil {
		Logger().Warn("glesres: hardware still busy at shutdown", "ghosts", s.krm.Ghosts(), "err", err)
	}
	g := s.lockSecondary()
	g.textures().Close()
	g.unlock()
	s.heap.Close()
}

// lookupOrCreate returns the object named name with a reference taken for
// the caller, creating and inserting it first if the name is unbound.
func lookupOrCreate[T names.Object](arr *names.Array[T], name uint32, create func() T) (T, error) {
	for {
		if obj, ok := arr.AddRef(name); ok {
			return obj, nil
		}
		obj := create()
		err := arr.InsertRef(obj)
		if errors.Is(err, names.ErrDuplicateName) {
			// Another context of the share group bound it first.
			continue
		}
		if err != nil {
			var zero T
			return zero, err
		}
		return obj, nil
	}
}
