// Package bufobj implements vertex and index buffer objects.
//
// Buffer storage is device memory that hardware reads asynchronously. Before
// the CPU overwrites or releases it, a buffer is drained: the kick resource
// manager forces the current kick if it references the buffer and waits for
// every submitted kick that does. A failed drain aborts the operation and
// leaves the buffer as it was.
package bufobj

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
	"github.com/gogpu/glesres/internal/logging"
	"github.com/gogpu/glesres/internal/names"
)

// Buffer errors.
var (
	// ErrInvalidValue is returned for negative sizes and out of range updates.
	ErrInvalidValue = errors.New("bufobj: invalid value")

	// ErrInvalidAccess is returned when mapping with an unsupported access.
	ErrInvalidAccess = errors.New("bufobj: invalid access")

	// ErrMapped is returned when a mapped buffer is respecified, updated,
	// mapped again or drawn from.
	ErrMapped = errors.New("bufobj: buffer is mapped")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("bufobj: buffer is not mapped")

	// ErrNoStorage is returned when mapping a buffer without data store.
	ErrNoStorage = errors.New("bufobj: buffer has no data store")
)

// Target is the binding point a buffer's data was specified through.
type Target int

const (
	// TargetArray holds vertex attributes.
	TargetArray Target = iota
	// TargetElementArray holds vertex indices.
	TargetElementArray
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case TargetArray:
		return "Array"
	case TargetElementArray:
		return "ElementArray"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// alignment returns the allocation alignment of data for target.
func (t Target) alignment() uint64 {
	if t == TargetElementArray {
		return 4
	}
	return devmem.DefaultAlignment
}

func (t Target) usage() gputypes.BufferUsage {
	if t == TargetElementArray {
		return gputypes.BufferUsageIndex
	}
	return gputypes.BufferUsageVertex
}

// Usage is the application's hint about how data will be updated.
type Usage int

const (
	// UsageStaticDraw is specified once and drawn many times.
	UsageStaticDraw Usage = iota
	// UsageDynamicDraw is respecified repeatedly and drawn many times.
	UsageDynamicDraw
	// UsageStreamDraw is specified once and drawn a few times.
	UsageStreamDraw
)

// Access is the mapping access.
type Access int

const (
	// AccessWriteOnly maps the buffer for writing. It is the only access
	// buffers can be mapped with.
	AccessWriteOnly Access = iota + 1
)

// Buffer is a named buffer object.
type Buffer struct {
	names.Item
	krm.Resource

	target  Target
	usage   Usage
	size    int
	align   uint64
	access  Access
	mapped  bool
	mapping []byte

	mem *devmem.Allocation
}

// Target returns the target the data was last specified through.
func (b *Buffer) Target() Target { return b.target }

// Usage returns the usage hint.
func (b *Buffer) Usage() Usage { return b.usage }

// Size returns the data store size in bytes.
func (b *Buffer) Size() int { return b.size }

// Align returns the alignment of the data store.
func (b *Buffer) Align() uint64 { return b.align }

// Access returns the mapping access, 0 when not mapped.
func (b *Buffer) Access() Access { return b.access }

// Mapped reports whether the buffer is mapped.
func (b *Buffer) Mapped() bool { return b.mapped }

// Memory returns the data store, nil for an empty buffer.
func (b *Buffer) Memory() *devmem.Allocation { return b.mem }

// Manager allocates and drains buffer data stores.
//
// Manager methods that take a *Buffer must be serialized by the caller.
type Manager struct {
	heap *devmem.Heap
	krm  *krm.Manager
}

// NewManager creates a buffer manager.
func NewManager(heap *devmem.Heap, resources *krm.Manager) *Manager {
	return &Manager{heap: heap, krm: resources}
}

// Create returns an empty buffer object named name.
func (m *Manager) Create(name uint32, target Target) *Buffer {
	b := &Buffer{target: target}
	b.SetName(name, false)
	b.SetLabel(fmt.Sprintf("buffer %d", name))
	return b
}

// drain waits until no hardware kick reads the data store.
func (m *Manager) drain(ctx context.Context, b *Buffer) error {
	if err := m.krm.WaitUntilNotNeeded(ctx, &b.Resource); err != nil {
		return fmt.Errorf("buffer %d: %w", b.Name(), err)
	}
	return nil
}

// Data replaces the data store with size bytes, filled from data when it is
// not nil. A store of the same size and alignment is reused; it is only
// drained when new contents must be copied in. Otherwise the old store is
// drained and released after the new one is ready. A size of 0 releases the
// store.
func (m *Manager) Data(ctx context.Context, b *Buffer, target Target, size int, data []byte, usage Usage) error {
	if size < 0 || (data != nil && len(data) < size) {
		return fmt.Errorf("%w: size %d with %d bytes", ErrInvalidValue, size, len(data))
	}
	if b.mapped {
		return fmt.Errorf("%w: buffer %d", ErrMapped, b.Name())
	}
	align := target.alignment()

	if b.mem != nil && b.size == size && b.align == align {
		if data != nil {
			if err := m.drain(ctx, b); err != nil {
				return err
			}
			if err := b.mem.Write(0, data[:size]); err != nil {
				return fmt.Errorf("buffer %d: %w", b.Name(), err)
			}
		}
		b.target = target
		b.usage = usage
		return nil
	}

	if b.mem != nil {
		if err := m.drain(ctx, b); err != nil {
			return err
		}
	}

	var fresh *devmem.Allocation
	if size > 0 {
		m.krm.Reap()
		var err error
		fresh, err = m.heap.Alloc(uint64(size), align, target.usage(), b.Label())
		if err != nil {
			return fmt.Errorf("buffer %d: %w", b.Name(), err)
		}
		if data != nil {
			if err := fresh.Write(0, data[:size]); err != nil {
				m.heap.Free(fresh)
				return fmt.Errorf("buffer %d: %w", b.Name(), err)
			}
		}
	}

	m.heap.Free(b.mem)
	b.mem = fresh
	b.size = size
	b.align = align
	b.target = target
	b.usage = usage
	return nil
}

// SubData copies data into the store at offset after draining it.
func (m *Manager) SubData(ctx context.Context, b *Buffer, offset int, data []byte) error {
	if b.mapped {
		return fmt.Errorf("%w: buffer %d", ErrMapped, b.Name())
	}
	if offset < 0 || len(data) > b.size-offset {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrInvalidValue, offset, offset+len(data), b.size)
	}
	if len(data) == 0 {
		return nil
	}
	if err := m.drain(ctx, b); err != nil {
		return err
	}
	if err := b.mem.Write(uint64(offset), data); err != nil {
		return fmt.Errorf("buffer %d: %w", b.Name(), err)
	}
	return nil
}

// Map drains the buffer and returns its store for CPU writes. The slice is
// valid until Unmap.
func (m *Manager) Map(ctx context.Context, b *Buffer, access Access) ([]byte, error) {
	if access != AccessWriteOnly {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAccess, int(access))
	}
	if b.mapped {
		return nil, fmt.Errorf("%w: buffer %d", ErrMapped, b.Name())
	}
	if b.mem == nil {
		return nil, fmt.Errorf("%w: buffer %d", ErrNoStorage, b.Name())
	}
	if err := m.drain(ctx, b); err != nil {
		return nil, err
	}
	p, err := b.mem.Bytes(0, uint64(b.size))
	if err != nil {
		return nil, fmt.Errorf("buffer %d: %w", b.Name(), err)
	}
	b.mapped = true
	b.access = access
	b.mapping = p
	return p, nil
}

// Unmap ends a mapping. Hardware may read the buffer again immediately.
func (m *Manager) Unmap(b *Buffer) error {
	if !b.mapped {
		return fmt.Errorf("%w: buffer %d", ErrNotMapped, b.Name())
	}
	b.mapped = false
	b.access = 0
	b.mapping = nil
	return nil
}

// ForDraw validates b for a draw call and attaches it to the current kick.
func (m *Manager) ForDraw(b *Buffer) error {
	if b.mapped {
		return fmt.Errorf("%w: buffer %d", ErrMapped, b.Name())
	}
	if b.mem != nil {
		m.krm.Attach(&b.Resource)
	}
	return nil
}

// Free destroys b. It is the free callback of the buffer names array. The
// store is released once drained; if the drain fails it is ghosted instead
// and released when hardware finishes with it.
func (m *Manager) Free(b *Buffer, shutdown bool) {
	if b.mem != nil {
		if err := m.drain(context.Background(), b); err != nil {
			logging.Logger().Warn("bufobj: drain before free failed, deferring release",
				"name", b.Name(), "shutdown", shutdown, "err", err)
			m.krm.Retire(&b.Resource, b.mem)
		} else {
			m.heap.Free(b.mem)
		}
		b.mem = nil
	}
	m.krm.RemoveFromAllLists(&b.Resource)
	b.size = 0
	b.mapped = false
	b.mapping = nil
}
