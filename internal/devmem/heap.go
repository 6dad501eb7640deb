// Package devmem allocates GPU-addressable memory for texture, buffer and
// renderbuffer storage.
//
// Every Allocation is a hal.Buffer created on the configured device. The heap
// enforces a byte budget, hands out device virtual addresses and keeps usage
// statistics. Allocation failures are reported as ErrOutOfMemory so callers
// can surface them as GL_OUT_OF_MEMORY.
package devmem

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/glesres/internal/logging"
)

// Heap errors.
var (
	// ErrOutOfMemory is returned when an allocation cannot be satisfied.
	ErrOutOfMemory = errors.New("devmem: out of device memory")

	// ErrHeapClosed is returned when operating on a closed heap.
	ErrHeapClosed = errors.New("devmem: heap closed")

	// ErrFreed is returned when accessing an allocation after Free.
	ErrFreed = errors.New("devmem: allocation already freed")

	// ErrOutOfRange is returned for reads and writes past the allocation end.
	ErrOutOfRange = errors.New("devmem: access out of range")
)

const (
	// DefaultBudgetMB is the default device memory budget (128 MB).
	DefaultBudgetMB = 128

	// DefaultAlignment is the allocation alignment used when none is given.
	DefaultAlignment = 16

	// heapBase is the first device virtual address handed out.
	heapBase = 0x0100_0000
)

// Config holds configuration for creating a Heap.
type Config struct {
	// BudgetBytes is the maximum number of bytes that may be allocated.
	// Defaults to DefaultBudgetMB megabytes if zero.
	BudgetBytes uint64
}

// Stats contains heap usage statistics.
type Stats struct {
	// BudgetBytes is the total budget in bytes.
	BudgetBytes uint64

	// UsedBytes is the currently allocated size in bytes.
	UsedBytes uint64

	// Allocations is the number of live allocations.
	Allocations int

	// Failures is the number of allocations that failed.
	Failures uint64
}

// String returns a human-readable string of the statistics.
func (s Stats) String() string {
	return fmt.Sprintf("DeviceMemory[%d/%d KB, %d allocations, %d failures]",
		s.UsedBytes/1024, s.BudgetBytes/1024, s.Allocations, s.Failures)
}

// Heap tracks device memory allocations and enforces the budget.
//
// Heap is safe for concurrent use.
type Heap struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	budgetBytes uint64
	usedBytes   uint64
	nextAddr    uint64
	failures    uint64

	live   map[*Allocation]struct{}
	closed bool
}

// NewHeap creates a heap that allocates from device and writes through queue.
func NewHeap(device hal.Device, queue hal.Queue, cfg Config) *Heap {
	budget := cfg.BudgetBytes
	if budget == 0 {
		budget = DefaultBudgetMB * 1024 * 1024
	}
	return &Heap{
		device:      device,
		queue:       queue,
		budgetBytes: budget,
		nextAddr:    heapBase,
		live:        make(map[*Allocation]struct{}),
	}
}

// Allocation is one block of device memory.
//
// An allocation is owned by exactly one object at a time: a live texture,
// buffer or renderbuffer, or a ghost.
type Allocation struct {
	heap   *Heap
	buffer hal.Buffer
	size   uint64
	align  uint64
	addr   uint64
	label  string
	freed  bool
}

// Size returns the allocation size in bytes.
func (a *Allocation) Size() uint64 { return a.size }

// Align returns the alignment the allocation was made with.
func (a *Allocation) Align() uint64 { return a.align }

// DeviceAddress returns the device virtual address of the first byte.
func (a *Allocation) DeviceAddress() uint64 { return a.addr }

// Label returns the debug label.
func (a *Allocation) Label() string { return a.label }

// Freed reports whether the allocation has been released.
func (a *Allocation) Freed() bool {
	a.heap.mu.Lock()
	defer a.heap.mu.Unlock()
	return a.freed
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc allocates size bytes aligned to align (a power of two, 0 for the
// default). usage describes how the GPU will access the memory.
func (h *Heap) Alloc(size, align uint64, usage gputypes.BufferUsage, label string) (*Allocation, error) {
	if align == 0 {
		align = DefaultAlignment
	}
	if size == 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: invalid request size=%d align=%d", ErrOutOfMemory, size, align)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHeapClosed
	}
	if h.usedBytes+size > h.budgetBytes {
		h.failures++
		return nil, fmt.Errorf("%w: need %d bytes, %d available",
			ErrOutOfMemory, size, h.budgetBytes-h.usedBytes)
	}

	buf, err := h.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		h.failures++
		return nil, fmt.Errorf("%w: %s: %v", ErrOutOfMemory, label, err)
	}

	addr := alignUp(h.nextAddr, align)
	h.nextAddr = addr + size

	a := &Allocation{
		heap:   h,
		buffer: buf,
		size:   size,
		align:  align,
		addr:   addr,
		label:  label,
	}
	h.live[a] = struct{}{}
	h.usedBytes += size

	logging.Logger().Debug("devmem: alloc",
		"label", label, "size", size, "addr", fmt.Sprintf("%#x", addr))
	return a, nil
}

// Free releases an allocation. Freeing nil or an already freed allocation
// does nothing.
func (h *Heap) Free(a *Allocation) {
	if a == nil {
		return
	}

	h.mu.Lock()
	if a.freed {
		h.mu.Unlock()
		return
	}
	a.freed = true
	if _, ok := h.live[a]; ok {
		delete(h.live, a)
		h.usedBytes -= a.size
	}
	buf := a.buffer
	a.buffer = nil
	closed := h.closed
	h.mu.Unlock()

	// Destroy outside the lock; the device may call back into its own state.
	if !closed && buf != nil {
		h.device.DestroyBuffer(buf)
	}
	logging.Logger().Debug("devmem: free", "label", a.label, "size", a.size)
}

// Write copies data into the allocation at offset.
func (a *Allocation) Write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf, err := a.check(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	return a.heap.queue.WriteBuffer(buf, offset, data)
}

// Read copies len(dst) bytes starting at offset into dst.
func (a *Allocation) Read(offset uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	src, err := a.Bytes(offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Bytes maps size bytes at offset for direct CPU access. The returned slice
// aliases device memory and is valid until the allocation is freed.
func (a *Allocation) Bytes(offset, size uint64) ([]byte, error) {
	buf, err := a.check(offset, size)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	m, err := a.heap.device.MapBuffer(buf, offset, size)
	if err != nil {
		return nil, fmt.Errorf("devmem: map %s: %w", a.label, err)
	}
	return unsafe.Slice((*byte)(m.Ptr), size), nil
}

func (a *Allocation) check(offset, size uint64) (hal.Buffer, error) {
	a.heap.mu.Lock()
	defer a.heap.mu.Unlock()

	if a.freed {
		return nil, fmt.Errorf("%w: %s", ErrFreed, a.label)
	}
	if offset+size > a.size || offset+size < offset {
		return nil, fmt.Errorf("%w: %s [%d, %d) of %d", ErrOutOfRange, a.label, offset, offset+size, a.size)
	}
	return a.buffer, nil
}

// Stats returns current usage statistics.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		BudgetBytes: h.budgetBytes,
		UsedBytes:   h.usedBytes,
		Allocations: len(h.live),
		Failures:    h.failures,
	}
}

// SetBudget updates the byte budget. Live allocations are never revoked, a
// budget below current usage only makes further allocations fail.
func (h *Heap) SetBudget(bytes uint64) {
	h.mu.Lock()
	h.budgetBytes = bytes
	h.mu.Unlock()
}

// Close releases every live allocation and closes the heap.
// The heap should not be used after Close is called.
func (h *Heap) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	bufs := make([]hal.Buffer, 0, len(h.live))
	for a := range h.live {
		a.freed = true
		bufs = append(bufs, a.buffer)
		a.buffer = nil
	}
	h.live = nil
	h.usedBytes = 0
	h.closed = true
	h.mu.Unlock()

	for _, b := range bufs {
		h.device.DestroyBuffer(b)
	}
}
