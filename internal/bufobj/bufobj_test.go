package bufobj

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/glesres/internal/devmem"
	"github.com/gogpu/glesres/internal/krm"
)

// pollKicker completes kicks on submission, or after a number of
// completion polls when completeAfter is set, or never when hold is set.
type pollKicker struct {
	submitted     uint64
	completed     uint64
	hold          bool
	completeAfter int
}

func (k *pollKicker) Kick(context.Context, krm.KickFlags) (uint64, error) {
	k.submitted++
	if !k.hold && k.completeAfter == 0 {
		k.completed = k.submitted
	}
	return k.submitted, nil
}

func (k *pollKicker) Completed() uint64 {
	if k.completeAfter > 0 {
		k.completeAfter--
		if k.completeAfter == 0 {
			k.completed = k.submitted
		}
	}
	return k.completed
}

type fixture struct {
	m      *Manager
	krm    *krm.Manager
	heap   *devmem.Heap
	kicker *pollKicker
}

func newFixture(t *testing.T, budget uint64) *fixture {
	t.Helper()
	heap := devmem.NewHeap(&noop.Device{}, &noop.Queue{}, devmem.Config{BudgetBytes: budget})
	k := &pollKicker{}
	r := krm.New(k, heap, krm.Config{MaxRetries: 20, PollInterval: time.Microsecond})
	return &fixture{m: NewManager(heap, r), krm: r, heap: heap, kicker: k}
}

func fill(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func contents(t *testing.T, b *Buffer) []byte {
	t.Helper()
	out := make([]byte, b.Size())
	if err := b.Memory().Read(0, out); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return out
}

// submitHeld attaches b to a kick that does not complete.
func (f *fixture) submitHeld(t *testing.T, b *Buffer) {
	t.Helper()
	f.kicker.hold = true
	f.krm.Attach(&b.Resource)
	if err := f.krm.Flush(context.Background(), krm.KickWaitForTA); err != nil {
		t.Fatal(err)
	}
}

func TestDataAllocatesAndCopies(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)

	if err := f.m.Data(context.Background(), b, TargetArray, 64, fill(64, 7), UsageStaticDraw); err != nil {
		t.Fatalf("Data() error = %v", err)
	}
	if b.Size() != 64 || b.Align() != devmem.DefaultAlignment || b.Memory() == nil {
		t.Fatalf("buffer = size %d align %d mem %v", b.Size(), b.Align(), b.Memory())
	}
	if !bytes.Equal(contents(t, b), fill(64, 7)) {
		t.Error("data not copied into the store")
	}

	if err := f.m.Data(context.Background(), b, TargetArray, -1, nil, UsageStaticDraw); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Data(-1) error = %v, want ErrInvalidValue", err)
	}
	if err := f.m.Data(context.Background(), b, TargetArray, 64, fill(8, 1), UsageStaticDraw); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Data() with short data error = %v, want ErrInvalidValue", err)
	}
}

func TestDataSameSizeReusesStoreAfterDrain(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)
	if err := f.m.Data(context.Background(), b, TargetArray, 1024, fill(1024, 1), UsageStaticDraw); err != nil {
		t.Fatal(err)
	}
	mem := b.Memory()

	// The current kick reads the buffer: the copy must kick and wait first.
	f.krm.Attach(&b.Resource)
	kicks := f.krm.Kicks()
	if err := f.m.Data(context.Background(), b, TargetArray, 1024, fill(1024, 2), UsageStaticDraw); err != nil {
		t.Fatalf("Data() error = %v", err)
	}
	if b.Memory() != mem {
		t.Error("same size Data reallocated the store")
	}
	if f.krm.Kicks() != kicks+1 {
		t.Errorf("Kicks() = %d, want %d: data copied without draining", f.krm.Kicks(), kicks+1)
	}
	if !bytes.Equal(contents(t, b), fill(1024, 2)) {
		t.Error("new data not copied")
	}
	if f.heap.Stats().Allocations != 1 {
		t.Errorf("Allocations = %d, want 1", f.heap.Stats().Allocations)
	}
}

func TestDataSameSizeWithoutDataSkipsDrain(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)
	_ = f.m.Data(context.Background(), b, TargetArray, 32, nil, UsageStaticDraw)
	f.submitHeld(t, b)

	if err := f.m.Data(context.Background(), b, TargetArray, 32, nil, UsageDynamicDraw); err != nil {
		t.Fatalf("Data(nil) error = %v", err)
	}
	if b.Usage() != UsageDynamicDraw {
		t.Errorf("Usage() = %d, want UsageDynamicDraw", b.Usage())
	}
}

func TestDataNewLayoutReallocates(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		size   int
	}{
		{"larger", TargetArray, 128},
		{"smaller", TargetArray, 16},
		{"alignment differs", TargetElementArray, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			b := f.m.Create(1, TargetArray)
			_ = f.m.Data(context.Background(), b, TargetArray, 64, fill(64, 1), UsageStaticDraw)
			old := b.Memory()
			f.krm.Attach(&b.Resource)

			if err := f.m.Data(context.Background(), b, tt.target, tt.size, fill(tt.size, 9), UsageStreamDraw); err != nil {
				t.Fatalf("Data() error = %v", err)
			}
			if b.Memory() == old || !old.Freed() {
				t.Error("old store not replaced and released")
			}
			if f.krm.IsNeeded(&b.Resource) {
				t.Error("old store released while still needed")
			}
			if b.Size() != tt.size || b.Align() != tt.target.alignment() || b.Target() != tt.target {
				t.Errorf("buffer = size %d align %d target %s", b.Size(), b.Align(), b.Target())
			}
			if !bytes.Equal(contents(t, b), fill(tt.size, 9)) {
				t.Error("data not copied into the new store")
			}
		})
	}
}

func TestDataZeroSizeReleasesStore(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)
	_ = f.m.Data(context.Background(), b, TargetArray, 64, nil, UsageStaticDraw)
	old := b.Memory()

	if err := f.m.Data(context.Background(), b, TargetArray, 0, nil, UsageStaticDraw); err != nil {
		t.Fatal(err)
	}
	if b.Memory() != nil || !old.Freed() || b.Size() != 0 {
		t.Error("zero size Data kept a store")
	}
	if _, err := f.m.Map(context.Background(), b, AccessWriteOnly); !errors.Is(err, ErrNoStorage) {
		t.Errorf("Map() of empty buffer error = %v, want ErrNoStorage", err)
	}
}

func TestDataFailureLeavesBufferUntouched(t *testing.T) {
	t.Run("drain times out", func(t *testing.T) {
		f := newFixture(t, 0)
		b := f.m.Create(1, TargetArray)
		_ = f.m.Data(context.Background(), b, TargetArray, 64, fill(64, 5), UsageStaticDraw)
		old := b.Memory()
		f.submitHeld(t, b)

		for _, size := range []int{64, 128} {
			err := f.m.Data(context.Background(), b, TargetArray, size, fill(size, 6), UsageStaticDraw)
			if !errors.Is(err, krm.ErrWaitTimeout) {
				t.Fatalf("Data(%d) error = %v, want ErrWaitTimeout", size, err)
			}
			if b.Memory() != old || old.Freed() || b.Size() != 64 {
				t.Fatalf("Data(%d) changed the buffer after a failed drain", size)
			}
			if !bytes.Equal(contents(t, b), fill(64, 5)) {
				t.Fatalf("Data(%d) overwrote data still read by hardware", size)
			}
		}
	})

	t.Run("out of memory", func(t *testing.T) {
		f := newFixture(t, 100)
		b := f.m.Create(1, TargetArray)
		_ = f.m.Data(context.Background(), b, TargetArray, 64, fill(64, 5), UsageStaticDraw)
		old := b.Memory()

		err := f.m.Data(context.Background(), b, TargetArray, 80, nil, UsageStaticDraw)
		if !errors.Is(err, devmem.ErrOutOfMemory) {
			t.Fatalf("Data() error = %v, want ErrOutOfMemory", err)
		}
		if b.Memory() != old || old.Freed() || b.Size() != 64 {
			t.Error("failed allocation changed the buffer")
		}
	})
}

func TestSubData(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetElementArray)
	_ = f.m.Data(context.Background(), b, TargetElementArray, 8, fill(8, 0), UsageDynamicDraw)

	if err := f.m.SubData(context.Background(), b, 2, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SubData() error = %v", err)
	}
	if want := []byte{0, 0, 1, 2, 3, 0, 0, 0}; !bytes.Equal(contents(t, b), want) {
		t.Errorf("contents = %v, want %v", contents(t, b), want)
	}

	for _, off := range []int{-1, 6, math.MaxInt} {
		if err := f.m.SubData(context.Background(), b, off, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("SubData(%d) error = %v, want ErrInvalidValue", off, err)
		}
	}

	f.krm.Attach(&b.Resource)
	kicks := f.krm.Kicks()
	_ = f.m.SubData(context.Background(), b, 0, []byte{9})
	if f.krm.Kicks() != kicks+1 {
		t.Error("SubData wrote a buffer referenced by the current kick without draining")
	}
}

func TestMapUnmap(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)
	_ = f.m.Data(context.Background(), b, TargetArray, 16, fill(16, 0), UsageDynamicDraw)

	if _, err := f.m.Map(context.Background(), b, Access(7)); !errors.Is(err, ErrInvalidAccess) {
		t.Errorf("Map(bad access) error = %v, want ErrInvalidAccess", err)
	}

	f.krm.Attach(&b.Resource)
	kicks := f.krm.Kicks()
	p, err := f.m.Map(context.Background(), b, AccessWriteOnly)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if f.krm.Kicks() != kicks+1 || f.krm.IsNeeded(&b.Resource) {
		t.Error("Map did not drain the buffer")
	}
	if len(p) != 16 || !b.Mapped() || b.Access() != AccessWriteOnly {
		t.Fatalf("mapping len %d, mapped %v", len(p), b.Mapped())
	}
	copy(p, fill(16, 4))

	ctx := context.Background()
	checks := []struct {
		name string
		err  error
	}{
		{"Map", func() error { _, err := f.m.Map(ctx, b, AccessWriteOnly); return err }()},
		{"Data", f.m.Data(ctx, b, TargetArray, 16, nil, UsageStaticDraw)},
		{"SubData", f.m.SubData(ctx, b, 0, []byte{1})},
		{"ForDraw", f.m.ForDraw(b)},
	}
	for _, c := range checks {
		if !errors.Is(c.err, ErrMapped) {
			t.Errorf("%s while mapped error = %v, want ErrMapped", c.name, c.err)
		}
	}

	f.kicker.hold = true
	kicks = f.krm.Kicks()
	if err := f.m.Unmap(b); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	if f.krm.Kicks() != kicks {
		t.Error("Unmap kicked hardware")
	}
	if !bytes.Equal(contents(t, b), fill(16, 4)) {
		t.Error("writes through the mapping were lost")
	}
	if err := f.m.Unmap(b); !errors.Is(err, ErrNotMapped) {
		t.Errorf("second Unmap() error = %v, want ErrNotMapped", err)
	}
	if err := f.m.ForDraw(b); err != nil || !f.krm.IsInUse(&b.Resource) {
		t.Errorf("ForDraw() after Unmap = %v, attached %v", err, f.krm.IsInUse(&b.Resource))
	}
}

func TestFreeDrainsInEveryState(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture, b *Buffer)
		state     krm.State
		wantKicks uint64
	}{
		{"unused", func(*fixture, *Buffer) {}, krm.StateUnused, 0},
		{"completed", func(f *fixture, b *Buffer) {
			f.krm.Attach(&b.Resource)
			_ = f.krm.Flush(context.Background(), 0)
		}, krm.StateCompleted, 1},
		{"current", func(f *fixture, b *Buffer) {
			f.krm.Attach(&b.Resource)
		}, krm.StateCurrent, 1},
		{"submitted", func(f *fixture, b *Buffer) {
			f.submitHeld(t, b)
		}, krm.StateSubmitted, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			b := f.m.Create(1, TargetArray)
			_ = f.m.Data(context.Background(), b, TargetArray, 32, nil, UsageStaticDraw)
			mem := b.Memory()
			tt.setup(f, b)
			if got := f.krm.State(&b.Resource); got != tt.state {
				t.Fatalf("State() = %s, want %s", got, tt.state)
			}

			// Outstanding work completes only after a few polls.
			f.kicker.hold = false
			f.kicker.completeAfter = 3
			f.m.Free(b, false)

			if !mem.Freed() {
				t.Fatal("store not freed")
			}
			if f.kicker.completed != f.kicker.submitted {
				t.Error("store freed before hardware completed")
			}
			if f.krm.Kicks() != tt.wantKicks {
				t.Errorf("Kicks() = %d, want %d", f.krm.Kicks(), tt.wantKicks)
			}
			if f.krm.Ghosts() != 0 || b.Memory() != nil {
				t.Error("successful drain left a ghost or a store")
			}
		})
	}
}

func TestFreeAfterFailedDrainGhosts(t *testing.T) {
	f := newFixture(t, 0)
	b := f.m.Create(1, TargetArray)
	_ = f.m.Data(context.Background(), b, TargetArray, 32, nil, UsageStaticDraw)
	mem := b.Memory()
	f.submitHeld(t, b)

	f.m.Free(b, true)
	if mem.Freed() {
		t.Fatal("store freed while hardware still reads it")
	}
	if f.krm.Ghosts() != 1 || b.Memory() != nil {
		t.Fatalf("Ghosts() = %d, want the store handed to a ghost", f.krm.Ghosts())
	}
	f.kicker.completed = f.kicker.submitted
	f.krm.Reap()
	if !mem.Freed() {
		t.Error("ghosted store not freed after completion")
	}
}
