// Package names implements the object namespace of a GL context: a fixed
// bucket hash table mapping small nonzero integer names to reference counted
// objects (textures, buffers, renderbuffers, framebuffers, vertex arrays).
//
// Every nameable object embeds an Item header. The Array owns the reference
// taken at Insert; callers obtain additional references with AddRef and give
// them back with DelRef. When the count reaches zero the object is unlinked
// and the array's FreeFunc runs after the array lock has been released, so
// the free callback may use the array again.
package names

import (
	"errors"
	"fmt"
	"sync"
)

// NumBuckets is the fixed number of hash buckets of an Array.
// It is prime so that the sequential names produced by GenNames spread evenly;
// 211, 307, 401 and 509 are other usable primes.
const NumBuckets = 439

// Namespace errors.
var (
	// ErrZeroName is returned when inserting an item whose name is 0.
	ErrZeroName = errors.New("names: name 0 is reserved")

	// ErrDuplicateName is returned when inserting a name that is already linked.
	ErrDuplicateName = errors.New("names: name already in use")

	// ErrNotGenerated is returned by generated-only arrays for names that
	// did not come from GenNames.
	ErrNotGenerated = errors.New("names: name was not generated")

	// ErrInvalidCount is returned when GenNames is asked for a negative count.
	ErrInvalidCount = errors.New("names: invalid name count")
)

// Type identifies the kind of object an Array stores.
type Type int

const (
	// TypeTexture names texture objects.
	TypeTexture Type = iota
	// TypeBuffer names vertex and index buffer objects.
	TypeBuffer
	// TypeRenderbuffer names renderbuffer objects.
	TypeRenderbuffer
	// TypeFramebuffer names framebuffer objects.
	TypeFramebuffer
	// TypeVertexArray names vertex array objects.
	TypeVertexArray
)

// String returns a human-readable name for the type.
func (t Type) String() string {
	switch t {
	case TypeTexture:
		return "Texture"
	case TypeBuffer:
		return "Buffer"
	case TypeRenderbuffer:
		return "Renderbuffer"
	case TypeFramebuffer:
		return "Framebuffer"
	case TypeVertexArray:
		return "VertexArray"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Item is the header embedded in every nameable object.
// Its fields are guarded by the lock of the Array the object lives in.
type Item struct {
	name               uint32
	refCount           uint32
	generatedButUnused bool
	linked             bool
	next               Object
}

// Named returns the header itself, so that embedding Item satisfies Object.
func (it *Item) Named() *Item { return it }

// SetName sets the name of an item that has not been inserted yet.
// generated reports whether the name came from GenNames.
func (it *Item) SetName(name uint32, generated bool) {
	it.name = name
	it.generatedButUnused = generated
}

// Name returns the object name.
func (it *Item) Name() uint32 { return it.name }

// RefCount returns the current reference count.
func (it *Item) RefCount() uint32 { return it.refCount }

// GeneratedButUnused reports whether the name was generated but the item
// has not been inserted yet.
func (it *Item) GeneratedButUnused() bool { return it.generatedButUnused }

// Linked reports whether the item is still reachable by name.
func (it *Item) Linked() bool { return it.linked }

// Object is implemented by every type stored in an Array.
type Object interface {
	Named() *Item
}

// FreeFunc destroys an object whose last reference was dropped.
// shutdown is true when the array itself is being destroyed.
type FreeFunc[T Object] func(obj T, shutdown bool)

// Config describes the namespace rules of an Array.
type Config struct {
	// Type is the kind of object stored.
	Type Type

	// GeneratedOnly rejects Insert of names that were not produced by GenNames.
	GeneratedOnly bool

	// Shareable marks arrays visible to every context of a share group.
	Shareable bool
}

// Array is a fixed-size chained hash table of named objects.
//
// Array is safe for concurrent use. All operations take the lock given to
// New; several arrays may share one lock.
type Array[T Object] struct {
	cfg  Config
	mu   sync.Locker
	free FreeFunc[T]

	lastName  uint32
	itemCount int
	buckets   [NumBuckets]Object

	// reserved holds names handed out by GenNames and not inserted yet.
	// Only tracked for generated-only arrays.
	reserved map[uint32]struct{}

	bucketVisits uint64
}

// New creates an empty array. The lock is provided by the caller and is not
// owned by the array.
func New[T Object](cfg Config, mu sync.Locker, free FreeFunc[T]) *Array[T] {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	a := &Array[T]{
		cfg:  cfg,
		mu:   mu,
		free: free,
	}
	if cfg.GeneratedOnly {
		a.reserved = make(map[uint32]struct{})
	}
	return a
}

// Type returns the kind of object stored.
func (a *Array[T]) Type() Type { return a.cfg.Type }

// Shareable reports whether the array is shared across contexts.
func (a *Array[T]) Shareable() bool { return a.cfg.Shareable }

func bucketOf(name uint32) int { return int(name % NumBuckets) }

// lookupLocked finds a linked object by name. Caller must hold mu.
func (a *Array[T]) lookupLocked(name uint32) Object {
	for o := a.buckets[bucketOf(name)]; o != nil; o = o.Named().next {
		if o.Named().name == name {
			return o
		}
	}
	return nil
}

// unlinkLocked removes an object from its bucket. Caller must hold mu.
func (a *Array[T]) unlinkLocked(obj Object) {
	it := obj.Named()
	b := bucketOf(it.name)
	var prev Object
	for o := a.buckets[b]; o != nil; o = o.Named().next {
		if o.Named() == it {
			if prev == nil {
				a.buckets[b] = it.next
			} else {
				prev.Named().next = it.next
			}
			it.next = nil
			it.linked = false
			a.itemCount--
			return
		}
		prev = o
	}
}

// GenNames returns count unique nonzero names that are not currently linked.
// The names are not inserted; they only advance the generation counter.
func (a *Array[T]) GenNames(count int) ([]uint32, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	out := make([]uint32, 0, count)

	a.mu.Lock()
	defer a.mu.Unlock()

	for len(out) < count {
		a.lastName++
		if a.lastName == 0 {
			// Wrapped around.
			a.lastName = 1
		}
		name := a.lastName
		if a.lookupLocked(name) != nil {
			continue
		}
		if a.reserved != nil {
			if _, taken := a.reserved[name]; taken {
				continue
			}
			a.reserved[name] = struct{}{}
		}
		out = append(out, name)
	}
	return out, nil
}

// Insert links obj under its name with a reference count of 1.
// The reference belongs to the array and is dropped by DelRefByName.
func (a *Array[T]) Insert(obj T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(obj, 1)
}

// InsertRef is Insert plus one reference for the caller, both taken under a
// single lock hold. A concurrent DelRefByName can therefore never free obj
// before the caller's reference exists.
func (a *Array[T]) InsertRef(obj T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(obj, 2)
}

func (a *Array[T]) insertLocked(obj T, refs uint32) error {
	it := obj.Named()
	if it.name == 0 {
		return ErrZeroName
	}
	if a.lookupLocked(it.name) != nil {
		return fmt.Errorf("%w: %s %d", ErrDuplicateName, a.cfg.Type, it.name)
	}
	if a.reserved != nil {
		if _, ok := a.reserved[it.name]; !ok {
			return fmt.Errorf("%w: %s %d", ErrNotGenerated, a.cfg.Type, it.name)
		}
		delete(a.reserved, it.name)
	}

	b := bucketOf(it.name)
	it.refCount = refs
	it.generatedButUnused = false
	it.linked = true
	it.next = a.buckets[b]
	a.buckets[b] = obj
	a.itemCount++
	return nil
}

// AddRef looks up name and takes a reference on the object found.
// It reports false when the name is not bound to an object.
func (a *Array[T]) AddRef(name uint32) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o := a.lookupLocked(name)
	if o == nil {
		var zero T
		return zero, false
	}
	o.Named().refCount++
	return o.(T), true
}

// DelRef drops one reference. When the count reaches zero the object is
// unlinked and destroyed with the FreeFunc, outside the array lock.
func (a *Array[T]) DelRef(obj T) {
	it := obj.Named()

	a.mu.Lock()
	if it.refCount == 0 {
		a.mu.Unlock()
		panic(fmt.Sprintf("names: refcount underflow on %s %d", a.cfg.Type, it.name))
	}
	it.refCount--
	dead := it.refCount == 0
	if dead && it.linked {
		a.unlinkLocked(obj)
	}
	a.mu.Unlock()

	if dead && a.free != nil {
		a.free(obj, false)
	}
}

// DelRefByName unlinks every listed name and drops the array's reference on
// the object. Missing names are skipped. All names are free for reuse when
// DelRefByName returns, even if other references keep the objects alive.
func (a *Array[T]) DelRefByName(names []uint32) {
	var dead []T

	a.mu.Lock()
	for _, name := range names {
		if a.reserved != nil {
			delete(a.reserved, name)
		}
		if name == 0 {
			continue
		}
		o := a.lookupLocked(name)
		if o == nil {
			continue
		}
		a.unlinkLocked(o)
		it := o.Named()
		it.refCount--
		if it.refCount == 0 {
			dead = append(dead, o.(T))
		}
	}
	a.mu.Unlock()

	if a.free == nil {
		return
	}
	for _, obj := range dead {
		a.free(obj, false)
	}
}

// Map calls fn for every linked object. fn runs with the array lock held and
// must not call back into the array. An empty array is not scanned at all.
func (a *Array[T]) Map(fn func(T)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.itemCount == 0 {
		return
	}
	for b := range a.buckets {
		a.bucketVisits++
		for o := a.buckets[b]; o != nil; {
			next := o.Named().next
			fn(o.(T))
			o = next
		}
	}
}

// Len returns the number of linked objects.
func (a *Array[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.itemCount
}

// BucketVisits returns how many buckets Map has traversed so far.
func (a *Array[T]) BucketVisits() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bucketVisits
}

// Destroy frees every linked object with shutdown set, regardless of its
// reference count, and empties the table.
func (a *Array[T]) Destroy() {
	var all []T

	a.mu.Lock()
	for b := range a.buckets {
		for o := a.buckets[b]; o != nil; {
			it := o.Named()
			next := it.next
			it.next = nil
			it.linked = false
			all = append(all, o.(T))
			o = next
		}
		a.buckets[b] = nil
	}
	a.itemCount = 0
	if a.reserved != nil {
		clear(a.reserved)
	}
	a.mu.Unlock()

	if a.free == nil {
		return
	}
	for _, obj := range all {
		a.free(obj, true)
	}
}
