package singleton

import (
	"fmt"
	"reflect"

	"github.com/hnhuaxi/singular"
	"go.uber.org/atomic"
)

// Ref is an owning reference to a singleton instance. Every Ref must be
// released exactly once; releasing the last one disposes the generation.
type Ref struct {
	cl       *cell
	released atomic.Bool
}

func newRef(cl *cell) *Ref {
	return &Ref{cl: cl}
}

func (r *Ref) Value() any {
	return r.cl.value
}

func (r *Ref) Type() reflect.Type {
	return r.cl.slot.key
}

func (r *Ref) Generation() uint64 {
	return r.cl.gen
}

// Retain returns another owning reference to the same instance. It fails once
// the generation has lost its last reference.
func (r *Ref) Retain() (*Ref, error) {
	if r.released.Load() || !r.cl.tryRetain() {
		return nil, fmt.Errorf("%w: %s", singular.ErrReleased, r.cl.slot.name)
	}
	return newRef(r.cl), nil
}

// Release drops the reference. The teardown error of the generation, if this
// was its last reference, is returned.
func (r *Ref) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", singular.ErrReleased, r.cl.slot.name)
	}
	return r.cl.release()
}

// Handle is the typed form of Ref.
type Handle[T any] struct {
	ref *Ref
}

func (h *Handle[T]) Value() T {
	v, _ := h.ref.Value().(T)
	return v
}

func (h *Handle[T]) Ref() *Ref {
	return h.ref
}

func (h *Handle[T]) Generation() uint64 {
	return h.ref.Generation()
}

func (h *Handle[T]) Retain() (*Handle[T], error) {
	ref, err := h.ref.Retain()
	if err != nil {
		return nil, err
	}
	return &Handle[T]{ref: ref}, nil
}

func (h *Handle[T]) Release() error {
	return h.ref.Release()
}
