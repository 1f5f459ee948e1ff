package singleton

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hnhuaxi/singular/registry"
	"go.uber.org/multierr"
)

// Descriptor is what a type supplies to take part in lazy construction.
type Descriptor[T any] struct {
	// Build creates the instance. It runs at most once per generation, with
	// the construction lock held.
	Build func(ctx context.Context) (T, error)
	// FirstConstruct hooks run in order on a freshly built instance before it
	// is published. They do not run for callers that get an existing one.
	FirstConstruct []func(ctx context.Context, inst T) error
	// Teardown runs once the last reference of a generation is released. It
	// must not acquire its own type.
	Teardown func(inst T) error
}

func (d Descriptor[T]) erase() *descriptor {
	var desc descriptor

	if d.Build != nil {
		desc.build = eraseBuild(d.Build)
	}

	for _, hook := range d.FirstConstruct {
		hook := hook
		desc.hooks = append(desc.hooks, func(ctx context.Context, inst any) error {
			return hook(ctx, inst.(T))
		})
	}

	if d.Teardown != nil {
		desc.teardown = func(inst any) error {
			return d.Teardown(inst.(T))
		}
	}
	return &desc
}

func eraseBuild[T any](build func(ctx context.Context) (T, error)) buildFunc {
	if build == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return build(ctx)
	}
}

// Type is the typed view of one slot of a coordinator.
type Type[T any] struct {
	c   *Coordinator
	key reflect.Type
}

// Register describes T to c. Options override the coordinator configuration
// for this type only.
func Register[T any](c *Coordinator, desc Descriptor[T], opts ...Option) (*Type[T], error) {
	key := registry.KeyOf[T]()
	if _, err := c.register(key, desc.erase(), opts...); err != nil {
		return nil, err
	}
	return Of[T](c), nil
}

// MustRegister is Register for package level variables.
func MustRegister[T any](c *Coordinator, desc Descriptor[T], opts ...Option) *Type[T] {
	t, err := Register(c, desc, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Of returns the typed view of T without describing it; constructors are
// then passed to AcquireWith.
func Of[T any](c *Coordinator) *Type[T] {
	return &Type[T]{
		c:   c,
		key: registry.KeyOf[T](),
	}
}

func (t *Type[T]) Key() reflect.Type {
	return t.key
}

func (t *Type[T]) Coordinator() *Coordinator {
	return t.c
}

func (t *Type[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	return t.handle(t.c.Acquire(ctx, t.key))
}

func (t *Type[T]) AcquireWith(ctx context.Context, build func(ctx context.Context) (T, error)) (*Handle[T], error) {
	return t.handle(t.c.AcquireWith(ctx, t.key, eraseBuild(build)))
}

func (t *Type[T]) handle(ref *Ref, err error) (*Handle[T], error) {
	if err != nil {
		return nil, err
	}

	if _, ok := ref.Value().(T); !ok && ref.Value() != nil {
		err := fmt.Errorf("singleton %s holds %T", t.key, ref.Value())
		return nil, multierr.Append(err, ref.Release())
	}
	return &Handle[T]{ref: ref}, nil
}

func (t *Type[T]) Peek() (T, bool) {
	var z T

	v, ok := t.c.Peek(t.key)
	if !ok {
		return z, false
	}

	inst, ok := v.(T)
	return inst, ok
}

func (t *Type[T]) Get() (*Handle[T], bool) {
	ref, ok := t.c.Get(t.key)
	if !ok {
		return nil, false
	}
	return &Handle[T]{ref: ref}, true
}

func (t *Type[T]) Has() bool {
	return t.c.Has(t.key)
}

func (t *Type[T]) Unregister(ctx context.Context) error {
	return t.c.Unregister(ctx, t.key)
}

// New returns the process-wide instance of T from the Default coordinator,
// calling ctor only when none exists yet. The instance is never released and
// lives for the rest of the process.
func New[T any](ctor func() T) T {
	h, err := Of[T](Default).AcquireWith(context.Background(), func(context.Context) (T, error) {
		return ctor(), nil
	})
	if err != nil {
		panic(fmt.Sprintf("singleton.New: %v", err))
	}
	return h.Value()
}
