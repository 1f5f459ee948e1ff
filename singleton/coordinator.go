package singleton

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/akrennmair/slice"
	"github.com/hnhuaxi/singular"
	"github.com/hnhuaxi/singular/registry"
	"github.com/hnhuaxi/singular/utils"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Coordinator owns the slots of every type that takes part in lazy singleton
// construction and runs the acquire protocol against them.
type Coordinator struct {
	cfg   Config
	slots registry.Registry[*Slot]
}

// Default is the process-wide coordinator used by New and by types
// registered without an explicit coordinator.
var Default = NewCoordinator()

func NewCoordinator(opts ...Option) *Coordinator {
	return &Coordinator{
		cfg: newConfig(opts...),
	}
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// Slot returns the slot of key, creating it on first use.
func (c *Coordinator) Slot(key reflect.Type) *Slot {
	slot, _ := c.slots.LoadOrCreate(key, func() *Slot {
		return newSlot(key, utils.TypeName(key), c.cfg)
	})
	return slot
}

func (c *Coordinator) Lookup(key reflect.Type) (*Slot, bool) {
	return c.slots.Lookup(key)
}

func (c *Coordinator) register(key reflect.Type, desc *descriptor, opts ...Option) (*Slot, error) {
	cfg, err := overlay(c.cfg, opts...)
	if err != nil {
		return nil, err
	}

	for {
		slot := c.Slot(key)
		err := slot.describe(desc, cfg)
		if errors.Is(err, errSlotClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return slot, nil
	}
}

// Acquire returns an owning reference to the instance of key, constructing it
// with the registered build function when no live instance exists.
func (c *Coordinator) Acquire(ctx context.Context, key reflect.Type) (*Ref, error) {
	for {
		slot, ok := c.slots.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", singular.ErrUnknownType, utils.TypeName(key))
		}

		ref, err := slot.acquire(ctx, nil)
		if errors.Is(err, errSlotClosed) {
			continue
		}
		return ref, err
	}
}

// AcquireWith is Acquire with the build function supplied by the caller. The
// slot is created on first use; hooks and teardown of a registered
// descriptor still apply. build only runs when a new generation starts.
func (c *Coordinator) AcquireWith(ctx context.Context, key reflect.Type, build func(ctx context.Context) (any, error)) (*Ref, error) {
	for {
		ref, err := c.Slot(key).acquire(ctx, build)
		if errors.Is(err, errSlotClosed) {
			continue
		}
		return ref, err
	}
}

// Peek returns the live instance of key without taking a reference.
func (c *Coordinator) Peek(key reflect.Type) (any, bool) {
	slot, ok := c.slots.Lookup(key)
	if !ok {
		return nil, false
	}
	return slot.Peek()
}

// Get returns an owning reference to the live instance of key. It never
// constructs.
func (c *Coordinator) Get(key reflect.Type) (*Ref, bool) {
	slot, ok := c.slots.Lookup(key)
	if !ok {
		return nil, false
	}
	return slot.Get()
}

func (c *Coordinator) Has(key reflect.Type) bool {
	_, ok := c.Peek(key)
	return ok
}

// Unregister tears a type down explicitly: the slot's own reference under the
// persistent lifetime is dropped and the slot leaves the registry. It fails
// with ErrInUse while other owners still hold the instance.
func (c *Coordinator) Unregister(ctx context.Context, key reflect.Type) error {
	slot, ok := c.slots.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", singular.ErrUnknownType, utils.TypeName(key))
	}

	waitCtx := ctx
	if timeout := slot.config().LockTimeout; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := slot.lock(waitCtx); err != nil {
		return err
	}

	started := time.Now()
	pinned, err := slot.detach(waitCtx)
	if err != nil {
		slot.unlock()
		return err
	}

	var terr error
	if pinned != nil {
		terr = slot.teardown(pinned)
		slot.current.CompareAndSwap(pinned, nil)
	}

	slot.closed.Store(true)
	c.slots.DeleteIf(key, func(v *Slot) bool { return v == slot })
	slot.unlock()

	slot.debugf("unregistered %s", slot.name)
	if pinned != nil {
		return slot.disposed(pinned, started, terr)
	}
	return nil
}

// Shutdown unregisters every type. Types still in use are left registered and
// reported in the returned error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var err error
	c.slots.Range(func(key reflect.Type, _ *Slot) bool {
		err = multierr.Append(err, c.Unregister(ctx, key))
		return true
	})
	return err
}

func (c *Coordinator) Len() int {
	return c.slots.Len()
}

// Snapshot returns the stats of every slot ordered by type name.
func (c *Coordinator) Snapshot() []Stats {
	var slots []*Slot
	c.slots.Range(func(_ reflect.Type, slot *Slot) bool {
		slots = append(slots, slot)
		return true
	})

	stats := slice.Map(slots, (*Slot).Stats)
	slices.SortFunc(stats, func(a, b Stats) int {
		return strings.Compare(a.Type, b.Type)
	})
	return stats
}
