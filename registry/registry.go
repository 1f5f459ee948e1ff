package registry

import (
	"reflect"
	"sync"
)

// Registry maps type keys to values. It is safe for concurrent use; the zero
// value is ready to use.
type Registry[T any] struct {
	mu  sync.RWMutex
	set map[reflect.Type]T
}

type Ctor[T any] func() T

// KeyOf returns the type key for T. Interface types are keyed by the
// interface itself rather than by a dynamic type.
func KeyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// KeyFor returns the type key of the dynamic type of node.
func KeyFor(node interface{}) reflect.Type {
	return reflect.ValueOf(node).Type()
}

func (reg *Registry[T]) init() {
	if reg.set == nil {
		reg.set = make(map[reflect.Type]T)
	}
}

func (reg *Registry[T]) Register(node interface{}, val T) {
	reg.Store(KeyFor(node), val)
}

func (reg *Registry[T]) Store(key reflect.Type, val T) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.init()
	reg.set[key] = val
}

func (reg *Registry[T]) Lookup(key reflect.Type) (val T, ok bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	val, ok = reg.set[key]
	return val, ok
}

// LoadOrCreate returns the value stored for key, calling ctor to create and
// store it when absent. ctor runs under the registry lock, so two callers
// never create two values for the same key. loaded reports whether the value
// already existed.
func (reg *Registry[T]) LoadOrCreate(key reflect.Type, ctor Ctor[T]) (val T, loaded bool) {
	if val, ok := reg.Lookup(key); ok {
		return val, true
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.init()
	if val, ok := reg.set[key]; ok {
		return val, true
	}

	val = ctor()
	reg.set[key] = val
	return val, false
}

// DeleteIf removes key when match accepts its current value.
func (reg *Registry[T]) DeleteIf(key reflect.Type, match func(T) bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	val, ok := reg.set[key]
	if !ok || (match != nil && !match(val)) {
		return false
	}

	delete(reg.set, key)
	return true
}

func (reg *Registry[T]) Delete(key reflect.Type) bool {
	return reg.DeleteIf(key, nil)
}

func (reg *Registry[T]) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.set)
}

// Range calls fn for a snapshot of the entries; fn may modify the registry.
func (reg *Registry[T]) Range(fn func(key reflect.Type, val T) bool) {
	reg.mu.RLock()
	var (
		keys = make([]reflect.Type, 0, len(reg.set))
		vals = make([]T, 0, len(reg.set))
	)
	for k, v := range reg.set {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	reg.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], vals[i]) {
			return
		}
	}
}
