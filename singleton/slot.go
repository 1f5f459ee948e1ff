package singleton

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hnhuaxi/singular"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

var errSlotClosed = errors.New("slot closed")

type (
	buildFunc    func(ctx context.Context) (any, error)
	hookFunc     func(ctx context.Context, inst any) error
	teardownFunc func(inst any) error
)

type descriptor struct {
	build    buildFunc
	hooks    []hookFunc
	teardown teardownFunc
}

// cell is one generation of a slot's instance.
type cell struct {
	slot      *Slot
	value     any
	gen       uint64
	teardown  teardownFunc
	refs      atomic.Int64
	published atomic.Bool
	pinned    atomic.Bool
	reentries atomic.Int64
	disposed  chan struct{}
}

func (cl *cell) tryRetain() bool {
	for {
		n := cl.refs.Load()
		if n <= 0 {
			return false
		}
		if cl.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (cl *cell) release() error {
	if cl.refs.Dec() == 0 {
		return cl.slot.dispose(cl)
	}
	return nil
}

type slotStats struct {
	constructions atomic.Int64
	failures      atomic.Int64
	disposals     atomic.Int64
	reentries     atomic.Int64
	lockWaits     atomic.Int64
	lockTimeouts  atomic.Int64
}

// Slot is the per-type storage cell: at most one live instance, the lock that
// serializes its construction and the bookkeeping of its generations.
type Slot struct {
	key  reflect.Type
	name string

	mu   sync.Mutex
	cfg  Config
	desc *descriptor

	sem        *semaphore.Weighted
	locked     atomic.Bool
	owner      atomic.Pointer[construction]
	current    atomic.Pointer[cell]
	pending    atomic.Pointer[cell]
	generation atomic.Uint64
	retired    atomic.Bool
	closed     atomic.Bool

	stats slotStats
}

func newSlot(key reflect.Type, name string, cfg Config) *Slot {
	return &Slot{
		key:  key,
		name: name,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(1),
	}
}

func (s *Slot) Key() reflect.Type {
	return s.key
}

func (s *Slot) Name() string {
	return s.name
}

func (s *Slot) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg
}

func (s *Slot) descriptor() *descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.desc
}

func (s *Slot) describe(desc *descriptor, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errSlotClosed
	}
	if s.desc != nil {
		return fmt.Errorf("%w: %s", singular.ErrAlreadyRegistered, s.name)
	}
	s.desc = desc
	s.cfg = cfg
	return nil
}

func (s *Slot) debugf(f string, args ...interface{}) {
	if log := s.config().Logger; log != nil {
		log.Sugar().Debugf(f, args...)
	}
}

func (s *Slot) warnf(f string, args ...interface{}) {
	if log := s.config().Logger; log != nil {
		log.Sugar().Warnf(f, args...)
	}
}

// Peek returns the published instance without taking a reference. A
// generation whose last reference is already gone is reported as absent.
func (s *Slot) Peek() (any, bool) {
	cl := s.current.Load()
	if cl == nil || cl.refs.Load() <= 0 {
		return nil, false
	}
	return cl.value, true
}

// Get returns an owning reference to the published instance, if any. It never
// constructs.
func (s *Slot) Get() (*Ref, bool) {
	cl := s.retain()
	if cl == nil {
		return nil, false
	}
	return newRef(cl), true
}

func (s *Slot) Has() bool {
	_, ok := s.Peek()
	return ok
}

// Generation is the number of the last successfully constructed generation.
func (s *Slot) Generation() uint64 {
	return s.generation.Load()
}

func (s *Slot) retain() *cell {
	cl := s.current.Load()
	if cl != nil && cl.tryRetain() {
		return cl
	}
	return nil
}

func (s *Slot) lock(ctx context.Context) error {
	if s.sem.TryAcquire(1) {
		return nil
	}

	s.stats.lockWaits.Inc()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.timeoutErr(err)
	}
	return nil
}

func (s *Slot) unlock() {
	s.sem.Release(1)
}

func (s *Slot) timeoutErr(err error) error {
	s.stats.lockTimeouts.Inc()
	return fmt.Errorf("%w: %s: %w", singular.ErrLockTimeout, s.name, err)
}

func (s *Slot) acquire(ctx context.Context, build buildFunc) (*Ref, error) {
	if cl := s.retain(); cl != nil {
		return newRef(cl), nil
	}

	cfg := s.config()
	if s.locked.Load() && ownsConstruction(ctx, s.owner.Load()) {
		return s.reenter(cfg)
	}

	waitCtx := ctx
	if cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.LockTimeout)
		defer cancel()
	}

	if err := s.lock(waitCtx); err != nil {
		return nil, err
	}

	var (
		cl        *cell
		abandoned *cell
		events    []singular.Event
		err       error
	)
	func() {
		defer s.unlock()
		cl, abandoned, events, err = s.acquireLocked(ctx, waitCtx, cfg, build)
	}()

	if abandoned != nil {
		if terr := abandoned.release(); terr != nil {
			err = multierr.Append(err, terr)
		}
	}

	notify(cfg.Observer, events...)
	if err != nil {
		return nil, err
	}
	return newRef(cl), nil
}

// acquireLocked runs with the construction lock held. The returned cell
// carries one reference for the caller.
func (s *Slot) acquireLocked(ctx, waitCtx context.Context, cfg Config, build buildFunc) (cl, abandoned *cell, events []singular.Event, err error) {
	if s.closed.Load() {
		return nil, nil, nil, errSlotClosed
	}

	if cur := s.current.Load(); cur != nil {
		if cur.tryRetain() {
			return cur, nil, nil, nil
		}

		// the last reference is gone and teardown is in flight
		select {
		case <-cur.disposed:
		case <-waitCtx.Done():
			return nil, nil, nil, s.timeoutErr(waitCtx.Err())
		}
		s.current.CompareAndSwap(cur, nil)
	}

	if s.retired.Load() {
		return nil, nil, nil, fmt.Errorf("%w: %s", singular.ErrRetired, s.name)
	}

	var (
		hooks    []hookFunc
		teardown teardownFunc
	)
	if desc := s.descriptor(); desc != nil {
		if build == nil {
			build = desc.build
		}
		hooks, teardown = desc.hooks, desc.teardown
	}
	if build == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s has no build function", singular.ErrUnknownType, s.name)
	}

	return s.construct(ctx, cfg, build, hooks, teardown)
}

func (s *Slot) construct(ctx context.Context, cfg Config, build buildFunc, hooks []hookFunc, teardown teardownFunc) (cl, abandoned *cell, events []singular.Event, err error) {
	var (
		started = time.Now()
		gen     = s.generation.Load() + 1
		attempt = &construction{slot: s}
	)

	s.owner.Store(attempt)
	s.locked.Store(true)
	defer func() {
		s.locked.Store(false)
		s.owner.Store(nil)
		s.pending.Store(nil)
	}()

	ctx = withConstruction(ctx, attempt)
	s.debugf("construct %s generation %d", s.name, gen)

	value, err := protect(func() (any, error) { return build(ctx) })
	if err != nil {
		return nil, nil, []singular.Event{s.failed(gen, started, err)}, s.constructionErr(err)
	}

	cl = &cell{
		slot:     s,
		value:    value,
		gen:      gen,
		teardown: teardown,
		disposed: make(chan struct{}),
	}
	cl.refs.Store(1)
	s.pending.Store(cl)

	for _, hook := range hooks {
		if _, err = protect(func() (any, error) { return nil, hook(ctx, value) }); err != nil {
			events = append(events, s.failed(gen, started, err))
			return nil, cl, events, s.constructionErr(err)
		}
	}

	if cfg.Lifetime == LifetimePersistent {
		cl.refs.Inc()
		cl.pinned.Store(true)
	}

	cl.published.Store(true)
	s.generation.Store(gen)
	s.current.Store(cl)
	s.stats.constructions.Inc()

	if n := cl.reentries.Load(); n > 0 {
		events = append(events, s.event(singular.EventReentered, gen, started, nil))
	}
	events = append(events, s.event(singular.EventConstructed, gen, started, nil))
	s.debugf("constructed %s generation %d in %s", s.name, gen, time.Since(started))
	return cl, nil, events, nil
}

func (s *Slot) constructionErr(err error) error {
	s.stats.failures.Inc()
	return &singular.ConstructionError{Type: s.name, Err: err}
}

func (s *Slot) failed(gen uint64, started time.Time, err error) singular.Event {
	s.warnf("construct %s generation %d failed: %v", s.name, gen, err)
	return s.event(singular.EventFailed, gen, started, err)
}

// reenter serves an acquire issued by the chain that holds the construction
// lock. Blocking on the lock would deadlock.
func (s *Slot) reenter(cfg Config) (*Ref, error) {
	s.stats.reentries.Inc()

	cl := s.pending.Load()
	if cl == nil {
		return nil, fmt.Errorf("%w: %s requested while building itself", singular.ErrReentrantConstruction, s.name)
	}
	cl.reentries.Inc()

	if cfg.Reentrancy == ReentrancyReject {
		return nil, fmt.Errorf("%w: %s", singular.ErrReentrantConstruction, s.name)
	}

	if !cl.tryRetain() {
		return nil, fmt.Errorf("%w: %s", singular.ErrReentrantConstruction, s.name)
	}

	s.warnf("reentrant acquire of %s returns generation %d before its construction finished", s.name, cl.gen)
	return newRef(cl), nil
}

// dispose runs when the last reference of a generation is released. Teardown
// runs first, then the slot is cleared under the construction lock so that a
// racing construction of the next generation is never undone.
func (s *Slot) dispose(cl *cell) error {
	started := time.Now()

	err := s.teardown(cl)
	if !cl.published.Load() {
		return err
	}

	_ = s.sem.Acquire(context.Background(), 1)
	s.current.CompareAndSwap(cl, nil)
	s.sem.Release(1)

	return s.disposed(cl, started, err)
}

// teardown runs the teardown function of a generation without references
// and wakes everyone waiting for it to die.
func (s *Slot) teardown(cl *cell) error {
	var err error
	if cl.teardown != nil {
		_, err = protect(func() (any, error) { return nil, cl.teardown(cl.value) })
	}

	if cl.published.Load() && s.config().DisallowRebirth {
		s.retired.Store(true)
	}
	close(cl.disposed)
	return err
}

func (s *Slot) disposed(cl *cell, started time.Time, err error) error {
	s.stats.disposals.Inc()
	s.debugf("disposed %s generation %d", s.name, cl.gen)
	notify(s.config().Observer, s.event(singular.EventDisposed, cl.gen, started, err))
	return err
}

// detach prepares the slot for removal; the construction lock must be held.
// A generation that is still tearing down is waited for. A persistent
// generation is killed only when the slot's own reference is the last one,
// in a single step so that no fast path retain can slip in between; it is
// returned for the caller to tear down.
func (s *Slot) detach(waitCtx context.Context) (*cell, error) {
	cl := s.current.Load()
	if cl == nil {
		return nil, nil
	}

	if cl.pinned.Load() {
		if !cl.refs.CompareAndSwap(1, 0) {
			return nil, s.inUse(cl.refs.Load() - 1)
		}
		cl.pinned.Store(false)
		return cl, nil
	}

	if n := cl.refs.Load(); n > 0 {
		return nil, s.inUse(n)
	}

	select {
	case <-cl.disposed:
	case <-waitCtx.Done():
		return nil, s.timeoutErr(waitCtx.Err())
	}
	s.current.CompareAndSwap(cl, nil)
	return nil, nil
}

func (s *Slot) inUse(owners int64) error {
	return fmt.Errorf("%w: %s has %d owners", singular.ErrInUse, s.name, owners)
}

func (s *Slot) event(kind singular.EventKind, gen uint64, started time.Time, err error) singular.Event {
	evt := singular.Event{
		Kind:       kind,
		Type:       s.name,
		Generation: gen,
		Duration:   time.Since(started),
		At:         time.Now(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	return evt
}

func notify(obs singular.Observer, events ...singular.Event) {
	if obs == nil {
		return
	}
	for _, evt := range events {
		obs.Observe(evt)
	}
}

// protect turns a panic in user code into an error so locks are released on
// every path.
func protect(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
