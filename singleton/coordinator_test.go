package singleton

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hnhuaxi/singular"
	"github.com/hnhuaxi/singular/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type pool struct {
	ID    int
	ready atomic.Bool
}

type clock struct{}

type selfRef struct {
	inner *selfRef
	ready bool
}

func TestAcquireSameInstance(t *testing.T) {
	var (
		ctx   = context.Background()
		c     = NewCoordinator()
		calls atomic.Int64
		wg    sync.WaitGroup
		got   = make([]*Handle[*pool], 2)
		errs  = make([]error, 2)
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			calls.Inc()
			time.Sleep(50 * time.Millisecond)
			return &pool{ID: 1}, nil
		},
	})

	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = tp.Acquire(ctx)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, got[0].Value(), got[1].Value())
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), got[0].Generation())
}

func TestAcquireFailureLeavesSlotEmpty(t *testing.T) {
	var (
		ctx  = context.Background()
		c    = NewCoordinator()
		tp   = Of[*pool](c)
		boom = errors.New("boom")
	)

	_, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, singular.ErrConstructionFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, singular.CheckConstructionFailed(err))
	assert.False(t, tp.Has())

	h, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return &pool{ID: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.Value().ID)
	assert.Equal(t, uint64(1), h.Generation())

	st := c.Slot(tp.Key()).Stats()
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, int64(1), st.Constructions)
}

func TestDisposeClearsSlot(t *testing.T) {
	var (
		ctx       = context.Background()
		c         = NewCoordinator()
		calls     atomic.Int64
		teardowns atomic.Int64
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			return &pool{ID: int(calls.Inc())}, nil
		},
		Teardown: func(p *pool) error {
			teardowns.Inc()
			return nil
		},
	})

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	_, ok := tp.Peek()
	assert.False(t, ok)
	assert.Equal(t, int64(1), teardowns.Load())

	h, err = tp.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, h.Value().ID)
	assert.Equal(t, uint64(2), h.Generation())

	p, ok := tp.Peek()
	assert.True(t, ok)
	assert.Same(t, h.Value(), p)
}

func TestReentrantHookGetsInstance(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		tp  *Type[*selfRef]
	)

	tp = MustRegister(c, Descriptor[*selfRef]{
		Build: func(ctx context.Context) (*selfRef, error) {
			return &selfRef{}, nil
		},
		FirstConstruct: []func(ctx context.Context, inst *selfRef) error{
			func(ctx context.Context, inst *selfRef) error {
				h, err := tp.Acquire(ctx)
				if err != nil {
					return err
				}
				inst.inner = h.Value()
				return h.Release()
			},
			func(ctx context.Context, inst *selfRef) error {
				inst.ready = true
				return nil
			},
		},
	})

	done := make(chan struct{})
	var (
		h   *Handle[*selfRef]
		err error
	)
	go func() {
		defer close(done)
		h, err = tp.Acquire(ctx)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant acquire deadlocked")
	}

	require.NoError(t, err)
	assert.Same(t, h.Value(), h.Value().inner)
	assert.True(t, h.Value().ready)

	st := c.Slot(tp.Key()).Stats()
	assert.Equal(t, int64(1), st.Reentries)
	assert.Equal(t, int64(1), st.Refs)
}

func TestReentrantBuildFails(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		tp  *Type[*selfRef]
	)

	tp = MustRegister(c, Descriptor[*selfRef]{
		Build: func(ctx context.Context) (*selfRef, error) {
			if _, err := tp.Acquire(ctx); err != nil {
				return nil, err
			}
			return &selfRef{}, nil
		},
	})

	_, err := tp.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, singular.ErrConstructionFailed)
	assert.True(t, singular.CheckReentrant(err))
	assert.False(t, tp.Has())
}

func TestReentrantRejected(t *testing.T) {
	var (
		ctx    = context.Background()
		c      = NewCoordinator(OptRejectReentrant())
		tp     *Type[*selfRef]
		nested error
	)

	tp = MustRegister(c, Descriptor[*selfRef]{
		Build: func(ctx context.Context) (*selfRef, error) {
			return &selfRef{}, nil
		},
		FirstConstruct: []func(ctx context.Context, inst *selfRef) error{
			func(ctx context.Context, inst *selfRef) error {
				_, nested = tp.Acquire(ctx)
				return nil
			},
		},
	})

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, h.Value())
	assert.ErrorIs(t, nested, singular.ErrReentrantConstruction)
}

func TestNoPartialVisibility(t *testing.T) {
	var (
		ctx     = context.Background()
		c       = NewCoordinator()
		started = make(chan struct{})
		gate    = make(chan struct{})
		wg      sync.WaitGroup
		handles = make([]*Handle[*pool], 16)
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			return &pool{}, nil
		},
		FirstConstruct: []func(ctx context.Context, inst *pool) error{
			func(ctx context.Context, inst *pool) error {
				close(started)
				<-gate
				inst.ready.Store(true)
				return nil
			},
		},
	})

	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := tp.Acquire(ctx)
			if err == nil {
				handles[i] = h
			}
		}(i)
	}

	<-started
	_, ok := tp.Peek()
	assert.False(t, ok)
	_, ok = tp.Get()
	assert.False(t, ok)
	assert.False(t, tp.Has())

	close(gate)
	wg.Wait()

	for _, h := range handles {
		require.NotNil(t, h)
		assert.True(t, h.Value().ready.Load())
		assert.Same(t, handles[0].Value(), h.Value())
	}
}

func TestLockAlwaysReleased(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		tp  = Of[*pool](c)
	)

	assertUnlocked := func() {
		slot := c.Slot(tp.Key())
		require.True(t, slot.sem.TryAcquire(1))
		slot.sem.Release(1)
		assert.False(t, slot.locked.Load())
	}

	_, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return nil, errors.New("fail")
	})
	assert.Error(t, err)
	assertUnlocked()

	_, err = tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		panic("bad build")
	})
	assert.ErrorIs(t, err, singular.ErrConstructionFailed)
	assert.Contains(t, err.Error(), "bad build")
	assertUnlocked()

	h, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		h, err := tp.Acquire(ctx)
		if err == nil {
			h.Release()
		}
		return &pool{}, nil
	})
	require.NoError(t, err)
	assertUnlocked()
	require.NoError(t, h.Release())
}

func TestHookFailureTearsDownInstance(t *testing.T) {
	var (
		ctx       = context.Background()
		c         = NewCoordinator()
		teardowns atomic.Int64
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			return &pool{}, nil
		},
		FirstConstruct: []func(ctx context.Context, inst *pool) error{
			func(ctx context.Context, inst *pool) error {
				return errors.New("init")
			},
		},
		Teardown: func(*pool) error {
			teardowns.Inc()
			return nil
		},
	})

	_, err := tp.Acquire(ctx)
	assert.ErrorIs(t, err, singular.ErrConstructionFailed)
	assert.Equal(t, int64(1), teardowns.Load())
	assert.False(t, tp.Has())
	assert.Equal(t, uint64(0), c.Slot(tp.Key()).Generation())
}

func TestIndependentTypes(t *testing.T) {
	var (
		ctx      = context.Background()
		c        = NewCoordinator()
		startedA = make(chan struct{})
		blockA   = make(chan struct{})
		doneA    = make(chan error, 1)
	)

	a := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			close(startedA)
			<-blockA
			return &pool{}, nil
		},
	})
	b := MustRegister(c, Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) {
			return &clock{}, nil
		},
	})

	go func() {
		_, err := a.Acquire(ctx)
		doneA <- err
	}()
	<-startedA

	bctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	hb, err := b.Acquire(bctx)
	require.NoError(t, err)
	assert.NotNil(t, hb.Value())

	close(blockA)
	assert.NoError(t, <-doneA)
}

func TestLockTimeout(t *testing.T) {
	var (
		ctx     = context.Background()
		c       = NewCoordinator(OptLockTimeout(20 * time.Millisecond))
		started = make(chan struct{})
		block   = make(chan struct{})
		done    = make(chan error, 1)
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			close(started)
			<-block
			return &pool{}, nil
		},
	})

	go func() {
		_, err := tp.Acquire(ctx)
		done <- err
	}()
	<-started

	_, err := tp.Acquire(ctx)
	assert.ErrorIs(t, err, singular.ErrLockTimeout)
	assert.True(t, singular.CheckTimeout(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tp.Acquire(cctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	require.NoError(t, <-done)

	st := c.Slot(tp.Key()).Stats()
	assert.Equal(t, int64(2), st.LockTimeouts)
	assert.True(t, st.Live)
}

func TestTeardownSerializesRebirth(t *testing.T) {
	var (
		ctx     = context.Background()
		c       = NewCoordinator()
		tearing atomic.Bool
		builds  atomic.Int64
		release = make(chan struct{})
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			if tearing.Load() {
				return nil, errors.New("built during teardown")
			}
			return &pool{ID: int(builds.Inc())}, nil
		},
		Teardown: func(*pool) error {
			tearing.Store(true)
			<-release
			tearing.Store(false)
			return nil
		},
	})

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)

	released := make(chan error, 1)
	go func() {
		released <- h.Release()
	}()
	require.Eventually(t, tearing.Load, time.Second, time.Millisecond)
	assert.False(t, tp.Has())

	acquired := make(chan *Handle[*pool], 1)
	go func() {
		h, err := tp.Acquire(ctx)
		if err != nil {
			close(acquired)
			return
		}
		acquired <- h
	}()

	select {
	case <-acquired:
		t.Fatal("acquired while teardown was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	h2 := <-acquired
	require.NotNil(t, h2)
	assert.Equal(t, 2, h2.Value().ID)
	assert.Equal(t, uint64(2), h2.Generation())
	assert.NoError(t, <-released)

	p, ok := tp.Peek()
	assert.True(t, ok)
	assert.Same(t, h2.Value(), p)
}

func TestNoRebirth(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator(OptNoRebirth())
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			return &pool{}, nil
		},
	})

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	_, err = tp.Acquire(ctx)
	assert.ErrorIs(t, err, singular.ErrRetired)
	assert.True(t, c.Slot(tp.Key()).Stats().Retired)
}

func TestPersistentLifetime(t *testing.T) {
	var (
		ctx       = context.Background()
		c         = NewCoordinator()
		teardowns atomic.Int64
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			return &pool{}, nil
		},
		Teardown: func(*pool) error {
			teardowns.Inc()
			return nil
		},
	}, OptPersistent())

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	assert.True(t, tp.Has())
	assert.Equal(t, int64(0), teardowns.Load())

	h, err = tp.Acquire(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tp.Unregister(ctx), singular.ErrInUse)
	require.NoError(t, h.Release())

	require.NoError(t, tp.Unregister(ctx))
	assert.Equal(t, int64(1), teardowns.Load())
	assert.False(t, tp.Has())

	_, err = tp.Acquire(ctx)
	assert.ErrorIs(t, err, singular.ErrUnknownType)
}

func TestUnknownType(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
	)

	_, err := c.Acquire(ctx, registry.KeyOf[*clock]())
	assert.True(t, singular.CheckUnknownType(err))
	assert.Equal(t, 0, c.Len())

	_, err = Of[*clock](c).Acquire(ctx)
	assert.ErrorIs(t, err, singular.ErrUnknownType)

	assert.ErrorIs(t, c.Unregister(ctx, registry.KeyOf[*clock]()), singular.ErrUnknownType)
}

func TestRegisterTwice(t *testing.T) {
	c := NewCoordinator()
	desc := Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) { return &clock{}, nil },
	}

	_, err := Register(c, desc)
	require.NoError(t, err)
	_, err = Register(c, desc)
	assert.ErrorIs(t, err, singular.ErrAlreadyRegistered)
}

func TestGetNeverConstructs(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
	)

	tp := MustRegister(c, Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) { return &clock{}, nil },
	})

	_, ok := tp.Get()
	assert.False(t, ok)
	_, ok = tp.Peek()
	assert.False(t, ok)

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)

	g, ok := tp.Get()
	require.True(t, ok)
	assert.Same(t, h.Value(), g.Value())
	assert.Equal(t, int64(2), c.Slot(tp.Key()).Stats().Refs)

	require.NoError(t, h.Release())
	assert.True(t, tp.Has())
	require.NoError(t, g.Release())
	assert.False(t, tp.Has())
}

func TestLaterConstructorsIgnored(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		tp  = Of[*pool](c)
	)

	h1, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return &pool{ID: 1}, nil
	})
	require.NoError(t, err)
	h2, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return &pool{ID: 2}, nil
	})
	require.NoError(t, err)

	assert.Same(t, h1.Value(), h2.Value())
	assert.Equal(t, 1, h2.Value().ID)
}

func TestRefRelease(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		tp  = Of[*pool](c)
	)

	h, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return &pool{}, nil
	})
	require.NoError(t, err)

	h2, err := h.Retain()
	require.NoError(t, err)
	require.NoError(t, h.Release())
	assert.ErrorIs(t, h.Release(), singular.ErrReleased)
	assert.True(t, tp.Has())

	_, err = h.Retain()
	assert.ErrorIs(t, err, singular.ErrReleased)

	require.NoError(t, h2.Release())
	assert.False(t, tp.Has())
}

func TestTeardownError(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
	)

	tp := MustRegister(c, Descriptor[*pool]{
		Build:    func(ctx context.Context) (*pool, error) { return &pool{}, nil },
		Teardown: func(*pool) error { return errors.New("close failed") },
	})

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	assert.EqualError(t, h.Release(), "close failed")
	assert.False(t, tp.Has())
}

func TestShutdown(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator(OptPersistent())
	)

	p := MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) { return &pool{}, nil },
	})
	k := MustRegister(c, Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) { return &clock{}, nil },
	})

	hp, err := p.Acquire(ctx)
	require.NoError(t, err)
	hk, err := k.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, hk.Release())

	err = c.Shutdown(ctx)
	assert.ErrorIs(t, err, singular.ErrInUse)
	assert.Equal(t, 1, c.Len())
	assert.False(t, k.Has())

	require.NoError(t, hp.Release())
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestSnapshot(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
	)

	MustRegister(c, Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) { return &pool{}, nil },
	})
	k := MustRegister(c, Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) { return &clock{}, nil },
	})

	h, err := k.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	stats := c.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, "*github.com/hnhuaxi/singular/singleton.clock", stats[0].Type)
	assert.Equal(t, "*github.com/hnhuaxi/singular/singleton.pool", stats[1].Type)
	assert.True(t, stats[0].Live)
	assert.Equal(t, int64(1), stats[0].Refs)
	assert.False(t, stats[1].Live)
	assert.True(t, stats[1].Registered)
}

func TestObserverEvents(t *testing.T) {
	var (
		ctx    = context.Background()
		mu     sync.Mutex
		events []singular.Event
	)

	c := NewCoordinator(OptObserver(singular.ObserverFunc(func(evt singular.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})))
	tp := Of[*pool](c)

	_, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return nil, errors.New("nope")
	})
	require.Error(t, err)

	h, err := tp.AcquireWith(ctx, func(ctx context.Context) (*pool, error) {
		return &pool{}, nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Release())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, singular.EventFailed, events[0].Kind)
	assert.Equal(t, "nope", events[0].Error)
	assert.Equal(t, singular.EventConstructed, events[1].Kind)
	assert.Equal(t, uint64(1), events[1].Generation)
	assert.Equal(t, singular.EventDisposed, events[2].Kind)
	assert.Equal(t, "*github.com/hnhuaxi/singular/singleton.pool", events[2].Type)
}

func TestConstructing(t *testing.T) {
	var (
		ctx  = context.Background()
		c    = NewCoordinator()
		seen []*Slot
	)

	tp := MustRegister(c, Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) {
			seen = Constructing(ctx)
			return &clock{}, nil
		},
	})

	_, err := tp.Acquire(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, tp.Key(), seen[0].Key())
	assert.Empty(t, Constructing(ctx))
}

func TestUnregisterWaitsForTeardown(t *testing.T) {
	var (
		ctx      = context.Background()
		c        = NewCoordinator()
		live     atomic.Int64
		peak     atomic.Int64
		once     sync.Once
		tearing  = make(chan struct{})
		unblock  = make(chan struct{})
		released = make(chan error, 1)
		done     = make(chan error, 1)
	)

	desc := Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			n := live.Inc()
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return &pool{}, nil
		},
		Teardown: func(*pool) error {
			once.Do(func() { close(tearing) })
			<-unblock
			live.Dec()
			return nil
		},
	}
	tp := MustRegister(c, desc)

	h, err := tp.Acquire(ctx)
	require.NoError(t, err)
	go func() { released <- h.Release() }()
	<-tearing

	go func() { done <- tp.Unregister(ctx) }()
	select {
	case err := <-done:
		t.Fatalf("unregister returned %v while teardown was running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-done)
	require.NoError(t, <-released)
	assert.False(t, tp.Has())

	tp = MustRegister(c, desc)
	h, err = tp.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), peak.Load())
	require.NoError(t, h.Release())
	assert.Equal(t, int64(0), live.Load())
}

func TestUnregisterRacesFastPath(t *testing.T) {
	var (
		ctx       = context.Background()
		c         = NewCoordinator(OptPersistent())
		builds    atomic.Int64
		teardowns atomic.Int64
	)

	desc := Descriptor[*pool]{
		Build: func(ctx context.Context) (*pool, error) {
			builds.Inc()
			return &pool{}, nil
		},
		Teardown: func(*pool) error {
			teardowns.Inc()
			return nil
		},
	}

	for i := 0; i < 200; i++ {
		tp := MustRegister(c, desc)
		h, err := tp.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, h.Release())

		var (
			wg  sync.WaitGroup
			got *Handle[*pool]
			ok  bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, ok = tp.Get()
		}()
		go func() {
			defer wg.Done()
			err = tp.Unregister(ctx)
		}()
		wg.Wait()

		require.False(t, ok && err == nil, "round %d: unregistered while an owner held the instance", i)
		if ok {
			assert.ErrorIs(t, err, singular.ErrInUse)
			require.NoError(t, got.Release())
			require.NoError(t, tp.Unregister(ctx))
		} else {
			require.NoError(t, err)
		}
		assert.False(t, tp.Has())
	}

	assert.Equal(t, int64(200), builds.Load())
	assert.Equal(t, builds.Load(), teardowns.Load())
}

func TestHandleTypeMismatchReleases(t *testing.T) {
	var (
		ctx = context.Background()
		c   = NewCoordinator()
		key = registry.KeyOf[*pool]()
	)

	r, err := c.AcquireWith(ctx, key, func(ctx context.Context) (any, error) {
		return &clock{}, nil
	})
	require.NoError(t, err)

	_, err = Of[*pool](c).Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "*singleton.clock")

	require.NoError(t, r.Release())
	assert.False(t, c.Has(key))
}
