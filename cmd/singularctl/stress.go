package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hnhuaxi/singular"
	"github.com/hnhuaxi/singular/events"
	"github.com/hnhuaxi/singular/metrics"
	"github.com/hnhuaxi/singular/router"
	"github.com/hnhuaxi/singular/singleton"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ledger struct {
	opened time.Time
}

type clock struct {
	epoch time.Time
}

type connPool struct {
	conns []int
}

func stressCmd(configPath *string) *cobra.Command {
	var (
		workers     int
		iterations  int
		hold        time.Duration
		buildDelay  time.Duration
		failEvery   int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Acquire and release demo singletons from many goroutines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Stress.Workers = workers
			}
			if flags.Changed("iterations") {
				cfg.Stress.Iterations = iterations
			}
			if flags.Changed("hold") {
				cfg.Stress.Hold = hold
			}
			if flags.Changed("build-delay") {
				cfg.Stress.BuildDelay = buildDelay
			}
			if flags.Changed("fail-every") {
				cfg.Stress.FailEvery = failEvery
			}
			if flags.Changed("metrics") {
				cfg.MetricsAddr = metricsAddr
			}

			return runStress(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 64, "Concurrent goroutines")
	cmd.Flags().IntVar(&iterations, "iterations", 1000, "Acquire/release cycles per goroutine")
	cmd.Flags().DurationVar(&hold, "hold", time.Millisecond, "How long each reference is held")
	cmd.Flags().DurationVar(&buildDelay, "build-delay", 5*time.Millisecond, "Simulated construction cost")
	cmd.Flags().IntVar(&failEvery, "fail-every", 0, "Fail every Nth connection pool build (0 disables)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve prometheus metrics on this address while running")

	return cmd
}

func exercise[T any](tp *singleton.Type[T], hold time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		h, err := tp.Acquire(ctx)
		if err != nil {
			return err
		}
		time.Sleep(hold)
		return h.Release()
	}
}

func registerDemoTypes(c *singleton.Coordinator, cfg StressConfig) ([]func(ctx context.Context) error, error) {
	var builds atomic.Int64

	ledgers, err := singleton.Register(c, singleton.Descriptor[*ledger]{
		Build: func(ctx context.Context) (*ledger, error) {
			time.Sleep(cfg.BuildDelay)
			return &ledger{opened: time.Now()}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	clocks, err := singleton.Register(c, singleton.Descriptor[*clock]{
		Build: func(ctx context.Context) (*clock, error) {
			return &clock{epoch: time.Now()}, nil
		},
	}, singleton.OptPersistent())
	if err != nil {
		return nil, err
	}

	pools, err := singleton.Register(c, singleton.Descriptor[*connPool]{
		Build: func(ctx context.Context) (*connPool, error) {
			n := builds.Inc()
			if cfg.FailEvery > 0 && n%int64(cfg.FailEvery) == 0 {
				return nil, fmt.Errorf("dial %d refused", n)
			}
			time.Sleep(cfg.BuildDelay)
			return &connPool{conns: make([]int, 0, 8)}, nil
		},
		FirstConstruct: []func(ctx context.Context, p *connPool) error{
			func(ctx context.Context, p *connPool) error {
				hc, err := clocks.Acquire(ctx)
				if err != nil {
					return err
				}
				defer hc.Release()

				p.conns = append(p.conns, int(hc.Value().epoch.Unix()%8))
				return nil
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return []func(ctx context.Context) error{
		exercise(ledgers, cfg.Hold),
		exercise(clocks, cfg.Hold),
		exercise(pools, cfg.Hold),
	}, nil
}

func serveMetrics(addr string, c *singleton.Coordinator, log *zap.Logger) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(c, ""))

	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Sugar().Errorf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func startRouter(ctx context.Context, bus *events.Events, log *zap.Logger) (*router.Router, error) {
	rt, err := router.New(message.RouterConfig{}, bus.Topic(), bus.Subscriber(), log)
	if err != nil {
		return nil, err
	}

	sugar := log.Sugar()
	rt.On(singular.EventFailed, func(ctx context.Context, evt singular.Event) error {
		sugar.Debugw("construction failed", "type", evt.Type, "error", evt.Error)
		return nil
	})
	rt.On(singular.EventReentered, func(ctx context.Context, evt singular.Event) error {
		sugar.Infow("reentrant acquire during construction", "type", evt.Type, "generation", evt.Generation)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Run(ctx)
	}()

	select {
	case <-rt.Running():
		return rt, nil
	case err := <-errCh:
		return nil, err
	}
}

func runStress(ctx context.Context, cfg *Config, out io.Writer) error {
	log, err := cfg.logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	bus, err := events.NewEvents(cfg.Events, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()

	stream, err := bus.Subscribe(subCtx)
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		counts = make(map[singular.EventKind]int)
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		for evt := range stream {
			mu.Lock()
			counts[evt.Kind]++
			mu.Unlock()
		}
	}()

	rt, err := startRouter(subCtx, bus, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	c := singleton.NewCoordinator(
		singleton.OptPolicy(cfg.Coordinator),
		singleton.OptLogger(log),
		singleton.OptObserver(bus),
	)

	ops, err := registerDemoTypes(c, cfg.Stress)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, c, log)
		defer stop()
	}

	var (
		started  = time.Now()
		failures atomic.Int64
		g, gctx  = errgroup.WithContext(ctx)
	)

	for w := 0; w < cfg.Stress.Workers; w++ {
		r := rand.New(rand.NewSource(started.UnixNano() + int64(w)))
		g.Go(func() error {
			for i := 0; i < cfg.Stress.Iterations; i++ {
				op := ops[r.Intn(len(ops))]
				if err := op(gctx); err != nil {
					if singular.CheckConstructionFailed(err) {
						failures.Inc()
						continue
					}
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(started)

	stats := c.Snapshot()
	if err := c.Shutdown(ctx); err != nil {
		log.Sugar().Warnf("shutdown: %v", err)
	}

	stopSub()
	<-done

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tGENERATION\tCONSTRUCTIONS\tFAILURES\tDISPOSALS\tREENTRIES\tLOCK WAITS\n")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			st.Type, st.Generation, st.Constructions, st.Failures, st.Disposals, st.Reentries, st.LockWaits)
	}
	tw.Flush()

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "\n%d workers x %d iterations in %s, %d failed acquires\n",
		cfg.Stress.Workers, cfg.Stress.Iterations, elapsed.Round(time.Millisecond), failures.Load())
	fmt.Fprintf(out, "events: constructed=%d failed=%d disposed=%d reentered=%d\n",
		counts[singular.EventConstructed], counts[singular.EventFailed],
		counts[singular.EventDisposed], counts[singular.EventReentered])
	return nil
}
