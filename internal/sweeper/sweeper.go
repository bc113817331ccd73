// Package sweeper expires pending requests and active sessions on a fixed
// interval. Expiry is only as fresh as the interval; nothing holds a
// per-row timer.
package sweeper

import (
	"context"
	"sync"
	"time"

	"herenow/pkg/logger"
)

type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type Target struct {
	Name    string
	Expirer Expirer
}

type Sweeper struct {
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(interval, timeout time.Duration, log *logger.Logger, targets ...Target) *Sweeper {
	return &Sweeper{
		targets:  targets,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("Sweeper started", "interval", s.interval, "targets", len(s.targets))
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce sweeps every target with one shared "now". A failing target is
// logged and retried on the next tick.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int64 {
	now := s.now()
	swept := make(map[string]int64, len(s.targets))

	for _, target := range s.targets {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := target.Expirer.SweepExpired(runCtx, now)
		cancel()

		if err != nil {
			s.log.Error("Sweep failed", "target", target.Name, "error", err)
			continue
		}
		swept[target.Name] = n
		if n > 0 {
			s.log.Info("Expired rows swept", "target", target.Name, "count", n)
		}
	}
	return swept
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
