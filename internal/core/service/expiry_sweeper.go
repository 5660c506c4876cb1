package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront-orders/internal/port"
)

const sweepLockKey = "payment-expiry-sweep"

type dueOrderLister interface {
	ListPaymentDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type orderExpirer interface {
	ExpireIfDue(ctx context.Context, orderID int64) (bool, error)
}

type SweeperConfig struct {
	Interval time.Duration
	Batch    int
	Workers  int
	LockTTL  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// ExpirySweeper cancels online orders whose payment window closed while no
// one was reading them. With a cache it holds a lock so one replica sweeps
// at a time.
type ExpirySweeper struct {
	lister  dueOrderLister
	expirer orderExpirer
	cache   port.CacheRepository
	cfg     SweeperConfig
	logger  *slog.Logger
}

func NewExpirySweeper(lister dueOrderLister, expirer orderExpirer, cache port.CacheRepository, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExpirySweeper{
		lister:  lister,
		expirer: expirer,
		cache:   cache,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper: started", slog.Duration("interval", s.cfg.Interval), slog.Int("workers", s.cfg.Workers))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweeper: sweep failed", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce expires one batch of due orders and reports how many it cancelled.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.cache != nil {
		token := uuid.NewString()
		ok, err := s.cache.AcquireLock(ctx, sweepLockKey, token, s.cfg.LockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("sweeper: another replica holds the lock")
			return 0, nil
		}
		defer func() {
			if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				s.logger.Warn("sweeper: failed to release lock", slog.Any("error", err))
			}
		}()
	}

	ids, err := s.lister.ListPaymentDue(ctx, s.cfg.Now(), s.cfg.Batch)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	queue := make(chan int64, len(ids))
	for _, id := range ids {
		queue <- id
	}
	close(queue)

	var expired atomic.Int64
	var wg sync.WaitGroup
	workers := min(s.cfg.Workers, len(ids))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.workerLoop(ctx, id, queue, &expired)
		}(i)
	}
	wg.Wait()

	n := int(expired.Load())
	s.logger.Info("sweeper: sweep finished", slog.Int("due", len(ids)), slog.Int("expired", n))
	return n, nil
}

func (s *ExpirySweeper) workerLoop(ctx context.Context, id int, queue <-chan int64, expired *atomic.Int64) {
	log := s.logger.With(slog.Int("worker", id))
	for orderID := range queue {
		if ctx.Err() != nil {
			return
		}

		ok, err := s.expirer.ExpireIfDue(ctx, orderID)
		if err != nil {
			log.Error("sweeper: failed to expire order", slog.Int64("order_id", orderID), slog.Any("error", err))
			continue
		}
		if ok {
			expired.Add(1)
			log.Debug("sweeper: expired order", slog.Int64("order_id", orderID))
		}
	}
}
