package waitroom

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"waitroom/logger"
	"waitroom/tools/safe"

	"go.uber.org/zap"
)

// Expirer evicts one stale session. *Controller implements it.
type Expirer interface {
	Expire(ctx context.Context, sessionID string) error
}

// ===== Config =====

type SweeperConf struct {
	Interval  time.Duration    // tick period (default 10s)
	OpTimeout time.Duration    // per store call (default 2s)
	Clock     func() time.Time // nil => time.Now
	Observer  Observer
}

func (c *SweeperConf) norm() {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
}

// Sweeper periodically evicts sessions whose heartbeat went stale. The scan
// runs on the ticker goroutine; the cleanup runs on its own goroutine so a
// slow store never delays the next tick. Ticks that arrive while a run is
// still in flight are skipped.
type Sweeper struct {
	heartbeats HeartbeatTracker
	expirer    Expirer
	settings   *Settings
	conf       SweeperConf

	running  atomic.Bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewSweeper(heartbeats HeartbeatTracker, expirer Expirer, settings *Settings, conf SweeperConf) *Sweeper {
	conf.norm()
	if settings == nil {
		settings = NewSettings(DefaultCapacity, DefaultTimeout)
	}
	return &Sweeper{
		heartbeats: heartbeats,
		expirer:    expirer,
		settings:   settings,
		conf:       conf,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine. Calling it twice is a no-op.
func (s *Sweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the ticker and waits for an in-flight cleanup to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	t := time.NewTicker(s.conf.Interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			// a panic in one run must not end the loop
			_ = safe.Run("sweeper.tick", func() { s.Tick() })
		}
	}
}

// Tick performs one scan. It returns true when a cleanup was dispatched.
func (s *Sweeper) Tick() bool {
	if !s.running.CompareAndSwap(false, true) {
		logger.Debug("[sweeper] previous run still in flight, skip")
		s.conf.Observer.SweepSkipped()
		return false
	}
	dispatched := false
	defer func() {
		if !dispatched {
			s.running.Store(false)
		}
	}()

	began := time.Now()
	expired, err := s.scan(s.conf.Clock())
	if err != nil {
		logger.Warn("[sweeper] scan failed, retry next tick", zap.Error(err))
		return false
	}
	if len(expired) == 0 {
		s.conf.Observer.Sweep(0, 0, time.Since(began))
		return false
	}

	dispatched = true
	s.wg.Add(1)
	safe.Go("sweeper.cleanup", func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		evicted := s.cleanup(expired)
		s.conf.Observer.Sweep(len(expired), evicted, time.Since(began))
	})
	return true
}

func (s *Sweeper) scan(now time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.OpTimeout)
	defer cancel()

	ids, err := s.heartbeats.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.heartbeats.Expired(ctx, ids, s.settings.Timeout(), now)
}

// cleanup re-checks each candidate before evicting it: a heartbeat may have
// landed between the scan and now.
func (s *Sweeper) cleanup(candidates []string) int {
	evicted := 0
	for _, sid := range candidates {
		if s.evict(sid) {
			evicted++
		}
	}
	if evicted > 0 {
		logger.Info("[sweeper] evicted stale sessions", zap.Int("candidates", len(candidates)), zap.Int("evicted", evicted))
	}
	return evicted
}

func (s *Sweeper) evict(sessionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.OpTimeout)
	defer cancel()

	still, err := s.heartbeats.Expired(ctx, []string{sessionID}, s.settings.Timeout(), s.conf.Clock())
	if err != nil {
		logger.Warn("[sweeper] recheck failed", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	if len(still) == 0 {
		logger.Debug("[sweeper] session revived before cleanup", zap.String("session", sessionID))
		return false
	}
	if err := s.expirer.Expire(ctx, sessionID); err != nil {
		logger.Warn("[sweeper] expire failed", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	return true
}
