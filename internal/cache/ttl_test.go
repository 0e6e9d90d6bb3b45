package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"domamart/internal/platform/metrics"
	"domamart/internal/scheduler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type TTLCacheSuite struct {
	suite.Suite
	clock   *fakeClock
	sched   *scheduler.Manual
	metrics *metrics.Metrics
	cache   *TTLCache[string, int]
}

func TestTTLCacheSuite(t *testing.T) {
	suite.Run(t, new(TTLCacheSuite))
}

func (s *TTLCacheSuite) SetupTest() {
	s.clock = newFakeClock()
	s.sched = scheduler.NewManual()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.cache = New[string, int](
		WithName("test"),
		WithClock(s.clock.Now),
		WithScheduler(s.sched),
		WithMetrics(s.metrics),
		WithSweepInterval(50*time.Millisecond),
	)
}

// =============================================================================
// Expiry
// =============================================================================

func (s *TTLCacheSuite) TestExpiry() {
	s.Run("value is visible until its ttl elapses", func() {
		s.cache.SetWithTTL("k", 1, 100*time.Millisecond)

		v, ok := s.cache.Get("k")
		s.Require().True(ok)
		s.Equal(1, v)

		s.clock.Advance(150 * time.Millisecond)
		_, ok = s.cache.Get("k")
		s.False(ok)
		s.Equal(0, s.cache.Len(), "expired read evicts the entry")
	})

	s.Run("entry is still visible exactly at the ttl boundary", func() {
		s.cache.SetWithTTL("edge", 7, 100*time.Millisecond)
		s.clock.Advance(100 * time.Millisecond)
		s.True(s.cache.Has("edge"))
	})

	s.Run("set overwrites and restarts the ttl", func() {
		s.cache.SetWithTTL("k2", 1, 100*time.Millisecond)
		s.clock.Advance(80 * time.Millisecond)
		s.cache.SetWithTTL("k2", 2, 100*time.Millisecond)
		s.clock.Advance(80 * time.Millisecond)

		v, ok := s.cache.Get("k2")
		s.Require().True(ok)
		s.Equal(2, v)
	})

	s.Run("non-positive ttl uses the default", func() {
		c := New[string, int](WithClock(s.clock.Now), WithDefaultTTL(time.Second))
		c.SetWithTTL("k", 1, 0)
		s.clock.Advance(900 * time.Millisecond)
		s.True(c.Has("k"))
		s.clock.Advance(200 * time.Millisecond)
		s.False(c.Has("k"))
	})
}

// =============================================================================
// Sweep
// =============================================================================

func (s *TTLCacheSuite) TestSweep() {
	s.Run("expired entries stay counted until swept", func() {
		s.cache.SetWithTTL("short", 1, 100*time.Millisecond)
		s.cache.SetWithTTL("long", 2, time.Hour)
		s.clock.Advance(150 * time.Millisecond)

		s.Equal(2, s.cache.Len())
		s.Equal(1, s.cache.Sweep())
		s.Equal(1, s.cache.Len())
		s.True(s.cache.Has("long"))
	})

	s.Run("started cache sweeps on every scheduler tick", func() {
		s.cache.Clear()
		s.cache.Start(context.Background())
		s.cache.Start(context.Background())
		s.Equal(1, s.sched.Started(), "second Start is a no-op")
		s.Equal([]time.Duration{50 * time.Millisecond}, s.sched.Intervals())

		s.cache.SetWithTTL("k", 1, 100*time.Millisecond)
		s.clock.Advance(150 * time.Millisecond)
		s.sched.Tick()
		s.Equal(0, s.cache.Len())

		s.cache.Stop()
		s.Equal(0, s.sched.Active())
	})

	s.Run("evictions are counted by reason", func() {
		s.cache.SetWithTTL("read", 1, 100*time.Millisecond)
		s.clock.Advance(150 * time.Millisecond)
		_, ok := s.cache.Get("read")
		s.Require().False(ok)

		s.Equal(float64(1), promtest.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("test", metrics.EvictExpiredRead)))
		s.Equal(float64(2), promtest.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("test", metrics.EvictSweep)))
	})
}

// =============================================================================
// Complements
// =============================================================================

func (s *TTLCacheSuite) TestComplements() {
	s.cache.Set("a", 1)
	s.cache.Set("b", 2)

	s.True(s.cache.Delete("a"))
	s.False(s.cache.Delete("a"))
	s.False(s.cache.Has("a"))
	s.Equal(1, s.cache.Len())

	s.cache.Clear()
	s.Equal(0, s.cache.Len())

	_, ok := s.cache.Get("b")
	s.False(ok)
	s.Equal(float64(2), promtest.ToFloat64(s.metrics.CacheLookups.WithLabelValues("test", "miss")))
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				c.Set(j, i)
				c.Get(j)
				if j%10 == 0 {
					c.Sweep()
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", c.Len())
	}
}
