// Package quota tracks hourly and daily provider send quotas across
// invocations. Transactional email plans carry volume quotas on top of the
// per-second rate limit; the guard persists its counters so restarts do not
// reset consumed quota.
package quota

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQuota = []byte("send_quota")

const counterKey = "provider"

// Limits contains quota values; zero disables that window.
type Limits struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// Enabled reports whether any window is configured.
func (l Limits) Enabled() bool {
	return l.MessagesPerHour > 0 || l.MessagesPerDay > 0
}

// Counter tracks consumed quota per window
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Guard enforces provider quotas with persisted counters
type Guard struct {
	db            *bolt.DB
	limits        Limits
	flushInterval time.Duration

	mu      sync.Mutex
	counter Counter
	stopCh  chan struct{}
}

// NewGuard creates a quota guard backed by the given bolt database.
func NewGuard(db *bolt.DB, limits Limits) (*Guard, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuota)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	g := &Guard{
		db:            db,
		limits:        limits,
		flushInterval: 10 * time.Second,
		stopCh:        make(chan struct{}),
	}

	if err := g.load(); err != nil {
		return nil, fmt.Errorf("failed to load quota counters: %w", err)
	}

	go g.persistLoop()

	return g, nil
}

// Allow reports whether one more send is within quota and consumes it when
// so. On denial it returns the wait until the limiting window resets.
func (g *Guard) Allow() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.resetExpired(now)

	if g.limits.MessagesPerHour > 0 && g.counter.HourlyCount >= g.limits.MessagesPerHour {
		return false, g.counter.HourStart.Add(time.Hour).Sub(now)
	}
	if g.limits.MessagesPerDay > 0 && g.counter.DailyCount >= g.limits.MessagesPerDay {
		return false, g.counter.DayStart.Add(24 * time.Hour).Sub(now)
	}

	g.counter.HourlyCount++
	g.counter.DailyCount++
	return true, 0
}

// Remaining returns how many sends the tighter window still permits; -1
// means unlimited.
func (g *Guard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetExpired(time.Now())

	remaining := -1
	if g.limits.MessagesPerHour > 0 {
		remaining = g.limits.MessagesPerHour - g.counter.HourlyCount
	}
	if g.limits.MessagesPerDay > 0 {
		daily := g.limits.MessagesPerDay - g.counter.DailyCount
		if remaining < 0 || daily < remaining {
			remaining = daily
		}
	}
	if remaining < 0 && (g.limits.MessagesPerHour > 0 || g.limits.MessagesPerDay > 0) {
		return 0
	}
	return remaining
}

// Stop stops the guard and persists counters.
func (g *Guard) Stop() error {
	close(g.stopCh)
	return g.persist()
}

func (g *Guard) resetExpired(now time.Time) {
	if g.counter.HourStart.IsZero() {
		g.counter.HourStart = now
		g.counter.DayStart = now
		return
	}
	if now.Sub(g.counter.HourStart) >= time.Hour {
		g.counter.HourlyCount = 0
		g.counter.HourStart = now
	}
	if now.Sub(g.counter.DayStart) >= 24*time.Hour {
		g.counter.DailyCount = 0
		g.counter.DayStart = now
	}
}

func (g *Guard) load() error {
	return g.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(counterKey))
		if data == nil {
			return nil
		}
		var counter Counter
		if err := json.Unmarshal(data, &counter); err != nil {
			return nil // start fresh on a corrupt entry
		}
		g.counter = counter
		return nil
	})
}

func (g *Guard) persist() error {
	g.mu.Lock()
	data, err := json.Marshal(g.counter)
	g.mu.Unlock()
	if err != nil {
		return err
	}

	return g.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		if bucket == nil {
			return nil
		}
		return bucket.Put([]byte(counterKey), data)
	})
}

func (g *Guard) persistLoop() {
	ticker := time.NewTicker(g.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			_ = g.persist()
		}
	}
}
