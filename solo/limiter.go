// solo/limiter.go
package solo

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CooldownConfig 创建游戏的冷却配置
type CooldownConfig struct {
	Base    time.Duration
	Penalty time.Duration
	Window  time.Duration
}

type cooldownEntry struct {
	limiter      *rate.Limiter
	strikes      int
	strikeExpiry time.Time
	lastSeen     time.Time
}

// CooldownLimiter throttles creations per client key. Repeated violations inside
// the strike window switch the key to the penalty cooldown.
type CooldownLimiter struct {
	mu      sync.Mutex
	cfg     CooldownConfig
	entries map[string]*cooldownEntry
	now     func() time.Time
}

func NewCooldownLimiter(cfg CooldownConfig) *CooldownLimiter {
	if cfg.Base <= 0 {
		cfg.Base = 5 * time.Second
	}
	if cfg.Penalty < cfg.Base {
		cfg.Penalty = 3 * cfg.Base
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &CooldownLimiter{
		cfg:     cfg,
		entries: make(map[string]*cooldownEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may create now. When it may not, msg tells the
// caller how long to wait.
func (l *CooldownLimiter) Allow(key string) (ok bool, msg string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, found := l.entries[key]
	if !found {
		e = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(l.cfg.Base), 1)}
		l.entries[key] = e
	}
	e.lastSeen = now

	if e.strikes > 0 && now.After(e.strikeExpiry) {
		e.strikes = 0
		e.limiter.SetLimitAt(now, rate.Every(l.cfg.Base))
	}

	if e.limiter.AllowN(now, 1) {
		return true, ""
	}

	e.strikes++
	e.strikeExpiry = now.Add(l.cfg.Window)
	if e.strikes > 2 {
		e.limiter.SetLimitAt(now, rate.Every(l.cfg.Penalty))
		return false, fmt.Sprintf("Too many attempts! The wait has increased to %d seconds.", seconds(l.cfg.Penalty))
	}

	r := e.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, fmt.Sprintf("You are creating games too fast! Please wait %d second(s).", seconds(wait))
}

// Prune forgets keys that have been quiet for longer than the strike window.
func (l *CooldownLimiter) Prune() {
	cutoff := l.now().Add(-l.cfg.Window - l.cfg.Penalty)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

func seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// RunPruner prunes every strike window until stop is closed.
func (l *CooldownLimiter) RunPruner(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
