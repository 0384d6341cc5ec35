package server

import (
	"container/list"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	limiterSweepEvery   = 5 * time.Minute
	limiterIdleAfter    = 10 * time.Minute
)

// errRunRateLimited is sent to a client that asks a pen to run too often.
var errRunRateLimited = errors.New("run rate limit exceeded")

// bucket is one key's token bucket and its place in the LRU list.
type bucket struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyLimiter keeps a token bucket per key: "ip:<addr>" for pen creation
// and "pen:<id>" for runs requested over the WebSocket. At most maxKeys
// buckets are tracked; the least recently used one is evicted when full.
type keyLimiter struct {
	limit   rate.Limit
	burst   int
	maxKeys int
	logger  *zap.Logger

	mu           sync.Mutex
	items        map[string]*list.Element
	order        *list.List // front = most recent
	evicted      int
	lastEvictLog time.Time
}

func newKeyLimiter(rps float64, burst, maxKeys int, logger *zap.Logger) *keyLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &keyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		maxKeys: maxKeys,
		logger:  logger,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Allow takes a token from key's bucket, creating the bucket on first use.
func (l *keyLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		l.order.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if l.order.Len() >= l.maxKeys {
		l.evictOldest(now)
	}
	b := &bucket{key: key, limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.items[key] = l.order.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

func (l *keyLimiter) evictOldest(now time.Time) {
	back := l.order.Back()
	if back == nil {
		return
	}
	l.order.Remove(back)
	delete(l.items, back.Value.(*bucket).key)

	l.evicted++
	if now.Sub(l.lastEvictLog) >= evictionLogInterval {
		l.logger.Warn("rate limiter evicted least-recent keys",
			zap.Int("evicted", l.evicted), zap.Int("capacity", l.maxKeys))
		l.lastEvictLog = now
		l.evicted = 0
	}
}

// sweep drops buckets not used for idle and returns how many it removed.
// Every Allow moves its bucket to the front, so the list is ordered by
// lastSeen and the walk stops at the first fresh bucket.
func (l *keyLimiter) sweep(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for e := l.order.Back(); e != nil; {
		b := e.Value.(*bucket)
		if now.Sub(b.lastSeen) <= idle {
			break
		}
		prev := e.Prev()
		l.order.Remove(e)
		delete(l.items, b.key)
		removed++
		e = prev
	}
	return removed
}

// Len returns the number of tracked buckets.
func (l *keyLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// start sweeps idle buckets until ctx is cancelled. The returned channel
// is closed when the sweeper exits.
func (l *keyLimiter) start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				l.sweep(now, limiterIdleAfter)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// middleware rejects requests from a client IP that is over its budget.
func (l *keyLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow("ip:" + getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowRun reports whether pen may start another client-requested run.
// A nil limiter allows everything.
func (l *keyLimiter) allowRun(penID string) bool {
	if l == nil {
		return true
	}
	return l.Allow("pen:" + penID)
}

// RateLimitMiddleware limits requests per client IP with a token bucket of
// rps and burst, tracking at most maxIPs clients.
//
// The sweeper goroutine starts immediately and runs until ctx is
// cancelled; the returned channel is closed when it exits.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, logger *zap.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	l := newKeyLimiter(rps, burst, maxIPs, logger)
	return l.middleware, l.start(ctx)
}
