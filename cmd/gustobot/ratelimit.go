package main

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jhlu2019/GustoBot-sub000/api/handlers"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// visitorTTL 超过该时长未出现的客户端令牌桶被回收
const visitorTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter 每个客户端 IP 一个令牌桶
type ipLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = max(int(math.Ceil(rps)), 1)
	}
	return &ipLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// reserve 放行时返回 0；否则返回建议的等待时间，令牌不被占用
func (l *ipLimiter) reserve(ip string) time.Duration {
	now := l.now()
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}

func (l *ipLimiter) sweep() {
	cutoff := l.now().Add(-visitorTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimiter 按客户端 IP 限流；rps <= 0 时关闭，exempt 中的路径（探针）不计入。
// 被拒绝的请求返回 429 与 Retry-After（秒，向上取整）。
func RateLimiter(ctx context.Context, rps float64, burst int, exempt []string, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return passthrough
	}
	l := newIPLimiter(rps, burst)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.sweep()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r)
			if wait := l.reserve(ip); wait > 0 {
				secs := int(math.Ceil(wait.Seconds()))
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path), zap.Duration("retry_after", wait))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				handlers.WriteError(w, types.NewRateLimitError("too many requests"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
