package httpserver

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle is a coarse per-IP request limiter in front of the whole API. It
// is separate from the login attempt limiter, which has its own keys and
// thresholds.
type throttle struct {
	rpm     int
	mu      sync.Mutex
	clients map[string]*throttleClient
}

type throttleClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newThrottle(rpm int) *throttle {
	if rpm <= 0 {
		rpm = 120
	}
	return &throttle{rpm: rpm, clients: map[string]*throttleClient{}}
}

func (t *throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(strings.TrimSpace(ip)); err == nil {
			ip = host
		}
		if !t.limiterFor(ip).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *throttle) limiterFor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[ip]; ok {
		c.lastSeen = time.Now()
		return c.limiter
	}
	t.gcLocked()
	c := &throttleClient{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(t.rpm)), t.rpm),
		lastSeen: time.Now(),
	}
	t.clients[ip] = c
	return c.limiter
}

func (t *throttle) gcLocked() {
	if len(t.clients) < 1000 {
		return
	}
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, ip)
		}
	}
}
