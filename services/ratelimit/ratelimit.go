// Package ratelimit implements the per-subject request limiter of spec
// section 4.8: one token bucket per (category, subject) pair, keyed on the
// caller's subject identifier when present and falling back to network
// address otherwise. Each bucket holds up to Burst (default Limit) requests
// and refills continuously at Limit per Window; it is not a sliding-window
// counter, so a drained bucket regains one request every Window/Limit.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbitline/sessioncore/pkg/apierrors"
	"github.com/orbitline/sessioncore/pkg/metrics"
)

// Category names the failing bucket returned in RATE_LIMIT_EXCEEDED.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryAuthSync    Category = "auth_sync"
	CategoryPayments    Category = "payments"
	CategoryMessages    Category = "messages"
	CategorySessionReq  Category = "session_request"
	CategoryUploads     Category = "uploads"
)

// Rule is a fixed request budget over a window, expressed as limit per
// window the way the teacher's NewRateLimiterWithWindow takes it.
type Rule struct {
	Limit  int
	Window time.Duration
	Burst  int
}

// DefaultRules mirrors the budgets named in spec section 4.8.
func DefaultRules() map[Category]Rule {
	return map[Category]Rule{
		CategoryGeneral:    {Limit: 100, Window: 15 * time.Minute},
		CategoryAuthSync:   {Limit: 10, Window: time.Hour},
		CategoryPayments:   {Limit: 5, Window: time.Minute},
		CategoryMessages:   {Limit: 60, Window: time.Minute},
		CategorySessionReq: {Limit: 3, Window: time.Minute},
		CategoryUploads:    {Limit: 50, Window: time.Hour},
	}
}

// bucket is one (category, subject) token bucket.
type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter holds one map of buckets per category, each keyed by subject (or
// network address when no subject is present).
type Limiter struct {
	rules map[Category]Rule

	mu      sync.Mutex
	buckets map[Category]map[string]*bucket
}

// New builds a Limiter from the given rules, falling back to DefaultRules
// for any category omitted.
func New(rules map[Category]Rule) *Limiter {
	merged := DefaultRules()
	for k, v := range rules {
		merged[k] = v
	}
	buckets := make(map[Category]map[string]*bucket, len(merged))
	for cat := range merged {
		buckets[cat] = make(map[string]*bucket)
	}
	return &Limiter{rules: merged, buckets: buckets}
}

// Allow reports whether the (category, key) pair is within budget,
// returning RATE_LIMIT_EXCEEDED tagged with the category otherwise.
func (l *Limiter) Allow(category Category, key string) error {
	if key == "" {
		key = "unknown"
	}
	rule, ok := l.rules[category]
	if !ok {
		rule = l.rules[CategoryGeneral]
	}

	l.mu.Lock()
	perCat, ok := l.buckets[category]
	if !ok {
		perCat = make(map[string]*bucket)
		l.buckets[category] = perCat
	}
	b, ok := perCat[key]
	if !ok {
		burst := rule.Burst
		if burst <= 0 {
			burst = rule.Limit
			if burst <= 0 {
				burst = 1
			}
		}
		perSecond := float64(rule.Limit) / rule.Window.Seconds()
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		perCat[key] = b
	}
	b.lastAccess = time.Now()
	allowed := b.limiter.Allow()
	l.mu.Unlock()

	if !allowed {
		metrics.RecordRateLimitRejection(string(category))
		return apierrors.RateLimitExceeded(string(category))
	}
	return nil
}

// Cleanup drops buckets untouched for longer than olderThan, bounding
// memory growth from one-off callers (primarily IP-keyed anonymous
// traffic). Call periodically from a background goroutine.
func (l *Limiter) Cleanup(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, perCat := range l.buckets {
		for key, b := range perCat {
			if b.lastAccess.Before(cutoff) {
				delete(perCat, key)
			}
		}
	}
}

// KeyFromRequest extracts the rate-limit key from an HTTP request: the
// authenticated subject id when present in context, else the client's
// network address.
func KeyFromRequest(r *http.Request, subjectID string) string {
	if subjectID != "" {
		return subjectID
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		host = strings.TrimSpace(parts[0])
	}
	return host
}
