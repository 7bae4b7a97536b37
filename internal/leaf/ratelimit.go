package leaf

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/beamhost/internal/apierrors"
	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// tokenBucket mirrors the refill-by-elapsed-time shape used by both the
// in-process and Redis-backed limiters.
type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, refillRate: refillRate, lastRefill: time.Now()}
}

func (b *tokenBucket) consume(n float64) bool {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.tokens+elapsed*b.refillRate, b.capacity)
	b.lastRefill = now
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// RateLimitPlugin enforces a token-bucket limit per key (by IP, user, or
// Host header), backed by either an in-process map or Redis when
// multiple beamhostd processes need to share one limit.
type RateLimitPlugin struct {
	name              string
	requestsPerSecond float64
	burstCapacity     float64
	keyStrategy       string
	cleanupInterval   time.Duration

	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	lastCleanup time.Time

	redisClient *redis.Client
	redisPrefix string
}

func NewRateLimit(config map[string]string) *RateLimitPlugin {
	rps := atofDefault(config["requestsPerSecond"], 10)
	burst := atofDefault(config["burstCapacity"], rps*2)
	p := &RateLimitPlugin{
		name:              orDefault(config["name"], "rate-limit"),
		requestsPerSecond: rps,
		burstCapacity:     burst,
		keyStrategy:       orDefault(config["keyStrategy"], "ip"),
		cleanupInterval:   time.Duration(atoiDefault(config["cleanupIntervalSeconds"], 300)) * time.Second,
		buckets:           make(map[string]*tokenBucket),
		lastCleanup:       time.Now(),
	}
	if config["backend"] == "redis" {
		p.redisClient = redis.NewClient(&redis.Options{Addr: orDefault(config["redisAddr"], "127.0.0.1:6379")})
		p.redisPrefix = orDefault(config["redisPrefix"], "beamhost:ratelimit:")
	}
	return p
}

// NewRateLimitPlugin is the registry constructor (builtin://rate-limit).
func NewRateLimitPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewRateLimit(config), nil
}

func atofDefault(v string, fallback float64) float64 {
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (p *RateLimitPlugin) Name() string { return p.name }

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := splitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

func (p *RateLimitPlugin) extractKey(req *ipg.Request) string {
	switch p.keyStrategy {
	case "user":
		if user, ok := req.GetMetadata("authenticated_user"); ok && user != "" {
			return user
		}
		return clientIP(req.HTTP)
	case "host":
		if h := req.HTTP.Host; h != "" {
			return h
		}
		return "unknown"
	default:
		return clientIP(req.HTTP)
	}
}

func (p *RateLimitPlugin) cleanupOldBuckets() {
	now := time.Now()
	if now.Sub(p.lastCleanup) <= p.cleanupInterval {
		return
	}
	cutoff := now.Add(-time.Hour)
	for key, b := range p.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(p.buckets, key)
		}
	}
	p.lastCleanup = now
}

func (p *RateLimitPlugin) allowLocal(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupOldBuckets()
	b, ok := p.buckets[key]
	if !ok {
		b = newTokenBucket(p.burstCapacity, p.requestsPerSecond)
		p.buckets[key] = b
	}
	return b.consume(1)
}

// allowRedis uses a fixed-window counter (INCR + EXPIRE) rather than a
// true distributed token bucket, since a single atomic script isn't
// worth the complexity here: a budget of burstCapacity requests per
// one-second window, shared across processes via the same key.
func (p *RateLimitPlugin) allowRedis(ctx context.Context, key string) bool {
	redisKey := p.redisPrefix + key
	count, err := p.redisClient.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		p.redisClient.Expire(ctx, redisKey, time.Second)
	}
	return float64(count) <= p.burstCapacity
}

func (p *RateLimitPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	key := p.extractKey(req)
	req.SetMetadata("rate_limit_key", key)

	var allowed bool
	if p.redisClient != nil {
		allowed = p.allowRedis(ctx, key)
	} else {
		allowed = p.allowLocal(key)
	}
	if allowed {
		return nil, nil
	}

	resp := apierrors.NewHTTPResponse(apierrors.CodeRateLimited, "")
	resp.Header.Set("Retry-After", "1")
	return &ipg.Response{HTTP: resp}, nil
}

func (p *RateLimitPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
