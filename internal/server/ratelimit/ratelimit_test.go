package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestLimiter(config *Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{Enabled: true, DefaultRate: 1, DefaultBurst: 10})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
		if !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", info.Limit)
		}
		if info.Remaining != 9-i {
			t.Errorf("Expected remaining %d, got %d", 9-i, info.Remaining)
		}
	}

	allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
	if allowed {
		t.Error("Expected 11th request to be denied")
	}
	if info.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", info.Remaining)
	}
	if info.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", info.RetryAfter)
	}
}

func TestLimiter_Refill(t *testing.T) {
	limiter, clock := newTestLimiter(&Config{Enabled: true, DefaultRate: 1, DefaultBurst: 2})
	defer limiter.Stop()

	limiter.Allow("127.0.0.1", "/test", "GET")
	limiter.Allow("127.0.0.1", "/test", "GET")
	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); allowed {
		t.Fatal("Expected bucket to be empty")
	}

	clock.Advance(time.Second)
	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); !allowed {
		t.Error("Expected request to be allowed after refill")
	}
	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); allowed {
		t.Error("Expected request to be denied after consuming refilled token")
	}
}

func TestLimiter_Whitelist(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{
		Enabled:      true,
		DefaultRate:  rate.Every(time.Hour),
		DefaultBurst: 1,
		Whitelist:    map[string]bool{"127.0.0.1": true},
	})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
		if !allowed {
			t.Errorf("Expected whitelisted request %d to be allowed", i+1)
		}
		if info.Limit != 0 {
			t.Errorf("Expected limit 0 for whitelisted, got %d", info.Limit)
		}
	}
}

func TestLimiter_Blacklist(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{
		Enabled:      true,
		DefaultRate:  1000,
		DefaultBurst: 1000,
		Blacklist:    map[string]bool{"192.168.1.1": true},
	})
	defer limiter.Stop()

	if allowed, _ := limiter.Allow("192.168.1.1", "/test", "GET"); allowed {
		t.Error("Expected blacklisted request to be denied")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{Enabled: false})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); !allowed {
			t.Errorf("Expected request %d to be allowed when disabled", i+1)
		}
	}
}

func TestLimiter_EvaluationEndpointsShareBucket(t *testing.T) {
	limiter, clock := newTestLimiter(EvaluationConfig(0.5, 2))
	defer limiter.Stop()

	client := "10.0.0.1"
	for i := 0; i < 2; i++ {
		allowed, info := limiter.Allow(client, "/v1/score", "POST")
		if !allowed {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 2 {
			t.Errorf("Expected limit 2, got %d", info.Limit)
		}
	}

	if allowed, _ := limiter.Allow(client, "/v1/score", "POST"); allowed {
		t.Error("Expected third score request to be denied")
	}
	allowed, info := limiter.Allow(client, "/v1/tailor", "POST")
	if allowed {
		t.Error("Expected tailor request to draw from the exhausted evaluation bucket")
	}
	if info.RetryAfter != 2*time.Second {
		t.Errorf("Expected retry after 2s, got %v", info.RetryAfter)
	}

	// Other clients and other endpoints are unaffected
	if allowed, _ := limiter.Allow("10.0.0.2", "/v1/score", "POST"); !allowed {
		t.Error("Expected another client to be allowed")
	}
	allowed, info = limiter.Allow(client, "/v1/me/current-job", "PUT")
	if !allowed {
		t.Error("Expected non-evaluation endpoint to be allowed")
	}
	if info.Limit != 100 {
		t.Errorf("Expected default limit 100, got %d", info.Limit)
	}

	clock.Advance(2 * time.Second)
	if allowed, _ := limiter.Allow(client, "/v1/score/stream", "POST"); !allowed {
		t.Error("Expected request to be allowed after refill")
	}
}

func TestLimiter_ProbesUnlimited(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{Enabled: true, DefaultRate: rate.Every(time.Hour), DefaultBurst: 1})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		if allowed, _ := limiter.Allow("127.0.0.1", "/health", "GET"); !allowed {
			t.Errorf("Expected health request %d to be allowed", i+1)
		}
		if allowed, _ := limiter.Allow("127.0.0.1", "/metrics", "GET"); !allowed {
			t.Errorf("Expected metrics request %d to be allowed", i+1)
		}
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(&Config{Enabled: true, DefaultRate: rate.Every(time.Hour), DefaultBurst: 100})
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("Expected 100 allowed requests, got %d", allowedCount)
	}
}

func TestLimiter_CleanupBuckets(t *testing.T) {
	limiter, clock := newTestLimiter(&Config{Enabled: true, DefaultRate: 10, DefaultBurst: 10})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/test", "GET")
	}
	clock.Advance(2 * time.Hour)
	for i := 0; i < 5; i++ {
		limiter.Allow(fmt.Sprintf("127.0.0.%d", i+1), "/test", "GET")
	}

	limiter.cleanupBuckets(clock.Now().Add(-time.Hour))

	limiter.mu.Lock()
	remaining := len(limiter.buckets)
	limiter.mu.Unlock()
	if remaining != 5 {
		t.Errorf("Expected 5 buckets after cleanup, got %d", remaining)
	}
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter := NewLimiter(nil)
	defer limiter.Stop()

	allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
	if !allowed {
		t.Error("Expected request to be allowed with default config")
	}
	if info.Limit != 100 {
		t.Errorf("Expected default burst 100, got %d", info.Limit)
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/v1/score", Method: "POST", Rate: 1},
		{Path: "/v1/me/", Method: "PUT", Rate: 2},
	}

	tests := []struct {
		name     string
		path     string
		method   string
		wantRate rate.Limit
		wantNil  bool
	}{
		{name: "exact", path: "/v1/score", method: "POST", wantRate: 1},
		{name: "prefix", path: "/v1/me/current-job", method: "PUT", wantRate: 2},
		{name: "method mismatch", path: "/v1/score", method: "GET", wantNil: true},
		{name: "no match", path: "/v1/other", method: "POST", wantNil: true},
		{name: "health", path: "/health", method: "GET", wantRate: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Expected no match, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected a match")
			}
			if got.Rate != tt.wantRate {
				t.Errorf("Expected rate %v, got %v", tt.wantRate, got.Rate)
			}
		})
	}
}
