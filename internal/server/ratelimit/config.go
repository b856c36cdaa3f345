package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// EndpointConfig is the limit for requests matching Path and Method.
type EndpointConfig struct {
	Path   string     // exact path, or a prefix when it ends with "/"
	Method string     // HTTP method
	Rate   rate.Limit // sustained requests per second; zero is unlimited
	Burst  int        // bucket size; zero means one
	// Group makes every endpoint with the same group draw from one bucket.
	Group string
}

func (e *EndpointConfig) burst() int {
	if e.Burst < 1 {
		return 1
	}
	return e.Burst
}

// key identifies the bucket of a request.
func (e *EndpointConfig) key(path, method string) string {
	if e.Group != "" {
		return "group:" + e.Group
	}
	return path + ":" + method
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultRate     rate.Limit
	DefaultBurst    int
	CleanupInterval time.Duration
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig allows 1000 requests per minute on every endpoint.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultRate:     rate.Every(time.Minute / 1000),
		DefaultBurst:    100,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       map[string]bool{},
		Blacklist:       map[string]bool{},
	}
}

// EvaluationConfig limits the endpoints that call the model to perSecond
// requests with the given burst, all of them sharing one bucket per client.
// A non-positive perSecond disables the evaluation limits.
func EvaluationConfig(perSecond float64, burst int) *Config {
	cfg := DefaultConfig()
	if perSecond <= 0 {
		return cfg
	}
	evaluation := func(path string) EndpointConfig {
		return EndpointConfig{Path: path, Method: "POST", Rate: rate.Limit(perSecond), Burst: burst, Group: "evaluation"}
	}
	cfg.EndpointConfigs = []EndpointConfig{
		evaluation("/v1/score"),
		evaluation("/v1/score/stream"),
		evaluation("/v1/tailor"),
	}
	return cfg
}
