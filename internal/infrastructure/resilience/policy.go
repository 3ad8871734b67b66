package resilience

import (
	"strings"
	"time"
)

// RetryPolicy bounds the attempts of one operation. Zero fields inherit the
// executor defaults.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// Overrides replace the retry defaults for an operation name ("qdrant.search")
	// or an operation prefix ending in "." ("ollama."). The longest key wins.
	Overrides map[string]RetryPolicy

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// OnBreakerStateChange, when set, is told about every breaker transition.
	OnBreakerStateChange func(operation, from, to string)
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	base := RetryPolicy{
		MaxAttempts:    out.RetryMaxAttempts,
		InitialBackoff: out.RetryInitialBackoff,
		MaxBackoff:     out.RetryMaxBackoff,
		Multiplier:     out.RetryMultiplier,
	}.withDefaults(RetryPolicy{
		MaxAttempts:    def.RetryMaxAttempts,
		InitialBackoff: def.RetryInitialBackoff,
		MaxBackoff:     def.RetryMaxBackoff,
		Multiplier:     def.RetryMultiplier,
	})
	out.RetryMaxAttempts = base.MaxAttempts
	out.RetryInitialBackoff = base.InitialBackoff
	out.RetryMaxBackoff = base.MaxBackoff
	out.RetryMultiplier = base.Multiplier

	if len(c.Overrides) > 0 {
		out.Overrides = make(map[string]RetryPolicy, len(c.Overrides))
		for key, p := range c.Overrides {
			out.Overrides[strings.TrimSpace(key)] = p.withDefaults(base)
		}
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// policyFor resolves the retry policy of an operation.
func (c Config) policyFor(operation string) RetryPolicy {
	if p, ok := c.Overrides[operation]; ok {
		return p
	}
	best, bestLen := RetryPolicy{}, -1
	for key, p := range c.Overrides {
		if strings.HasSuffix(key, ".") && strings.HasPrefix(operation, key) && len(key) > bestLen {
			best, bestLen = p, len(key)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return RetryPolicy{
		MaxAttempts:    c.RetryMaxAttempts,
		InitialBackoff: c.RetryInitialBackoff,
		MaxBackoff:     c.RetryMaxBackoff,
		Multiplier:     c.RetryMultiplier,
	}
}
