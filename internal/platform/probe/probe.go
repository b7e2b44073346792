// Package probe answers "is the records API reachable?" without hammering it.
// Concurrent callers share one in-flight check, and a check that started
// less than MinInterval ago is answered from its cached result. The shared
// check is detached from any single caller, so a caller that gives up never
// turns into a cached failure for the others.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/medtrack/internal/platform/metrics"
)

// DefaultMinInterval is the minimum spacing between network probes.
const DefaultMinInterval = 5 * time.Second

// DefaultCheckTimeout bounds a single shared check.
const DefaultCheckTimeout = 10 * time.Second

// CheckFunc performs the actual network probe.
type CheckFunc func(ctx context.Context) error

// Result is the outcome of a probe.
type Result struct {
	Reachable bool      `json:"reachable"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	// Throttled is true when the answer came from the cache.
	Throttled bool `json:"throttled"`
}

// Prober throttles connectivity checks.
type Prober struct {
	check        CheckFunc
	minInterval  time.Duration
	checkTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	group singleflight.Group

	mu        sync.Mutex
	lastStart time.Time
	last      *Result
}

// New returns a Prober. A non-positive interval uses DefaultMinInterval.
func New(check CheckFunc, minInterval time.Duration, logger zerolog.Logger) *Prober {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Prober{
		check:        check,
		minInterval:  minInterval,
		checkTimeout: DefaultCheckTimeout,
		now:          time.Now,
		logger:       logger,
	}
}

// SetClock overrides the time source.
func (p *Prober) SetClock(now func() time.Time) {
	p.now = now
}

// Probe returns whether the API is reachable. At most one network check runs
// at a time and checks are spaced at least MinInterval apart. If ctx ends
// first, Probe returns an uncached failure and the check keeps running for
// the callers still waiting on it.
func (p *Prober) Probe(ctx context.Context) Result {
	p.mu.Lock()
	if p.last != nil && p.now().Sub(p.lastStart) < p.minInterval {
		r := *p.last
		p.mu.Unlock()
		r.Throttled = true
		metrics.Probes.WithLabelValues("throttled").Inc()
		return r
	}
	p.mu.Unlock()

	ch := p.group.DoChan("probe", func() (interface{}, error) {
		start := p.now()
		p.mu.Lock()
		p.lastStart = start
		p.mu.Unlock()

		metrics.Probes.WithLabelValues("network").Inc()
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.checkTimeout)
		defer cancel()
		err := p.check(checkCtx)

		r := Result{Reachable: err == nil, CheckedAt: start}
		if err != nil {
			r.Error = err.Error()
			p.logger.Warn().Err(err).Msg("connectivity probe failed")
		}

		p.mu.Lock()
		p.last = &r
		p.mu.Unlock()
		return r, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		metrics.Probes.WithLabelValues("abandoned").Inc()
		return Result{Error: ctx.Err().Error(), CheckedAt: p.now()}
	}
}

// Last returns the most recent result, or nil before the first probe.
func (p *Prober) Last() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}
