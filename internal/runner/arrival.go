package runner

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Arrival models pacing a rate-limited group.
const (
	ArrivalUniform = "uniform"
	ArrivalPoisson = "poisson"
)

// Pacer gates the iterations of every worker of one group.
type Pacer interface {
	Wait(ctx context.Context) error
}

// newPacer returns nil for an unlimited group.
func (r *Runner) newPacer(g GroupSpec) Pacer {
	if g.MaxRate <= 0 {
		return nil
	}
	if g.Arrival == ArrivalPoisson {
		return newPoissonPacer(g.MaxRate, r.opt.ArrivalSampler)
	}
	lim := r.opt.LimiterFactory(g.MaxRate)
	if lim == nil {
		return nil
	}
	return lim
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// poissonPacer hands out arrival slots separated by exponentially
// distributed gaps, so the group as a whole forms a Poisson process at
// rate iterations per second. A caller that falls behind does not build
// up a backlog of slots.
type poissonPacer struct {
	mu     sync.Mutex
	rate   float64
	sample func() float64
	next   time.Time
}

func newPoissonPacer(rps float64, sample func() float64) *poissonPacer {
	if sample == nil {
		sample = rand.ExpFloat64
	}
	return &poissonPacer{rate: rps, sample: sample}
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	at := p.reserve(time.Now())
	delay := time.Until(at)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonPacer) reserve(now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next.Before(now) {
		p.next = now
	}
	gap := float64(time.Second) * p.sample() / p.rate
	if gap > math.MaxInt64 {
		gap = math.MaxInt64
	}
	p.next = p.next.Add(time.Duration(gap))
	return p.next
}
