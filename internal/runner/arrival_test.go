package runner

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestPoissonPacerReserve(t *testing.T) {
	gaps := []float64{1, 0.5, 2}
	i := 0
	p := newPoissonPacer(10, func() float64 {
		v := gaps[i%len(gaps)]
		i++
		return v
	})

	now := time.Unix(1000, 0)
	want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 350 * time.Millisecond}
	for n, w := range want {
		if got := p.reserve(now).Sub(now); got != w {
			t.Errorf("slot %d: expected %s, got %s", n, w, got)
		}
	}

	// a caller far behind the schedule restarts it from now
	later := now.Add(time.Minute)
	if got := p.reserve(later).Sub(later); got != 100*time.Millisecond {
		t.Errorf("expected schedule to restart from now, got %s", got)
	}
}

func TestPoissonPacerWaitHonorsContext(t *testing.T) {
	p := newPoissonPacer(1, func() float64 { return 60 })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestNewPacer(t *testing.T) {
	r := New(Options{})
	if p := r.newPacer(GroupSpec{Name: "free"}); p != nil {
		t.Errorf("expected no pacer without max_rate, got %T", p)
	}
	if _, ok := r.newPacer(GroupSpec{MaxRate: 5}).(*rate.Limiter); !ok {
		t.Error("expected uniform arrival to use a rate limiter")
	}
	if _, ok := r.newPacer(GroupSpec{MaxRate: 5, Arrival: ArrivalPoisson}).(*poissonPacer); !ok {
		t.Error("expected poisson pacer")
	}

	r = New(Options{LimiterFactory: func(float64) *rate.Limiter { return nil }})
	if p := r.newPacer(GroupSpec{MaxRate: 5}); p != nil {
		t.Errorf("expected nil pacer from nil limiter, got %T", p)
	}
}
