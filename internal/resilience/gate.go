package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Gate serialises calls to one provider and spaces call starts by a fixed
// cooldown. One Gate is owned by each provider client and shared by every
// record in a run.
type Gate struct {
	name    string
	slot    chan struct{}
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGate creates a Gate. A non-positive cooldown disables pacing; a
// non-positive timeout defaults to 30s.
func NewGate(name string, cooldown, timeout time.Duration) *Gate {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cooldown > 0 {
		lim = rate.NewLimiter(rate.Every(cooldown), 1)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gate{
		name:    name,
		slot:    make(chan struct{}, 1),
		limiter: lim,
		timeout: timeout,
	}
}

// Name returns the provider name.
func (g *Gate) Name() string { return g.name }

// Timeout returns the default per-call timeout.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Do runs fn with the gate's default timeout. See DoTimeout.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.DoTimeout(ctx, g.timeout, fn)
}

// DoTimeout waits for the provider to be free and its cooldown to elapse,
// then runs fn. Cancelling ctx stops the wait, but once fn starts it runs on
// a context detached from ctx and bounded only by timeout, so in-flight
// requests complete or time out on their own.
func (g *Gate) DoTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "%s: run cancelled", g.name)
	}

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "%s: run cancelled", g.name)
	}
	defer func() { <-g.slot }()

	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: pacing wait", g.name)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	observe(g.name, err, time.Since(start))
	return err
}
