package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/edubridge/classquiz/internal/metrics"
)

// Options configures Wrap.
type Options struct {
	Provider string        // metrics label
	Timeout  time.Duration // per call; zero means none
	RPS      float64       // sustained calls per second; zero means unlimited
	Burst    int
}

type guarded struct {
	next    Completer
	opts    Options
	limiter *rate.Limiter
}

// Wrap adds a rate limit, a per-call timeout, temperature pinning and
// latency metrics to a Completer.
func Wrap(next Completer, opts Options) Completer {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &guarded{next: next, opts: opts, limiter: rate.NewLimiter(limit, opts.Burst)}
}

func (g *guarded) Complete(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	req.Temperature = min(max(req.Temperature, 0), MaxTemperature)

	start := time.Now()
	out, err := g.next.Complete(ctx, req)
	metrics.LLMRequestDuration.WithLabelValues(g.opts.Provider, req.Kind).Observe(time.Since(start).Seconds())
	return out, err
}
