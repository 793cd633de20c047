package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/matrix"
	"github.com/shawkym/matrixsync/pkg/ratelimit"
)

// restartPolicy decides whether watch starts a new stream after one fails.
type restartPolicy struct {
	max              int
	count            int
	limiter          *ratelimit.Limiter
	rateLimitedPause time.Duration
}

func newRestartPolicy(cfg config.RestartConfig) *restartPolicy {
	return &restartPolicy{
		max:              cfg.MaxRestarts,
		limiter:          ratelimit.NewLimiter(cfg.PerMinute, cfg.Burst),
		rateLimitedPause: cfg.RateLimitedPause(),
	}
}

// restartable reports whether err may go away on its own: transport
// failures, rate limiting and server errors. Rejected credentials, other
// client errors and undecodable responses need a human.
func restartable(err error) bool {
	switch matrix.ClassifyError(err) {
	case matrix.OutcomeTransportError:
		return true
	case matrix.OutcomeHTTPError:
		status, _ := matrix.StatusCodeOf(err)
		return status == http.StatusTooManyRequests || status >= 500
	default:
		return false
	}
}

func (p *restartPolicy) allow(err error) bool {
	if p.max == 0 || !restartable(err) {
		return false
	}
	return p.max < 0 || p.count < p.max
}

// wait blocks until the next restart may start, pausing longer after a 429.
func (p *restartPolicy) wait(ctx context.Context, err error) error {
	if status, ok := matrix.StatusCodeOf(err); ok && status == http.StatusTooManyRequests {
		p.limiter.Pause(p.rateLimitedPause)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	p.count++
	return nil
}

// describe renders the restart counter, e.g. "2/5" or "2".
func (p *restartPolicy) describe() string {
	if p.max < 0 {
		return strconv.Itoa(p.count)
	}
	return fmt.Sprintf("%d/%d", p.count, p.max)
}
