package remote

import (
	"context"
	"net/http"
	"time"
)

const DefaultHealthTimeout = 3 * time.Second

// Probe answers whether the remote is reachable right now with one bounded
// health check. It never retries. A nil *Probe always reports unavailable.
type Probe struct {
	c       *Client
	timeout time.Duration
}

func NewProbe(c *Client, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &Probe{c: c, timeout: timeout}
}

func (p *Probe) Available(ctx context.Context) bool {
	if p == nil || p.c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.c.do(ctx, http.MethodGet, p.c.endpoint(nil, "health"), nil, nil) == nil
}
