// Package limiter gates calls to the model endpoint: a local token bucket
// per process and, when Redis is configured, a per-minute budget shared by
// every replica.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/local/doctranslate/internal/ai"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

type Options struct {
	RequestsPerSecond float64
	Burst             int
	RedisURL          string
	PerMinute         int
	// KeyPrefix namespaces the Redis window keys.
	KeyPrefix string
}

// Gate is safe for concurrent use. A zero Options value yields a gate that
// never blocks.
type Gate struct {
	local     *rate.Limiter
	rdb       *redis.Client
	perMinute int
	prefix    string
	now       func() time.Time
}

func New(opts Options) (*Gate, error) {
	g := &Gate{prefix: opts.KeyPrefix, perMinute: opts.PerMinute, now: time.Now}
	if g.prefix == "" {
		g.prefix = "doctranslate:rl"
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.local = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.RedisURL != "" && opts.PerMinute > 0 {
		ro, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		c := redis.NewClient(ro)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		g.rdb = c
	}
	return g, nil
}

// Wait blocks until a call for model may proceed or ctx is done.
func (g *Gate) Wait(ctx context.Context, model string) error {
	start := time.Now()
	defer func() { mpkg.ObserveLimiterWait(time.Since(start)) }()

	if g.local != nil {
		if err := g.local.Wait(ctx); err != nil {
			return err
		}
	}
	if g.rdb == nil {
		return nil
	}
	for {
		ok, retryIn, err := g.reserve(ctx, model)
		if err != nil {
			// The shared budget is advisory; a Redis outage must not stop translation.
			log.Warn().Err(err).Str("model", model).Msg("shared rate window unavailable")
			return nil
		}
		if ok {
			return nil
		}
		t := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve counts one call in the current minute window. When the window is
// full it reports how long until the next one opens.
func (g *Gate) reserve(ctx context.Context, model string) (bool, time.Duration, error) {
	now := g.now()
	window := now.Truncate(time.Minute)
	key := g.windowKey(model, window)

	pipe := g.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if incr.Val() <= int64(g.perMinute) {
		return true, 0, nil
	}
	return false, window.Add(time.Minute).Sub(now), nil
}

func (g *Gate) windowKey(model string, window time.Time) string {
	return fmt.Sprintf("%s:%s:%d", g.prefix, strings.ToLower(model), window.Unix())
}

// Ping reports whether the shared window store is reachable. Gates without
// Redis always succeed.
func (g *Gate) Ping(ctx context.Context) error {
	if g.rdb == nil {
		return nil
	}
	return g.rdb.Ping(ctx).Err()
}

func (g *Gate) Close() error {
	if g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

// GatedClient waits on a Gate before every call of the wrapped client.
type GatedClient struct {
	next ai.Client
	gate *Gate
}

func Wrap(next ai.Client, gate *Gate) *GatedClient {
	return &GatedClient{next: next, gate: gate}
}

func (c *GatedClient) Do(ctx context.Context, req ai.Request) (ai.Response, error) {
	if err := c.gate.Wait(ctx, req.Model); err != nil {
		return ai.Response{}, &ai.TransportError{Op: "rate_wait", Err: err}
	}
	return c.next.Do(ctx, req)
}
