package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"matatu-gateway/internal/metrics"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted bool
	Class    PolicyClass
	Limit    int
	// Remaining is how many more requests the current window admits.
	Remaining int
	// ResetAt is when the current window closes. Zero on fail-open.
	ResetAt time.Time
	// Message is the policy's rejection text, set only when rejected.
	Message string
	// FailOpen marks an admission granted because the store could not answer.
	FailOpen bool
}

// RetryAfter returns how long a rejected caller should wait, rounded up to
// whole seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Governor admits or rejects requests per identity and policy class using a
// fixed window counter.
//
// Fixed windows admit up to twice MaxRequests across a window boundary
// (a full window's worth just before the edge, another just after). That
// burst is accepted in exchange for one counter per identity and class.
type Governor struct {
	store     Store
	policies  Policies
	now       func() time.Time
	opTimeout time.Duration
	logger    *zap.Logger
}

type Option func(*Governor)

func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithStoreTimeout bounds each store call. Zero leaves only the caller's ctx.
func WithStoreTimeout(d time.Duration) Option {
	return func(g *Governor) { g.opTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGovernor returns a governor over store. policies is copied.
func NewGovernor(store Store, policies Policies, opts ...Option) *Governor {
	g := &Governor{
		store:     store,
		policies:  make(Policies, len(policies)),
		now:       time.Now,
		opTimeout: 500 * time.Millisecond,
		logger:    zap.NewNop(),
	}
	for class, p := range policies {
		g.policies[class] = p
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("ratelimit")
	return g
}

// Policy returns the configured policy for class.
func (g *Governor) Policy(class PolicyClass) (Policy, bool) {
	p, ok := g.policies[class]
	return p, ok
}

// Admit records one request from identity against class.
//
// Exceeding the quota is a normal rejection, not an error. A store fault
// admits the request instead: the limiter failing must not take the whole
// API down with it.
func (g *Governor) Admit(ctx context.Context, identity string, class PolicyClass) Decision {
	policy, ok := g.policies[class]
	if !ok {
		g.logger.Error("unknown rate limit policy class, admitting", zap.String("policy", string(class)))
		metrics.RateLimitDecisionsTotal.WithLabelValues(string(class), "fail_open").Inc()
		return Decision{Admitted: true, Class: class, FailOpen: true}
	}

	if g.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opTimeout)
		defer cancel()
	}

	w, admitted, err := g.store.Hit(ctx, windowKey(class, identity), policy.Window, policy.MaxRequests, g.now())
	if err != nil {
		g.logger.Error("rate limit store failed, admitting",
			zap.String("policy", string(class)),
			zap.Error(err),
		)
		metrics.RateLimitDecisionsTotal.WithLabelValues(string(class), "fail_open").Inc()
		return Decision{
			Admitted:  true,
			Class:     class,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests,
			FailOpen:  true,
		}
	}

	d := Decision{
		Admitted:  admitted,
		Class:     class,
		Limit:     policy.MaxRequests,
		Remaining: max(policy.MaxRequests-w.Count, 0),
		ResetAt:   w.ResetAt,
	}
	if !admitted {
		d.Message = policy.Message
		metrics.RateLimitDecisionsTotal.WithLabelValues(string(class), "rejected").Inc()
		g.logger.Debug("rate limited",
			zap.String("policy", string(class)),
			zap.Time("reset_at", w.ResetAt),
		)
		return d
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(string(class), "admitted").Inc()
	return d
}
