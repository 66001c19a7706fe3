package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/aggregator"
	"github.com/hellolucient/Open-DCAs/internal/infrastructure"
	"github.com/hellolucient/Open-DCAs/internal/model"
	"github.com/hellolucient/Open-DCAs/internal/source"
)

// ErrEmptyResult marks an account fetch that came back structurally valid
// but empty. It is retried like any other fetch failure.
var ErrEmptyResult = errors.New("account source returned no accounts")

// State of the poll controller. One cycle moves IDLE -> FETCHING ->
// {PUBLISHED | FAILED}, then loops back to FETCHING on the next trigger.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StatePublished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StatePublished:
		return "PUBLISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Sink receives the snapshot of every completed cycle, including failed ones.
type Sink interface {
	Publish(snapshot *model.Snapshot)
}

// Options control cycle timing and the account fetch retry policy.
type Options struct {
	Interval       time.Duration // main poll period
	MaxAttempts    int           // account fetch attempts per cycle
	BackoffBase    time.Duration // delay before attempt n is (n-1) * base
	FailRetryDelay time.Duration // one-shot retry delay after a failed cycle
}

func DefaultOptions() Options {
	return Options{
		Interval:       5 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		FailRetryDelay: 2 * time.Second,
	}
}

// Poller drives the fetch -> aggregate -> publish loop. A single goroutine
// owns the cycle, so at most one fetch cycle is in flight at a time;
// RefreshNow requests arriving while a cycle runs are coalesced into one
// pending trigger.
type Poller struct {
	accounts source.AccountSource
	prices   source.PriceSource
	agg      *aggregator.Aggregator
	sink     Sink
	tokens   []model.TrackedToken
	opts     Options

	logger  *zap.Logger
	clock   func() time.Time
	trigger chan struct{}
	auto    atomic.Bool
	state   atomic.Int32
}

type Option func(*Poller)

// WithClock overrides the wall clock used for latency and error timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func New(accounts source.AccountSource, prices source.PriceSource, agg *aggregator.Aggregator, sink Sink, tokens []model.TrackedToken, opts Options, logger *zap.Logger, pollerOpts ...Option) *Poller {
	p := &Poller{
		accounts: accounts,
		prices:   prices,
		agg:      agg,
		sink:     sink,
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
		clock:    time.Now,
		trigger:  make(chan struct{}, 1),
	}
	p.auto.Store(true)
	p.state.Store(int32(StateIdle))
	for _, opt := range pollerOpts {
		opt(p)
	}
	return p
}

// Run executes one cycle immediately, then keeps cycling on the poll
// interval (while auto-refresh is enabled) and on manual triggers. It blocks
// until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if p.auto.Load() {
				p.runCycle(ctx)
			}
		case <-p.trigger:
			p.runCycle(ctx)
		}
	}
}

// RefreshNow requests an out-of-band cycle without resetting the main timer.
// If a trigger is already pending the request is dropped.
func (p *Poller) RefreshNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetAutoRefresh enables or disables timer-driven cycles. Disabling only
// suppresses future ticks; an in-flight cycle runs to completion and still
// publishes.
func (p *Poller) SetAutoRefresh(enabled bool) {
	if p.auto.Swap(enabled) != enabled {
		p.logger.Info("auto refresh toggled", zap.Bool("enabled", enabled))
	}
}

func (p *Poller) AutoRefresh() bool {
	return p.auto.Load()
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) runCycle(ctx context.Context) {
	start := p.clock()
	p.state.Store(int32(StateFetching))

	accounts, err := p.fetchAccounts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failCycle(ctx, start, err)
		return
	}

	prices := p.fetchPrices(ctx)
	snapshot := p.agg.Aggregate(accounts, p.tokens, prices)
	p.sink.Publish(snapshot)
	p.state.Store(int32(StatePublished))

	infrastructure.SnapshotsPublished.WithLabelValues("ok").Inc()
	infrastructure.PollCycleLatency.WithLabelValues("ok").Observe(p.clock().Sub(start).Seconds())
	p.logger.Info("published snapshot",
		zap.Int("accounts", len(accounts)),
		zap.Int("positions", len(snapshot.Positions)),
	)
}

func (p *Poller) failCycle(ctx context.Context, start time.Time, err error) {
	p.state.Store(int32(StateFailed))
	infrastructure.PollCycleFailures.Inc()
	infrastructure.SnapshotsPublished.WithLabelValues("error").Inc()
	infrastructure.PollCycleLatency.WithLabelValues("error").Observe(p.clock().Sub(start).Seconds())
	p.logger.Error("poll cycle failed", zap.Error(err))

	p.sink.Publish(&model.Snapshot{
		Timestamp: p.clock(),
		Error:     "failed to refresh DCA data: " + err.Error(),
	})

	// Exactly one follow-up retry, independent of the main ticker.
	time.AfterFunc(p.opts.FailRetryDelay, func() {
		if ctx.Err() == nil {
			p.RefreshNow()
		}
	})
}

// fetchAccounts wraps the account source with the linear-backoff retry
// policy. An empty result is a failure: the dashboard always has open orders
// to show, so an empty set means the source is misbehaving.
func (p *Poller) fetchAccounts(ctx context.Context) ([]model.DCAAccount, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			infrastructure.AccountFetchRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * p.opts.BackoffBase):
			}
		}

		accounts, err := p.accounts.Fetch(ctx)
		if err == nil && len(accounts) == 0 {
			err = ErrEmptyResult
		}
		if err == nil {
			return accounts, nil
		}

		lastErr = err
		p.logger.Warn("account fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.opts.MaxAttempts),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// fetchPrices fetches every tracked token's price concurrently. A failed
// fetch degrades to price 0 for that token instead of failing the cycle.
func (p *Poller) fetchPrices(ctx context.Context) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(p.tokens))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, token := range p.tokens {
		wg.Add(1)
		go func(t model.TrackedToken) {
			defer wg.Done()
			price, err := p.prices.Price(ctx, t.Mint)
			if err != nil {
				p.logger.Warn("price fetch failed, using zero",
					zap.String("token", t.Symbol),
					zap.Error(err),
				)
				infrastructure.PriceFetchFailures.WithLabelValues(t.Symbol).Inc()
				price = decimal.Zero
			}
			mu.Lock()
			prices[t.Symbol] = price
			mu.Unlock()
		}(token)
	}

	wg.Wait()
	return prices
}
