package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/aggregator"
	"github.com/hellolucient/Open-DCAs/internal/model"
)

var testTokens = []model.TrackedToken{
	{Symbol: "LOGOS", Mint: "LogosMint1111111111111111111111111111111111", Decimals: 6},
	{Symbol: "CHAOS", Mint: "ChaosMint1111111111111111111111111111111111", Decimals: 6},
}

type fakeAccounts struct {
	mu       sync.Mutex
	failures int // fail this many leading calls
	empty    bool
	calls    int
	accounts []model.DCAAccount
}

func (f *fakeAccounts) Fetch(ctx context.Context) ([]model.DCAAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("rpc unavailable")
	}
	if f.empty {
		return []model.DCAAccount{}, nil
	}
	return f.accounts, nil
}

func (f *fakeAccounts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	err    error
}

func (f *fakePrices) Price(ctx context.Context, mint string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.prices[mint], nil
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []*model.Snapshot
	ch        chan *model.Snapshot
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan *model.Snapshot, 16)}
}

func (s *recordingSink) Publish(snapshot *model.Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	s.mu.Unlock()
	s.ch <- snapshot
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func waitSnapshot(t *testing.T, sink *recordingSink, timeout time.Duration) *model.Snapshot {
	t.Helper()
	select {
	case snap := <-sink.ch:
		return snap
	case <-time.After(timeout):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func testOptions() Options {
	return Options{
		Interval:       time.Hour, // ticks disabled unless a test wants them
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		FailRetryDelay: 5 * time.Millisecond,
	}
}

func newTestPoller(accounts *fakeAccounts, prices *fakePrices, sink *recordingSink, opts Options) *Poller {
	agg := aggregator.New("USDC", 6, zap.NewNop())
	return New(accounts, prices, agg, sink, testTokens, opts, zap.NewNop())
}

func sellAccount(addr string) model.DCAAccount {
	return model.DCAAccount{
		Address:          addr,
		InputMint:        testTokens[0].Mint,
		OutputMint:       "USDCMint111111111111111111111111111111111111",
		InDeposited:      2_000_000,
		InAmountPerCycle: 500_000,
		CycleFrequency:   3600,
	}
}

func TestPoller_PublishesSnapshotImmediately(t *testing.T) {
	accounts := &fakeAccounts{accounts: []model.DCAAccount{sellAccount("a")}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		testTokens[0].Mint: decimal.NewFromInt(3),
	}}
	sink := newRecordingSink()
	p := newTestPoller(accounts, prices, sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	snap := waitSnapshot(t, sink, time.Second)
	require.False(t, snap.Failed())
	assert.Equal(t, StatePublished, p.State())
	assert.Len(t, snap.Positions, 1)

	summary := snap.Summary["LOGOS"]
	assert.Equal(t, 1, summary.SellOrders)
	assert.True(t, summary.SellVolumeUSDC.Equal(decimal.NewFromInt(6)))
}

func TestPoller_FailsAfterRetriesThenRecovers(t *testing.T) {
	// First cycle burns all 3 attempts, the one-shot retry cycle succeeds.
	accounts := &fakeAccounts{
		failures: 3,
		accounts: []model.DCAAccount{sellAccount("a")},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{
		testTokens[0].Mint: decimal.NewFromInt(1),
	}}
	sink := newRecordingSink()
	p := newTestPoller(accounts, prices, sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	failed := waitSnapshot(t, sink, time.Second)
	require.True(t, failed.Failed())
	assert.Contains(t, failed.Error, "rpc unavailable")
	assert.Equal(t, StateFailed, p.State())

	recovered := waitSnapshot(t, sink, time.Second)
	require.False(t, recovered.Failed())
	assert.Equal(t, StatePublished, p.State())
	assert.Equal(t, 4, accounts.callCount())
}

func TestPoller_EmptyResultIsFetchFailure(t *testing.T) {
	accounts := &fakeAccounts{empty: true}
	prices := &fakePrices{}
	sink := newRecordingSink()
	p := newTestPoller(accounts, prices, sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	snap := waitSnapshot(t, sink, time.Second)
	require.True(t, snap.Failed())
	assert.Contains(t, snap.Error, ErrEmptyResult.Error())
	// Empty results are retried like any other fetch failure.
	assert.GreaterOrEqual(t, accounts.callCount(), 3)
}

func TestPoller_PriceFailureDoesNotFailCycle(t *testing.T) {
	accounts := &fakeAccounts{accounts: []model.DCAAccount{sellAccount("a")}}
	prices := &fakePrices{err: errors.New("price api down")}
	sink := newRecordingSink()
	p := newTestPoller(accounts, prices, sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	snap := waitSnapshot(t, sink, time.Second)
	require.False(t, snap.Failed())

	summary := snap.Summary["LOGOS"]
	assert.True(t, summary.Price.IsZero())
	assert.True(t, summary.SellVolumeUSDC.IsZero())
	// Native-unit volume does not depend on price.
	assert.True(t, summary.SellVolume.Equal(decimal.NewFromInt(2)))
}

func TestPoller_RefreshNowCoalesces(t *testing.T) {
	accounts := &fakeAccounts{accounts: []model.DCAAccount{sellAccount("a")}}
	sink := newRecordingSink()
	p := newTestPoller(accounts, &fakePrices{}, sink, testOptions())

	// No loop running: repeated requests collapse into one pending trigger.
	p.RefreshNow()
	p.RefreshNow()
	p.RefreshNow()
	assert.Equal(t, 1, len(p.trigger))
}

func TestPoller_RefreshNowTriggersCycle(t *testing.T) {
	accounts := &fakeAccounts{accounts: []model.DCAAccount{sellAccount("a")}}
	sink := newRecordingSink()
	p := newTestPoller(accounts, &fakePrices{}, sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitSnapshot(t, sink, time.Second) // initial cycle
	p.RefreshNow()
	waitSnapshot(t, sink, time.Second)
	assert.Equal(t, 2, accounts.callCount())
}

func TestPoller_SetAutoRefresh(t *testing.T) {
	accounts := &fakeAccounts{accounts: []model.DCAAccount{sellAccount("a")}}
	sink := newRecordingSink()
	opts := testOptions()
	opts.Interval = 5 * time.Millisecond
	p := newTestPoller(accounts, &fakePrices{}, sink, opts)
	p.SetAutoRefresh(false)
	assert.False(t, p.AutoRefresh())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitSnapshot(t, sink, time.Second) // immediate first cycle always runs
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	// Re-enabling resumes timer-driven cycles without duplicate timers.
	p.SetAutoRefresh(true)
	p.SetAutoRefresh(true)
	waitSnapshot(t, sink, time.Second)
}
