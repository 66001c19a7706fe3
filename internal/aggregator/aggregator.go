package aggregator

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/model"
)

// Aggregator reshapes raw DCA order accounts into positions, per-token
// summaries and chart points. It holds no state between calls: every poll
// cycle recomputes everything from the inputs it is given.
type Aggregator struct {
	quoteSymbol   string
	quoteDecimals int32
	logger        *zap.Logger
	clock         func() time.Time
}

type Option func(*Aggregator)

// WithClock overrides the wall clock used for snapshot timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

func New(quoteSymbol string, quoteDecimals int32, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		quoteSymbol:   quoteSymbol,
		quoteDecimals: quoteDecimals,
		logger:        logger,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate partitions accounts per tracked token into buys (output mint is
// the tracked mint) and sells (input mint is the tracked mint) and derives
// the display shapes. Accounts matching neither mint are dropped. A missing
// price entry is treated as price 0 rather than an error.
func (a *Aggregator) Aggregate(accounts []model.DCAAccount, tokens []model.TrackedToken, prices map[string]decimal.Decimal) *model.Snapshot {
	now := a.clock()
	snapshot := &model.Snapshot{
		Timestamp: now,
		Positions: make([]model.Position, 0, len(accounts)),
		Summary:   make(map[string]model.TokenSummary, len(tokens)),
		Charts:    make(map[string]model.ChartPoint, len(tokens)),
	}

	for _, token := range tokens {
		price, ok := prices[token.Symbol]
		if !ok {
			price = decimal.Zero
		}

		summary := model.TokenSummary{Token: token.Symbol, Price: price}
		var sellQuote decimal.Decimal

		for _, acc := range accounts {
			switch {
			case acc.OutputMint == token.Mint:
				// Buys are funded in the quote currency, so the deposit-side
				// amounts carry the quote scale.
				summary.BuyOrders++
				summary.BuyVolume = summary.BuyVolume.Add(netDeposit(acc, a.quoteDecimals))
				summary.BuyVolumeUSDC = summary.BuyVolumeUSDC.Add(scaled(acc.InAmountPerCycle, a.quoteDecimals))
				snapshot.Positions = append(snapshot.Positions, a.position(acc, token, model.DirectionBuy, price, now))
			case acc.InputMint == token.Mint:
				native := netDeposit(acc, token.Decimals)
				summary.SellOrders++
				summary.SellVolume = summary.SellVolume.Add(native)
				sellQuote = sellQuote.Add(native.Mul(price))
				snapshot.Positions = append(snapshot.Positions, a.position(acc, token, model.DirectionSell, price, now))
			}
		}

		// Quote sums round to whole units here, at the summary level only,
		// so per-position rounding error cannot compound.
		summary.BuyVolumeUSDC = summary.BuyVolumeUSDC.Round(0)
		summary.SellVolumeUSDC = sellQuote.Round(0)

		snapshot.Summary[token.Symbol] = summary
		snapshot.Charts[token.Symbol] = model.ChartPoint{
			Token:      token.Symbol,
			Timestamp:  now,
			BuyVolume:  summary.BuyVolume,
			SellVolume: summary.SellVolume,
			BuyOrders:  summary.BuyOrders,
			SellOrders: summary.SellOrders,
		}
	}

	a.logger.Debug("aggregated accounts",
		zap.Int("accounts", len(accounts)),
		zap.Int("positions", len(snapshot.Positions)),
	)
	return snapshot
}

func (a *Aggregator) position(acc model.DCAAccount, token model.TrackedToken, dir model.Direction, price decimal.Decimal, now time.Time) model.Position {
	// The deposit side is the quote currency for buys and the tracked token
	// for sells; the output side is the mirror of that.
	inDecimals, outDecimals := a.quoteDecimals, token.Decimals
	inSymbol, outSymbol := a.quoteSymbol, token.Symbol
	if dir == model.DirectionSell {
		inDecimals, outDecimals = token.Decimals, a.quoteDecimals
		inSymbol, outSymbol = token.Symbol, a.quoteSymbol
	}

	perCycle := scaled(acc.InAmountPerCycle, inDecimals)

	target := decimal.Zero
	if acc.MinOutAmount > 0 {
		target = scaled(acc.MinOutAmount, outDecimals)
	}

	p := model.Position{
		ID:              acc.Address,
		Token:           token.Symbol,
		Direction:       dir,
		InputToken:      inSymbol,
		OutputToken:     outSymbol,
		AmountPerCycle:  perCycle,
		RemainingAmount: remaining(acc, inDecimals),
		CycleFrequency:  acc.CycleFrequency,
		NextCycleAt:     acc.NextCycleAt,
		LastUpdated:     now,
		TargetPrice:     target,
		CurrentPrice:    price,
	}

	if dir == model.DirectionSell {
		est := perCycle.Mul(price)
		p.EstimatedOutput = &est
	}
	return p
}

// netDeposit is deposited minus withdrawn in decimal units, clamped at zero
// so a malformed account cannot produce negative volume.
func netDeposit(acc model.DCAAccount, decimals int32) decimal.Decimal {
	if acc.InWithdrawn >= acc.InDeposited {
		return decimal.Zero
	}
	return scaled(acc.InDeposited-acc.InWithdrawn, decimals)
}

// remaining is the deposit not yet spent or withdrawn, clamped at zero.
// Each amount is subtracted separately so oversized withdrawn/used values
// cannot wrap the sum around and fake a positive remainder.
func remaining(acc model.DCAAccount, decimals int32) decimal.Decimal {
	left := acc.InDeposited
	if acc.InWithdrawn >= left {
		return decimal.Zero
	}
	left -= acc.InWithdrawn
	if acc.InUsed >= left {
		return decimal.Zero
	}
	return scaled(left-acc.InUsed, decimals)
}

func scaled(baseUnits uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(baseUnits).Shift(-decimals)
}
