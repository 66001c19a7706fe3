package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a DCA order relative to the tracked token.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TrackedToken is one of the tokens the dashboard monitors.
type TrackedToken struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals int32  `json:"decimals"`
}

// DCAAccount is one raw on-chain DCA order account as returned by the
// account source. Amounts are integer base units at the mint's decimal scale.
type DCAAccount struct {
	Address          string    `json:"address"`
	InputMint        string    `json:"inputMint"`
	OutputMint       string    `json:"outputMint"`
	InDeposited      uint64    `json:"inDeposited"`
	InWithdrawn      uint64    `json:"inWithdrawn"`
	InUsed           uint64    `json:"inUsed"`
	InAmountPerCycle uint64    `json:"inAmountPerCycle"`
	CycleFrequency   int64     `json:"cycleFrequency"` // seconds between executions
	NextCycleAt      time.Time `json:"nextCycleAt"`
	MinOutAmount     uint64    `json:"minOutAmount"` // 0 means no bound
	MaxOutAmount     uint64    `json:"maxOutAmount"` // 0 means no bound
}

// TokenPrice is a point-in-time quote-currency price for a mint. Valid only
// for the poll cycle it was fetched in.
type TokenPrice struct {
	Mint      string          `json:"mint"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is one display-ready record derived from a DCAAccount.
// InputToken and OutputToken are fully determined by Direction and Token;
// they are never set independently.
type Position struct {
	ID              string           `json:"id"`
	Token           string           `json:"token"`
	Direction       Direction        `json:"direction"`
	InputToken      string           `json:"inputToken"`
	OutputToken     string           `json:"outputToken"`
	AmountPerCycle  decimal.Decimal  `json:"amountPerCycle"`
	RemainingAmount decimal.Decimal  `json:"remainingAmount"`
	CycleFrequency  int64            `json:"cycleFrequency"`
	NextCycleAt     time.Time        `json:"nextCycleAt"`
	LastUpdated     time.Time        `json:"lastUpdated"`
	TargetPrice     decimal.Decimal  `json:"targetPrice"`
	CurrentPrice    decimal.Decimal  `json:"currentPrice"`
	EstimatedOutput *decimal.Decimal `json:"estimatedOutput,omitempty"` // SELL only
}

// TokenSummary aggregates all positions of one tracked token.
type TokenSummary struct {
	Token          string          `json:"token"`
	BuyOrders      int             `json:"buyOrders"`
	SellOrders     int             `json:"sellOrders"`
	BuyVolume      decimal.Decimal `json:"buyVolume"`
	SellVolume     decimal.Decimal `json:"sellVolume"`
	BuyVolumeUSDC  decimal.Decimal `json:"buyVolumeUSDC"`
	SellVolumeUSDC decimal.Decimal `json:"sellVolumeUSDC"`
	Price          decimal.Decimal `json:"price"`
}

// ChartPoint is one aggregate snapshot per poll cycle for one tracked token.
type ChartPoint struct {
	Token      string          `json:"token"`
	Timestamp  time.Time       `json:"timestamp"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
	BuyOrders  int             `json:"buyOrders"`
	SellOrders int             `json:"sellOrders"`
}

// Snapshot is the full result of one poll cycle, published to subscribers.
// Error is set (and the data fields empty) when the cycle failed.
type Snapshot struct {
	Timestamp time.Time               `json:"timestamp"`
	Positions []Position              `json:"positions"`
	Summary   map[string]TokenSummary `json:"summary"`
	Charts    map[string]ChartPoint   `json:"charts"`
	Error     string                  `json:"error,omitempty"`
}

// Failed reports whether the snapshot represents a failed poll cycle.
func (s *Snapshot) Failed() bool {
	return s.Error != ""
}
