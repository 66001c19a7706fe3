package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hellolucient/Open-DCAs/internal/model"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	NatsURL     string `mapstructure:"NATS_URL"`
	DCAAPIURL   string `mapstructure:"DCA_API_URL"`
	PriceAPIURL string `mapstructure:"PRICE_API_URL"`

	PollIntervalSec   int     `mapstructure:"POLL_INTERVAL_SEC"`
	FetchMaxAttempts  int     `mapstructure:"FETCH_MAX_ATTEMPTS"`
	FetchBackoffSec   int     `mapstructure:"FETCH_BACKOFF_SEC"`
	FailRetryDelaySec int     `mapstructure:"FAIL_RETRY_DELAY_SEC"`
	APIRateLimit      float64 `mapstructure:"API_RATE_LIMIT"`
	ChartHistorySize  int     `mapstructure:"CHART_HISTORY_SIZE"`

	QuoteSymbol   string `mapstructure:"QUOTE_SYMBOL"`
	QuoteMint     string `mapstructure:"QUOTE_MINT"`
	QuoteDecimals int    `mapstructure:"QUOTE_DECIMALS"`

	// TrackedTokens is a comma-separated list of SYMBOL:mint:decimals entries.
	TrackedTokens string `mapstructure:"TRACKED_TOKENS"`
}

func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	viper.SetDefault("DCA_API_URL", "https://dca-api.jup.ag")
	viper.SetDefault("PRICE_API_URL", "https://api.jup.ag/price/v2")
	viper.SetDefault("POLL_INTERVAL_SEC", 5)
	viper.SetDefault("FETCH_MAX_ATTEMPTS", 3)
	viper.SetDefault("FETCH_BACKOFF_SEC", 1)
	viper.SetDefault("FAIL_RETRY_DELAY_SEC", 2)
	viper.SetDefault("API_RATE_LIMIT", 5.0)
	viper.SetDefault("CHART_HISTORY_SIZE", 720)
	viper.SetDefault("QUOTE_SYMBOL", "USDC")
	viper.SetDefault("QUOTE_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	viper.SetDefault("QUOTE_DECIMALS", 6)
	viper.SetDefault("TRACKED_TOKENS",
		"LOGOS:HJUFqXoYjC653f2p33i84zdCC3jc4EuVnbruSe5Kpump:6,"+
			"CHAOS:8SgNwESovnbG1oNEaPVhg6CR9mTMSK7jPvcYRe3wpump:6")

	err = viper.ReadInConfig()
	// If config file not found, we can still use env vars
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	err = viper.Unmarshal(&config)
	return
}

// Tokens parses the TRACKED_TOKENS entry list.
func (c Config) Tokens() ([]model.TrackedToken, error) {
	parts := strings.Split(c.TrackedTokens, ",")
	tokens := make([]model.TrackedToken, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid tracked token entry %q, want SYMBOL:mint:decimals", part)
		}
		decimals, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid decimals in tracked token entry %q: %w", part, err)
		}
		tokens = append(tokens, model.TrackedToken{
			Symbol:   strings.ToUpper(fields[0]),
			Mint:     fields[1],
			Decimals: int32(decimals),
		})
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tracked tokens configured")
	}
	return tokens, nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c Config) FetchBackoff() time.Duration {
	return time.Duration(c.FetchBackoffSec) * time.Second
}

func (c Config) FailRetryDelay() time.Duration {
	return time.Duration(c.FailRetryDelaySec) * time.Second
}
