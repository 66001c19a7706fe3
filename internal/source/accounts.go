package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hellolucient/Open-DCAs/internal/model"
)

// AccountSource supplies the raw DCA order accounts for one poll cycle.
type AccountSource interface {
	Fetch(ctx context.Context) ([]model.DCAAccount, error)
}

// DCAClient fetches open DCA order accounts for the tracked mints from the
// DCA account API.
type DCAClient struct {
	baseURL string
	mints   []string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewDCAClient(baseURL string, mints []string, requestsPerSecond float64, logger *zap.Logger) *DCAClient {
	return &DCAClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		mints:   mints,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 2),
		logger:  logger,
	}
}

// dcaAccountPayload is the wire shape of one order account. The API returns
// u64 base-unit amounts as strings.
type dcaAccountPayload struct {
	Address          string `json:"address"`
	InputMint        string `json:"inputMint"`
	OutputMint       string `json:"outputMint"`
	InDeposited      string `json:"inDeposited"`
	InWithdrawn      string `json:"inWithdrawn"`
	InUsed           string `json:"inUsed"`
	InAmountPerCycle string `json:"inAmountPerCycle"`
	CycleFrequency   int64  `json:"cycleFrequency"`
	NextCycleAt      int64  `json:"nextCycleAt"` // unix seconds
	MinOutAmount     string `json:"minOutAmount"`
	MaxOutAmount     string `json:"maxOutAmount"`
}

// Ping performs a minimal request to verify the API is reachable. Any HTTP
// response counts as reachable.
func (c *DCAClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dca api unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *DCAClient) Fetch(ctx context.Context) ([]model.DCAAccount, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/dca/accounts?mints=%s", c.baseURL, strings.Join(c.mints, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dca accounts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dca api returned status %d", resp.StatusCode)
	}

	var payload struct {
		Accounts []dcaAccountPayload `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode dca accounts: %w", err)
	}

	accounts := make([]model.DCAAccount, 0, len(payload.Accounts))
	for _, p := range payload.Accounts {
		acc, err := convertAccount(p)
		if err != nil {
			// A structurally invalid record fails the whole fetch so the
			// retry policy applies, rather than silently dropping data.
			return nil, fmt.Errorf("malformed account %s: %w", p.Address, err)
		}
		accounts = append(accounts, acc)
	}

	c.logger.Debug("fetched dca accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

func convertAccount(p dcaAccountPayload) (model.DCAAccount, error) {
	deposited, err := parseBaseUnits(p.InDeposited)
	if err != nil {
		return model.DCAAccount{}, err
	}
	withdrawn, err := parseBaseUnits(p.InWithdrawn)
	if err != nil {
		return model.DCAAccount{}, err
	}
	used, err := parseBaseUnits(p.InUsed)
	if err != nil {
		return model.DCAAccount{}, err
	}
	perCycle, err := parseBaseUnits(p.InAmountPerCycle)
	if err != nil {
		return model.DCAAccount{}, err
	}
	minOut, err := parseBaseUnits(p.MinOutAmount)
	if err != nil {
		return model.DCAAccount{}, err
	}
	maxOut, err := parseBaseUnits(p.MaxOutAmount)
	if err != nil {
		return model.DCAAccount{}, err
	}

	return model.DCAAccount{
		Address:          p.Address,
		InputMint:        p.InputMint,
		OutputMint:       p.OutputMint,
		InDeposited:      deposited,
		InWithdrawn:      withdrawn,
		InUsed:           used,
		InAmountPerCycle: perCycle,
		CycleFrequency:   p.CycleFrequency,
		NextCycleAt:      time.Unix(p.NextCycleAt, 0).UTC(),
		MinOutAmount:     minOut,
		MaxOutAmount:     maxOut,
	}, nil
}

// parseBaseUnits parses a string-encoded u64 amount. Empty means zero, which
// the API uses for absent optional bounds.
func parseBaseUnits(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
