package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/api"
	"github.com/hellolucient/Open-DCAs/internal/aggregator"
	"github.com/hellolucient/Open-DCAs/internal/config"
	"github.com/hellolucient/Open-DCAs/internal/infrastructure"
	"github.com/hellolucient/Open-DCAs/internal/model"
	"github.com/hellolucient/Open-DCAs/internal/poller"
	"github.com/hellolucient/Open-DCAs/internal/push"
	"github.com/hellolucient/Open-DCAs/internal/source"
	"github.com/hellolucient/Open-DCAs/internal/store"
)

// InitState tracks source initialization: UNINITIALIZED until the account
// API has been reached, READY on success, INIT_FAILED once the bounded
// startup retries are exhausted.
type InitState int32

const (
	InitStateUninitialized InitState = iota
	InitStateReady
	InitStateFailed
)

func (s InitState) String() string {
	switch s {
	case InitStateUninitialized:
		return "UNINITIALIZED"
	case InitStateReady:
		return "READY"
	case InitStateFailed:
		return "INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

const initMaxAttempts = 3

// App defines the application structure and its dependencies
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Tokens      []model.TrackedToken
	NC          *nats.Conn
	JS          nats.JetStreamContext
	Accounts    *source.DCAClient
	Prices      *source.PriceClient
	Snapshots   *store.SnapshotStore
	Poller      *poller.Poller
	PushGateway *push.PushGateway
	HTTPServer  *http.Server

	initState   atomic.Int32
	initBackoff time.Duration // retry delay base; zero means one second
}

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	tokens, err := cfg.Tokens()
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracked tokens: %w", err)
	}

	infrastructure.Init()
	logger := infrastructure.Logger

	return &App{
		Config: &cfg,
		Logger: logger,
		Tokens: tokens,
	}, nil
}

// Init initializes all application components
func (a *App) Init(ctx context.Context) error {
	// 1. NATS
	nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.NC = nc
	a.JS = js

	// 2. Fetch clients, constructed once and injected everywhere
	mints := make([]string, len(a.Tokens))
	for i, t := range a.Tokens {
		mints[i] = t.Mint
	}
	a.Accounts = source.NewDCAClient(a.Config.DCAAPIURL, mints, a.Config.APIRateLimit, a.Logger)
	a.Prices = source.NewPriceClient(a.Config.PriceAPIURL, a.Config.APIRateLimit, a.Logger)

	if err := a.initSources(ctx, a.Accounts); err != nil {
		return err
	}

	// 3. Services
	a.Snapshots = store.NewSnapshotStore(a.Config.ChartHistorySize)
	agg := aggregator.New(a.Config.QuoteSymbol, int32(a.Config.QuoteDecimals), a.Logger)
	sink := newSnapshotSink(a.JS, a.Snapshots, a.Logger)
	a.Poller = poller.New(a.Accounts, a.Prices, agg, sink, a.Tokens, poller.Options{
		Interval:       a.Config.PollInterval(),
		MaxAttempts:    a.Config.FetchMaxAttempts,
		BackoffBase:    a.Config.FetchBackoff(),
		FailRetryDelay: a.Config.FailRetryDelay(),
	}, a.Logger)
	a.PushGateway = push.NewPushGateway(a.JS, a.Snapshots, a.Logger)

	return nil
}

// pinger is the readiness probe of an account source.
type pinger interface {
	Ping(ctx context.Context) error
}

// initSources verifies the account API is reachable with a bounded number of
// attempts before the poll loop starts.
func (a *App) initSources(ctx context.Context, src pinger) error {
	backoff := a.initBackoff
	if backoff == 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= initMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * backoff):
			}
		}

		if lastErr = src.Ping(ctx); lastErr == nil {
			a.initState.Store(int32(InitStateReady))
			a.Logger.Info("dca account source ready")
			return nil
		}
		a.Logger.Warn("dca account source not reachable",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	a.initState.Store(int32(InitStateFailed))
	return fmt.Errorf("dca account source init failed: %w", lastErr)
}

func (a *App) InitState() InitState {
	return InitState(a.initState.Load())
}

// Run starts the poll loop and the HTTP server
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.Poller.Run(ctx)

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(cancel)
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")
	cancel()

	ctx, timeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeout()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.NC.Close()

	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"init":  a.InitState().String(),
			"state": a.Poller.State().String(),
		})
	})

	apiHandler := api.NewHandler(a.Snapshots, a.Poller, a.Tokens, a.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/snapshot", apiHandler.GetSnapshot)
		v1.GET("/summary", apiHandler.GetSummary)
		v1.GET("/positions/:symbol", apiHandler.GetPositions)
		v1.GET("/chart/:symbol", apiHandler.GetChart)
		v1.GET("/status", apiHandler.GetStatus)
		v1.POST("/refresh", apiHandler.Refresh)
		v1.PUT("/autorefresh", apiHandler.SetAutoRefresh)
	}

	r.StaticFile("/", "./static/index.html")
	r.Static("/static", "./static")

	r.GET("/ws", func(c *gin.Context) {
		a.PushGateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}
