// Package app wires the control plane's components into a single explicit
// context, constructed once in main.go, rather than relying on package-level
// singletons. Per spec §9, every component is built here and passed by
// reference to whatever needs it.
package app

import (
	"fmt"
	"os"

	"tradeguard/auth"
	"tradeguard/broker"
	"tradeguard/config"
	"tradeguard/crypto"
	"tradeguard/gtt/executor"
	"tradeguard/gtt/monitor"
	gttstore "tradeguard/gtt/store"
	"tradeguard/killswitch"
	"tradeguard/logger"
	"tradeguard/ratelimiter"
	"tradeguard/riskgate"
	"tradeguard/store"
)

// App holds every constructed component for the lifetime of the process.
type App struct {
	Config     *config.Config
	HardLimits *config.HardLimits

	Store       *store.Store
	RateLimiter *ratelimiter.RateLimiter
	Broker      *broker.Client
	Credentials *broker.CredentialStore
	RiskGate    *riskgate.RiskGate
	KillSwitch  *killswitch.KillSwitch

	GTTStore    *gttstore.Store
	GTTExecutor *executor.Executor
	GTTMonitor  *monitor.Monitor
}

// New loads configuration and constructs every component, in the same
// dependency order the concurrency model assumes: config → logger → store
// → rate limiter → broker client → risk gate → kill switch → GTT
// store/executor/monitor.
func New(localConfigPath, hardLimitsPath string) (*App, error) {
	cfg, hard, err := config.Load(localConfigPath, hardLimitsPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		auth.SetJWTSecret(secret)
	} else {
		auth.SetJWTSecret("default-jwt-secret-change-in-production")
	}

	st, err := store.NewWithConfig(store.DBConfig{
		Type:     store.DBType(cfg.Database.Type),
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rl := ratelimiter.New(ratelimiter.Limits{
		OrdersPerSecond:     cfg.API.RateLimits.OrdersPerSecond,
		LiveDataPerSecond:   cfg.API.RateLimits.LiveDataPerSecond,
		NonTradingPerSecond: cfg.API.RateLimits.NonTradingPerSecond,
	})

	brokerBaseURL := os.Getenv("GROWW_API_BASE_URL")
	if brokerBaseURL == "" {
		brokerBaseURL = "https://api.groww.in"
	}

	creds, credStore := loadBrokerCredentials(st)

	brokerClient, err := broker.New(brokerBaseURL, creds, *hard, rl, cfg.IsPaperMode())
	if err != nil {
		return nil, fmt.Errorf("construct broker client: %w", err)
	}

	risk := riskgate.New(cfg.Risk, *hard, brokerClient)

	ks := killswitch.New(cfg.KillSwitch, risk)

	gs := st.GTT()
	exec := executor.New(gs, ks, risk, brokerClient)
	mon := monitor.New(gs, brokerClient, exec, cfg.GTT)

	return &App{
		Config:      cfg,
		HardLimits:  hard,
		Store:       st,
		RateLimiter: rl,
		Broker:      brokerClient,
		Credentials: credStore,
		RiskGate:    risk,
		KillSwitch:  ks,
		GTTStore:    gs,
		GTTExecutor: exec,
		GTTMonitor:  mon,
	}, nil
}

// loadBrokerCredentials builds the credential store and resolves the
// broker credentials to use: a previously rotated, encrypted value takes
// priority over the env-var bootstrap path. Decryption failures and a
// missing data key both fall back to the environment rather than failing
// startup, since env credentials remain valid even if rotation is
// unavailable.
func loadBrokerCredentials(st *store.Store) (broker.Credentials, *broker.CredentialStore) {
	envCreds := broker.CredentialsFromEnv()

	cs, err := crypto.NewCryptoService()
	if err != nil {
		logger.Debugf("credential rotation disabled: %v", err)
		return envCreds, broker.NewCredentialStore(st, nil)
	}
	crypto.SetGlobalCryptoService(cs)

	credStore := broker.NewCredentialStore(st, cs)
	saved, found, err := credStore.Load()
	if err != nil {
		logger.Warnf("failed to load rotated broker credentials, falling back to env: %v", err)
		return envCreds, credStore
	}
	if !found {
		return envCreds, credStore
	}
	return saved, credStore
}

// Start launches the kill switch's condition monitor and the GTT monitor,
// the two background periodic tasks.
func (a *App) Start() {
	a.KillSwitch.Start()
	a.GTTMonitor.Start()
	logger.Info("control plane started: kill switch monitor and gtt monitor running")
}

// Stop cancels both background tasks and closes the database connection.
func (a *App) Stop() {
	a.GTTMonitor.Stop()
	a.KillSwitch.Stop()
	if err := a.Store.Close(); err != nil {
		logger.Errorf("error closing store: %v", err)
	}
}
