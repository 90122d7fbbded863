package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/agilbank/concierge/internal/config"
	"github.com/agilbank/concierge/internal/logger"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/handler"
	"github.com/agilbank/concierge/pkg/orchestrator"
	"github.com/agilbank/concierge/pkg/pool"
	"github.com/agilbank/concierge/pkg/quote"
	"github.com/agilbank/concierge/pkg/score"
	"github.com/agilbank/concierge/pkg/session"
	"github.com/agilbank/concierge/pkg/store"
)

// app bundles the wired runtime shared by the chat and serve commands.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	store   *store.Store
	policy  *score.Policy
	memory  *session.Manager
	cleanup *session.Cleanup
	service *orchestrator.Service
}

// newApp loads configuration and wires the full conversation runtime.
func newApp() (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zl := lg.GetZerolog()

	if err := tracing.InitOpenTelemetry("concierge"); err != nil {
		zl.Warn().Err(err).Msg("Tracing disabled")
	}

	candidates, err := pool.New(cfg.Models.Fallback, cfg.APIKeys, cfg.Models.Preferred)
	if err != nil {
		return nil, fmt.Errorf("failed to build model pool: %w", err)
	}

	provider, err := gateway.NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Config{
		Pool:        candidates,
		Provider:    provider,
		Timeout:     cfg.Generation.RequestTimeout,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Logger:      zl,
	})
	if err != nil {
		return nil, err
	}

	// An empty data dir keeps everything in memory, which the demo and
	// tests use.
	dbPath := ":memory:"
	bandsPath := ""
	sessionsDir := ""
	if cfg.DataDir != "" {
		dbPath = filepath.Join(cfg.DataDir, "customers.db")
		bandsPath = filepath.Join(cfg.DataDir, "score_bands.json")
		sessionsDir = filepath.Join(cfg.DataDir, "conversations")
	}

	st, err := store.New(store.Config{DBPath: dbPath, Seed: true, Logger: zl})
	if err != nil {
		return nil, fmt.Errorf("failed to open customer store: %w", err)
	}

	policy, err := score.NewPolicy(bandsPath, zl)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load score policy: %w", err)
	}

	quotes := quote.NewClient(quote.Config{
		BaseURL: cfg.Quote.BaseURL,
		Timeout: cfg.Quote.Timeout,
		Logger:  zl,
	})

	memory, err := session.NewManager(sessionsDir)
	if err != nil {
		policy.Close()
		st.Close()
		return nil, fmt.Errorf("failed to initialize conversation memory: %w", err)
	}

	cleanup := session.NewCleanup(memory, cfg.Conversation.SessionMaxAge, session.DefaultCleanupSchedule)
	if err := cleanup.Start(); err != nil {
		zl.Warn().Err(err).Msg("Session cleanup disabled")
	}

	maxRounds := cfg.Conversation.MaxToolRounds

	factory := func(conversationID string) (*orchestrator.Orchestrator, error) {
		triage, err := handler.NewTriage(handler.TriageConfig{
			Gateway:   gw,
			Store:     st,
			MaxRounds: maxRounds,
			Logger:    zl,
		})
		if err != nil {
			return nil, err
		}
		credit, err := handler.NewCredit(handler.CreditConfig{
			Gateway:   gw,
			Store:     st,
			Policy:    policy,
			MaxRounds: maxRounds,
			Logger:    zl,
		})
		if err != nil {
			return nil, err
		}
		exchange, err := handler.NewExchange(handler.ExchangeConfig{
			Gateway:   gw,
			Quotes:    quotes,
			MaxRounds: maxRounds,
			Logger:    zl,
		})
		if err != nil {
			return nil, err
		}
		interview, err := handler.NewInterview(handler.InterviewConfig{
			Gateway:   gw,
			Store:     st,
			Policy:    policy,
			MaxRounds: maxRounds,
			Logger:    zl,
		})
		if err != nil {
			return nil, err
		}

		return orchestrator.New(orchestrator.Config{
			ConversationID: conversationID,
			Handlers: map[string]handler.Handler{
				triage.Name():    triage,
				credit.Name():    credit,
				exchange.Name():  exchange,
				interview.Name(): interview,
			},
			Entry:      handler.NameTriage,
			Memory:     memory,
			WindowSize: cfg.Conversation.MemoryWindow,
			Logger:     zl,
		})
	}

	service, err := orchestrator.NewService(factory, zl)
	if err != nil {
		cleanup.Stop()
		policy.Close()
		st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  lg,
		store:   st,
		policy:  policy,
		memory:  memory,
		cleanup: cleanup,
		service: service,
	}, nil
}

// close tears the runtime down in reverse construction order.
func (a *app) close() {
	_ = a.service.Close()
	a.cleanup.Stop()
	a.policy.Close()
	_ = a.memory.Close()
	_ = a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tracing.ShutdownOpenTelemetry(ctx)
	_ = a.logger.Close()
}
