package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gridsync/gridsync/internal/config"
	"github.com/gridsync/gridsync/internal/engine"
	"github.com/gridsync/gridsync/internal/secrets"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/gridsync/gridsync/internal/token"
)

// Provider OAuth endpoints. Client IDs and secrets come from the
// environment; the endpoints are fixed per provider.
const (
	sorAuthURL  = "https://airtable.com/oauth2/v1/authorize"
	sorTokenURL = "https://airtable.com/oauth2/v1/token"

	gridAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	gridTokenURL = "https://oauth2.googleapis.com/token"
)

// app bundles everything a command needs once configuration and
// secrets are resolved.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// openApp loads config and secrets, opens the database, and wires the
// token manager and sync engine.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadOrDefault(flagConfigPath)
	if err != nil {
		return nil, err
	}

	sec, err := config.ReadSecrets()
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)

	st, err := store.Open(ctx, sec.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	cipher, err := secrets.New(sec.EncryptionKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	manager := token.NewManager(st, cipher,
		token.ProviderConfig{
			ClientID:     sec.Sor.ClientID,
			ClientSecret: sec.Sor.ClientSecret,
			AuthURL:      sorAuthURL,
			TokenURL:     sorTokenURL,
			RedirectURL:  sec.Sor.RedirectURI,
		},
		token.ProviderConfig{
			ClientID:     sec.Grid.ClientID,
			ClientSecret: sec.Grid.ClientSecret,
			AuthURL:      gridAuthURL,
			TokenURL:     gridTokenURL,
			RedirectURL:  sec.Grid.RedirectURI,
		},
		logger,
	)

	eng := engine.New(st, manager, engine.Options{
		SorBaseURL:           cfg.Network.SorBaseURL,
		GridBaseURL:          cfg.Network.GridBaseURL,
		SorRequestsPerSecond: cfg.Network.SorRequestsPerSecond,
		HTTPClient:           &http.Client{Timeout: cfg.Network.RequestTimeoutDuration()},
		RunBudget:            cfg.Sync.RunBudgetDuration(),
		ResolverTTL:          cfg.Sync.LinkedRecordCacheTTLDuration(),
		MaxRecordsPerSync:    cfg.Plans.MaxRecordsPerSync,
		MaxConcurrentRuns:    cfg.Scheduler.MaxConcurrentRuns,
		StrictValidation:     cfg.Sync.ValidationMode == "strict",
	}, logger)

	return &app{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

// resolveUser turns the --user flag into a stored user.
func (a *app) resolveUser(ctx context.Context) (*store.User, error) {
	if flagUser == "" {
		return nil, fmt.Errorf("--user is required")
	}

	user, err := a.store.GetUserByEmail(ctx, flagUser)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", flagUser, err)
	}

	return user, nil
}
