// Package app wires configuration into the ledger and the services built
// on it. Both the daemon and the CLI start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/config"
	"github.com/jmerrifield20/IntegrityLedger/internal/eii"
	"github.com/jmerrifield20/IntegrityLedger/internal/federation"
	"github.com/jmerrifield20/IntegrityLedger/internal/feedback"
	"github.com/jmerrifield20/IntegrityLedger/internal/signing"
	"github.com/jmerrifield20/IntegrityLedger/internal/trust"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
	"github.com/jmerrifield20/IntegrityLedger/internal/webhooks"
)

// App holds the wired services. Close releases the ledger backend.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Ledger   trustledger.Ledger
	Scorer   *trust.Scorer
	Feedback *feedback.Service
	EII      *eii.Aggregator
	Verifier *federation.Verifier
	Alerts   *webhooks.Dispatcher

	closers []func() error
}

// New opens the configured ledger and builds every service on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := SigningOptions(cfg.Signing)
	if err != nil {
		return nil, err
	}
	opts = append(opts, trustledger.WithLogger(logger))

	ledger, closeLedger, err := OpenLedger(ctx, cfg.Ledger, opts...)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Ledger: ledger, closers: []func() error{closeLedger}}

	trustCfg, err := config.LoadTrustConfig(cfg.Trust.ConfigPath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Scorer, err = trust.NewScorer(trustCfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	client, err := federation.NewAttestationClient(cfg.Federation.FetchTimeout)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Feedback = feedback.NewService(ledger, a.Scorer, logger)
	a.EII = eii.NewAggregator(ledger, logger)
	a.Verifier = federation.NewVerifier(
		federation.PartnerFile(cfg.Federation.PartnersPath),
		client,
		ledger,
		federation.Config{
			Interval:     cfg.Federation.Interval,
			FetchTimeout: cfg.Federation.FetchTimeout,
			MaxInFlight:  cfg.Federation.MaxInFlight,
			ReportDir:    cfg.Federation.ReportDir,
		},
		logger,
	)

	a.Alerts = webhooks.NewDispatcher(cfg.Webhooks, logger)
	a.Verifier.SetReviewAlert(func(ctx context.Context, rep *federation.Report) {
		a.Alerts.Dispatch(ctx, webhooks.EventReviewRequired, map[string]string{
			"summary":          rep.Summary(),
			"flagged_partners": strconv.Itoa(rep.Flagged),
			"network_root":     rep.NetworkMerkleAggregate,
			"entry_id":         rep.EntryID,
		})
	})
	a.closers = append(a.closers, func() error { a.Alerts.Wait(); return nil })
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SigningOptions returns the ledger options for cfg. With signing disabled
// entries are left unsigned; a configured public key still checks existing
// signatures during Verify.
func SigningOptions(cfg config.SigningConfig) ([]trustledger.Option, error) {
	if !cfg.Enabled {
		opts := []trustledger.Option{trustledger.WithSigner(signing.Noop{})}
		if cfg.PublicKeyPath == "" {
			return opts, nil
		}
		pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, &config.ConfigError{Op: "signing public key", Err: err}
		}
		pub, err := signing.ParsePublicKey(pubPEM)
		if err != nil {
			return nil, &config.ConfigError{Op: "signing public key", Err: err}
		}
		return append(opts, trustledger.WithSignatureVerifier(signing.NewVerifier(pub, cfg.Issuer))), nil
	}
	key, err := signing.LoadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return nil, &config.ConfigError{Op: "signing key", Err: err}
	}
	s := signing.NewJWTSigner(key, cfg.Issuer)
	return []trustledger.Option{
		trustledger.WithSigner(s),
		trustledger.WithSignatureVerifier(s),
	}, nil
}

// OpenLedger opens the backend selected by cfg.Backend.
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, opts ...trustledger.Option) (trustledger.Ledger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return trustledger.NewMemory(opts...), noop, nil
	case config.BackendFile, "":
		l, err := trustledger.OpenFile(cfg.Path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open file ledger: %w", err)
		}
		return l, noop, nil
	case config.BackendSQLite:
		l, err := trustledger.OpenSQLite(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return l, l.Close, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return trustledger.NewPostgres(pool, opts...), func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, &config.ConfigError{Op: "ledger backend", Err: fmt.Errorf("unknown backend %q", cfg.Backend)}
	}
}
