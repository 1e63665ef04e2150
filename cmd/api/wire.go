package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/auth"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/chain"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/config"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/httpapi"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/migrate"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
	boltstore "github.com/ashrafbeshtawi/Landlord-sub000/internal/store/bolt"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/store/pg"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/stream"
)

type app struct {
	deps    httpapi.Deps
	closers []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// wire builds the ledger backend, replay store and services selected by cfg.
func wire(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var signer *claimsig.Signer
	if cfg.Signer.Key != "" {
		s, err := claimsig.ParseSigner(cfg.Signer.Key)
		if err != nil {
			return nil, fmt.Errorf("signer key: %w", err)
		}
		signer = s
		obs.Info("backend_signer_loaded", map[string]any{"address": s.Address().Hex()})
	} else {
		obs.Warn("backend_signer_missing", map[string]any{"hint": "POST /signature will fail until signer.key is set"})
	}
	var backend common.Address
	if signer != nil {
		backend = signer.Address()
	}

	events := stream.New()
	probe := httpapi.ReadyProbe{}
	owner := common.HexToAddress(cfg.Ledger.Owner)

	var (
		reader  ledger.Reader
		service ledger.Service
		store   *pg.Store
	)
	openStore := func() (*pg.Store, error) {
		if store != nil {
			return store, nil
		}
		s, err := pg.Open(cfg.Postgres.DSN, pg.WithEvents(events.PublishLedger))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, s)
		applied, err := migrate.NewManager(s.DB(), pg.Migrations()).Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			obs.Info("migrations_applied", map[string]any{"migrations": applied})
		}
		probe.DB = s.DB()
		store = s
		return s, nil
	}

	switch cfg.Ledger.Mode {
	case config.ModeMemory:
		supply, err := uint256.FromDecimal(cfg.Ledger.InitialSupply)
		if err != nil {
			return nil, fmt.Errorf("initial supply: %w", err)
		}
		mem := ledger.NewInMemory(owner, supply, ledger.WithBackend(backend), ledger.WithEvents(events.PublishLedger))
		reader, service = mem, mem
	case config.ModePostgres:
		s, err := openStore()
		if err != nil {
			return nil, err
		}
		supply, err := uint256.FromDecimal(cfg.Ledger.InitialSupply)
		if err != nil {
			return nil, fmt.Errorf("initial supply: %w", err)
		}
		if err := s.Deploy(ctx, owner, backend, supply); err != nil && !errors.Is(err, pg.ErrAlreadyDeployed) {
			return nil, fmt.Errorf("deploy ledger: %w", err)
		}
		reader, service = s, s
	case config.ModeChain:
		rpcURL, contract := strings.TrimSpace(cfg.Chain.RPCURL), strings.TrimSpace(cfg.Chain.Contract)
		if rpcURL == "" || contract == "" {
			obs.Warn("chain_not_configured", map[string]any{"hint": "set chain.rpc_url and chain.contract"})
			break
		}
		client, err := chain.Dial(ctx, rpcURL, common.HexToAddress(contract), cfg.Chain.Timeout.Duration)
		if err != nil {
			return nil, fmt.Errorf("dial chain: %w", err)
		}
		a.closers = append(a.closers, closerFunc(func() error { client.Close(); return nil }))
		probe.Chain = client
		reader = client
	}

	var nonces ownership.NonceStore
	switch cfg.Replay.Store {
	case config.ReplayMemory:
		nonces = ownership.NewMemoryNonces(cfg.Replay.TTL.Duration)
	case config.ReplayPostgres:
		s, err := openStore()
		if err != nil {
			return nil, err
		}
		nonces = s.Nonces()
	case config.ReplayBolt:
		n, err := boltstore.Open(cfg.Replay.BoltPath, cfg.Replay.TTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("open nonce db: %w", err)
		}
		a.closers = append(a.closers, n)
		nonces = n
	}

	opts := []distribution.Option{
		distribution.WithBalanceMaxAge(*cfg.Policy.BalanceMaxAgeBlocks),
		distribution.WithSignatureMaxAge(*cfg.Policy.SignatureMaxAgeBlocks),
	}
	if signer != nil {
		opts = append(opts, distribution.WithSigner(signer))
	}
	if nonces != nil {
		opts = append(opts, distribution.WithNonceStore(nonces))
	}

	a.deps = httpapi.Deps{
		Version:      version,
		LedgerMode:   cfg.Ledger.Mode,
		Ready:        probe,
		Distribution: distribution.New(reader, opts...),
		Reader:       reader,
		Owner:        owner,
		Stream:       events,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RatePerSec:   cfg.HTTP.RateLimitRPS,
		RateBurst:    cfg.HTTP.RateLimitBurst,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}
	if service != nil {
		a.deps.Ledger = service
		a.deps.Claims = distribution.NewClaims(service, nonces)
	}

	if cfg.Auth.Secret != "" {
		tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTTL(cfg.Auth.TokenTTL.Duration))
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		ops := make([]auth.Operator, 0, len(cfg.Auth.Operators))
		for _, op := range cfg.Auth.Operators {
			ops = append(ops, auth.Operator{Name: op.Name, PasswordHash: op.PasswordHash, Roles: op.Roles})
		}
		a.deps.Tokens = tokens
		a.deps.Operators = auth.NewOperators(ops)
	} else if len(cfg.Auth.Operators) > 0 {
		obs.Warn("auth_secret_missing", map[string]any{"hint": "operators configured but admin routes are disabled"})
	}

	ok = true
	return a, nil
}
