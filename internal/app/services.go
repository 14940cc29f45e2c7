package app

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/rwa-orchestrator/internal/cache"
	"github.com/ggonzalez94/rwa-orchestrator/internal/config"
	"github.com/ggonzalez94/rwa-orchestrator/internal/engine"
	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/friends"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/ledger"
	"github.com/ggonzalez94/rwa-orchestrator/internal/parser"
	"github.com/ggonzalez94/rwa-orchestrator/internal/planner"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
	"github.com/ggonzalez94/rwa-orchestrator/internal/trigger"
	"github.com/ggonzalez94/rwa-orchestrator/internal/wallet"
)

// Services are opened on first use so read-only commands never touch the
// wallet, the sequence store or the ledger they do not need.

func (s *runtimeState) apiBaseURL() (string, error) {
	base := strings.TrimSpace(s.settings.APIBaseURL)
	if !registry.IsAllowedAPIBaseURL(base) {
		return "", clierr.New(clierr.CodeUsage, "api base url must use https (http is allowed for localhost only)")
	}
	return strings.TrimRight(base, "/"), nil
}

func (s *runtimeState) ownerAddress() (string, error) {
	owner := strings.TrimSpace(s.settings.OwnerAddress)
	if !id.IsAddress(owner) {
		return "", clierr.New(clierr.CodeUsage, "--owner (or wallet.owner) must be a valid EVM address")
	}
	return owner, nil
}

func (s *runtimeState) chain() (id.Chain, error) {
	return id.ParseChain(s.settings.Chain)
}

func (s *runtimeState) planner() (*planner.Planner, error) {
	chain, err := s.chain()
	if err != nil {
		return nil, err
	}
	contracts, err := planner.ContractsFromConfig(chain, s.settings.Contracts)
	if err != nil {
		return nil, err
	}
	return planner.New(chain, contracts), nil
}

func (s *runtimeState) ensureCache() (*cache.Store, error) {
	if !s.settings.CacheEnabled {
		return nil, nil
	}
	if s.cache != nil {
		return s.cache, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open friend cache", err)
	}
	if err := store.Prune(); err != nil {
		s.log.WithError(err).Debug("prune friend cache")
	}
	s.cache = store
	s.closers = append(s.closers, store.Close)
	return store, nil
}

func (s *runtimeState) friendsClient() (*friends.Client, error) {
	base, err := s.apiBaseURL()
	if err != nil {
		return nil, err
	}
	opts := []friends.Option{friends.WithLogger(s.log)}
	store, err := s.ensureCache()
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, friends.WithCache(store, s.settings.FriendCacheTTL))
	}
	return friends.New(s.httpClient, base, opts...), nil
}

func (s *runtimeState) parserClient() (*parser.Client, error) {
	base, err := s.apiBaseURL()
	if err != nil {
		return nil, err
	}
	return parser.New(s.httpClient, base), nil
}

// sequenceStore is the durable store, or an in-memory one in dry-run mode
// so simulated sequences never mix with real ones.
func (s *runtimeState) sequenceStore() (sequencer.Store, error) {
	if s.seqStore != nil {
		return s.seqStore, nil
	}
	if s.settings.DryRun {
		s.seqStore = sequencer.NewMemoryStore()
		return s.seqStore, nil
	}
	store, err := sequencer.OpenSQLStore(s.settings.SequenceStorePath, s.settings.SequenceLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open sequence store", err)
	}
	s.seqStore = store
	s.closers = append(s.closers, store.Close)
	return store, nil
}

func (s *runtimeState) ledgerBook(ctx context.Context) (*ledger.Book, error) {
	if s.book != nil {
		return s.book, nil
	}
	var store ledger.Ledger
	switch {
	case s.settings.DryRun || s.settings.LedgerBackend == config.LedgerBackendMemory:
		store = ledger.NewMemory()
	case s.settings.LedgerBackend == config.LedgerBackendRedis:
		if strings.TrimSpace(s.settings.RedisAddr) == "" {
			return nil, clierr.New(clierr.CodeUsage, "ledger.redis_addr is required for the redis ledger backend")
		}
		rdb, err := ledger.OpenRedis(ctx, ledger.RedisConfig{
			Address:   s.settings.RedisAddr,
			Password:  s.settings.RedisPassword,
			DB:        s.settings.RedisDB,
			Namespace: "rwa:ledger:",
		})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect redis ledger", err)
		}
		store = rdb
	default:
		db, err := ledger.OpenSQLite(s.settings.LedgerPath, s.settings.LedgerLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open ledger", err)
		}
		store = db
	}
	s.closers = append(s.closers, store.Close)
	s.book = ledger.NewBook(store)
	return s.book, nil
}

// newWallet returns the simulated wallet in dry-run mode and otherwise a
// local signer bound to the configured chain's RPC endpoint.
func (s *runtimeState) newWallet(ctx context.Context) (sequencer.Wallet, error) {
	owner := strings.TrimSpace(s.settings.OwnerAddress)
	if s.settings.DryRun {
		if !id.IsAddress(owner) {
			return nil, clierr.New(clierr.CodeUsage, "--owner must be a valid EVM address in dry-run mode")
		}
		return wallet.NewSimulated(common.HexToAddress(owner), 0), nil
	}

	signer, err := wallet.NewLocalSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return nil, err
	}
	if owner != "" && !strings.EqualFold(owner, signer.Address().Hex()) {
		return nil, clierr.New(clierr.CodeSigner, "signer address does not match the configured owner")
	}
	chain, err := s.chain()
	if err != nil {
		return nil, err
	}
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, chain.EVMChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	w, err := wallet.DialRPC(ctx, rpcURL, chain.EVMChainID, signer, wallet.RPCOptions{
		PollInterval:       s.settings.PollInterval,
		GasMultiplier:      s.settings.GasMultiplier,
		MaxFeeGwei:         s.settings.MaxFeeGwei,
		MaxPriorityFeeGwei: s.settings.MaxPriorityFeeGwei,
		Logger:             s.log,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		w.Close()
		return nil
	})
	// Signed transactions go out as the signer, so that is the owner every
	// later lookup (friends, ledger) uses.
	s.settings.OwnerAddress = signer.Address().Hex()
	return w, nil
}

func (s *runtimeState) ensureEngine(ctx context.Context) (*engine.Engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}
	p, err := s.planner()
	if err != nil {
		return nil, err
	}
	resolver, err := s.friendsClient()
	if err != nil {
		return nil, err
	}
	w, err := s.newWallet(ctx)
	if err != nil {
		return nil, err
	}
	store, err := s.sequenceStore()
	if err != nil {
		return nil, err
	}
	book, err := s.ledgerBook(ctx)
	if err != nil {
		return nil, err
	}
	seq := sequencer.New(w, resolver, sequencer.NewRegistry(store), sequencer.Options{
		ConfirmationTimeout: s.settings.ConfirmationTimeout,
		Logger:              s.log,
		Metrics:             s.metrics,
	})

	cfg := engine.Config{
		Planner:          p,
		Sequencer:        seq,
		Book:             book,
		CountdownSeconds: s.settings.CountdownSeconds,
		Logger:           s.log,
		Metrics:          s.metrics,
	}
	// A simulated schedule id must never reach the real event watcher.
	if !s.settings.DryRun {
		base, err := s.apiBaseURL()
		if err != nil {
			return nil, err
		}
		cfg.Registrar = trigger.New(s.httpClient, base)
	}
	s.engine = engine.New(cfg)
	return s.engine, nil
}
