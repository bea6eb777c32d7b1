package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xredeth/launchpad/internal/engine"
	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/index/mongoindex"
	"github.com/0xredeth/launchpad/internal/launch"
	"github.com/0xredeth/launchpad/internal/manage"
	"github.com/0xredeth/launchpad/internal/oracle"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/internal/rpc"
	"github.com/0xredeth/launchpad/internal/settlement"
	"github.com/0xredeth/launchpad/internal/store"
	"github.com/0xredeth/launchpad/pkg/config"
)

// app holds the wired components of one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	index  index.Index
	cursor engine.Cursor
	chain  *rpc.Client
	oracle *oracle.Runtime
	events *pubsub.Broadcaster

	saga    *launch.Saga
	manager *manage.Manager
	machine *settlement.Machine

	closers []func(context.Context) error
}

// openIndex connects the configured index backend. The postgres store also
// persists the factory scan cursor; other backends keep it in memory.
func openIndex(ctx context.Context, cfg *config.Config) (index.Index, engine.Cursor, func(context.Context) error, error) {
	switch cfg.Index.Backend {
	case config.BackendPostgres:
		scfg := store.DefaultConfig()
		scfg.DSN = cfg.Database
		st, err := store.New(scfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, func(context.Context) error { return st.Close() }, nil

	case config.BackendMongo:
		idx, disconnect, err := mongoindex.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := idx.EnsureIndexes(ctx); err != nil {
			_ = disconnect(ctx)
			return nil, nil, nil, err
		}
		return idx, engine.NewMemoryCursor(), disconnect, nil

	case config.BackendMemory:
		return index.NewMemory(), engine.NewMemoryCursor(), func(context.Context) error { return nil }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.Logger.With().Str("name", cfg.Name).Str("network", cfg.Network).Logger()}

	idx, cursor, closeIndex, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", cfg.Index.Backend, err)
	}
	a.index, a.cursor = idx, cursor
	a.closers = append(a.closers, closeIndex)

	rcfg := rpc.DefaultConfig()
	rcfg.URL = cfg.RPCURL
	rcfg.ChainID = int64(cfg.ChainID)
	rcfg.PrivateKey = cfg.PrivateKey
	rcfg.MaxRetries = cfg.Sync.MaxRetries
	if cfg.Sync.RetryDelay > 0 {
		rcfg.RetryDelay = cfg.Sync.RetryDelay
	}
	if cfg.Sync.BatchSize > 0 {
		rcfg.MaxBlockRange = cfg.Sync.BatchSize
	}
	chain, err := rpc.New(ctx, rcfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to ledger: %w", err)
	}
	a.chain = chain
	a.closers = append(a.closers, func(context.Context) error { chain.Close(); return nil })

	ocfg := oracle.DefaultConfig()
	ocfg.RelayerURL = cfg.Oracle.RelayerURL
	if cfg.Oracle.Timeout > 0 {
		ocfg.Timeout = cfg.Oracle.Timeout
	}
	// Decryption is optional. Without a relayer finalize and reveal report
	// DecryptUnavailable while everything else keeps serving.
	var decrypter oracle.Decrypter
	if rt, err := oracle.Init(ctx, ocfg, a.logger); err != nil {
		a.logger.Warn().Err(err).Str("relayer", ocfg.RelayerURL).Msg("relayer unavailable, decryption disabled")
	} else {
		a.oracle, decrypter = rt, rt
	}

	var sinks []pubsub.Sink
	if cfg.AMQP.URI != "" {
		sink, err := pubsub.DialAMQP(pubsub.AMQPConfig{URI: cfg.AMQP.URI, Exchange: cfg.AMQP.Exchange, Timeout: 5 * time.Second})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		sinks = append(sinks, sink)
		a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
	}
	a.events = pubsub.NewBroadcaster(a.logger, 64, sinks...)

	finalizer := settlement.NewFinalizer(decrypter, a.logger, nil)
	a.saga, err = launch.New(launch.Deps{
		Backend: chain,
		Index:   idx,
		Factory: common.HexToAddress(cfg.Contracts.PresaleFactory),
		Events:  a.events,
		Logger:  a.logger,
		Config:  launch.Config{MaxAttempts: cfg.Index.MaxAttempts, Backoff: cfg.Index.Backoff},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.manager = manage.New(manage.Deps{
		Backend:   chain,
		Index:     idx,
		Finalizer: finalizer,
		Events:    a.events,
		Logger:    a.logger,
	})
	a.machine = settlement.NewMachine(settlement.Deps{
		Backend:   chain,
		Index:     idx,
		Oracle:    decrypter,
		Finalizer: finalizer,
		Events:    a.events,
		Logger:    a.logger,
		ZWETH:     common.HexToAddress(cfg.Contracts.ZWETH),
	})

	a.logger.Info().
		Str("backend", cfg.Index.Backend).
		Str("signer", chain.From().Hex()).
		Str("chain_id", chain.ChainID().String()).
		Str("factory", cfg.Contracts.PresaleFactory).
		Bool("amqp", cfg.AMQP.URI != "").
		Bool("relayer", decrypter != nil).
		Msg("launchpad wired")
	return a, nil
}

func (a *app) newEngine() (*engine.Engine, error) {
	return engine.New(engine.Config{
		Factory:      common.HexToAddress(a.cfg.Contracts.PresaleFactory),
		StartBlock:   a.cfg.Sync.StartBlock,
		BatchSize:    a.cfg.Sync.BatchSize,
		PollInterval: a.cfg.PollInterval,
		Concurrency:  a.cfg.Sync.Concurrency,
	}, engine.Deps{
		Chain:  a.chain,
		Index:  a.index,
		Cursor: a.cursor,
		Events: a.events,
		Logger: a.logger,
	})
}

// Close releases every resource in reverse order.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}
