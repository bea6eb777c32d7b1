// Package engine keeps the index aligned with the ledger.
//
// Each tick the engine re-reads the pool of every open presale and writes
// the confirmed state into the index, then scans the factory's creation
// events in batches and reports deployments the index does not know about.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/decoder"
	"github.com/0xredeth/launchpad/pkg/handler"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var (
	blocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpad_factory_blocks_scanned_total",
		Help: "Blocks scanned for factory creation events.",
	})

	syncLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpad_sync_lag_blocks",
		Help: "Blocks between the chain head and the factory scan cursor.",
	})

	currentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpad_sync_current_block",
		Help: "Last block covered by the factory scan.",
	})

	poolReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_reconciler_pool_reads_total",
		Help: "Pool reads made by the reconciler by outcome.",
	}, []string{"outcome"})

	unindexedDeployments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpad_unindexed_deployments_total",
		Help: "Factory deployments found on-chain without an index record.",
	})
)

// Chain is the ledger surface the engine reads.
type Chain interface {
	contracts.Backend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Cursor persists the factory scan position.
type Cursor interface {
	LastBlock(ctx context.Context, contract string) (uint64, bool, error)
	SaveBlock(ctx context.Context, contract string, number uint64, hash string) error
}

// Config tunes the engine.
type Config struct {
	Factory      common.Address
	StartBlock   uint64
	BatchSize    uint64
	PollInterval time.Duration

	// Concurrency bounds parallel pool reads in one reconcile pass.
	Concurrency int
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Chain  Chain
	Index  index.Index
	Cursor Cursor
	Events pubsub.Publisher
	Logger zerolog.Logger
	Now    func() time.Time
}

// Engine runs the reconcile and scan loop.
type Engine struct {
	cfg      Config
	chain    Chain
	index    index.Index
	cursor   Cursor
	factory  *contracts.Factory
	decoder  *decoder.Decoder
	handlers *handler.Registry
	events   pubsub.Publisher
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastBlock uint64
}

// New creates an engine and registers the factory event handlers.
func New(cfg Config, d Deps) (*Engine, error) {
	if d.Chain == nil || d.Index == nil {
		return nil, fmt.Errorf("engine needs a chain and an index")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	dec := decoder.New()
	if err := contracts.RegisterFactory(dec, cfg.Factory); err != nil {
		return nil, fmt.Errorf("registering factory: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		chain:    d.Chain,
		index:    d.Index,
		cursor:   d.Cursor,
		factory:  contracts.NewFactory(cfg.Factory, d.Chain),
		decoder:  dec,
		handlers: handler.NewRegistry(),
		events:   d.Events,
		logger:   d.Logger.With().Str("component", "engine").Logger(),
		now:      d.Now,
	}
	if e.cursor == nil {
		e.cursor = NewMemoryCursor()
	}
	if e.events == nil {
		e.events = pubsub.Discard
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.handlers.Register(contracts.CreatedEventID(), e.handleCreated)
	return e, nil
}

// Run ticks until ctx is done. Failures of one tick are logged and the
// next tick proceeds.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str("factory", e.cfg.Factory.Hex()).
		Dur("poll_interval", e.cfg.PollInterval).
		Msg("engine started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("engine stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if n, err := e.ReconcileOnce(ctx); err != nil {
		e.logger.Error().Err(err).Msg("reconcile failed")
	} else if n > 0 {
		e.logger.Info().Int("updated", n).Msg("index reconciled")
	}
	if err := e.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error().Err(err).Msg("factory scan failed")
	}
}

// ReconcileOnce re-reads every open presale's pool and writes the ledger
// state into the index. A failed read skips that presale for this pass.
//
// Returns:
//   - int: number of records updated
//   - error: listing or index write failures
func (e *Engine) ReconcileOnce(ctx context.Context) (int, error) {
	rows, err := e.index.ListPresales(ctx, &presale.Filter{
		OnchainStatuses: []presale.OnchainState{presale.StateActive, presale.StateWaitingForFinalize},
	})
	if err != nil {
		return 0, fmt.Errorf("listing open presales: %w", err)
	}

	var (
		mu      sync.Mutex
		updated int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range rows {
		rec := &rows[i]
		g.Go(func() error {
			changed, err := e.reconcile(gctx, rec)
			if err != nil {
				return err
			}
			if changed {
				mu.Lock()
				updated++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return updated, err
}

func (e *Engine) reconcile(ctx context.Context, rec *presale.Presale) (bool, error) {
	if !common.IsHexAddress(rec.PresaleAddress) {
		return false, nil
	}
	pool, err := contracts.NewPresale(common.HexToAddress(rec.PresaleAddress), e.chain).Pool(ctx)
	if err != nil {
		poolReads.WithLabelValues("failed").Inc()
		e.logger.Warn().Err(err).Str("presale", rec.PresaleAddress).Msg("pool read failed")
		return false, nil
	}
	poolReads.WithLabelValues("ok").Inc()

	patch, changed := index.Reconcile(rec, pool, e.now())
	if !changed {
		return false, nil
	}
	next, err := e.index.UpdatePresale(ctx, rec.PresaleAddress, patch, e.now())
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("updating %s: %w", rec.PresaleAddress, err)
	}
	if patch.Status != nil {
		e.logger.Info().
			Str("presale", next.PresaleAddress).
			Str("from", rec.Status.String()).
			Str("to", next.Status.String()).
			Msg("ledger state synced")
		e.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleStatus, next.PresaleAddress, map[string]interface{}{
			"status":       next.Status,
			"manageStatus": presale.Resolve(next, e.now()),
		}))
	}
	return true, nil
}

// determineStartBlock resumes after the saved cursor, else starts at the
// configured block.
func (e *Engine) determineStartBlock(ctx context.Context) (uint64, error) {
	last, ok, err := e.cursor.LastBlock(ctx, e.cursorKey())
	if err != nil {
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}
	if ok && last+1 > e.cfg.StartBlock {
		return last + 1, nil
	}
	return e.cfg.StartBlock, nil
}

func (e *Engine) cursorKey() string {
	return contracts.FactoryName + ":" + e.cfg.Factory.Hex()
}

// SyncOnce scans one batch of factory creation events up to the head.
func (e *Engine) SyncOnce(ctx context.Context) error {
	head, err := e.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("reading head: %w", err)
	}
	from, err := e.determineStartBlock(ctx)
	if err != nil {
		return err
	}
	to, ok := batchRange(from, head, e.cfg.BatchSize)
	if !ok {
		syncLag.Set(0)
		return nil
	}

	logs, err := e.factory.CreatedLogs(ctx, from, to, nil)
	if err != nil {
		return err
	}

	hash := ""
	for _, l := range logs {
		ev, err := e.decoder.Decode(l)
		if err != nil {
			e.logger.Warn().Err(err).Str("tx_hash", l.TxHash.Hex()).Msg("undecodable factory log")
			continue
		}
		err = e.handlers.Handle(&handler.Context{
			Ctx:   ctx,
			Index: e.index,
			Block: handler.BlockInfo{Number: l.BlockNumber, Hash: l.BlockHash.Hex()},
			Log:   l,
			Event: ev,
		})
		if err != nil {
			return err
		}
		hash = l.BlockHash.Hex()
	}

	if err := e.cursor.SaveBlock(ctx, e.cursorKey(), to, hash); err != nil {
		return fmt.Errorf("saving sync cursor: %w", err)
	}
	e.mu.Lock()
	e.lastBlock = to
	e.mu.Unlock()

	blocksIndexed.Add(float64(to - from + 1))
	currentBlock.Set(float64(to))
	syncLag.Set(float64(head - to))
	e.logger.Debug().Uint64("from", from).Uint64("to", to).Int("logs", len(logs)).Msg("factory batch scanned")
	return nil
}

// batchRange returns the last block of the batch starting at from, or false
// when from is past head.
func batchRange(from, head, size uint64) (uint64, bool) {
	if from > head {
		return 0, false
	}
	if size == 0 {
		size = 1
	}
	to := from + size - 1
	if to > head || to < from {
		to = head
	}
	return to, true
}

// LastBlock returns the last block covered by the scan.
func (e *Engine) LastBlock() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBlock
}

// handleCreated reports deployments missing from the index.
func (e *Engine) handleCreated(hc *handler.Context) error {
	created, err := contracts.ParseCreated(hc.Event)
	if err != nil {
		e.logger.Warn().Err(err).Str("tx_hash", hc.Log.TxHash.Hex()).Msg("unusable creation event")
		return nil
	}
	_, err = hc.Index.FindPresale(hc.Context(), created.Presale.Hex())
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, index.ErrNotFound):
		return fmt.Errorf("looking up %s: %w", created.Presale.Hex(), err)
	}

	unindexedDeployments.Inc()
	e.logger.Warn().
		Str("presale", created.Presale.Hex()).
		Str("creator", created.Creator.Hex()).
		Str("tx_hash", created.TxHash.Hex()).
		Uint64("block", created.BlockNumber).
		Msg("deployment missing from index")

	data := convertEventData(hc.Event.Data)
	data["txHash"] = created.TxHash.Hex()
	data["blockNumber"] = created.BlockNumber
	e.events.Publish(hc.Context(), pubsub.NewEvent(pubsub.PresaleUnindexed, presale.NormalizeAddress(created.Presale.Hex()), data))
	return nil
}

// convertEventData makes decoded event fields JSON friendly.
func convertEventData(data map[string]interface{}) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case common.Address:
			out[k] = val.Hex()
		case common.Hash:
			out[k] = val.Hex()
		case *big.Int:
			if val == nil {
				out[k] = "0"
			} else {
				out[k] = val.String()
			}
		case []byte:
			out[k] = hex.EncodeToString(val)
		default:
			out[k] = v
		}
	}
	return out
}

// MemoryCursor is a Cursor held in process memory.
type MemoryCursor struct {
	mu     sync.Mutex
	blocks map[string]uint64
}

// NewMemoryCursor creates an empty cursor.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{blocks: make(map[string]uint64)}
}

// LastBlock implements Cursor.
func (c *MemoryCursor) LastBlock(_ context.Context, contract string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.blocks[contract]
	return n, ok, nil
}

// SaveBlock implements Cursor.
func (c *MemoryCursor) SaveBlock(_ context.Context, contract string, number uint64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[contract] = number
	return nil
}
