// Package launch deploys presales through the factory and indexes them.
//
// Creation is a saga: the deployment transaction is irreversible, the index
// write that follows is retried and, if it keeps failing, handed back to the
// caller as a recoverable failure that can be replayed with Reindex.
package launch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/internal/retry"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/decoder"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// StartBuffer is how far in the past a start or end time may lie.
const StartBuffer = 60 * time.Second

var (
	sagaRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_saga_runs_total",
		Help: "Presale creation saga runs by outcome.",
	}, []string{"outcome"})

	indexAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpad_index_write_attempts_total",
		Help: "Index write attempts made by the creation saga.",
	}, []string{"outcome"})
)

// Request is a create-presale request. Caps and rate are human units.
type Request struct {
	Creator     string         `json:"creator"`
	Token       presale.Token  `json:"token"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	SoftCap     string         `json:"softCap"`
	HardCap     string         `json:"hardCap"`
	PresaleRate string         `json:"presaleRate"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	Social      presale.Social `json:"social"`

	TokensForLiquidity string `json:"tokensForLiquidity,omitempty"`
	LiquidityPercent   int    `json:"liquidityPercent,omitempty"`
}

// Deployment is the confirmed on-chain result of a creation.
type Deployment struct {
	PresaleAddress common.Address `json:"presaleAddress"`
	ZTokenAddress  common.Address `json:"zTokenAddress"`
	TxHash         common.Hash    `json:"txHash"`
	BlockNumber    uint64         `json:"blockNumber"`
}

// RecoverableError is returned whenever the deployment confirmed but the
// record could not be indexed. The deployment must be replayed with Reindex,
// never redeployed.
type RecoverableError struct {
	Deployment Deployment
	Err        error
}

// Error implements error.
func (e *RecoverableError) Error() string {
	return fmt.Sprintf("presale %s deployed but not indexed: %v", e.Deployment.PresaleAddress.Hex(), e.Err)
}

// Unwrap returns the index failure when it was rejected outright (a
// conflict keeps its kind), else a RecoverablePersistence error wrapping it.
func (e *RecoverableError) Unwrap() error {
	switch presale.KindOf(e.Err) {
	case presale.KindConflict, presale.KindValidation, presale.KindNotFound:
		return e.Err
	}
	return presale.Wrap(presale.KindRecoverablePersistence, "index presale", e.Err)
}

// Config tunes the index retry.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration

	// Wait replaces the sleep between attempts. Tests set it.
	Wait func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns three attempts with a one second linear backoff.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Backoff: time.Second}
}

// Deps are the collaborators of a Saga.
type Deps struct {
	Backend contracts.Backend
	Index   index.Index
	Factory common.Address
	Events  pubsub.Publisher
	Logger  zerolog.Logger
	Now     func() time.Time
	Config  Config
}

// Saga runs presale creations.
type Saga struct {
	backend contracts.Backend
	index   index.Index
	factory *contracts.Factory
	decoder *decoder.Decoder
	events  pubsub.Publisher
	logger  zerolog.Logger
	now     func() time.Time
	cfg     Config
}

// New creates a saga bound to the factory at d.Factory.
func New(d Deps) (*Saga, error) {
	if d.Factory == (common.Address{}) {
		return nil, presale.Errorf(presale.KindValidation, "new saga", "factory address is required")
	}
	dec := decoder.New()
	if err := contracts.RegisterFactory(dec, d.Factory); err != nil {
		return nil, fmt.Errorf("registering factory: %w", err)
	}
	s := &Saga{
		backend: d.Backend,
		index:   d.Index,
		factory: contracts.NewFactory(d.Factory, d.Backend),
		decoder: dec,
		events:  d.Events,
		logger:  d.Logger.With().Str("component", "launch").Logger(),
		now:     d.Now,
		cfg:     d.Config,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.events == nil {
		s.events = pubsub.Discard
	}
	if s.cfg.MaxAttempts <= 0 {
		s.cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if s.cfg.Backoff <= 0 {
		s.cfg.Backoff = DefaultConfig().Backoff
	}
	return s, nil
}

// plan is a validated request with its base-unit amounts.
type plan struct {
	req           Request
	creator       common.Address
	token         common.Address
	snapshot      presale.Token
	softCap       *big.Int
	hardCap       *big.Int
	tokensForSale *big.Int
}

// Create validates req, approves the factory when needed, deploys the
// presale and indexes it.
//
// Parameters:
//   - ctx (context.Context): request context
//   - req (Request): the creation request
//
// Returns:
//   - *presale.Presale: the indexed record
//   - error: Validation or Conflict before anything is submitted, Ledger when
//     a transaction fails, *RecoverableError when only indexing failed
func (s *Saga) Create(ctx context.Context, req Request) (*presale.Presale, error) {
	logger := s.logger.With().Str("run_id", uuid.NewString()).Logger()

	p, err := s.validate(ctx, req)
	if err != nil {
		sagaRuns.WithLabelValues("rejected").Inc()
		return nil, err
	}
	logger = logger.With().Str("token", p.token.Hex()).Logger()

	if err := s.approve(ctx, logger, p); err != nil {
		sagaRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	dep, err := s.deploy(ctx, logger, p)
	if err != nil {
		sagaRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	rec, err := s.persist(ctx, logger, p, dep)
	if err != nil {
		sagaRuns.WithLabelValues("unindexed").Inc()
		return nil, err
	}
	sagaRuns.WithLabelValues("created").Inc()
	return rec, nil
}

// Reindex replays the index step for a deployment that already confirmed.
// Time window checks are skipped because the window may have opened since.
//
// Parameters:
//   - ctx (context.Context): request context
//   - req (Request): the original creation request
//   - dep (Deployment): the confirmed deployment
//
// Returns:
//   - *presale.Presale: the indexed record
//   - error: Validation on bad input, *RecoverableError when indexing failed again
func (s *Saga) Reindex(ctx context.Context, req Request, dep Deployment) (*presale.Presale, error) {
	logger := s.logger.With().Str("run_id", uuid.NewString()).Str("presale", dep.PresaleAddress.Hex()).Logger()
	if dep.PresaleAddress == (common.Address{}) || dep.ZTokenAddress == (common.Address{}) {
		return nil, presale.Errorf(presale.KindValidation, "reindex", "presale and companion token addresses are required")
	}
	p, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	rec, err := s.persist(ctx, logger, p, dep)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("presale reindexed")
	return rec, nil
}

func (s *Saga) validate(ctx context.Context, req Request) (*plan, error) {
	now := s.now()
	switch {
	case req.StartTime.IsZero() || req.EndTime.IsZero():
		return nil, presale.Errorf(presale.KindValidation, "create presale", "start and end time are required")
	case req.StartTime.Before(now.Add(-StartBuffer)):
		return nil, presale.Errorf(presale.KindValidation, "create presale", "start time is in the past")
	case req.EndTime.Before(now.Add(-StartBuffer)):
		return nil, presale.Errorf(presale.KindValidation, "create presale", "end time is in the past")
	case !req.EndTime.After(req.StartTime):
		return nil, presale.Errorf(presale.KindValidation, "create presale", "end time must be after start time")
	}

	p, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.creator != s.backend.From() {
		return nil, presale.Errorf(presale.KindValidation, "create presale", "creator %s is not the signing account", p.creator.Hex())
	}

	existing, err := s.index.FindPresaleByToken(ctx, p.token.Hex())
	switch {
	case err == nil:
		return nil, presale.Errorf(presale.KindConflict, "create presale", "token %s already has presale %s", p.token.Hex(), existing.PresaleAddress)
	case !errors.Is(err, index.ErrNotFound):
		return nil, index.Classify("find presale by token", err)
	}
	if p.snapshot.Used() {
		return nil, presale.Errorf(presale.KindConflict, "create presale", "token %s was already used", p.token.Hex())
	}
	return p, nil
}

// plan parses addresses and amounts and resolves the token snapshot, preferring
// the registry entry and falling back to the on-chain decimals.
func (s *Saga) plan(ctx context.Context, req Request) (*plan, error) {
	if !common.IsHexAddress(req.Creator) {
		return nil, presale.Errorf(presale.KindValidation, "create presale", "invalid creator address %q", req.Creator)
	}
	if !common.IsHexAddress(req.Token.Address) {
		return nil, presale.Errorf(presale.KindValidation, "create presale", "invalid token address %q", req.Token.Address)
	}
	p := &plan{
		req:     req,
		creator: common.HexToAddress(req.Creator),
		token:   common.HexToAddress(req.Token.Address),
	}

	registered, err := s.index.FindToken(ctx, p.token.Hex())
	switch {
	case err == nil:
		p.snapshot = *registered
	case errors.Is(err, index.ErrNotFound):
		p.snapshot = req.Token
		decimals, err := contracts.NewERC20(p.token, s.backend).Decimals(ctx)
		if err != nil {
			return nil, err
		}
		p.snapshot.Decimals = decimals
	default:
		return nil, index.Classify("find token", err)
	}
	p.snapshot.Canonicalize()

	if p.softCap, err = presale.ToBaseUnits(req.SoftCap, presale.NativeDecimals); err != nil {
		return nil, err
	}
	if p.hardCap, err = presale.ToBaseUnits(req.HardCap, presale.NativeDecimals); err != nil {
		return nil, err
	}
	if p.softCap.Cmp(p.hardCap) >= 0 {
		return nil, presale.Errorf(presale.KindValidation, "create presale", "soft cap must be below hard cap")
	}
	if p.tokensForSale, err = presale.TokensForSale(req.HardCap, p.snapshot.Decimals, req.PresaleRate); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Saga) approve(ctx context.Context, logger zerolog.Logger, p *plan) error {
	erc20 := contracts.NewERC20(p.token, s.backend)
	allowance, err := erc20.Allowance(ctx, s.backend.From(), s.factory.Address())
	if err != nil {
		return err
	}
	if allowance.Cmp(p.tokensForSale) >= 0 {
		logger.Debug().Str("allowance", allowance.String()).Msg("allowance sufficient, skipping approve")
		return nil
	}
	receipt, err := erc20.Approve(ctx, s.factory.Address(), p.tokensForSale)
	if err != nil {
		logger.Error().Err(err).Msg("approve failed")
		return err
	}
	logger.Info().
		Str("tx_hash", receipt.TxHash.Hex()).
		Str("amount", p.tokensForSale.String()).
		Msg("factory approved")
	return nil
}

func (s *Saga) deploy(ctx context.Context, logger zerolog.Logger, p *plan) (Deployment, error) {
	receipt, err := s.factory.CreatePresale(ctx, p.token, contracts.PresaleOptions{
		TokenPresale: p.tokensForSale,
		HardCap:      p.hardCap,
		SoftCap:      p.softCap,
		Start:        big.NewInt(p.req.StartTime.Unix()),
		End:          big.NewInt(p.req.EndTime.Unix()),
	})
	if err != nil {
		logger.Error().Err(err).Msg("deployment failed")
		return Deployment{}, err
	}

	created, err := s.locate(ctx, receipt, p.creator)
	if err != nil {
		logger.Error().Err(err).Str("tx_hash", receipt.TxHash.Hex()).Msg("deployment produced no usable presale")
		return Deployment{}, err
	}
	dep := Deployment{
		PresaleAddress: created.Presale,
		ZTokenAddress:  created.ZToken,
		TxHash:         receipt.TxHash,
		BlockNumber:    receipt.BlockNumber.Uint64(),
	}
	logger.Info().
		Str("presale", dep.PresaleAddress.Hex()).
		Str("ztoken", dep.ZTokenAddress.Hex()).
		Str("tx_hash", dep.TxHash.Hex()).
		Msg("presale deployed")
	return dep, nil
}

// locate finds the creation event in the receipt, then among the factory
// logs of the receipt block emitted for creator.
func (s *Saga) locate(ctx context.Context, receipt *types.Receipt, creator common.Address) (contracts.PresaleCreated, error) {
	created, ok, err := contracts.FindCreated(s.decoder, receipt)
	if err != nil {
		return contracts.PresaleCreated{}, err
	}
	if ok {
		return created, nil
	}
	if receipt.BlockNumber == nil {
		return contracts.PresaleCreated{}, presale.Errorf(presale.KindLedger, "locate deployment", "receipt has no block number")
	}

	block := receipt.BlockNumber.Uint64()
	logs, err := s.factory.CreatedLogs(ctx, block, block, &creator)
	if err != nil {
		return contracts.PresaleCreated{}, err
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].TxHash != receipt.TxHash {
			continue
		}
		ev, err := s.decoder.Decode(logs[i])
		if err != nil {
			return contracts.PresaleCreated{}, presale.Wrap(presale.KindLedger, "decode creation event", err)
		}
		return contracts.ParseCreated(ev)
	}
	return contracts.PresaleCreated{}, presale.Errorf(presale.KindLedger, "locate deployment", "no creation event for transaction %s", receipt.TxHash.Hex())
}

func (s *Saga) record(p *plan, dep Deployment) *presale.Presale {
	now := s.now().UTC()
	rec := &presale.Presale{
		PresaleAddress:     dep.PresaleAddress.Hex(),
		ZTokenAddress:      dep.ZTokenAddress.Hex(),
		Token:              p.snapshot,
		Creator:            p.creator.Hex(),
		Name:               p.req.Name,
		Description:        p.req.Description,
		Thumbnail:          p.req.Thumbnail,
		StartTime:          p.req.StartTime.UTC(),
		EndTime:            p.req.EndTime.UTC(),
		SoftCap:            p.softCap.String(),
		HardCap:            p.hardCap.String(),
		PresaleRate:        p.req.PresaleRate,
		TokensForSale:      p.tokensForSale.String(),
		TokensForLiquidity: p.req.TokensForLiquidity,
		LiquidityPercent:   p.req.LiquidityPercent,
		Status:             presale.StateActive,
		RaisedAmount:       "0",
		TxHash:             dep.TxHash.Hex(),
		Social:             p.req.Social,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	rec.Canonicalize()
	return rec
}

// persist writes the record with retry. A duplicate on the presale address
// means an earlier attempt landed and counts as success.
func (s *Saga) persist(ctx context.Context, logger zerolog.Logger, p *plan, dep Deployment) (*presale.Presale, error) {
	rec := s.record(p, dep)

	policy := retry.Policy{
		Name:        "index presale",
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     retry.Linear(s.cfg.Backoff),
		Wait:        s.cfg.Wait,
		Logger:      &logger,
		Retryable: func(err error) bool {
			return presale.KindOf(err) == presale.KindTransientIndex
		},
	}

	var stored *presale.Presale
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		err := s.index.InsertPresale(ctx, rec)
		if err == nil {
			indexAttempts.WithLabelValues("ok").Inc()
			stored = rec
			return nil
		}
		if errors.Is(err, index.ErrDuplicateKey) {
			if existing, findErr := s.index.FindPresale(ctx, rec.PresaleAddress); findErr == nil {
				indexAttempts.WithLabelValues("ok").Inc()
				stored = existing
				return nil
			}
		}
		indexAttempts.WithLabelValues("failed").Inc()
		return index.Classify("insert presale", err)
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
	case errors.As(err, &exhausted):
		logger.Error().Err(err).Str("presale", dep.PresaleAddress.Hex()).Msg("presale deployed but not indexed")
		s.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleUnindexed, rec.PresaleAddress, dep))
		return nil, &RecoverableError{Deployment: dep, Err: exhausted.Err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, &RecoverableError{Deployment: dep, Err: err}
	default:
		logger.Error().Err(err).
			Str("presale", dep.PresaleAddress.Hex()).
			Str("tx_hash", dep.TxHash.Hex()).
			Msg("indexing rejected")
		s.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleUnindexed, rec.PresaleAddress, dep))
		return nil, &RecoverableError{Deployment: dep, Err: err}
	}

	if err := s.index.MarkTokenUsed(ctx, p.token.Hex(), s.now()); err != nil && !errors.Is(err, index.ErrNotFound) {
		logger.Warn().Err(err).Msg("marking token used failed")
	}

	logger.Info().Str("presale", stored.PresaleAddress).Msg("presale indexed")
	s.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleCreated, stored.PresaleAddress, map[string]string{
		"txHash": stored.TxHash,
		"token":  stored.Token.Address,
	}))
	return stored, nil
}
