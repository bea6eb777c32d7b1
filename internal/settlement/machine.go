package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/oracle"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "launchpad_settlement_submissions_total",
	Help: "Settlement trigger submissions by action and outcome.",
}, []string{"action", "outcome"})

// Evaluation is the settlement view of one (presale, contributor) pair.
type Evaluation struct {
	Presale     string               `json:"presale"`
	Contributor string               `json:"contributor"`
	Phase       Phase                `json:"phase"`
	State       presale.OnchainState `json:"state"`
	Settled     bool                 `json:"settled"`
	Claimed     bool                 `json:"claimed"`

	// Pending names the trigger in flight. While set no action is offered.
	Pending presale.ActionKind `json:"pending,omitempty"`

	Actions []presale.Action `json:"actions"`

	// Contribution and Claimable are revealed amounts, when requested.
	Contribution string `json:"contribution,omitempty"`
	Claimable    string `json:"claimable,omitempty"`
	RevealError  string `json:"revealError,omitempty"`
}

// BidInput is a pre-encrypted contribution.
type BidInput struct {
	Handle common.Hash `json:"handle"`
	Proof  []byte      `json:"proof"`
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Backend   contracts.Backend
	Index     index.Index
	Oracle    oracle.Decrypter
	Finalizer *Finalizer
	Events    pubsub.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time

	// ZWETH is used when a pool reports no wrapper address.
	ZWETH common.Address
}

// Machine evaluates and executes settlement triggers. At most one trigger
// runs per (presale, contributor) pair at any instant.
type Machine struct {
	backend   contracts.Backend
	index     index.Index
	oracle    oracle.Decrypter
	finalizer *Finalizer
	events    pubsub.Publisher
	logger    zerolog.Logger
	now       func() time.Time
	zweth     common.Address

	mu      sync.Mutex
	pending map[string]presale.ActionKind
}

// NewMachine creates a settlement machine.
func NewMachine(d Deps) *Machine {
	m := &Machine{
		backend:   d.Backend,
		index:     d.Index,
		oracle:    d.Oracle,
		finalizer: d.Finalizer,
		events:    d.Events,
		logger:    d.Logger.With().Str("component", "settlement").Logger(),
		now:       d.Now,
		zweth:     d.ZWETH,
		pending:   make(map[string]presale.ActionKind),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.events == nil {
		m.events = pubsub.Discard
	}
	if m.finalizer == nil {
		m.finalizer = NewFinalizer(d.Oracle, d.Logger, m.now)
	}
	return m
}

func pairKey(presaleAddr, contributor common.Address) string {
	return strings.ToLower(presaleAddr.Hex() + "/" + contributor.Hex())
}

// reads is one round of concurrent ledger reads.
type reads struct {
	rec          *presale.Presale
	pool         *presale.PoolSnapshot
	settled      bool
	claimed      bool
	contribution common.Hash
	claimable    common.Hash
}

func (m *Machine) read(ctx context.Context, presaleAddr, contributor common.Address) (*reads, error) {
	rec, err := m.index.FindPresale(ctx, presaleAddr.Hex())
	if err != nil {
		return nil, index.Classify("find presale", err)
	}

	binding := contracts.NewPresale(presaleAddr, m.backend)
	r := &reads{rec: rec}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := binding.Pool(gctx)
		r.pool = pool
		return err
	})
	g.Go(func() error {
		v, err := binding.Settled(gctx, contributor)
		r.settled = v
		return err
	})
	g.Go(func() error {
		v, err := binding.Claimed(gctx, contributor)
		r.claimed = v
		return err
	})
	g.Go(func() error {
		v, err := binding.Contribution(gctx, contributor)
		r.contribution = v
		return err
	})
	g.Go(func() error {
		v, err := binding.ClaimableTokens(gctx, contributor)
		r.claimable = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Machine) evaluation(presaleAddr, contributor common.Address, r *reads) *Evaluation {
	phase, actions := Available(Snapshot{
		State:           r.pool.State,
		StartTime:       r.rec.StartTime,
		EndTime:         r.rec.EndTime,
		Settled:         r.settled,
		Claimed:         r.claimed,
		HasContribution: r.contribution != (common.Hash{}),
	}, m.now())

	ev := &Evaluation{
		Presale:     strings.ToLower(presaleAddr.Hex()),
		Contributor: strings.ToLower(contributor.Hex()),
		Phase:       phase,
		State:       r.pool.State,
		Settled:     r.settled,
		Claimed:     r.claimed,
		Actions:     actions,
	}

	m.mu.Lock()
	if kind, ok := m.pending[pairKey(presaleAddr, contributor)]; ok {
		ev.Pending = kind
		ev.Actions = []presale.Action{}
	}
	m.mu.Unlock()
	return ev
}

// Evaluate returns the phase and available triggers for the pair. With
// reveal set, non-zero contribution and claimable handles are decrypted;
// a reveal failure is reported on the evaluation and does not fail it.
//
// Parameters:
//   - ctx (context.Context): request context
//   - presaleAddr (string): presale contract address
//   - contributor (string): contributor address
//   - reveal (bool): decrypt the contributor's confidential amounts
//
// Returns:
//   - *Evaluation: the settlement view
//   - error: Validation, NotFound or Ledger
func (m *Machine) Evaluate(ctx context.Context, presaleAddr, contributor string, reveal bool) (*Evaluation, error) {
	pa, ca, err := parsePair(presaleAddr, contributor)
	if err != nil {
		return nil, err
	}
	r, err := m.read(ctx, pa, ca)
	if err != nil {
		return nil, err
	}
	ev := m.evaluation(pa, ca, r)
	if reveal {
		m.reveal(ctx, ev, r)
	}
	return ev, nil
}

func (m *Machine) reveal(ctx context.Context, ev *Evaluation, r *reads) {
	if m.oracle == nil {
		ev.RevealError = "relayer runtime not initialized"
		return
	}
	var handles []common.Hash
	for _, h := range []common.Hash{r.contribution, r.claimable} {
		if h != (common.Hash{}) {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		ev.Contribution, ev.Claimable = "0", "0"
		return
	}
	values, err := m.oracle.Decrypt(ctx, handles)
	if err != nil {
		m.logger.Warn().Err(err).Str("presale", ev.Presale).Msg("reveal failed")
		ev.RevealError = err.Error()
		return
	}
	ev.Contribution = revealed(values, r.contribution)
	ev.Claimable = revealed(values, r.claimable)
}

func revealed(values map[common.Hash]*big.Int, h common.Hash) string {
	if h == (common.Hash{}) {
		return "0"
	}
	if v, ok := values[h]; ok && v != nil {
		return v.String()
	}
	return ""
}

// Execute runs one trigger for the pair, then re-polls the ledger and
// returns the new evaluation.
//
// Parameters:
//   - ctx (context.Context): request context
//   - presaleAddr (string): presale contract address
//   - contributor (string): contributor address
//   - kind (presale.ActionKind): the trigger
//   - bid (*BidInput): encrypted contribution, required for Bid
//
// Returns:
//   - *Evaluation: evaluation after the trigger confirmed
//   - error: Pending while another trigger runs for the pair, Validation
//     when the trigger is not available, or the trigger's failure
func (m *Machine) Execute(ctx context.Context, presaleAddr, contributor string, kind presale.ActionKind, bid *BidInput) (*Evaluation, error) {
	pa, ca, err := parsePair(presaleAddr, contributor)
	if err != nil {
		return nil, err
	}
	if (kind == presale.ActionRefund || kind == presale.ActionBid) && ca != m.backend.From() {
		return nil, presale.Errorf(presale.KindValidation, string(kind), "contributor %s is not the signing account", ca.Hex())
	}
	if kind == presale.ActionBid && (bid == nil || bid.Handle == (common.Hash{})) {
		return nil, presale.Errorf(presale.KindValidation, "bid", "an encrypted handle is required")
	}

	release, err := m.acquire(pa, ca, kind)
	if err != nil {
		return nil, err
	}
	defer release()

	r, err := m.read(ctx, pa, ca)
	if err != nil {
		return nil, err
	}
	phase, actions := Available(Snapshot{
		State:           r.pool.State,
		StartTime:       r.rec.StartTime,
		EndTime:         r.rec.EndTime,
		Settled:         r.settled,
		Claimed:         r.claimed,
		HasContribution: r.contribution != (common.Hash{}),
	}, m.now())
	if !presale.HasAction(actions, kind) {
		return nil, presale.Errorf(presale.KindValidation, string(kind), "%s is not available in phase %s", kind, phase)
	}

	receipt, err := m.submit(ctx, pa, ca, kind, r, bid)
	if err != nil {
		submissions.WithLabelValues(string(kind), "failed").Inc()
		m.logger.Error().Err(err).Str("presale", pa.Hex()).Str("action", string(kind)).Msg("settlement trigger failed")
		return nil, err
	}
	submissions.WithLabelValues(string(kind), "confirmed").Inc()
	m.logger.Info().
		Str("presale", pa.Hex()).
		Str("contributor", ca.Hex()).
		Str("action", string(kind)).
		Str("tx_hash", receipt.TxHash.Hex()).
		Msg("settlement trigger confirmed")
	m.events.Publish(ctx, pubsub.NewEvent(pubsub.SettlementSubmitted, strings.ToLower(pa.Hex()), map[string]string{
		"contributor": strings.ToLower(ca.Hex()),
		"action":      string(kind),
		"txHash":      receipt.TxHash.Hex(),
	}))

	after, err := m.read(ctx, pa, ca)
	if err != nil {
		return nil, err
	}
	m.sync(ctx, after)

	release()
	return m.evaluation(pa, ca, after), nil
}

// acquire marks the pair pending. The returned release is idempotent.
func (m *Machine) acquire(pa, ca common.Address, kind presale.ActionKind) (func(), error) {
	key := pairKey(pa, ca)
	m.mu.Lock()
	defer m.mu.Unlock()
	if running, ok := m.pending[key]; ok {
		return nil, presale.Errorf(presale.KindPending, string(kind), "%s already pending for this contributor", running)
	}
	m.pending[key] = kind

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.pending, key)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Machine) submit(ctx context.Context, pa, ca common.Address, kind presale.ActionKind, r *reads, bid *BidInput) (*types.Receipt, error) {
	binding := contracts.NewPresale(pa, m.backend)
	switch kind {
	case presale.ActionBid:
		if err := m.ensureOperator(ctx, pa, r); err != nil {
			return nil, err
		}
		return binding.PlaceBid(ctx, ca, bid.Handle, bid.Proof)
	case presale.ActionFinalize:
		_, receipt, err := m.finalizer.Finalize(ctx, binding, r.rec, r.pool)
		return receipt, err
	case presale.ActionSettle:
		return binding.SettleBid(ctx, ca)
	case presale.ActionClaim:
		return binding.ClaimTokens(ctx, ca)
	case presale.ActionRefund:
		return binding.Refund(ctx)
	}
	return nil, presale.Errorf(presale.KindValidation, string(kind), "not a settlement trigger")
}

// ensureOperator lets the presale move the signer's zWETH until sale end.
func (m *Machine) ensureOperator(ctx context.Context, pa common.Address, r *reads) error {
	wrapper := r.pool.ZWETHAddress
	if wrapper == (common.Address{}) {
		wrapper = m.zweth
	}
	if wrapper == (common.Address{}) {
		return presale.Errorf(presale.KindLedger, "bid", "pool reports no zWETH address")
	}
	zweth := contracts.NewConfidentialToken(wrapper, m.backend)
	ok, err := zweth.IsOperator(ctx, m.backend.From(), pa)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	until := r.rec.EndTime.Unix()
	if until <= m.now().Unix() {
		until = m.now().Add(time.Hour).Unix()
	}
	_, err = zweth.SetOperator(ctx, pa, uint64(until))
	return err
}

// sync writes the confirmed ledger state into the index.
func (m *Machine) sync(ctx context.Context, r *reads) {
	patch, changed := index.Reconcile(r.rec, r.pool, m.now())
	if !changed {
		return
	}
	updated, err := m.index.UpdatePresale(ctx, r.rec.PresaleAddress, patch, m.now())
	if err != nil {
		m.logger.Warn().Err(err).Str("presale", r.rec.PresaleAddress).Msg("index sync after trigger failed")
		return
	}
	if patch.Status != nil {
		m.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleStatus, updated.PresaleAddress, map[string]interface{}{
			"status": updated.Status,
		}))
	}
}

func parsePair(presaleAddr, contributor string) (common.Address, common.Address, error) {
	if !common.IsHexAddress(presaleAddr) {
		return common.Address{}, common.Address{}, presale.Errorf(presale.KindValidation, "settlement", "invalid presale address %q", presaleAddr)
	}
	if !common.IsHexAddress(contributor) {
		return common.Address{}, common.Address{}, presale.Errorf(presale.KindValidation, "settlement", "invalid contributor address %q", contributor)
	}
	return common.HexToAddress(presaleAddr), common.HexToAddress(contributor), nil
}

// IsPending reports whether err is a pending-trigger rejection.
func IsPending(err error) bool {
	return errors.Is(err, presale.ErrPending)
}
