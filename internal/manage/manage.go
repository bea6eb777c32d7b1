// Package manage applies operator status transitions and actions to presales.
package manage

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/internal/settlement"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var actionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "launchpad_manage_actions_total",
	Help: "Operator actions and status transitions by kind and outcome.",
}, []string{"action", "outcome"})

// Deps are the collaborators of a Manager.
type Deps struct {
	Backend   contracts.Backend
	Index     index.Index
	Finalizer *settlement.Finalizer
	Events    pubsub.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Manager runs operator actions. On-chain derived fields are written only
// after the ledger confirms them.
type Manager struct {
	backend   contracts.Backend
	index     index.Index
	finalizer *settlement.Finalizer
	events    pubsub.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Manager.
func New(d Deps) *Manager {
	m := &Manager{
		backend:   d.Backend,
		index:     d.Index,
		finalizer: d.Finalizer,
		events:    d.Events,
		logger:    d.Logger.With().Str("component", "manage").Logger(),
		now:       d.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.events == nil {
		m.events = pubsub.Discard
	}
	if m.finalizer == nil {
		m.finalizer = settlement.NewFinalizer(nil, d.Logger, m.now)
	}
	return m
}

// View is a presale with its derived management status and actions.
type View struct {
	Presale *presale.Presale     `json:"presale"`
	Status  presale.ManageStatus `json:"manageStatus"`
	Actions []presale.Action     `json:"actions"`
}

func (m *Manager) view(rec *presale.Presale) *View {
	now := m.now()
	return &View{
		Presale: rec,
		Status:  presale.Resolve(rec, now),
		Actions: presale.ManageActions(rec, now),
	}
}

func (m *Manager) find(ctx context.Context, address string) (*presale.Presale, error) {
	if !common.IsHexAddress(address) {
		return nil, presale.Errorf(presale.KindValidation, "manage", "invalid presale address %q", address)
	}
	rec, err := m.index.FindPresale(ctx, address)
	if err != nil {
		return nil, index.Classify("find presale", err)
	}
	return rec, nil
}

// Actions returns the operator actions open on the presale at address.
func (m *Manager) Actions(ctx context.Context, address string) (*View, error) {
	rec, err := m.find(ctx, address)
	if err != nil {
		return nil, err
	}
	return m.view(rec), nil
}

// RequestTransition moves the presale's management status to target.
//
// Activating requires the ledger to read Active and clears the close
// marker. Closing stamps closedAt and pulls a passed end time back to now;
// the on-chain status is left to the ledger.
//
// Parameters:
//   - ctx (context.Context): request context
//   - address (string): presale contract address
//   - target (presale.ManageStatus): requested status
//
// Returns:
//   - *View: the updated presale
//   - error: Validation wrapping presale.ErrIllegalTransition when the guard
//     rejects the pair, NotFound, Ledger or TransientIndex
func (m *Manager) RequestTransition(ctx context.Context, address string, target presale.ManageStatus) (*View, error) {
	rec, err := m.find(ctx, address)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := presale.GuardTransition(presale.Resolve(rec, now), target); err != nil {
		actionsApplied.WithLabelValues("transition", "rejected").Inc()
		return nil, err
	}

	var patch index.Patch
	switch target {
	case presale.ManageActive:
		if err := m.requireLedgerState(ctx, rec, presale.StateActive); err != nil {
			return nil, err
		}
		active := presale.StateActive
		patch.Status = &active
		patch.ClearClosedAt = true
	case presale.ManageClosed:
		at := now.UTC()
		patch.ClosedAt = &at
		if rec.EndTime.IsZero() || rec.EndTime.Before(now) {
			patch.EndTime = &at
		}
	}

	updated, err := m.index.UpdatePresale(ctx, rec.PresaleAddress, patch, now)
	if err != nil {
		actionsApplied.WithLabelValues("transition", "failed").Inc()
		return nil, index.Classify("update presale", err)
	}
	actionsApplied.WithLabelValues("transition", "ok").Inc()
	m.logger.Info().
		Str("presale", updated.PresaleAddress).
		Str("target", string(target)).
		Msg("status transition applied")
	m.publishStatus(ctx, updated)
	return m.view(updated), nil
}

// Apply runs one operator action. Cancel and Finalize submit a transaction
// and sync the index from a fresh pool read after confirmation. Activate
// checks the ledger. MarkWaiting only marks the index.
//
// Parameters:
//   - ctx (context.Context): request context
//   - address (string): presale contract address
//   - kind (presale.ActionKind): the operator action
//
// Returns:
//   - *View: the updated presale
//   - error: Validation when the action is not open, or the action's failure
func (m *Manager) Apply(ctx context.Context, address string, kind presale.ActionKind) (*View, error) {
	rec, err := m.find(ctx, address)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if !presale.HasAction(presale.ManageActions(rec, now), kind) {
		actionsApplied.WithLabelValues(string(kind), "rejected").Inc()
		return nil, presale.Errorf(presale.KindValidation, string(kind), "%s is not available while %s", kind, presale.Resolve(rec, now))
	}

	updated, err := m.apply(ctx, rec, kind)
	if err != nil {
		actionsApplied.WithLabelValues(string(kind), "failed").Inc()
		m.logger.Error().Err(err).Str("presale", rec.PresaleAddress).Str("action", string(kind)).Msg("operator action failed")
		return nil, err
	}
	actionsApplied.WithLabelValues(string(kind), "ok").Inc()
	if updated.Status != rec.Status {
		m.publishStatus(ctx, updated)
	}
	return m.view(updated), nil
}

func (m *Manager) apply(ctx context.Context, rec *presale.Presale, kind presale.ActionKind) (*presale.Presale, error) {
	now := m.now()
	binding := contracts.NewPresale(common.HexToAddress(rec.PresaleAddress), m.backend)

	switch kind {
	case presale.ActionActivate:
		if err := m.requireLedgerState(ctx, rec, presale.StateActive); err != nil {
			return nil, err
		}
		active := presale.StateActive
		return m.update(ctx, rec, index.Patch{Status: &active, ClearClosedAt: true})

	case presale.ActionMarkWaiting:
		waiting := presale.StateWaitingForFinalize
		at := now.UTC()
		return m.update(ctx, rec, index.Patch{Status: &waiting, ClosedAt: &at})

	case presale.ActionCancel:
		if common.HexToAddress(rec.Creator) != m.backend.From() {
			return nil, presale.Errorf(presale.KindValidation, "cancel", "only the creator can cancel")
		}
		receipt, err := binding.CancelPresale(ctx)
		if err != nil {
			return nil, err
		}
		m.logger.Info().Str("presale", rec.PresaleAddress).Str("tx_hash", receipt.TxHash.Hex()).Msg("presale canceled")
		return m.sync(ctx, binding, rec)

	case presale.ActionFinalize:
		pool, err := binding.Pool(ctx)
		if err != nil {
			return nil, err
		}
		if _, _, err := m.finalizer.Finalize(ctx, binding, rec, pool); err != nil {
			return nil, err
		}
		return m.sync(ctx, binding, rec)
	}
	return nil, presale.Errorf(presale.KindValidation, string(kind), "not an operator action")
}

// sync writes the confirmed pool state into the index.
func (m *Manager) sync(ctx context.Context, binding *contracts.Presale, rec *presale.Presale) (*presale.Presale, error) {
	pool, err := binding.Pool(ctx)
	if err != nil {
		return nil, err
	}
	patch, changed := index.Reconcile(rec, pool, m.now())
	if !changed {
		return rec, nil
	}
	return m.update(ctx, rec, patch)
}

func (m *Manager) update(ctx context.Context, rec *presale.Presale, patch index.Patch) (*presale.Presale, error) {
	updated, err := m.index.UpdatePresale(ctx, rec.PresaleAddress, patch, m.now())
	if err != nil {
		return nil, index.Classify("update presale", err)
	}
	return updated, nil
}

func (m *Manager) requireLedgerState(ctx context.Context, rec *presale.Presale, want presale.OnchainState) error {
	pool, err := contracts.NewPresale(common.HexToAddress(rec.PresaleAddress), m.backend).Pool(ctx)
	if err != nil {
		return err
	}
	if pool.State != want {
		return presale.Errorf(presale.KindValidation, "activate", "ledger state is %s, expected %s", pool.State, want)
	}
	return nil
}

func (m *Manager) publishStatus(ctx context.Context, rec *presale.Presale) {
	m.events.Publish(ctx, pubsub.NewEvent(pubsub.PresaleStatus, rec.PresaleAddress, map[string]interface{}{
		"status":       rec.Status,
		"manageStatus": presale.Resolve(rec, m.now()),
	}))
}
