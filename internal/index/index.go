// Package index defines the document store contract the presale core
// consumes, plus an in-memory implementation.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Store errors. Implementations return these so callers can classify them.
var (
	ErrNotFound     = errors.New("index: record not found")
	ErrDuplicateKey = errors.New("index: duplicate key")
)

// Patch is a partial presale update. Nil fields are left unchanged.
type Patch struct {
	Status        *presale.OnchainState
	ClosedAt      *time.Time
	ClearClosedAt bool
	EndTime       *time.Time
	RaisedAmount  *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.ClosedAt == nil && !p.ClearClosedAt && p.EndTime == nil && p.RaisedAmount == nil
}

// Apply writes the patch onto rec and stamps UpdatedAt.
func (p Patch) Apply(rec *presale.Presale, now time.Time) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.ClearClosedAt {
		rec.ClosedAt = nil
	} else if p.ClosedAt != nil {
		t := *p.ClosedAt
		rec.ClosedAt = &t
	}
	if p.EndTime != nil {
		rec.EndTime = *p.EndTime
	}
	if p.RaisedAmount != nil {
		rec.RaisedAmount = *p.RaisedAmount
	}
	rec.UpdatedAt = now
}

// TokenQuery selects registered tokens.
type TokenQuery struct {
	// Creator restricts to one creator address.
	Creator string

	// Available restricts to tokens not yet consumed by a presale.
	Available bool
}

// Index is the mutable presale and token store. Every read excludes
// soft-deleted records. Uniqueness of live presaleAddress, live
// token.address among presales and live token address is enforced by the
// store and surfaces as ErrDuplicateKey.
type Index interface {
	InsertPresale(ctx context.Context, p *presale.Presale) error
	FindPresale(ctx context.Context, address string) (*presale.Presale, error)
	FindPresaleByToken(ctx context.Context, token string) (*presale.Presale, error)
	UpdatePresale(ctx context.Context, address string, patch Patch, now time.Time) (*presale.Presale, error)

	// ListPresales applies the stored-field part of the filter (creator,
	// token, creation range, on-chain states) and sorts by createdAt
	// descending. Management status is derived and filtered by List.
	ListPresales(ctx context.Context, filter *presale.Filter) ([]presale.Presale, error)

	InsertToken(ctx context.Context, t *presale.Token) error
	FindToken(ctx context.Context, address string) (*presale.Token, error)
	ListTokens(ctx context.Context, q TokenQuery) ([]presale.Token, error)
	MarkTokenUsed(ctx context.Context, address string, at time.Time) error
}

// List runs the stored-field query and then keeps the presales whose
// management status, derived at now, is selected by the filter.
//
// Parameters:
//   - ctx (context.Context): request context
//   - idx (Index): the store
//   - filter (*presale.Filter): canonical filter, nil lists everything
//   - now (time.Time): evaluation instant for status derivation
//
// Returns:
//   - []presale.Presale: matching presales, newest first
//   - error: nil on success, store error otherwise
func List(ctx context.Context, idx Index, filter *presale.Filter, now time.Time) ([]presale.Presale, error) {
	rows, err := idx.ListPresales(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing presales: %w", err)
	}
	if filter == nil || len(filter.Statuses) == 0 {
		return rows, nil
	}
	out := rows[:0]
	for i := range rows {
		if filter.MatchStatus(presale.Resolve(&rows[i], now)) {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// Classify maps store errors onto the domain taxonomy.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return &presale.Error{Kind: presale.KindNotFound, Op: op, Err: err}
	case errors.Is(err, ErrDuplicateKey):
		return &presale.Error{Kind: presale.KindConflict, Op: op, Msg: "already exists", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &presale.Error{Kind: presale.KindTransientIndex, Op: op, Err: err}
	}
}

// Reconcile builds the patch that aligns rec with a confirmed pool read.
// The ledger state is written as-is; leaving the sale (Finalized, Canceled,
// WaitingForFinalize) also stamps closedAt when it is not already set. The
// plaintext weiRaise is mirrored into raisedAmount. A WaitingForFinalize
// record is kept while the ledger still reads Active.
//
// Parameters:
//   - rec (*presale.Presale): the indexed record
//   - pool (*presale.PoolSnapshot): a fresh ledger read
//   - now (time.Time): closing timestamp
//
// Returns:
//   - Patch: the changes to apply
//   - bool: false when the record already matches
func Reconcile(rec *presale.Presale, pool *presale.PoolSnapshot, now time.Time) (Patch, bool) {
	var patch Patch
	waiting := rec.Status == presale.StateWaitingForFinalize && pool.State == presale.StateActive
	if pool.State.Valid() && pool.State != rec.Status && !waiting {
		state := pool.State
		patch.Status = &state
		if state != presale.StateActive && rec.ClosedAt == nil {
			at := now
			patch.ClosedAt = &at
		}
	}
	if pool.WeiRaise != nil && pool.WeiRaise.Sign() > 0 {
		raised := pool.WeiRaise.String()
		if raised != rec.RaisedAmount {
			patch.RaisedAmount = &raised
		}
	}
	return patch, !patch.Empty()
}

// SortNewestFirst orders presales by createdAt descending, presale address
// breaking ties.
func SortNewestFirst(rows []presale.Presale) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].PresaleAddress < rows[j].PresaleAddress
	})
}
