package index

import (
	"context"
	"sync"
	"time"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Memory is an Index held in process memory. Records are copied in and out
// so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	presales []*presale.Presale
	tokens   []*presale.Token
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{}
}

var _ Index = (*Memory)(nil)

// InsertPresale stores a copy of p.
func (m *Memory) InsertPresale(ctx context.Context, p *presale.Presale) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := clonePresale(p)
	rec.Canonicalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.presales {
		if existing.DeletedAt != nil {
			continue
		}
		if existing.PresaleAddress == rec.PresaleAddress || existing.Token.Address == rec.Token.Address {
			return ErrDuplicateKey
		}
	}
	m.presales = append(m.presales, rec)
	return nil
}

// FindPresale returns the live presale at address.
func (m *Memory) FindPresale(ctx context.Context, address string) (*presale.Presale, error) {
	return m.findPresale(ctx, func(p *presale.Presale) bool {
		return p.PresaleAddress == presale.NormalizeAddress(address)
	})
}

// FindPresaleByToken returns the live presale selling token.
func (m *Memory) FindPresaleByToken(ctx context.Context, token string) (*presale.Presale, error) {
	return m.findPresale(ctx, func(p *presale.Presale) bool {
		return p.Token.Address == presale.NormalizeAddress(token)
	})
}

func (m *Memory) findPresale(ctx context.Context, match func(*presale.Presale) bool) (*presale.Presale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.presales {
		if p.DeletedAt == nil && match(p) {
			return clonePresale(p), nil
		}
	}
	return nil, ErrNotFound
}

// UpdatePresale applies patch to the live presale at address.
func (m *Memory) UpdatePresale(ctx context.Context, address string, patch Patch, now time.Time) (*presale.Presale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := presale.NormalizeAddress(address)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.presales {
		if p.DeletedAt == nil && p.PresaleAddress == addr {
			patch.Apply(p, now)
			return clonePresale(p), nil
		}
	}
	return nil, ErrNotFound
}

// ListPresales returns live presales matching the stored-field filter.
func (m *Memory) ListPresales(ctx context.Context, filter *presale.Filter) ([]presale.Presale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]presale.Presale, 0, len(m.presales))
	for _, p := range m.presales {
		if p.DeletedAt != nil || !matchStored(filter, p) {
			continue
		}
		out = append(out, *clonePresale(p))
	}
	m.mu.RUnlock()

	SortNewestFirst(out)
	return out, nil
}

// SoftDeletePresale marks the live presale at address deleted.
func (m *Memory) SoftDeletePresale(ctx context.Context, address string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := presale.NormalizeAddress(address)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.presales {
		if p.DeletedAt == nil && p.PresaleAddress == addr {
			t := at
			p.DeletedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

// InsertToken stores a copy of t.
func (m *Memory) InsertToken(ctx context.Context, t *presale.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := cloneToken(t)
	rec.Canonicalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tokens {
		if existing.Address == rec.Address {
			return ErrDuplicateKey
		}
	}
	m.tokens = append(m.tokens, rec)
	return nil
}

// FindToken returns the registered token at address.
func (m *Memory) FindToken(ctx context.Context, address string) (*presale.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := presale.NormalizeAddress(address)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.Address == addr {
			return cloneToken(t), nil
		}
	}
	return nil, ErrNotFound
}

// ListTokens returns tokens matching q in registration order.
func (m *Memory) ListTokens(ctx context.Context, q TokenQuery) ([]presale.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creator := presale.NormalizeAddress(q.Creator)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]presale.Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		if creator != "" && t.Creator != creator {
			continue
		}
		if q.Available && t.Used() {
			continue
		}
		out = append(out, *cloneToken(t))
	}
	return out, nil
}

// MarkTokenUsed stamps usedAt on the token at address.
func (m *Memory) MarkTokenUsed(ctx context.Context, address string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := presale.NormalizeAddress(address)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Address == addr {
			used := at
			t.UsedAt = &used
			return nil
		}
	}
	return ErrNotFound
}

// matchStored applies every filter field except management status.
func matchStored(f *presale.Filter, p *presale.Presale) bool {
	if f == nil {
		return true
	}
	if f.Creator != "" && p.Creator != f.Creator {
		return false
	}
	if f.Token != "" && p.Token.Address != f.Token {
		return false
	}
	if f.CreatedFrom != nil && p.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && p.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return f.MatchOnchain(p.Status)
}

func clonePresale(p *presale.Presale) *presale.Presale {
	c := *p
	c.ClosedAt = cloneTime(p.ClosedAt)
	c.DeletedAt = cloneTime(p.DeletedAt)
	c.Token.UsedAt = cloneTime(p.Token.UsedAt)
	return &c
}

func cloneToken(t *presale.Token) *presale.Token {
	c := *t
	c.UsedAt = cloneTime(t.UsedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
