package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/pubsub"
	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var (
	testFactory = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	testCreator = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testZToken  = common.HexToAddress("0x00000000000000000000000000000000000000c3")

	presaleA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	presaleB = common.HexToAddress("0x00000000000000000000000000000000000000a2")

	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// =============================================================================
// Fakes
// =============================================================================

// fakeChain serves pool reads per presale and a fixed set of factory logs.
type fakeChain struct {
	t       *testing.T
	presale abi.ABI
	factory abi.ABI

	mu      sync.Mutex
	head    uint64
	headErr error
	states  map[common.Address]presale.OnchainState
	raised  map[common.Address]*big.Int
	failing map[common.Address]bool
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func newFakeChain(t *testing.T) *fakeChain {
	parse := func(raw string) abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(raw))
		require.NoError(t, err)
		return parsed
	}
	return &fakeChain{
		t:       t,
		presale: parse(contracts.PresaleABI),
		factory: parse(contracts.FactoryABI),
		states:  make(map[common.Address]presale.OnchainState),
		raised:  make(map[common.Address]*big.Int),
		failing: make(map[common.Address]bool),
	}
}

func (f *fakeChain) creationLog(presaleAddr common.Address, block uint64) types.Log {
	ev := f.factory.Events[contracts.PresaleCreatedEvent]
	data, err := ev.Inputs.NonIndexed().Pack(presaleAddr, testZToken)
	require.NoError(f.t, err)
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(testCreator.Bytes())},
		Data:        data,
		TxHash:      common.BytesToHash(presaleAddr.Bytes()),
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func (f *fakeChain) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[to] {
		return nil, errors.New("connection refused")
	}
	m, err := f.presale.MethodById(data[:4])
	require.NoError(f.t, err)
	require.Equal(f.t, "pool", m.Name)

	raised := f.raised[to]
	if raised == nil {
		raised = big.NewInt(0)
	}
	return m.Outputs.Pack(
		common.HexToAddress("0xb2"), testZToken,
		big.NewInt(1000), big.NewInt(0), raised,
		[32]byte{}, big.NewInt(10), common.HexToAddress("0xd4"), uint8(f.states[to]),
	)
}

func (f *fakeChain) SendTransaction(context.Context, common.Address, []byte) (*types.Receipt, error) {
	return nil, errors.New("read only")
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) From() common.Address { return testCreator }

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

type recorder struct {
	mu     sync.Mutex
	events []pubsub.Event
}

func (r *recorder) Publish(_ context.Context, ev pubsub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []pubsub.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pubsub.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	chain  *fakeChain
	index  *index.Memory
	cursor *MemoryCursor
	events *recorder
	engine *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		chain:  newFakeChain(t),
		index:  index.NewMemory(),
		cursor: NewMemoryCursor(),
		events: &recorder{},
	}
	cfg.Factory = testFactory
	e, err := New(cfg, Deps{
		Chain:  f.chain,
		Index:  f.index,
		Cursor: f.cursor,
		Events: f.events,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) insert(t *testing.T, addr common.Address, status presale.OnchainState) {
	t.Helper()
	rec := &presale.Presale{
		PresaleAddress: addr.Hex(),
		Token:          presale.Token{Address: common.BytesToAddress(append([]byte{0xbb}, addr.Bytes()[1:]...)).Hex(), Decimals: 18},
		Creator:        testCreator.Hex(),
		Name:           "sale",
		StartTime:      testNow.Add(-time.Hour),
		EndTime:        testNow.Add(time.Hour),
		SoftCap:        "5",
		HardCap:        "10",
		Status:         status,
		RaisedAmount:   "0",
		CreatedAt:      testNow.Add(-2 * time.Hour),
	}
	require.NoError(t, f.index.InsertPresale(context.Background(), rec))
	f.chain.states[addr] = status
}

// =============================================================================
// Pure Function Tests
// =============================================================================

func TestConvertEventData(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
		want  map[string]any
	}{
		{
			name:  "empty map",
			input: map[string]interface{}{},
			want:  map[string]any{},
		},
		{
			name: "common.Address type",
			input: map[string]interface{}{
				"presale": common.HexToAddress("0x1234567890123456789012345678901234567890"),
			},
			want: map[string]any{
				"presale": "0x1234567890123456789012345678901234567890",
			},
		},
		{
			name: "*big.Int type",
			input: map[string]interface{}{
				"value": big.NewInt(1000000),
			},
			want: map[string]any{
				"value": "1000000",
			},
		},
		{
			name: "nil *big.Int",
			input: map[string]interface{}{
				"value": (*big.Int)(nil),
			},
			want: map[string]any{
				"value": "0",
			},
		},
		{
			name: "common.Hash type",
			input: map[string]interface{}{
				"handle": common.HexToHash("0xfeed"),
			},
			want: map[string]any{
				"handle": "0x000000000000000000000000000000000000000000000000000000000000feed",
			},
		},
		{
			name: "[]byte type",
			input: map[string]interface{}{
				"data": []byte{0xde, 0xad, 0xbe, 0xef},
			},
			want: map[string]any{
				"data": "deadbeef",
			},
		},
		{
			name: "passthrough values",
			input: map[string]interface{}{
				"name":   "LaunchDotFunPresaleCreated",
				"index":  42,
				"active": true,
			},
			want: map[string]any{
				"name":   "LaunchDotFunPresaleCreated",
				"index":  42,
				"active": true,
			},
		},
		{
			name: "large big.Int",
			input: map[string]interface{}{
				"amount": new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
			},
			want: map[string]any{
				"amount": "1000000000000000000000000000000",
			},
		},
		{
			name: "checksum address format preserved",
			input: map[string]interface{}{
				"creator": common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			},
			want: map[string]any{
				"creator": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := convertEventData(tc.input)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestConvertEventDataNilInput(t *testing.T) {
	result := convertEventData(nil)
	require.NotNil(t, result)
	require.Len(t, result, 0)
}

func TestBatchRange(t *testing.T) {
	tests := []struct {
		name     string
		from     uint64
		head     uint64
		size     uint64
		wantTo   uint64
		wantScan bool
	}{
		{name: "normal batch", from: 1001, head: 3000, size: 1000, wantTo: 2000, wantScan: true},
		{name: "partial batch at end", from: 2501, head: 3000, size: 1000, wantTo: 3000, wantScan: true},
		{name: "single block behind", from: 3000, head: 3000, size: 1000, wantTo: 3000, wantScan: true},
		{name: "already synced", from: 3001, head: 3000, size: 1000},
		{name: "small batch size", from: 1001, head: 3000, size: 100, wantTo: 1100, wantScan: true},
		{name: "zero batch size scans one block", from: 10, head: 3000, size: 0, wantTo: 10, wantScan: true},
		{name: "overflow clamps to head", from: 10, head: 20, size: ^uint64(0), wantTo: 20, wantScan: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			to, ok := batchRange(tc.from, tc.head, tc.size)
			require.Equal(t, tc.wantScan, ok)
			require.Equal(t, tc.wantTo, to)
		})
	}
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestNewDefaults(t *testing.T) {
	e, err := New(Config{Factory: testFactory}, Deps{Chain: newFakeChain(t), Index: index.NewMemory()})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), e.cfg.BatchSize)
	require.Equal(t, 8, e.cfg.Concurrency)
	require.Equal(t, 12*time.Second, e.cfg.PollInterval)
	require.NotNil(t, e.cursor)
	require.NotNil(t, e.events)
	require.Equal(t, []string{contracts.CreatedEventID()}, e.handlers.ListHandlers())
	require.Zero(t, e.LastBlock())

	_, err = New(Config{}, Deps{Index: index.NewMemory()})
	require.Error(t, err)
}

func TestDetermineStartBlock(t *testing.T) {
	tests := []struct {
		name   string
		start  uint64
		saved  *uint64
		expect uint64
	}{
		{name: "no cursor uses config", start: 500, expect: 500},
		{name: "no cursor no config", expect: 0},
		{name: "cursor resumes after last block", start: 500, saved: ptr(uint64(900)), expect: 901},
		{name: "config ahead of cursor wins", start: 2000, saved: ptr(uint64(900)), expect: 2000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{StartBlock: tc.start})
			if tc.saved != nil {
				require.NoError(t, f.cursor.SaveBlock(context.Background(), f.engine.cursorKey(), *tc.saved, ""))
			}
			got, err := f.engine.determineStartBlock(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.expect, got)
		})
	}
}

func TestReconcileOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("ledger finalize is written to the index", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.insert(t, presaleA, presale.StateActive)
		f.chain.states[presaleA] = presale.StateFinalized
		f.chain.raised[presaleA] = big.NewInt(7_000_000)

		n, err := f.engine.ReconcileOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		rec, err := f.index.FindPresale(ctx, presaleA.Hex())
		require.NoError(t, err)
		require.Equal(t, presale.StateFinalized, rec.Status)
		require.Equal(t, "7000000", rec.RaisedAmount)
		require.NotNil(t, rec.ClosedAt)
		require.Equal(t, []pubsub.EventType{pubsub.PresaleStatus}, f.events.kinds())
	})

	t.Run("matching records are left alone", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.insert(t, presaleA, presale.StateActive)

		n, err := f.engine.ReconcileOnce(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
		require.Empty(t, f.events.kinds())
	})

	t.Run("raise change updates without a status event", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.insert(t, presaleA, presale.StateActive)
		f.chain.raised[presaleA] = big.NewInt(3)

		n, err := f.engine.ReconcileOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Empty(t, f.events.kinds())
	})

	t.Run("terminal records are not read", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.insert(t, presaleA, presale.StateCanceled)
		f.chain.failing[presaleA] = true

		n, err := f.engine.ReconcileOnce(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("failed pool read skips one presale", func(t *testing.T) {
		f := newFixture(t, Config{Concurrency: 1})
		f.insert(t, presaleA, presale.StateActive)
		f.insert(t, presaleB, presale.StateWaitingForFinalize)
		f.chain.failing[presaleA] = true
		f.chain.states[presaleB] = presale.StateFinalized

		n, err := f.engine.ReconcileOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		rec, err := f.index.FindPresale(ctx, presaleA.Hex())
		require.NoError(t, err)
		require.Equal(t, presale.StateActive, rec.Status)

		rec, err = f.index.FindPresale(ctx, presaleB.Hex())
		require.NoError(t, err)
		require.Equal(t, presale.StateFinalized, rec.Status)
	})
}

func TestSyncOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("reports unindexed deployments", func(t *testing.T) {
		f := newFixture(t, Config{StartBlock: 100, BatchSize: 50})
		f.insert(t, presaleA, presale.StateActive)
		f.chain.head = 200
		f.chain.logs = []types.Log{
			f.chain.creationLog(presaleA, 110),
			f.chain.creationLog(presaleB, 120),
		}

		require.NoError(t, f.engine.SyncOnce(ctx))
		require.Equal(t, uint64(149), f.engine.LastBlock())

		f.events.mu.Lock()
		require.Len(t, f.events.events, 1)
		ev := f.events.events[0]
		f.events.mu.Unlock()
		require.Equal(t, pubsub.PresaleUnindexed, ev.Type)
		require.Equal(t, strings.ToLower(presaleB.Hex()), ev.Presale)

		data, ok := ev.Data.(map[string]any)
		require.True(t, ok)
		require.Equal(t, presaleB.Hex(), data["presale"])
		require.Equal(t, testZToken.Hex(), data["ztoken"])
		require.Equal(t, uint64(120), data["blockNumber"])

		last, ok, err := f.cursor.LastBlock(ctx, f.engine.cursorKey())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(149), last)
	})

	t.Run("resumes from the cursor", func(t *testing.T) {
		f := newFixture(t, Config{StartBlock: 100, BatchSize: 50})
		f.chain.head = 120

		require.NoError(t, f.engine.SyncOnce(ctx))
		require.Equal(t, uint64(120), f.engine.LastBlock())
		require.NoError(t, f.engine.SyncOnce(ctx))

		require.Len(t, f.chain.queries, 1)
		require.Equal(t, uint64(100), f.chain.queries[0].FromBlock.Uint64())
		require.Equal(t, uint64(120), f.chain.queries[0].ToBlock.Uint64())
		require.Equal(t, []common.Address{testFactory}, f.chain.queries[0].Addresses)
	})

	t.Run("head failure is returned", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.chain.headErr = errors.New("dial tcp: refused")

		err := f.engine.SyncOnce(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "reading head")
		require.Empty(t, f.chain.queries)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{PollInterval: time.Millisecond})
	f.chain.head = 10

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.engine.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, uint64(10), f.engine.LastBlock())
}

func TestMemoryCursor(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCursor()

	_, ok, err := c.LastBlock(ctx, "PresaleFactory:0x01")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.SaveBlock(ctx, "PresaleFactory:0x01", 42, "0xabc"))
	n, ok, err := c.LastBlock(ctx, "PresaleFactory:0x01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), n)
}

func ptr[T any](v T) *T { return &v }
