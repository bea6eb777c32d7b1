package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/decoder"
	"github.com/0xredeth/launchpad/pkg/presale"
)

const createdID = "PresaleFactory:LaunchDotFunPresaleCreated"

func created(data map[string]interface{}) *decoder.DecodedEvent {
	return &decoder.DecodedEvent{EventID: createdID, Data: data}
}

// ============================================================================
// Registry
// ============================================================================

func TestRegistry(t *testing.T) {
	noop := func(*Context) error { return nil }

	tests := []struct {
		name    string
		ids     []string
		lookup  string
		wantOK  bool
		wantIDs []string
	}{
		{name: "empty", lookup: createdID, wantIDs: []string{}},
		{name: "registered", ids: []string{createdID}, lookup: createdID, wantOK: true, wantIDs: []string{createdID}},
		{
			name:    "sorted listing",
			ids:     []string{"ZToken:Transfer", createdID, "Presale:BidPlaced"},
			lookup:  "Presale:BidPlaced",
			wantOK:  true,
			wantIDs: []string{"Presale:BidPlaced", createdID, "ZToken:Transfer"},
		},
		{name: "other contract", ids: []string{createdID}, lookup: "Presale:Refund", wantIDs: []string{createdID}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			for _, id := range tc.ids {
				r.Register(id, noop)
			}
			fn, ok := r.Get(tc.lookup)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantOK, fn != nil)
			require.Equal(t, tc.wantOK, r.HasHandler(tc.lookup))
			require.Equal(t, tc.wantIDs, r.ListHandlers())
		})
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	var seen string
	r.Register(createdID, func(*Context) error { seen = "first"; return nil })
	r.Register(createdID, func(*Context) error { seen = "second"; return nil })

	require.NoError(t, r.Handle(&Context{Event: created(nil)}))
	require.Equal(t, "second", seen)
	require.Len(t, r.ListHandlers(), 1)
}

// ============================================================================
// Dispatch
// ============================================================================

func TestHandle(t *testing.T) {
	boom := errors.New("index offline")

	tests := []struct {
		name    string
		fn      Func
		ctx     *Context
		wantErr string
		wantIs  error
	}{
		{name: "nil context", ctx: nil, wantErr: "event is nil"},
		{name: "nil event", ctx: &Context{}, wantErr: "event is nil"},
		{
			name: "unregistered event is skipped",
			ctx:  &Context{Event: &decoder.DecodedEvent{EventID: "Presale:Unknown"}},
		},
		{
			name: "handler succeeds",
			fn:   func(*Context) error { return nil },
			ctx:  &Context{Event: created(nil)},
		},
		{
			name:    "handler error carries the event id",
			fn:      func(*Context) error { return boom },
			ctx:     &Context{Event: created(nil)},
			wantErr: "handler " + createdID,
			wantIs:  boom,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			if tc.fn != nil {
				r.Register(createdID, tc.fn)
			}
			err := r.Handle(tc.ctx)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
			if tc.wantIs != nil {
				require.ErrorIs(t, err, tc.wantIs)
			}
		})
	}
}

func TestHandlerSeesIndexAndLog(t *testing.T) {
	idx := index.NewMemory()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, idx.InsertPresale(context.Background(), &presale.Presale{
		PresaleAddress: addr.Hex(),
		Name:           "Indexed",
		CreatedAt:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}))

	var got *presale.Presale
	r := NewRegistry()
	r.Register(createdID, func(hc *Context) error {
		p, err := hc.Index.FindPresale(hc.Context(), hc.Event.Data["presale"].(common.Address).Hex())
		if err != nil {
			return err
		}
		got = p
		return nil
	})

	hc := &Context{
		Index: idx,
		Block: BlockInfo{Number: 7_400_000, Hash: "0xfeed"},
		Log:   types.Log{Address: common.HexToAddress("0xfac7"), BlockNumber: 7_400_000},
		Event: created(map[string]interface{}{"presale": addr}),
	}
	require.NoError(t, r.Handle(hc))
	require.NotNil(t, got)
	require.Equal(t, "Indexed", got.Name)
	require.Equal(t, uint64(7_400_000), hc.Block.Number)
	require.Equal(t, common.HexToAddress("0xfac7"), hc.Log.Address)
}

func TestContextFallsBackToBackground(t *testing.T) {
	require.Equal(t, context.Background(), (&Context{}).Context())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Equal(t, ctx, (&Context{Ctx: ctx}).Context())
}

func TestConcurrentRegisterAndHandle(t *testing.T) {
	r := NewRegistry()
	r.Register(createdID, func(*Context) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("Presale%d:BidPlaced", n), func(*Context) error { return nil })
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Handle(&Context{Event: created(nil)})
			_ = r.ListHandlers()
		}()
	}
	wg.Wait()
	require.Len(t, r.ListHandlers(), 51)
}
