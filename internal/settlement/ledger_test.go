package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xredeth/launchpad/pkg/contracts"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var (
	testPresale = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testZToken  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	testZWETH   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	testSigner  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testOther   = common.HexToAddress("0x00000000000000000000000000000000000000f6")

	raiseHandle        = common.HexToHash("0xfeed")
	contributionHandle = common.HexToHash("0xc0")
	claimableHandle    = common.HexToHash("0xc1")
)

func parseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

// fakeLedger is a presale contract plus zWETH operator registry held in
// memory. Transactions mutate the state the way the contract would.
type fakeLedger struct {
	t       *testing.T
	presale abi.ABI
	token   abi.ABI

	mu           sync.Mutex
	state        presale.OnchainState
	weiRaise     *big.Int
	raiseHandle  common.Hash
	settled      bool
	claimed      bool
	contribution common.Hash
	claimable    common.Hash
	operator     bool
	zweth        common.Address

	callErr error
	sendErr error
	sent    []string
	sentTo  []common.Address

	// block, when set, holds every transaction until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func newFakeLedger(t *testing.T, state presale.OnchainState) *fakeLedger {
	return &fakeLedger{
		t:            t,
		presale:      parseABI(t, contracts.PresaleABI),
		token:        parseABI(t, contracts.ConfidentialTokenABI),
		state:        state,
		weiRaise:     big.NewInt(0),
		raiseHandle:  raiseHandle,
		contribution: contributionHandle,
		claimable:    claimableHandle,
		zweth:        testZWETH,
	}
}

func (f *fakeLedger) method(data []byte) *abi.Method {
	if m, err := f.presale.MethodById(data[:4]); err == nil {
		return m
	}
	m, err := f.token.MethodById(data[:4])
	require.NoError(f.t, err)
	return m
}

func (f *fakeLedger) CallContract(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}

	m := f.method(data)
	var out []interface{}
	switch m.Name {
	case "pool":
		out = []interface{}{
			testToken, testZToken,
			big.NewInt(1000), big.NewInt(600), f.weiRaise,
			[32]byte(f.raiseHandle),
			big.NewInt(10), f.zweth, uint8(f.state),
		}
	case "settled":
		out = []interface{}{f.settled}
	case "claimed":
		out = []interface{}{f.claimed}
	case "contributions":
		out = []interface{}{[32]byte(f.contribution)}
	case "claimableTokens":
		out = []interface{}{[32]byte(f.claimable)}
	case "isOperator":
		out = []interface{}{f.operator}
	default:
		return nil, errors.New("execution reverted")
	}
	return m.Outputs.Pack(out...)
}

func (f *fakeLedger) SendTransaction(_ context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	m := f.method(data)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m.Name)
	f.sentTo = append(f.sentTo, to)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	switch m.Name {
	case "finalizePreSale":
		f.state = presale.StateFinalized
	case "settleBid":
		f.settled = true
	case "claimTokens":
		f.claimed = true
	case "refund":
		f.contribution = common.Hash{}
	case "setOperator":
		f.operator = true
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x01")}, nil
}

func (f *fakeLedger) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeLedger) From() common.Address { return testSigner }

func (f *fakeLedger) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

// fakeOracle reveals from a fixed table.
type fakeOracle struct {
	values map[common.Hash]*big.Int
	err    error
	calls  int
}

func (o *fakeOracle) Decrypt(_ context.Context, handles []common.Hash) (map[common.Hash]*big.Int, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	out := make(map[common.Hash]*big.Int, len(handles))
	for _, h := range handles {
		v, ok := o.values[h]
		if !ok {
			return nil, presale.Errorf(presale.KindDecryptUnavailable, "decrypt", "unknown handle %s", h.Hex())
		}
		out[h] = v
	}
	return out, nil
}
