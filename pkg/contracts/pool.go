package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// poolFields is the positional layout of the pool() tuple.
var poolFields = []string{
	"tokenAddress", "zTokenAddress", "tokenBalance", "tokensSold", "weiRaise",
	"ethRaisedEncrypted", "tokenPerEthWithDecimals", "zWETHAddress", "state",
}

// MapPool maps the unpacked pool() outputs into a typed snapshot.
// A tuple of the wrong shape is reported as a ledger failure so the
// caller's polling policy can retry it.
//
// Parameters:
//   - values ([]interface{}): outputs as returned by abi.Unpack
//
// Returns:
//   - *presale.PoolSnapshot: the snapshot
//   - error: KindLedger on a malformed tuple
func MapPool(values []interface{}) (*presale.PoolSnapshot, error) {
	if len(values) != len(poolFields) {
		return nil, presale.Errorf(presale.KindLedger, "map pool", "expected %d fields, got %d", len(poolFields), len(values))
	}

	var (
		snap presale.PoolSnapshot
		ok   bool
	)
	bad := func(i int) error {
		return presale.Errorf(presale.KindLedger, "map pool", "field %s has type %T", poolFields[i], values[i])
	}

	if snap.TokenAddress, ok = values[0].(common.Address); !ok {
		return nil, bad(0)
	}
	if snap.ZTokenAddress, ok = values[1].(common.Address); !ok {
		return nil, bad(1)
	}
	if snap.TokenBalance, ok = values[2].(*big.Int); !ok || snap.TokenBalance == nil {
		return nil, bad(2)
	}
	if snap.TokensSold, ok = values[3].(*big.Int); !ok || snap.TokensSold == nil {
		return nil, bad(3)
	}
	if snap.WeiRaise, ok = values[4].(*big.Int); !ok || snap.WeiRaise == nil {
		return nil, bad(4)
	}
	handle, ok := values[5].([32]byte)
	if !ok {
		return nil, bad(5)
	}
	snap.EthRaisedEncrypted = common.Hash(handle)
	if snap.TokenPerEthWithDecimals, ok = values[6].(*big.Int); !ok || snap.TokenPerEthWithDecimals == nil {
		return nil, bad(6)
	}
	if snap.ZWETHAddress, ok = values[7].(common.Address); !ok {
		return nil, bad(7)
	}
	state, ok := values[8].(uint8)
	if !ok {
		return nil, bad(8)
	}
	snap.State = presale.OnchainState(state)
	if !snap.State.Valid() {
		return nil, presale.Errorf(presale.KindLedger, "map pool", "unknown pool state %d", state)
	}

	return &snap, nil
}
