package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// Backend is the ledger client the bindings run on.
type Backend interface {
	// CallContract executes a read-only call at the latest block.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// SendTransaction signs and submits a call and waits for its receipt.
	// A reverted receipt is returned together with an error.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)

	// FilterLogs returns the logs matching q.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// From returns the signing account.
	From() common.Address
}

// call packs method, runs a read and unpacks the outputs.
func call(ctx context.Context, b Backend, parsed *abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, presale.Wrap(presale.KindValidation, "pack "+method, err)
	}
	out, err := b.CallContract(ctx, to, input)
	if err != nil {
		return nil, presale.Wrap(presale.KindLedger, method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, presale.Wrap(presale.KindLedger, "unpack "+method, err)
	}
	return values, nil
}

// transact packs method and submits it.
func transact(ctx context.Context, b Backend, parsed *abi.ABI, to common.Address, method string, args ...interface{}) (*types.Receipt, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, presale.Wrap(presale.KindValidation, "pack "+method, err)
	}
	receipt, err := b.SendTransaction(ctx, to, input)
	if err != nil {
		return receipt, presale.Wrap(presale.KindLedger, method, err)
	}
	return receipt, nil
}

func single[T any](values []interface{}, method string) (T, error) {
	var zero T
	if len(values) != 1 {
		return zero, presale.Errorf(presale.KindLedger, method, "expected 1 output, got %d", len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, presale.Errorf(presale.KindLedger, method, "unexpected output type %T", values[0])
	}
	return v, nil
}
