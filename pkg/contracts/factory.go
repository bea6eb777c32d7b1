package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xredeth/launchpad/pkg/decoder"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// PresaleOptions is the factory's presale tuple. Field names follow the ABI
// components so the packer can match them.
type PresaleOptions struct {
	TokenPresale *big.Int
	HardCap      *big.Int
	SoftCap      *big.Int
	Start        *big.Int
	End          *big.Int
}

// PresaleCreated is a decoded factory creation event.
type PresaleCreated struct {
	Creator     common.Address
	Presale     common.Address
	ZToken      common.Address
	TxHash      common.Hash
	BlockNumber uint64
}

// Factory is a binding to the presale factory.
type Factory struct {
	address common.Address
	backend Backend
}

// NewFactory binds the factory at address.
func NewFactory(address common.Address, backend Backend) *Factory {
	return &Factory{address: address, backend: backend}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address {
	return f.address
}

// CreatePresale deploys a presale for token.
func (f *Factory) CreatePresale(ctx context.Context, token common.Address, opts PresaleOptions) (*types.Receipt, error) {
	return transact(ctx, f.backend, &factoryABI, f.address, "createLaunchDotFunPresale", token, opts)
}

// CreatedLogs returns creation logs emitted in [from, to], optionally
// restricted to one creator.
func (f *Factory) CreatedLogs(ctx context.Context, from, to uint64, creator *common.Address) ([]types.Log, error) {
	topics := [][]common.Hash{{CreatedTopic()}}
	if creator != nil {
		topics = append(topics, []common.Hash{common.BytesToHash(creator.Bytes())})
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{f.address},
		Topics:    topics,
	}
	logs, err := f.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, presale.Wrap(presale.KindLedger, "query creation events", err)
	}
	return logs, nil
}

// CreatedTopic returns topic0 of the creation event.
func CreatedTopic() common.Hash {
	return factoryABI.Events[PresaleCreatedEvent].ID
}

// RegisterFactory registers the factory events on d.
func RegisterFactory(d *decoder.Decoder, address common.Address) error {
	return d.RegisterContract(FactoryName, address, FactoryABI, []string{PresaleCreatedEvent})
}

// CreatedEventID is the handler key of the creation event.
func CreatedEventID() string {
	return FactoryName + ":" + PresaleCreatedEvent
}

// ParseCreated converts a decoded creation event. Zero or missing addresses
// are rejected.
//
// Parameters:
//   - ev (*decoder.DecodedEvent): a decoded factory log
//
// Returns:
//   - PresaleCreated: the deployment data
//   - error: KindLedger when the event is not a usable creation event
func ParseCreated(ev *decoder.DecodedEvent) (PresaleCreated, error) {
	if ev == nil || ev.EventName != PresaleCreatedEvent {
		return PresaleCreated{}, presale.Errorf(presale.KindLedger, "parse creation event", "not a %s event", PresaleCreatedEvent)
	}
	out := PresaleCreated{TxHash: ev.Log.TxHash, BlockNumber: ev.Log.BlockNumber}

	fields := []struct {
		name string
		dst  *common.Address
	}{
		{"creator", &out.Creator},
		{"presale", &out.Presale},
		{"ztoken", &out.ZToken},
	}
	for _, f := range fields {
		addr, ok := ev.Data[f.name].(common.Address)
		if !ok || addr == (common.Address{}) {
			return PresaleCreated{}, presale.Errorf(presale.KindLedger, "parse creation event", "invalid %s address in event", f.name)
		}
		*f.dst = addr
	}
	return out, nil
}

// FindCreated returns the creation event of receipt, if its logs carry one.
func FindCreated(d *decoder.Decoder, receipt *types.Receipt) (PresaleCreated, bool, error) {
	if receipt == nil {
		return PresaleCreated{}, false, nil
	}
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) == 0 || l.Topics[0] != CreatedTopic() {
			continue
		}
		ev, err := d.Decode(*l)
		if err != nil {
			return PresaleCreated{}, false, presale.Wrap(presale.KindLedger, "decode creation event", err)
		}
		created, err := ParseCreated(ev)
		if err != nil {
			return PresaleCreated{}, false, err
		}
		return created, true, nil
	}
	return PresaleCreated{}, false, nil
}
