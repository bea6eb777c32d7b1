// Package decoder decodes presale contract logs through registered ABIs.
package decoder

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodedEvent is a log decoded into named fields.
type DecodedEvent struct {
	// ContractName is the registered contract label.
	ContractName string

	// EventName is the ABI event name.
	EventName string

	// EventID is "ContractName:EventName", the handler registry key.
	EventID string

	// Data holds indexed and non-indexed fields by ABI name.
	Data map[string]interface{}

	// Log is the raw log the event was decoded from.
	Log types.Log
}

type eventInfo struct {
	contract string
	event    abi.Event
}

// Decoder maps event signatures to ABI events.
type Decoder struct {
	mu      sync.RWMutex
	abis    map[common.Address]*abi.ABI
	events  map[common.Hash]eventInfo
	sigToID map[common.Hash]string
}

// New creates an empty decoder.
func New() *Decoder {
	return &Decoder{
		abis:    make(map[common.Address]*abi.ABI),
		events:  make(map[common.Hash]eventInfo),
		sigToID: make(map[common.Hash]string),
	}
}

// RegisterContract parses abiJSON and registers its events for address.
// A nil eventNames registers every event; unknown names are ignored.
// The last registration wins when two contracts share a signature.
//
// Parameters:
//   - name (string): contract label used in event IDs
//   - address (common.Address): contract address
//   - abiJSON (string): the contract ABI
//   - eventNames ([]string): events to register, nil for all
//
// Returns:
//   - error: nil on success, parse error on invalid ABI
func (d *Decoder) RegisterContract(name string, address common.Address, abiJSON string, eventNames []string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parsing ABI for %s: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.abis[address] = &parsed

	wanted := make(map[string]bool, len(eventNames))
	for _, n := range eventNames {
		wanted[n] = true
	}

	for evName, ev := range parsed.Events {
		if eventNames != nil && !wanted[evName] {
			continue
		}
		d.events[ev.ID] = eventInfo{contract: name, event: ev}
		d.sigToID[ev.ID] = name + ":" + evName
	}

	return nil
}

// GetEventSignatures returns every registered topic0.
func (d *Decoder) GetEventSignatures() []common.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sigs := make([]common.Hash, 0, len(d.events))
	for sig := range d.events {
		sigs = append(sigs, sig)
	}
	return sigs
}

// GetAddresses returns every registered contract address.
func (d *Decoder) GetAddresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]common.Address, 0, len(d.abis))
	for addr := range d.abis {
		addrs = append(addrs, addr)
	}
	return addrs
}

// CanDecode reports whether the log's topic0 is registered.
func (d *Decoder) CanDecode(log types.Log) bool {
	_, ok := d.GetEventID(log)
	return ok
}

// GetEventID returns the "Contract:Event" key of the log.
func (d *Decoder) GetEventID(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.sigToID[log.Topics[0]]
	return id, ok
}

// Decode decodes a log into a DecodedEvent.
//
// Parameters:
//   - log (types.Log): the raw log
//
// Returns:
//   - *DecodedEvent: the decoded event
//   - error: nil on success, error when the log is not registered or malformed
func (d *Decoder) Decode(log types.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	d.mu.RLock()
	info, ok := d.events[log.Topics[0]]
	id := d.sigToID[log.Topics[0]]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event signature: %s", log.Topics[0].Hex())
	}

	data := make(map[string]interface{})

	if len(log.Data) > 0 {
		if err := info.event.Inputs.NonIndexed().UnpackIntoMap(data, log.Data); err != nil {
			return nil, fmt.Errorf("unpacking %s data: %w", id, err)
		}
	}

	topics := log.Topics[1:]
	i := 0
	for _, input := range info.event.Inputs {
		if !input.Indexed {
			continue
		}
		if i >= len(topics) {
			return nil, fmt.Errorf("%s: missing topic for indexed field %s", id, input.Name)
		}
		data[input.Name] = topicValue(input.Type, topics[i])
		i++
	}

	return &DecodedEvent{
		ContractName: info.contract,
		EventName:    info.event.Name,
		EventID:      id,
		Data:         data,
		Log:          log,
	}, nil
}

// Clear drops every registration.
func (d *Decoder) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.abis = make(map[common.Address]*abi.ABI)
	d.events = make(map[common.Hash]eventInfo)
	d.sigToID = make(map[common.Hash]string)
}

// topicValue converts an indexed topic into the Go value of its ABI type.
// Dynamic types (strings, bytes, arrays) are kept as their hash.
func topicValue(t abi.Type, topic common.Hash) interface{} {
	switch t.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.BoolTy:
		return topic.Big().Sign() != 0
	case abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.IntTy:
		v := new(big.Int).SetBytes(topic.Bytes())
		if topic[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return v
	default:
		return topic
	}
}
