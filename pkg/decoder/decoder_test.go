package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// factory and presale events used across the tests
const lifecycleABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "creator", "type": "address"},
      {"indexed": false, "name": "presale", "type": "address"},
      {"indexed": false, "name": "ztoken", "type": "address"}
    ],
    "name": "LaunchDotFunPresaleCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "beneficiary", "type": "address"},
      {"indexed": false, "name": "amount", "type": "uint256"}
    ],
    "name": "Refunded",
    "type": "event"
  }
]`

var (
	factoryAddr = common.HexToAddress("0x3Aa9D27A418Ed5703f6c70D001B56B7Ab3F217a6")
	creatorAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	presaleAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	ztokenAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")

	createdSig = crypto.Keccak256Hash([]byte("LaunchDotFunPresaleCreated(address,address,address)"))
)

func createdData(t *testing.T) []byte {
	t.Helper()
	addrTy, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	args := abi.Arguments{{Type: addrTy}, {Type: addrTy}}
	data, err := args.Pack(presaleAddr, ztokenAddr)
	require.NoError(t, err)
	return data
}

func TestNew(t *testing.T) {
	d := New()
	require.NotNil(t, d)
	require.Empty(t, d.abis)
	require.Empty(t, d.events)
	require.Empty(t, d.sigToID)
}

func TestRegisterContract(t *testing.T) {
	tests := []struct {
		name       string
		abiJSON    string
		eventNames []string
		wantErrMsg string
		wantEvents int
	}{
		{name: "all events", abiJSON: lifecycleABI, eventNames: nil, wantEvents: 2},
		{name: "selected event", abiJSON: lifecycleABI, eventNames: []string{"LaunchDotFunPresaleCreated"}, wantEvents: 1},
		{name: "unknown event name", abiJSON: lifecycleABI, eventNames: []string{"Deployed"}, wantEvents: 0},
		{name: "empty abi", abiJSON: "[]", wantEvents: 0},
		{name: "invalid json", abiJSON: "{", wantErrMsg: "parsing ABI"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New()
			err := d.RegisterContract("PresaleFactory", factoryAddr, tc.abiJSON, tc.eventNames)
			if tc.wantErrMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErrMsg)
				return
			}
			require.NoError(t, err)
			require.Len(t, d.events, tc.wantEvents)
			require.Equal(t, []common.Address{factoryAddr}, d.GetAddresses())
		})
	}
}

func TestGetEventSignatures(t *testing.T) {
	d := New()
	require.Empty(t, d.GetEventSignatures())

	require.NoError(t, d.RegisterContract("PresaleFactory", factoryAddr, lifecycleABI, []string{"LaunchDotFunPresaleCreated"}))
	require.Equal(t, []common.Hash{createdSig}, d.GetEventSignatures())
}

func TestDecode(t *testing.T) {
	d := New()
	require.NoError(t, d.RegisterContract("PresaleFactory", factoryAddr, lifecycleABI, nil))

	tests := []struct {
		name       string
		log        types.Log
		wantErrMsg string
		check      func(t *testing.T, ev *DecodedEvent)
	}{
		{
			name: "creation event",
			log: types.Log{
				Address: factoryAddr,
				Topics:  []common.Hash{createdSig, common.BytesToHash(creatorAddr.Bytes())},
				Data:    createdData(t),
			},
			check: func(t *testing.T, ev *DecodedEvent) {
				require.Equal(t, "PresaleFactory", ev.ContractName)
				require.Equal(t, "LaunchDotFunPresaleCreated", ev.EventName)
				require.Equal(t, "PresaleFactory:LaunchDotFunPresaleCreated", ev.EventID)
				require.Equal(t, creatorAddr, ev.Data["creator"])
				require.Equal(t, presaleAddr, ev.Data["presale"])
				require.Equal(t, ztokenAddr, ev.Data["ztoken"])
				require.Equal(t, factoryAddr, ev.Log.Address)
			},
		},
		{
			name: "indexed fields decode without data",
			log: types.Log{
				Topics: []common.Hash{createdSig, common.BytesToHash(creatorAddr.Bytes())},
			},
			check: func(t *testing.T, ev *DecodedEvent) {
				require.Equal(t, creatorAddr, ev.Data["creator"])
				require.NotContains(t, ev.Data, "presale")
			},
		},
		{
			name:       "no topics",
			log:        types.Log{},
			wantErrMsg: "no topics",
		},
		{
			name:       "unknown signature",
			log:        types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}},
			wantErrMsg: "unknown event signature",
		},
		{
			name:       "missing indexed topic",
			log:        types.Log{Topics: []common.Hash{createdSig}},
			wantErrMsg: "missing topic for indexed field creator",
		},
		{
			name: "truncated data",
			log: types.Log{
				Topics: []common.Hash{createdSig, common.BytesToHash(creatorAddr.Bytes())},
				Data:   []byte{0x01, 0x02},
			},
			wantErrMsg: "unpacking",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := d.Decode(tc.log)
			if tc.wantErrMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErrMsg)
				return
			}
			require.NoError(t, err)
			tc.check(t, ev)
		})
	}
}

func TestDecodeUintTopic(t *testing.T) {
	d := New()
	require.NoError(t, d.RegisterContract("Presale", presaleAddr, lifecycleABI, []string{"Refunded"}))

	sig := crypto.Keccak256Hash([]byte("Refunded(address,uint256)"))
	amount := common.LeftPadBytes(big.NewInt(250).Bytes(), 32)
	ev, err := d.Decode(types.Log{
		Topics: []common.Hash{sig, common.BytesToHash(creatorAddr.Bytes())},
		Data:   amount,
	})
	require.NoError(t, err)
	require.Equal(t, "Presale:Refunded", ev.EventID)
	require.Equal(t, big.NewInt(250), ev.Data["amount"])
}

func TestGetEventID(t *testing.T) {
	d := New()
	require.NoError(t, d.RegisterContract("PresaleFactory", factoryAddr, lifecycleABI, []string{"LaunchDotFunPresaleCreated"}))

	id, ok := d.GetEventID(types.Log{Topics: []common.Hash{createdSig}})
	require.True(t, ok)
	require.Equal(t, "PresaleFactory:LaunchDotFunPresaleCreated", id)
	require.True(t, d.CanDecode(types.Log{Topics: []common.Hash{createdSig}}))

	_, ok = d.GetEventID(types.Log{})
	require.False(t, ok)
	require.False(t, d.CanDecode(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}))
}

func TestTopicValue(t *testing.T) {
	boolTy, _ := abi.NewType("bool", "", nil)
	intTy, _ := abi.NewType("int256", "", nil)
	strTy, _ := abi.NewType("string", "", nil)

	require.Equal(t, true, topicValue(boolTy, common.BigToHash(big.NewInt(1))))
	require.Equal(t, false, topicValue(boolTy, common.Hash{}))

	minusOne := common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.Equal(t, big.NewInt(-1), topicValue(intTy, minusOne))

	h := common.HexToHash("0xabcd")
	require.Equal(t, h, topicValue(strTy, h))
}

func TestClear(t *testing.T) {
	d := New()
	require.NoError(t, d.RegisterContract("PresaleFactory", factoryAddr, lifecycleABI, nil))
	require.NotEmpty(t, d.sigToID)

	d.Clear()
	require.Empty(t, d.abis)
	require.Empty(t, d.events)
	require.Empty(t, d.sigToID)
}
