// Package contracts binds the presale, factory and token contracts through
// their call and event interface.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract labels used for decoder registration and handler keys.
const (
	FactoryName = "PresaleFactory"
	PresaleName = "Presale"

	// PresaleCreatedEvent is emitted by the factory for every deployment.
	PresaleCreatedEvent = "LaunchDotFunPresaleCreated"
)

// PresaleABI is the subset of the presale contract this service calls.
const PresaleABI = `[
  {"type":"function","name":"pool","stateMutability":"view","inputs":[],"outputs":[
    {"name":"tokenAddress","type":"address"},
    {"name":"zTokenAddress","type":"address"},
    {"name":"tokenBalance","type":"uint256"},
    {"name":"tokensSold","type":"uint256"},
    {"name":"weiRaise","type":"uint256"},
    {"name":"ethRaisedEncrypted","type":"bytes32"},
    {"name":"tokenPerEthWithDecimals","type":"uint256"},
    {"name":"zWETHAddress","type":"address"},
    {"name":"state","type":"uint8"}
  ]},
  {"type":"function","name":"settled","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"claimed","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"contributions","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"claimableTokens","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"finalizePreSale","stateMutability":"nonpayable","inputs":[
    {"name":"ethRaisedUsed","type":"uint256"},
    {"name":"tokensSold","type":"uint256"},
    {"name":"fillNumerator","type":"uint256"},
    {"name":"fillDenominator","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"settleBid","stateMutability":"nonpayable","inputs":[{"name":"beneficiary","type":"address"}],"outputs":[]},
  {"type":"function","name":"claimTokens","stateMutability":"nonpayable","inputs":[{"name":"beneficiary","type":"address"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"cancelPresale","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"placeBid","stateMutability":"nonpayable","inputs":[
    {"name":"beneficiary","type":"address"},
    {"name":"encryptedContribution","type":"bytes32"},
    {"name":"inputProof","type":"bytes"}
  ],"outputs":[]}
]`

// FactoryABI covers deployment and the creation event.
const FactoryABI = `[
  {"type":"function","name":"createLaunchDotFunPresale","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},
    {"name":"presaleOptions","type":"tuple","components":[
      {"name":"tokenPresale","type":"uint256"},
      {"name":"hardCap","type":"uint256"},
      {"name":"softCap","type":"uint256"},
      {"name":"start","type":"uint256"},
      {"name":"end","type":"uint256"}
    ]}
  ],"outputs":[{"name":"","type":"address"}]},
  {"type":"event","name":"LaunchDotFunPresaleCreated","anonymous":false,"inputs":[
    {"name":"creator","type":"address","indexed":true},
    {"name":"presale","type":"address","indexed":false},
    {"name":"ztoken","type":"address","indexed":false}
  ]}
]`

// ERC20ABI covers allowance management of the sold token.
const ERC20ABI = `[
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// ConfidentialTokenABI covers operator grants on the confidential wrapper.
const ConfidentialTokenABI = `[
  {"type":"function","name":"isOperator","stateMutability":"view","inputs":[{"name":"holder","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"setOperator","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"until","type":"uint48"}],"outputs":[]}
]`

var (
	presaleABI      = mustParse(PresaleABI)
	factoryABI      = mustParse(FactoryABI)
	erc20ABI        = mustParse(ERC20ABI)
	confidentialABI = mustParse(ConfidentialTokenABI)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}
