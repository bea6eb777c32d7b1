// Package presale holds the domain model of confidential token presales and
// the pure rules that govern them: management status resolution, transition
// guarding, finalization math and listing filter normalization.
package presale

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Presale is the indexed record of a deployed presale contract.
type Presale struct {
	// PresaleAddress is the deployed presale contract (unique among live records).
	PresaleAddress string `json:"presaleAddress"`

	// ZTokenAddress is the companion confidential token created with the presale.
	ZTokenAddress string `json:"zTokenAddress"`

	// Token is the snapshot of the token being sold.
	Token Token `json:"token"`

	// Creator is the lowercase address that launched the presale.
	Creator string `json:"creator"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail,omitempty"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	// SoftCap and HardCap are base-unit integers encoded as decimal strings.
	SoftCap string `json:"softCap"`
	HardCap string `json:"hardCap"`

	PresaleRate        string `json:"presaleRate"`
	TokensForSale      string `json:"tokensForSale"`
	TokensForLiquidity string `json:"tokensForLiquidity"`
	LiquidityPercent   int    `json:"liquidityPercent"`

	// Status is the last on-chain state the index has confirmed.
	Status OnchainState `json:"status"`

	RaisedAmount string `json:"raisedAmount"`
	TxHash       string `json:"txHash"`
	Social       Social `json:"social"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// Social holds optional project links.
type Social struct {
	Website  string `json:"website,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	Telegram string `json:"telegram,omitempty"`
	Discord  string `json:"discord,omitempty"`
	Medium   string `json:"medium,omitempty"`
}

// Token is a registered ERC-20 token eligible for a single presale.
type Token struct {
	Address     string     `json:"address"`
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Decimals    uint8      `json:"decimals"`
	TotalSupply string     `json:"totalSupply"`
	Icon        string     `json:"icon,omitempty"`
	Creator     string     `json:"creator"`
	UsedAt      *time.Time `json:"usedAt"`
}

// Used reports whether the token was already consumed by a presale.
func (t Token) Used() bool {
	return t.UsedAt != nil
}

// HardCapInt parses HardCap as a base-unit integer.
func (p *Presale) HardCapInt() (*big.Int, error) {
	return parseAmount("hardCap", p.HardCap)
}

// SoftCapInt parses SoftCap as a base-unit integer.
func (p *Presale) SoftCapInt() (*big.Int, error) {
	return parseAmount("softCap", p.SoftCap)
}

// Canonicalize lowercases every address field in place.
func (p *Presale) Canonicalize() {
	p.PresaleAddress = NormalizeAddress(p.PresaleAddress)
	p.ZTokenAddress = NormalizeAddress(p.ZTokenAddress)
	p.Creator = NormalizeAddress(p.Creator)
	p.Token.Canonicalize()
}

// Canonicalize lowercases the token and creator addresses in place.
func (t *Token) Canonicalize() {
	t.Address = NormalizeAddress(t.Address)
	t.Creator = NormalizeAddress(t.Creator)
}

// NormalizeAddress trims and lowercases an address string.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// PoolSnapshot is a typed view of the presale contract's pool tuple.
// It is read fresh on every poll and never persisted.
type PoolSnapshot struct {
	TokenAddress            common.Address
	ZTokenAddress           common.Address
	TokenBalance            *big.Int
	TokensSold              *big.Int
	WeiRaise                *big.Int
	EthRaisedEncrypted      common.Hash
	TokenPerEthWithDecimals *big.Int
	ZWETHAddress            common.Address
	State                   OnchainState
}

func parseAmount(field, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, Errorf(KindValidation, "parse "+field, "%s %q is not a base-unit integer", field, value)
	}
	return v, nil
}
