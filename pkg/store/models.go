package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/0xredeth/launchpad/pkg/presale"
)

// TokenSnapshot is the token copy embedded in a presale row.
type TokenSnapshot struct {
	Address     string `gorm:"type:varchar(42);not null;uniqueIndex:idx_presales_token_live,where:deleted_at IS NULL"`
	Name        string `gorm:"type:varchar(100)"`
	Symbol      string `gorm:"type:varchar(32)"`
	Decimals    uint8  `gorm:"not null"`
	TotalSupply string `gorm:"type:numeric(78)"`
	Icon        string `gorm:"type:text"`
	Creator     string `gorm:"type:varchar(42)"`
}

// Presale is the persisted presale record. Live rows are unique on presale
// address and on token address; soft-deleted rows free both keys.
type Presale struct {
	ID                 uint64                             `gorm:"primaryKey;autoIncrement"`
	PresaleAddress     string                             `gorm:"type:varchar(42);not null;uniqueIndex:idx_presales_address_live,where:deleted_at IS NULL"`
	ZTokenAddress      string                             `gorm:"type:varchar(42)"`
	Token              TokenSnapshot                      `gorm:"embedded;embeddedPrefix:token_"`
	Creator            string                             `gorm:"type:varchar(42);index;not null"`
	Name               string                             `gorm:"type:varchar(200);not null"`
	Description        string                             `gorm:"type:text"`
	Thumbnail          string                             `gorm:"type:text"`
	StartTime          time.Time                          `gorm:"not null"`
	EndTime            time.Time                          `gorm:"not null"`
	SoftCap            string                             `gorm:"type:numeric(78);not null"` // uint256 max is 78 digits
	HardCap            string                             `gorm:"type:numeric(78);not null"`
	PresaleRate        string                             `gorm:"type:varchar(80);not null"`
	TokensForSale      string                             `gorm:"type:numeric(78)"`
	TokensForLiquidity string                             `gorm:"type:numeric(78)"`
	LiquidityPercent   int                                `gorm:"not null;default:0"`
	Status             uint8                              `gorm:"index;not null"`
	RaisedAmount       string                             `gorm:"type:numeric(78);not null;default:0"`
	TxHash             string                             `gorm:"type:varchar(66)"`
	Social             datatypes.JSONType[presale.Social] `gorm:"type:jsonb"`
	CreatedAt          time.Time                          `gorm:"index;not null"`
	UpdatedAt          time.Time                          `gorm:"not null"`
	ClosedAt           *time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for Presale.
func (Presale) TableName() string {
	return "presales"
}

// Token is a registered token row.
type Token struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	Address     string         `gorm:"type:varchar(42);not null;uniqueIndex:idx_tokens_address_live,where:deleted_at IS NULL"`
	Name        string         `gorm:"type:varchar(100);not null"`
	Symbol      string         `gorm:"type:varchar(32);not null"`
	Decimals    uint8          `gorm:"not null"`
	TotalSupply string         `gorm:"type:numeric(78)"`
	Icon        string         `gorm:"type:text"`
	Creator     string         `gorm:"type:varchar(42);index"`
	UsedAt      *time.Time     `gorm:"index"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for Token.
func (Token) TableName() string {
	return "tokens"
}

// SyncStatus is the last scanned block per contract.
type SyncStatus struct {
	Contract        string    `gorm:"primaryKey;type:varchar(100)"`
	LastBlockNumber uint64    `gorm:"not null"`
	LastBlockHash   string    `gorm:"type:varchar(66)"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// Models lists every model for migration.
func Models() []interface{} {
	return []interface{}{&Presale{}, &Token{}, &SyncStatus{}}
}

// FromPresale converts a domain presale into a row.
func FromPresale(p *presale.Presale) *Presale {
	row := &Presale{
		PresaleAddress: p.PresaleAddress,
		ZTokenAddress:  p.ZTokenAddress,
		Token: TokenSnapshot{
			Address:     p.Token.Address,
			Name:        p.Token.Name,
			Symbol:      p.Token.Symbol,
			Decimals:    p.Token.Decimals,
			TotalSupply: zeroIfEmpty(p.Token.TotalSupply),
			Icon:        p.Token.Icon,
			Creator:     p.Token.Creator,
		},
		Creator:            p.Creator,
		Name:               p.Name,
		Description:        p.Description,
		Thumbnail:          p.Thumbnail,
		StartTime:          p.StartTime.UTC(),
		EndTime:            p.EndTime.UTC(),
		SoftCap:            p.SoftCap,
		HardCap:            p.HardCap,
		PresaleRate:        p.PresaleRate,
		TokensForSale:      zeroIfEmpty(p.TokensForSale),
		TokensForLiquidity: zeroIfEmpty(p.TokensForLiquidity),
		LiquidityPercent:   p.LiquidityPercent,
		Status:             uint8(p.Status),
		RaisedAmount:       zeroIfEmpty(p.RaisedAmount),
		TxHash:             p.TxHash,
		Social:             datatypes.NewJSONType(p.Social),
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          p.UpdatedAt.UTC(),
		ClosedAt:           p.ClosedAt,
	}
	if p.DeletedAt != nil {
		row.DeletedAt = gorm.DeletedAt{Time: *p.DeletedAt, Valid: true}
	}
	return row
}

// ToDomain converts a row into the domain presale.
func (r *Presale) ToDomain() *presale.Presale {
	p := &presale.Presale{
		PresaleAddress: r.PresaleAddress,
		ZTokenAddress:  r.ZTokenAddress,
		Token: presale.Token{
			Address:     r.Token.Address,
			Name:        r.Token.Name,
			Symbol:      r.Token.Symbol,
			Decimals:    r.Token.Decimals,
			TotalSupply: r.Token.TotalSupply,
			Icon:        r.Token.Icon,
			Creator:     r.Token.Creator,
		},
		Creator:            r.Creator,
		Name:               r.Name,
		Description:        r.Description,
		Thumbnail:          r.Thumbnail,
		StartTime:          r.StartTime.UTC(),
		EndTime:            r.EndTime.UTC(),
		SoftCap:            r.SoftCap,
		HardCap:            r.HardCap,
		PresaleRate:        r.PresaleRate,
		TokensForSale:      r.TokensForSale,
		TokensForLiquidity: r.TokensForLiquidity,
		LiquidityPercent:   r.LiquidityPercent,
		Status:             presale.OnchainState(r.Status),
		RaisedAmount:       r.RaisedAmount,
		TxHash:             r.TxHash,
		Social:             r.Social.Data(),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		ClosedAt:           utcPtr(r.ClosedAt),
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		p.DeletedAt = &t
	}
	return p
}

// FromToken converts a domain token into a row.
func FromToken(t *presale.Token) *Token {
	return &Token{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: zeroIfEmpty(t.TotalSupply),
		Icon:        t.Icon,
		Creator:     t.Creator,
		UsedAt:      t.UsedAt,
	}
}

// ToDomain converts a row into the domain token.
func (r *Token) ToDomain() *presale.Token {
	return &presale.Token{
		Address:     r.Address,
		Name:        r.Name,
		Symbol:      r.Symbol,
		Decimals:    r.Decimals,
		TotalSupply: r.TotalSupply,
		Icon:        r.Icon,
		Creator:     r.Creator,
		UsedAt:      utcPtr(r.UsedAt),
	}
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
