// Package store implements the presale index on PostgreSQL through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/presale"
	models "github.com/0xredeth/launchpad/pkg/store"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config holds database connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// DefaultConfig returns the default pool settings.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// Store is a PostgreSQL-backed index.Index.
type Store struct {
	db *gorm.DB
}

var _ index.Index = (*Store)(nil)

// New opens a connection pool.
//
// Parameters:
//   - cfg (Config): connection settings
//
// Returns:
//   - *Store: the store
//   - error: nil on success, connection error otherwise
func New(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{db: db}, nil
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the given tables. With no arguments every
// launchpad model is migrated.
func (s *Store) Migrate(dst ...interface{}) error {
	if len(dst) == 0 {
		dst = models.Models()
	}
	if err := s.db.AutoMigrate(dst...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertPresale stores p. Live uniqueness is enforced by partial indexes.
func (s *Store) InsertPresale(ctx context.Context, p *presale.Presale) error {
	rec := *p
	rec.Canonicalize()
	row := models.FromPresale(&rec)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return mapError(err)
	}
	return nil
}

// FindPresale returns the live presale at address.
func (s *Store) FindPresale(ctx context.Context, address string) (*presale.Presale, error) {
	var row models.Presale
	err := s.db.WithContext(ctx).
		Where("presale_address = ?", presale.NormalizeAddress(address)).
		First(&row).Error
	if err != nil {
		return nil, mapError(err)
	}
	return row.ToDomain(), nil
}

// FindPresaleByToken returns the live presale selling token.
func (s *Store) FindPresaleByToken(ctx context.Context, token string) (*presale.Presale, error) {
	var row models.Presale
	err := s.db.WithContext(ctx).
		Where("token_address = ?", presale.NormalizeAddress(token)).
		First(&row).Error
	if err != nil {
		return nil, mapError(err)
	}
	return row.ToDomain(), nil
}

// UpdatePresale applies patch under a row lock and returns the result.
func (s *Store) UpdatePresale(ctx context.Context, address string, patch index.Patch, now time.Time) (*presale.Presale, error) {
	addr := presale.NormalizeAddress(address)
	var out *presale.Presale

	err := s.Transaction(ctx, func(tx *gorm.DB) error {
		var row models.Presale
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("presale_address = ?", addr).
			First(&row).Error; err != nil {
			return err
		}

		if err := tx.Model(&row).Updates(patchColumns(patch, now)).Error; err != nil {
			return err
		}

		if err := tx.Where("id = ?", row.ID).First(&row).Error; err != nil {
			return err
		}
		out = row.ToDomain()
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// patchColumns turns a patch into a column map. Maps are used so zero
// values and NULL are written.
func patchColumns(p index.Patch, now time.Time) map[string]interface{} {
	cols := map[string]interface{}{"updated_at": now.UTC()}
	if p.Status != nil {
		cols["status"] = uint8(*p.Status)
	}
	if p.ClearClosedAt {
		cols["closed_at"] = nil
	} else if p.ClosedAt != nil {
		cols["closed_at"] = p.ClosedAt.UTC()
	}
	if p.EndTime != nil {
		cols["end_time"] = p.EndTime.UTC()
	}
	if p.RaisedAmount != nil {
		cols["raised_amount"] = *p.RaisedAmount
	}
	return cols
}

// ListPresales returns live presales matching the stored-field filter.
func (s *Store) ListPresales(ctx context.Context, filter *presale.Filter) ([]presale.Presale, error) {
	var rows []models.Presale
	err := applyFilter(s.db.WithContext(ctx), filter).
		Order("created_at DESC").
		Order("presale_address ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]presale.Presale, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

func applyFilter(db *gorm.DB, f *presale.Filter) *gorm.DB {
	if f == nil {
		return db
	}
	if f.Creator != "" {
		db = db.Where("creator = ?", f.Creator)
	}
	if f.Token != "" {
		db = db.Where("token_address = ?", f.Token)
	}
	if f.CreatedFrom != nil {
		db = db.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		db = db.Where("created_at <= ?", f.CreatedTo.UTC())
	}
	if len(f.OnchainStatuses) > 0 {
		states := make([]uint8, 0, len(f.OnchainStatuses))
		for _, st := range f.OnchainStatuses {
			states = append(states, uint8(st))
		}
		db = db.Where("status IN ?", states)
	}
	return db
}

// SoftDeletePresale marks the live presale at address deleted.
func (s *Store) SoftDeletePresale(ctx context.Context, address string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Presale{}).
		Where("presale_address = ?", presale.NormalizeAddress(address)).
		Update("deleted_at", at.UTC())
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return index.ErrNotFound
	}
	return nil
}

// InsertToken registers t.
func (s *Store) InsertToken(ctx context.Context, t *presale.Token) error {
	rec := *t
	rec.Canonicalize()
	if err := s.db.WithContext(ctx).Create(models.FromToken(&rec)).Error; err != nil {
		return mapError(err)
	}
	return nil
}

// FindToken returns the registered token at address.
func (s *Store) FindToken(ctx context.Context, address string) (*presale.Token, error) {
	var row models.Token
	err := s.db.WithContext(ctx).
		Where("address = ?", presale.NormalizeAddress(address)).
		First(&row).Error
	if err != nil {
		return nil, mapError(err)
	}
	return row.ToDomain(), nil
}

// ListTokens returns tokens matching q in registration order.
func (s *Store) ListTokens(ctx context.Context, q index.TokenQuery) ([]presale.Token, error) {
	db := s.db.WithContext(ctx)
	if q.Creator != "" {
		db = db.Where("creator = ?", presale.NormalizeAddress(q.Creator))
	}
	if q.Available {
		db = db.Where("used_at IS NULL")
	}

	var rows []models.Token
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]presale.Token, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// MarkTokenUsed stamps usedAt on the token at address.
func (s *Store) MarkTokenUsed(ctx context.Context, address string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("address = ?", presale.NormalizeAddress(address)).
		Update("used_at", at.UTC())
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return index.ErrNotFound
	}
	return nil
}

// LastBlock returns the last scanned block recorded for contract.
func (s *Store) LastBlock(ctx context.Context, contract string) (uint64, bool, error) {
	var st models.SyncStatus
	err := s.db.WithContext(ctx).Where("contract = ?", contract).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError(err)
	}
	return st.LastBlockNumber, true, nil
}

// SaveBlock records the last scanned block for contract.
func (s *Store) SaveBlock(ctx context.Context, contract string, number uint64, hash string) error {
	st := models.SyncStatus{Contract: contract, LastBlockNumber: number, LastBlockHash: hash}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block_number", "last_block_hash", "updated_at"}),
	}).Create(&st).Error
	return mapError(err)
}

// mapError converts driver errors into index errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return index.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", index.ErrDuplicateKey, err)
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", index.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}
