package coins

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Coin is a row of the coins table.
type Coin struct {
	Symbol  string `gorm:"column:symbol;primaryKey"`
	Enabled bool   `gorm:"column:enabled;not null"`
}

// TableName implements gorm's tabler.
func (Coin) TableName() string {
	return "coins"
}

// Store reads the tradable coins from postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to postgres using dsn.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to coins database")
	}

	return New(db), nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the coins table when it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Coin{}); err != nil {
		return errors.Wrap(err, "migrate coins table")
	}
	return nil
}

// EnabledCoins returns the symbols of every enabled coin ordered by symbol.
func (s *Store) EnabledCoins(ctx context.Context) ([]string, error) {
	var rows []Coin
	if err := enabledQuery(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query enabled coins")
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, strings.ToUpper(r.Symbol))
	}
	return out, nil
}

// SetEnabled inserts the coin or updates its enabled flag.
func (s *Store) SetEnabled(ctx context.Context, symbol string, enabled bool) error {
	coin := Coin{Symbol: strings.ToUpper(symbol), Enabled: enabled}
	if err := upsertQuery(s.db.WithContext(ctx)).Create(&coin).Error; err != nil {
		return errors.Wrapf(err, "save coin %s", coin.Symbol)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func enabledQuery(db *gorm.DB) *gorm.DB {
	return db.Model(&Coin{}).Where("enabled = ?", true).Order("symbol")
}

// upsertQuery overwrites the enabled flag of an existing row. The column has no gorm default,
// otherwise a false flag would be replaced by the default on insert.
func upsertQuery(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	})
}
