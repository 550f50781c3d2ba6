package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryModel is one row of the kv_entries table.
type EntryModel struct {
	Key       string         `gorm:"primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	ExpiresAt *time.Time     `gorm:"index"`
	UpdatedAt time.Time
}

func (EntryModel) TableName() string { return "kv_entries" }

// GormBackend stores entries in a SQL table.
type GormBackend struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates kv_entries.
func OpenPostgres(dsn string) (*GormBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormBackend(db)
}

// NewGormBackend migrates kv_entries on db.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormBackend{db: db}, nil
}

func (g *GormBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row EntryModel
	err := g.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if row.ExpiresAt != nil && time.Now().After(*row.ExpiresAt) {
		return nil, false, g.Delete(ctx, key)
	}
	return []byte(row.Value), true, nil
}

func (g *GormBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	row := EntryModel{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now().UTC()}
	if ttl > 0 {
		exp := time.Now().Add(ttl).UTC()
		row.ExpiresAt = &exp
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

func (g *GormBackend) Delete(ctx context.Context, key string) error {
	return g.db.WithContext(ctx).Delete(&EntryModel{}, "key = ?", key).Error
}

// PurgeExpired removes rows whose expiry has passed.
func (g *GormBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).Delete(&EntryModel{})
	return res.RowsAffected, res.Error
}
