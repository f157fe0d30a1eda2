package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jamesacres/bubblyclouds-auth/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend keeps all artifacts in the models.Artifact table.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend wraps an already-migrated database.
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func (b *GormBackend) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	var row models.Artifact
	err := b.db.WithContext(ctx).Where("model_id = ?", modelID(kind, id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(kind, id, &row)
}

func (b *GormBackend) QueryIndex(ctx context.Context, kind Kind, index Index, value string) (*Record, error) {
	switch index {
	case IndexUID, IndexGrantID, IndexUserCode:
	default:
		return nil, fmt.Errorf("unknown index %q", index)
	}

	var row models.Artifact
	err := b.db.WithContext(ctx).
		Where(string(index)+" = ? AND kind = ?", value, string(kind)).
		Order("model_id").
		Limit(1).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id := row.ModelID[len(kind)+1:]
	return fromRow(kind, id, &row)
}

func (b *GormBackend) Put(ctx context.Context, rec *Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "payload", "uid", "grant_id", "user_code", "expires_at", "consumed", "updated_at",
		}),
	}).Create(row).Error
}

func (b *GormBackend) MarkConsumed(ctx context.Context, kind Kind, id string, at int64) error {
	res := b.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("model_id = ?", modelID(kind, id)).
		Update("consumed", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *GormBackend) MarkConsumedOnce(ctx context.Context, kind Kind, id string, at int64) error {
	key := modelID(kind, id)
	res := b.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("model_id = ? AND consumed IS NULL", key).
		Update("consumed", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := b.db.WithContext(ctx).Model(&models.Artifact{}).Where("model_id = ?", key).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyConsumed
}

func (b *GormBackend) Delete(ctx context.Context, kind Kind, id string) error {
	return b.db.WithContext(ctx).Where("model_id = ?", modelID(kind, id)).Delete(&models.Artifact{}).Error
}

func (b *GormBackend) GrantPage(ctx context.Context, grantID, cursor string, limit int) ([]string, string, error) {
	var keys []string
	err := b.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("grant_id = ? AND model_id > ?", grantID, cursor).
		Order("model_id").
		Limit(limit).
		Pluck("model_id", &keys).Error
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(keys) == limit {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

func (b *GormBackend) BatchDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.db.WithContext(ctx).Where("model_id IN ?", keys).Delete(&models.Artifact{}).Error
}

func (b *GormBackend) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res := b.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.Artifact{})
	return res.RowsAffected, res.Error
}

func toRow(rec *Record) (*models.Artifact, error) {
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", rec.Kind, err)
	}
	return &models.Artifact{
		ModelID:   rec.Key(),
		Kind:      string(rec.Kind),
		Payload:   string(raw),
		UID:       optString(rec.UID),
		GrantID:   optString(rec.GrantID),
		UserCode:  optString(rec.UserCode),
		ExpiresAt: optInt(rec.ExpiresAt),
		Consumed:  optInt(rec.Consumed),
	}, nil
}

func fromRow(kind Kind, id string, row *models.Artifact) (*Record, error) {
	rec := &Record{Kind: kind, ID: id}
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", row.ModelID, err)
		}
	}
	if rec.Payload == nil {
		rec.Payload = Payload{}
	}
	if row.UID != nil {
		rec.UID = *row.UID
	}
	if row.GrantID != nil {
		rec.GrantID = *row.GrantID
	}
	if row.UserCode != nil {
		rec.UserCode = *row.UserCode
	}
	if row.ExpiresAt != nil {
		rec.ExpiresAt = *row.ExpiresAt
	}
	if row.Consumed != nil {
		rec.Consumed = *row.Consumed
	}
	return rec, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}
