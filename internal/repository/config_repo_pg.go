package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farmgate/internal/model"
)

type pgConfigRepository struct {
	db *gorm.DB
}

func NewPGConfigRepository(db *gorm.DB) ConfigRepository {
	return &pgConfigRepository{db: db}
}

func (r *pgConfigRepository) List(ctx context.Context) ([]model.ConfigRecord, error) {
	var records []model.ConfigRecord
	if err := r.db.WithContext(ctx).Order("config_type").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *pgConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConfigRecord, error) {
	var record model.ConfigRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *pgConfigRepository) Put(ctx context.Context, configType string, payload []byte) (*model.ConfigRecord, error) {
	record := model.ConfigRecord{ConfigType: configType, Payload: model.RawJSON(payload)}
	err := r.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		},
		clause.Returning{},
	).Create(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *pgConfigRepository) Delete(ctx context.Context, configType string) error {
	res := r.db.WithContext(ctx).Where("config_type = ?", configType).Delete(&model.ConfigRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
