package repository

import (
	"context"

	"wg-sso-gateway/controlplane/internal/model"
)

func (r *GormRepository) CreateLoginRecord(ctx context.Context, rec *model.LoginRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *GormRepository) GetLoginRecord(ctx context.Context, id string) (model.LoginRecord, error) {
	var rec model.LoginRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return model.LoginRecord{}, mapErr(err)
	}
	return rec, nil
}

func (r *GormRepository) ListLoginRecords(ctx context.Context, limit int) ([]model.LoginRecord, error) {
	var out []model.LoginRecord
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) ListLoginRecordsByEmail(ctx context.Context, email string, limit int) ([]model.LoginRecord, error) {
	var out []model.LoginRecord
	query := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
