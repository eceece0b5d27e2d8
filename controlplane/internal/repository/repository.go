package repository

import (
	"context"
	"errors"

	"wg-sso-gateway/controlplane/internal/model"
)

var ErrNotFound = errors.New("not found")

// Repository stores the login audit log.
type Repository interface {
	CreateLoginRecord(ctx context.Context, rec *model.LoginRecord) error
	GetLoginRecord(ctx context.Context, id string) (model.LoginRecord, error)
	ListLoginRecords(ctx context.Context, limit int) ([]model.LoginRecord, error)
	ListLoginRecordsByEmail(ctx context.Context, email string, limit int) ([]model.LoginRecord, error)
}
