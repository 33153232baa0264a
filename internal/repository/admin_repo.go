package repository

import (
	"context"
	"fmt"

	"jobnotify/pkg/otel"
)

const isAdminQuery = `SELECT EXISTS (SELECT 1 FROM admin_users WHERE user_id = $1)`

// AdminRepository 管理员白名单表
type AdminRepository struct {
	db DBTX
}

func NewAdminRepository(db DBTX) *AdminRepository {
	return &AdminRepository{db: db}
}

// IsAdmin 判断用户是否在 admin_users 表中
func (r *AdminRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := otel.DB(ctx, "is_admin", isAdminQuery, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, isAdminQuery, userID).Scan(&ok)
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up admin %s: %w", userID, err)
	}
	return ok, nil
}
