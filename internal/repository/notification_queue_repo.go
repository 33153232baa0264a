package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"jobnotify/internal/model"
	"jobnotify/pkg/otel"
)

const (
	fetchQueueQuery = `
		SELECT log_id,
		       COALESCE(recipient_email, ''),
		       COALESCE(category_name, ''),
		       COALESCE(job_id::text, ''),
		       COALESCE(job_title, ''),
		       COALESCE(job_location, ''),
		       COALESCE(listing_type, ''),
		       COALESCE(description_preview, '')
		FROM get_job_notifications_queue($1)
	`

	// 在扫描窗口内按队列顺序认领最多 $3 行；已被认领（未超过 TTL）或被并发事务锁住的行跳过
	claimQuery = `
		UPDATE job_notification_log
		SET claimed_at = NOW()
		WHERE id IN (
			SELECT id
			FROM job_notification_log
			WHERE id = ANY($1)
			  AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY array_position($1::bigint[], id)
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`

	markStatusQuery = `SELECT mark_job_notification_sent($1, $2, $3)`
)

// ClaimOptions 队列认领配置
type ClaimOptions struct {
	Enabled bool
	TTL     time.Duration
	// ScanFactor 认领时读取 limit*ScanFactor 行作为候选，
	// 队首被其他 dispatch 占住时仍能认领到后面的行
	ScanFactor int
	// MaxScan 候选窗口上限
	MaxScan int
}

// NotificationQueueRepository 读取待发送队列并写回投递状态
type NotificationQueueRepository struct {
	db     DBTX
	claim  ClaimOptions
	logger *zap.Logger
}

func NewNotificationQueueRepository(db DBTX, claim ClaimOptions, logger *zap.Logger) *NotificationQueueRepository {
	if claim.TTL <= 0 {
		claim.TTL = 10 * time.Minute
	}
	if claim.ScanFactor <= 0 {
		claim.ScanFactor = 4
	}
	if claim.MaxScan <= 0 {
		claim.MaxScan = 1000
	}
	return &NotificationQueueRepository{
		db:     db,
		claim:  claim,
		logger: logger,
	}
}

// FetchQueue 返回最多 limit 条待发送行；没有待发送时返回空切片
// 开启认领时，从更宽的候选窗口中按队列顺序认领最多 limit 行，已被其他调用认领的行会被跳过
func (r *NotificationQueueRepository) FetchQueue(ctx context.Context, limit int) ([]model.QueueRow, error) {
	if !r.claim.Enabled {
		var rows []model.QueueRow
		err := otel.DB(ctx, "get_job_notifications_queue", fetchQueueQuery, func(ctx context.Context) error {
			var err error
			rows, err = r.queryQueue(ctx, r.db, limit)
			return err
		})
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin queue transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var pending []model.QueueRow
	err = otel.DB(ctx, "get_job_notifications_queue", fetchQueueQuery, func(ctx context.Context) error {
		pending, err = r.queryQueue(ctx, tx, r.scanWindow(limit))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return []model.QueueRow{}, nil
	}

	claimed, err := r.claimRows(ctx, tx, pending, limit)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit queue claim: %w", err)
	}

	out := make([]model.QueueRow, 0, len(claimed))
	for _, row := range pending {
		if len(out) == limit {
			break
		}
		if _, ok := claimed[row.LogID]; ok {
			out = append(out, row)
		}
	}

	if held := len(pending) - len(claimed); held > 0 {
		r.logger.Debug("Rows held by another dispatch were skipped",
			zap.Int("candidates", len(pending)),
			zap.Int("claimed", len(out)),
		)
	}
	return out, nil
}

// scanWindow 认领模式下的候选行数
func (r *NotificationQueueRepository) scanWindow(limit int) int {
	window := limit * r.claim.ScanFactor
	if window > r.claim.MaxScan {
		window = r.claim.MaxScan
	}
	if window < limit {
		window = limit
	}
	return window
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *NotificationQueueRepository) queryQueue(ctx context.Context, q querier, limit int) ([]model.QueueRow, error) {
	rows, err := q.Query(ctx, fetchQueueQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification queue: %w", err)
	}
	defer rows.Close()

	out := []model.QueueRow{}
	for rows.Next() {
		var row model.QueueRow
		if err := rows.Scan(
			&row.LogID,
			&row.RecipientEmail,
			&row.CategoryName,
			&row.JobID,
			&row.JobTitle,
			&row.JobLocation,
			&row.ListingType,
			&row.DescriptionPreview,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notification queue: %w", err)
	}
	return out, nil
}

func (r *NotificationQueueRepository) claimRows(ctx context.Context, tx pgx.Tx, pending []model.QueueRow, limit int) (map[int64]struct{}, error) {
	ids := make([]int64, 0, len(pending))
	for _, row := range pending {
		ids = append(ids, row.LogID)
	}

	claimed := make(map[int64]struct{}, len(ids))
	err := otel.DB(ctx, "claim_job_notifications", claimQuery, func(ctx context.Context) error {
		rows, err := tx.Query(ctx, claimQuery, ids, r.claim.TTL.Seconds(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			claimed[id] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim notification rows: %w", err)
	}
	return claimed, nil
}

// MarkStatus 写回单行终态；messageID 为空时写 NULL
func (r *NotificationQueueRepository) MarkStatus(ctx context.Context, logID int64, status model.Status, messageID string) error {
	messageIDArg := pgtype.Text{String: messageID, Valid: messageID != ""}

	err := otel.DB(ctx, "mark_job_notification_sent", markStatusQuery, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, markStatusQuery, logID, string(status), messageIDArg)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification %d as %s: %w", logID, status, err)
	}
	return nil
}
