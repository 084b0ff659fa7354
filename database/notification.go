package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

func (d Datasource) CreateNotification(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	n.NotificationID = model.GenerateUUIDWithSuffix("ntf")
	n.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO notifications (notification_id, user_id, type, title, message, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, n.NotificationID, n.UserID, n.Type, n.Title, n.Message, []byte(n.Data), n.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create notification", err)
	}
	return n, nil
}

func (d Datasource) GetNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT notification_id, user_id, type, title, message, COALESCE(data, 'null'), read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve notifications", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var data []byte
		err = rows.Scan(&n.NotificationID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan notification data", err)
		}
		n.Data = data
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over notifications", err)
	}
	return notifications, nil
}

func (d Datasource) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE notification_id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification read", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// GetUserStats returns zeroed stats rather than a not-found error for users
// who have never completed a purchase or sale.
func (d Datasource) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT user_id, purchase_count, sale_count, purchase_volume, sale_volume
		FROM user_stats
		WHERE user_id = $1
	`, userID)

	stats := &model.UserStats{}
	err := row.Scan(&stats.UserID, &stats.PurchaseCount, &stats.SaleCount, &stats.PurchaseVolume, &stats.SaleVolume)
	if err != nil {
		if err == sql.ErrNoRows {
			return &model.UserStats{UserID: userID}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve user stats: %v", err), err)
	}
	return stats, nil
}
