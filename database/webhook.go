package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

const subscriptionColumns = `subscription_id, url, secret, event_types, active, consecutive_fails, COALESCE(last_status, ''), created_at`
const deliveryColumns = `delivery_id, subscription_id, event_id, event_type, payload, status, attempts, max_attempts, next_retry_at, response_status, COALESCE(last_error, ''), created_at`

func scanSubscription(row rowScanner) (*model.WebhookSubscription, error) {
	s := &model.WebhookSubscription{}
	err := row.Scan(&s.SubscriptionID, &s.URL, &s.Secret, &s.EventTypes, &s.Active, &s.ConsecutiveFails, &s.LastStatus, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Webhook subscription not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve webhook subscription: %v", err), err)
	}
	return s, nil
}

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	d := &model.WebhookDelivery{}
	err := row.Scan(&d.DeliveryID, &d.SubscriptionID, &d.EventID, &d.EventType, &d.Payload, &d.Status, &d.Attempts, &d.MaxAttempts, &d.NextRetryAt, &d.ResponseStatus, &d.LastError, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Webhook delivery not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve webhook delivery: %v", err), err)
	}
	return d, nil
}

func (d Datasource) CreateWebhookSubscription(ctx context.Context, s *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	s.SubscriptionID = model.GenerateUUIDWithSuffix("whk")
	s.CreatedAt = time.Now()
	s.Active = true

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (subscription_id, url, secret, event_types, active, consecutive_fails, created_at)
		VALUES ($1, $2, $3, $4, TRUE, 0, $5)
	`, s.SubscriptionID, s.URL, s.Secret, s.EventTypes, s.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook subscription", err)
	}
	return s, nil
}

func (d Datasource) GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhook_subscriptions WHERE subscription_id = $1
	`, subscriptionColumns), id)
	return scanSubscription(row)
}

func (d Datasource) GetActiveSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhook_subscriptions WHERE active ORDER BY created_at ASC
	`, subscriptionColumns))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook subscriptions", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhook subscriptions", err)
	}
	return subs, nil
}

func (d Datasource) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET active = $2 WHERE subscription_id = $1
	`, id, active)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook subscription", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Webhook subscription not found", nil)
	}
	return nil
}

// RecordSubscriptionResult keeps the subscription health fields current. A
// success resets the consecutive failure counter; a failure increments it.
func (d Datasource) RecordSubscriptionResult(ctx context.Context, id string, success bool, status string) error {
	var err error
	if success {
		_, err = d.Conn.ExecContext(ctx, `
			UPDATE webhook_subscriptions SET consecutive_fails = 0, last_status = $2 WHERE subscription_id = $1
		`, id, status)
	} else {
		_, err = d.Conn.ExecContext(ctx, `
			UPDATE webhook_subscriptions SET consecutive_fails = consecutive_fails + 1, last_status = $2 WHERE subscription_id = $1
		`, id, status)
	}
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record subscription result", err)
	}
	return nil
}

func (d Datasource) CreateWebhookDelivery(ctx context.Context, delivery *model.WebhookDelivery) (*model.WebhookDelivery, error) {
	delivery.DeliveryID = model.GenerateUUIDWithSuffix("whd")
	delivery.CreatedAt = time.Now()
	if delivery.Status == "" {
		delivery.Status = model.DeliveryStatusPending
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, subscription_id, event_id, event_type, payload, status, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
	`, delivery.DeliveryID, delivery.SubscriptionID, delivery.EventID, delivery.EventType, delivery.Payload, delivery.Status, delivery.MaxAttempts, delivery.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook delivery", err)
	}
	return delivery, nil
}

func (d Datasource) GetWebhookDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries WHERE delivery_id = $1
	`, deliveryColumns), id)
	return scanDelivery(row)
}

func (d Datasource) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhook_deliveries
		WHERE status = $1 AND next_retry_at < $2
		ORDER BY next_retry_at ASC
		LIMIT $3
	`, deliveryColumns), model.DeliveryStatusRetrying, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due webhook retries", err)
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over webhook deliveries", err)
	}
	return deliveries, nil
}

// ClaimDeliveryRetry flips a due delivery back to PENDING so exactly one
// retry-sweep run attempts it.
func (d Datasource) ClaimDeliveryRetry(ctx context.Context, deliveryID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = $2
		WHERE delivery_id = $1 AND status = $3
	`, deliveryID, model.DeliveryStatusPending, model.DeliveryStatusRetrying)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim webhook retry", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

func (d Datasource) MarkDeliverySuccess(ctx context.Context, deliveryID string, responseStatus int) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, response_status = $3, next_retry_at = NULL, last_error = NULL
		WHERE delivery_id = $1 AND status NOT IN ($4, $5)
	`, deliveryID, model.DeliveryStatusSuccess, responseStatus, model.DeliveryStatusSuccess, model.DeliveryStatusFailed)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook delivery successful", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// MarkDeliveryFailure bumps the attempt counter and, in the same statement,
// decides between RETRYING and terminal FAILED so two racing workers cannot
// disagree on which attempt was the last.
func (d Datasource) MarkDeliveryFailure(ctx context.Context, deliveryID string, responseStatus *int, lastError string, nextRetryAt time.Time) (*model.WebhookDelivery, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE webhook_deliveries
		SET attempts = attempts + 1,
			response_status = $2,
			last_error = $3,
			status = CASE WHEN attempts + 1 >= max_attempts THEN '%s' ELSE '%s' END,
			next_retry_at = CASE WHEN attempts + 1 >= max_attempts THEN NULL ELSE $4 END
		WHERE delivery_id = $1 AND status NOT IN ('%s', '%s')
		RETURNING %s
	`, model.DeliveryStatusFailed, model.DeliveryStatusRetrying, model.DeliveryStatusSuccess, model.DeliveryStatusFailed, deliveryColumns),
		deliveryID, responseStatus, lastError, nextRetryAt)
	return scanDelivery(row)
}
