package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/vaultline/vaultline/model"
)

func deliveryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"delivery_id", "subscription_id", "event_id", "event_type", "payload", "status", "attempts",
		"max_attempts", "next_retry_at", "response_status", "last_error", "created_at",
	})
}

func TestCreateWebhookSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO webhook_subscriptions").
		WithArgs(sqlmock.AnyArg(), "https://example.com/hooks", "whsec_abc", pq.StringArray{"bid.placed"}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sub, err := ds.CreateWebhookSubscription(context.Background(), &model.WebhookSubscription{
		URL:        "https://example.com/hooks",
		Secret:     "whsec_abc",
		EventTypes: pq.StringArray{"bid.placed"},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, sub.SubscriptionID)
	assert.True(t, sub.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDeliveryRetry_SecondClaimLoses(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE webhook_deliveries SET status").
		WithArgs("whd1", model.DeliveryStatusPending, model.DeliveryStatusRetrying).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_deliveries SET status").
		WithArgs("whd1", model.DeliveryStatusPending, model.DeliveryStatusRetrying).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := ds.ClaimDeliveryRetry(context.Background(), "whd1")
	assert.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ds.ClaimDeliveryRetry(context.Background(), "whd1")
	assert.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeliveryFailure_SchedulesRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	status := 500
	nextRetry := time.Now().Add(2 * time.Second)
	mock.ExpectQuery("UPDATE webhook_deliveries").
		WithArgs("whd1", sqlmock.AnyArg(), "server error", nextRetry).
		WillReturnRows(deliveryRows().
			AddRow("whd1", "whk1", "evt1", "bid.placed", []byte(`{}`), model.DeliveryStatusRetrying, 1, 5, nextRetry, 500, "server error", time.Now()))

	delivery, err := ds.MarkDeliveryFailure(context.Background(), "whd1", &status, "server error", nextRetry)
	assert.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusRetrying, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	assert.False(t, delivery.Exhausted())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeliveryFailure_TerminalAtMaxAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	nextRetry := time.Now().Add(32 * time.Second)
	mock.ExpectQuery("UPDATE webhook_deliveries").
		WillReturnRows(deliveryRows().
			AddRow("whd1", "whk1", "evt1", "bid.placed", []byte(`{}`), model.DeliveryStatusFailed, 5, 5, nil, nil, "timeout", time.Now()))

	delivery, err := ds.MarkDeliveryFailure(context.Background(), "whd1", nil, "timeout", nextRetry)
	assert.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, delivery.Status)
	assert.True(t, delivery.Exhausted())
	assert.Nil(t, delivery.NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDueRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	due := time.Now().Add(-time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM webhook_deliveries").
		WillReturnRows(deliveryRows().
			AddRow("whd1", "whk1", "evt1", "transaction.paid", []byte(`{}`), model.DeliveryStatusRetrying, 2, 5, due, 503, "unavailable", time.Now()))

	deliveries, err := ds.GetDueRetries(context.Background(), time.Now(), 100)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, 2, deliveries[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
