/*
Copyright 2025 Vaultline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vaultline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/internal/backoff"
	"github.com/vaultline/vaultline/internal/notification"
	"github.com/vaultline/vaultline/model"
)

// SignPayload computes the hex HMAC-SHA256 signature sent in the
// X-Webhook-Signature header. The HMAC covers the exact payload bytes as
// stored on the delivery row, so receivers can verify against the raw body.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ProcessWebhookDelivery is the asynq handler for one delivery attempt. It
// reloads the delivery row so tasks that outlived their delivery (already
// succeeded, already failed terminally) become no-ops.
func (v *Vaultline) ProcessWebhookDelivery(ctx context.Context, task *asynq.Task) error {
	var payload WebhookDeliveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	return v.attemptDelivery(ctx, payload.DeliveryID)
}

func (v *Vaultline) attemptDelivery(ctx context.Context, deliveryID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	delivery, err := v.datasource.GetWebhookDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status == model.DeliveryStatusSuccess || delivery.Status == model.DeliveryStatusFailed {
		return nil
	}

	subscription, err := v.datasource.GetWebhookSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		return err
	}

	status, deliverErr := postWebhook(ctx, subscription, delivery, time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
	if deliverErr == nil && status >= 200 && status < 300 {
		if _, err := v.datasource.MarkDeliverySuccess(ctx, delivery.DeliveryID, status); err != nil {
			return err
		}
		return v.datasource.RecordSubscriptionResult(ctx, subscription.SubscriptionID, true, strconv.Itoa(status))
	}

	lastError := fmt.Sprintf("status %d", status)
	var responseStatus *int
	if deliverErr != nil {
		lastError = deliverErr.Error()
	} else {
		responseStatus = &status
	}

	nextRetryAt := time.Now().Add(backoff.NextRetryDelay(delivery.Attempts + 1))
	updated, err := v.datasource.MarkDeliveryFailure(ctx, delivery.DeliveryID, responseStatus, lastError, nextRetryAt)
	if err != nil {
		return err
	}
	if err := v.datasource.RecordSubscriptionResult(ctx, subscription.SubscriptionID, false, lastError); err != nil {
		return err
	}
	if updated.Status == model.DeliveryStatusFailed {
		logrus.Warnf("webhook delivery %s to %s failed permanently after %d attempts", updated.DeliveryID, subscription.URL, updated.Attempts)
		notification.NotifyError(fmt.Errorf("webhook delivery %s exhausted its retries for subscription %s", updated.DeliveryID, subscription.SubscriptionID))
	}
	return nil
}

// postWebhook performs one signed HTTP POST. A non-nil error means the
// request never completed (transport failure or timeout); a status code is
// returned otherwise, 2xx or not.
func postWebhook(ctx context.Context, subscription *model.WebhookSubscription, delivery *model.WebhookDelivery, timeout time.Duration) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, subscription.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", SignPayload(subscription.Secret, delivery.Payload))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	return resp.StatusCode, nil
}

// ProcessNotification is the asynq handler that persists an in-app
// notification. Creation is best-effort by design; a failure here never
// touches the state change that produced the event.
func (v *Vaultline) ProcessNotification(ctx context.Context, task *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	if _, err := v.datasource.CreateNotification(ctx, &payload.Notification); err != nil {
		return err
	}
	return nil
}
