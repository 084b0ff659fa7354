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
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vaultline/vaultline/model"
)

func TestSignPayload(t *testing.T) {
	payload := []byte(`{"event":"transaction.completed"}`)

	first := SignPayload("whsec_test", payload)
	second := SignPayload("whsec_test", payload)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	assert.NotEqual(t, first, SignPayload("whsec_other", payload))
	assert.NotEqual(t, first, SignPayload("whsec_test", []byte(`{"event":"tampered"}`)))
}

func pendingDelivery() *model.WebhookDelivery {
	return &model.WebhookDelivery{
		DeliveryID:     "whd1",
		SubscriptionID: "whk1",
		EventID:        "evt1",
		EventType:      model.EventTransactionCompleted,
		Payload:        []byte(`{"event":"transaction.completed","data":{}}`),
		Status:         model.DeliveryStatusPending,
		Attempts:       0,
		MaxAttempts:    5,
	}
}

func testSubscription() *model.WebhookSubscription {
	return &model.WebhookSubscription{
		SubscriptionID: "whk1",
		URL:            "https://hooks.example.com/vaultline",
		Secret:         "whsec_test",
		Active:         true,
	}
}

func TestAttemptDelivery_SignsAndMarksSuccess(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	delivery := pendingDelivery()
	subscription := testSubscription()

	var gotSignature, gotTimestamp string
	httpmock.RegisterResponder("POST", subscription.URL,
		func(req *http.Request) (*http.Response, error) {
			gotSignature = req.Header.Get("X-Webhook-Signature")
			gotTimestamp = req.Header.Get("X-Webhook-Timestamp")
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	mockDS.On("GetWebhookDelivery", mock.Anything, "whd1").Return(delivery, nil)
	mockDS.On("GetWebhookSubscription", mock.Anything, "whk1").Return(subscription, nil)
	mockDS.On("MarkDeliverySuccess", mock.Anything, "whd1", http.StatusOK).Return(true, nil)
	mockDS.On("RecordSubscriptionResult", mock.Anything, "whk1", true, "200").Return(nil)

	err := v.attemptDelivery(context.Background(), "whd1")
	assert.NoError(t, err)
	assert.Equal(t, SignPayload(subscription.Secret, delivery.Payload), gotSignature)
	assert.NotEmpty(t, gotTimestamp)
	mockDS.AssertNotCalled(t, "MarkDeliveryFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAttemptDelivery_FailureSchedulesRetry(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	delivery := pendingDelivery()
	subscription := testSubscription()

	httpmock.RegisterResponder("POST", subscription.URL,
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	retrying := pendingDelivery()
	retrying.Status = model.DeliveryStatusRetrying
	retrying.Attempts = 1

	mockDS.On("GetWebhookDelivery", mock.Anything, "whd1").Return(delivery, nil)
	mockDS.On("GetWebhookSubscription", mock.Anything, "whk1").Return(subscription, nil)
	mockDS.On("MarkDeliveryFailure", mock.Anything, "whd1", mock.MatchedBy(func(status *int) bool {
		return status != nil && *status == http.StatusBadGateway
	}), "status 502", mock.MatchedBy(func(at time.Time) bool {
		return at.After(time.Now())
	})).Return(retrying, nil)
	mockDS.On("RecordSubscriptionResult", mock.Anything, "whk1", false, "status 502").Return(nil)

	err := v.attemptDelivery(context.Background(), "whd1")
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "MarkDeliverySuccess", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttemptDelivery_TransportErrorOmitsResponseStatus(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	delivery := pendingDelivery()
	subscription := testSubscription()

	httpmock.RegisterResponder("POST", subscription.URL,
		httpmock.NewErrorResponder(assert.AnError))

	retrying := pendingDelivery()
	retrying.Status = model.DeliveryStatusRetrying
	retrying.Attempts = 1

	mockDS.On("GetWebhookDelivery", mock.Anything, "whd1").Return(delivery, nil)
	mockDS.On("GetWebhookSubscription", mock.Anything, "whk1").Return(subscription, nil)
	mockDS.On("MarkDeliveryFailure", mock.Anything, "whd1", mock.MatchedBy(func(status *int) bool {
		return status == nil
	}), mock.Anything, mock.Anything).Return(retrying, nil)
	mockDS.On("RecordSubscriptionResult", mock.Anything, "whk1", false, mock.Anything).Return(nil)

	err := v.attemptDelivery(context.Background(), "whd1")
	assert.NoError(t, err)
}

func TestAttemptDelivery_TerminalDeliveryIsNoOp(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	delivery := pendingDelivery()
	delivery.Status = model.DeliveryStatusSuccess
	mockDS.On("GetWebhookDelivery", mock.Anything, "whd1").Return(delivery, nil)

	err := v.attemptDelivery(context.Background(), "whd1")
	assert.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
	mockDS.AssertNotCalled(t, "GetWebhookSubscription", mock.Anything, mock.Anything)
}
