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
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/model"
)

// dispatch fans an event out to webhook subscribers and queues in-app
// notifications. It always runs after the critical transaction has
// committed and never returns an error to the caller: a lost event is
// recoverable by the retry sweep, a rolled-back state change is not.
func (v *Vaultline) dispatch(ctx context.Context, event model.Event, notifications ...*model.Notification) {
	ctx, span := tracer.Start(ctx, "Dispatching event")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("dispatch %s: %v", event.Type, err)
		return
	}

	payload, err := event.MarshalPayload()
	if err != nil {
		logrus.Errorf("dispatch %s: %v", event.Type, err)
		return
	}

	subscriptions, err := v.datasource.GetActiveSubscriptions(ctx)
	if err != nil {
		logrus.Errorf("dispatch %s: %v", event.Type, err)
	}
	for _, subscription := range subscriptions {
		if !subscription.WantsEvent(event.Type) {
			continue
		}
		delivery, err := v.datasource.CreateWebhookDelivery(ctx, &model.WebhookDelivery{
			SubscriptionID: subscription.SubscriptionID,
			EventID:        event.ID,
			EventType:      event.Type,
			Payload:        payload,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
		})
		if err != nil {
			logrus.Errorf("dispatch %s: creating delivery for %s: %v", event.Type, subscription.SubscriptionID, err)
			continue
		}
		if err := v.queue.EnqueueWebhookDelivery(ctx, delivery.DeliveryID); err != nil {
			logrus.Errorf("dispatch %s: enqueueing delivery %s: %v", event.Type, delivery.DeliveryID, err)
		}
	}

	for _, n := range notifications {
		n.Type = event.Type
		if n.Data == nil {
			if data, err := json.Marshal(event.Data); err == nil {
				n.Data = data
			}
		}
		if err := v.queue.EnqueueNotification(ctx, n); err != nil {
			logrus.Errorf("dispatch %s: enqueueing notification for %s: %v", event.Type, n.UserID, err)
		}
	}
}
