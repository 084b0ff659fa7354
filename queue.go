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
	"log"

	"github.com/hibiken/asynq"

	"github.com/vaultline/vaultline/config"
	redis_db "github.com/vaultline/vaultline/internal/redis-db"
	"github.com/vaultline/vaultline/model"
)

// Queue hands webhook deliveries and notification fanout to the asynq
// workers so neither ever runs inside a request's critical transaction.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// WebhookDeliveryPayload is the task body for one delivery attempt. The
// worker reloads the delivery row by ID, so a stale task cannot resend a
// delivery that has since succeeded.
type WebhookDeliveryPayload struct {
	DeliveryID string `json:"delivery_id"`
}

// NotificationPayload carries a fully built notification to the worker.
type NotificationPayload struct {
	Notification model.Notification `json:"notification"`
}

// NewQueue initializes the asynq client and inspector from the configured
// Redis DSN.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueWebhookDelivery schedules a delivery attempt. The task ID is the
// delivery ID so a double enqueue of the same attempt deduplicates in Redis.
func (q *Queue) EnqueueWebhookDelivery(ctx context.Context, deliveryID string) error {
	ctx, span := tracer.Start(ctx, "Enqueueing webhook delivery")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(WebhookDeliveryPayload{DeliveryID: deliveryID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(deliveryID),
		asynq.Queue(cfg.Queue.WebhookQueue),
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// EnqueueNotification schedules in-app notification creation.
func (q *Queue) EnqueueNotification(ctx context.Context, notification *model.Notification) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(NotificationPayload{Notification: *notification})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.NotificationQueue)}
	task := asynq.NewTask(cfg.Queue.NotificationQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
