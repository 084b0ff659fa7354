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
	"go.opentelemetry.io/otel"

	"github.com/redis/go-redis/v9"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/database"
	redis_db "github.com/vaultline/vaultline/internal/redis-db"
)

var tracer = otel.Tracer("vaultline")

// Vaultline is the engine facade. Request handlers and sweep runners hold one
// instance; all authoritative state lives in the datasource.
type Vaultline struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	adapter    SettlementAdapter
}

// NewVaultline initializes the engine with the provided datasource. It
// fetches the configuration and wires the Redis client, task queue, and
// settlement adapter. A missing settlement URL leaves the adapter nil and
// the sweeps degrade to database-only resolution.
func NewVaultline(db database.IDataSource) (*Vaultline, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Vaultline{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		adapter:    NewSettlementAdapter(configuration),
	}, nil
}

// Datasource exposes the underlying store for read-only API handlers.
func (v *Vaultline) Datasource() database.IDataSource {
	return v.datasource
}

// QueueDepth reports the number of pending tasks in the named queue. A queue
// that has never seen a task does not exist in Redis yet; that reads as zero.
func (v *Vaultline) QueueDepth(queue string) int {
	info, err := v.queue.Inspector.GetQueueInfo(queue)
	if err != nil {
		return 0
	}
	return info.Pending
}
