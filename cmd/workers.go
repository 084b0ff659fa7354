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

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vaultline/vaultline"
	"github.com/vaultline/vaultline/config"
	redis_db "github.com/vaultline/vaultline/internal/redis-db"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.NotificationQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(app *appInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, app.vaultline.ProcessWebhookDelivery)
	mux.HandleFunc(cfg.Queue.NotificationQueue, app.vaultline.ProcessNotification)
}

// runSweepLoop runs every deadline sweep on a fixed interval. The sweeps
// claim records before acting, so this loop can coexist with an external
// timer hitting the /sweeps endpoints.
func runSweepLoop(ctx context.Context, app *appInstance, interval time.Duration) {
	names := []string{
		vaultline.SweepBuyerInfo,
		vaultline.SweepTransferDeadline,
		vaultline.SweepAutoRelease,
		vaultline.SweepWithdrawalExpiry,
		vaultline.SweepOfferExpiry,
		vaultline.SweepPartnerDeposit,
		vaultline.SweepWebhookRetry,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range names {
				summary, err := app.vaultline.RunSweep(ctx, name)
				if err != nil {
					logrus.Errorf("sweep %s failed: %v", name, err)
					continue
				}
				if summary.Processed > 0 {
					logrus.Infof("sweep %s: processed %d, succeeded %d, failed %d",
						name, summary.Processed, summary.Succeeded, summary.Failed)
				}
			}
		}
	}
}

// workerCommands defines the "workers" command. The workers consume the
// webhook and notification queues and, when enabled, run the deadline sweeps
// on an internal schedule.
func workerCommands(app *appInstance) *cobra.Command {
	var sweepInterval time.Duration
	var enableSweeps bool

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start vaultline workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			if enableSweeps {
				go runSweepLoop(ctx, app, sweepInterval)
			}

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	cmd.Flags().BoolVar(&enableSweeps, "sweeps", true, "run the deadline sweeps on an internal schedule")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "interval between sweep runs")

	return cmd
}
