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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5100"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"VAULTLINE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"VAULTLINE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"VAULTLINE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"VAULTLINE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"VAULTLINE_REDIS_DNS"`
}

// MarketplaceConfig holds the money-policy tunables. FeeRate is a decimal
// fraction in [0,1), e.g. "0.05" for a 5% platform fee.
type MarketplaceConfig struct {
	FeeRate  string `json:"fee_rate" envconfig:"VAULTLINE_FEE_RATE"`
	Currency string `json:"currency" envconfig:"VAULTLINE_CURRENCY"`
}

// DeadlineConfig collects every enforcement window consumed by the sweeps.
// All windows are read once at process start; no handler reads the
// environment mid-operation.
type DeadlineConfig struct {
	BuyerInfoHours       int    `json:"buyer_info_hours" envconfig:"VAULTLINE_DEADLINE_BUYER_INFO_HOURS"`
	SellerTransferDays   int    `json:"seller_transfer_days" envconfig:"VAULTLINE_DEADLINE_SELLER_TRANSFER_DAYS"`
	AutoReleaseDays      int    `json:"auto_release_days" envconfig:"VAULTLINE_DEADLINE_AUTO_RELEASE_DAYS"`
	WithdrawalExpiryDays int    `json:"withdrawal_expiry_days" envconfig:"VAULTLINE_DEADLINE_WITHDRAWAL_EXPIRY_DAYS"`
	OfferReservationMins int    `json:"offer_reservation_mins" envconfig:"VAULTLINE_DEADLINE_OFFER_RESERVATION_MINS"`
	PartnerDepositMins   int    `json:"partner_deposit_mins" envconfig:"VAULTLINE_DEADLINE_PARTNER_DEPOSIT_MINS"`
	SweepRetryGraceHours int    `json:"sweep_retry_grace_hours" envconfig:"VAULTLINE_SWEEP_RETRY_GRACE_HOURS"`
	SweepBatchSize       int    `json:"sweep_batch_size" envconfig:"VAULTLINE_SWEEP_BATCH_SIZE"`
	SweepBudgetSeconds   int    `json:"sweep_budget_seconds" envconfig:"VAULTLINE_SWEEP_BUDGET_SECONDS"`
	SweepSecret          string `json:"sweep_secret" envconfig:"VAULTLINE_SWEEP_SECRET"`
}

// SettlementConfig points at the on-chain payment rail wrapper. When Url is
// empty the engine degrades to database-only sweep resolution and flags
// records for manual follow-up.
type SettlementConfig struct {
	Url            string `json:"url" envconfig:"VAULTLINE_SETTLEMENT_URL"`
	ApiKey         string `json:"api_key" envconfig:"VAULTLINE_SETTLEMENT_API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"VAULTLINE_SETTLEMENT_TIMEOUT_SECONDS"`
}

type WebhookConfig struct {
	MaxAttempts    int `json:"max_attempts" envconfig:"VAULTLINE_WEBHOOK_MAX_ATTEMPTS"`
	TimeoutSeconds int `json:"timeout_seconds" envconfig:"VAULTLINE_WEBHOOK_TIMEOUT_SECONDS"`
}

type QueueConfig struct {
	WebhookQueue      string `json:"webhook_queue" envconfig:"VAULTLINE_QUEUE_WEBHOOK"`
	NotificationQueue string `json:"notification_queue" envconfig:"VAULTLINE_QUEUE_NOTIFICATION"`
}

// RateLimitConfig enables request rate limiting when both RequestsPerSecond
// and Burst are set. Leaving either nil disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"VAULTLINE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"VAULTLINE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"VAULTLINE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"VAULTLINE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"VAULTLINE_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	Marketplace  MarketplaceConfig `json:"marketplace"`
	Deadlines    DeadlineConfig    `json:"deadlines"`
	Settlement   SettlementConfig  `json:"settlement"`
	Webhook      WebhookConfig     `json:"webhook"`
	Queue        QueueConfig       `json:"queue"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
	Notification Notification      `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("vaultline", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called vaultline.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Vaultline Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Marketplace.FeeRate == "" {
		cnf.Marketplace.FeeRate = "0.05"
	}
	if cnf.Marketplace.Currency == "" {
		cnf.Marketplace.Currency = "SOL"
	}

	if cnf.Deadlines.BuyerInfoHours <= 0 {
		cnf.Deadlines.BuyerInfoHours = 24
	}
	if cnf.Deadlines.SellerTransferDays <= 0 {
		cnf.Deadlines.SellerTransferDays = 3
	}
	if cnf.Deadlines.AutoReleaseDays <= 0 {
		cnf.Deadlines.AutoReleaseDays = 7
	}
	if cnf.Deadlines.WithdrawalExpiryDays <= 0 {
		cnf.Deadlines.WithdrawalExpiryDays = 14
	}
	if cnf.Deadlines.OfferReservationMins <= 0 {
		cnf.Deadlines.OfferReservationMins = 60
	}
	if cnf.Deadlines.PartnerDepositMins <= 0 {
		cnf.Deadlines.PartnerDepositMins = 30
	}
	if cnf.Deadlines.SweepRetryGraceHours <= 0 {
		cnf.Deadlines.SweepRetryGraceHours = 1
	}
	if cnf.Deadlines.SweepBatchSize <= 0 {
		cnf.Deadlines.SweepBatchSize = 100
	}
	if cnf.Deadlines.SweepBudgetSeconds <= 0 {
		cnf.Deadlines.SweepBudgetSeconds = 50
	}

	if cnf.Webhook.MaxAttempts <= 0 {
		cnf.Webhook.MaxAttempts = 5
	}
	if cnf.Webhook.TimeoutSeconds <= 0 {
		cnf.Webhook.TimeoutSeconds = 10
	}

	if cnf.Settlement.TimeoutSeconds <= 0 {
		cnf.Settlement.TimeoutSeconds = 30
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.NotificationQueue == "" {
		cnf.Queue.NotificationQueue = "new:notification"
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		log.Println(err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
