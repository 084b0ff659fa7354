package database

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"github.com/vaultline/vaultline/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	if err := CreateSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateSchema bootstraps every table and index the engine needs. All
// statements are idempotent so the migrate command can run on every deploy.
func CreateSchema(db *sql.DB) error {
	for _, create := range []func(*sql.DB) error{
		createListingTable,
		createBidTable,
		createTransactionTable,
		createTransactionPartnerTable,
		createPendingWithdrawalTable,
		createWebhookTables,
		createNotificationTable,
		createUserStatsTable,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

// serializableTx runs fn inside a serializable transaction. Critical
// check-then-write sections must go through here; plain reads must not.
func (d Datasource) serializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func createListingTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id SERIAL PRIMARY KEY,
			listing_id TEXT NOT NULL UNIQUE,
			seller_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			starting_price NUMERIC NOT NULL,
			buy_now_price NUMERIC,
			currency TEXT NOT NULL,
			end_time TIMESTAMP NOT NULL,
			reserved_buyer_id TEXT,
			reserved_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating listings table: %v", err)
	}
	return err
}

func createBidTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bids (
			id SERIAL PRIMARY KEY,
			bid_id TEXT NOT NULL UNIQUE,
			listing_id TEXT NOT NULL REFERENCES listings(listing_id),
			bidder_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			is_winning BOOLEAN NOT NULL DEFAULT FALSE,
			is_outbid BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_winning
			ON bids(listing_id) WHERE is_winning
	`)
	if err != nil {
		log.Printf("Error creating bids table: %v", err)
	}
	return err
}

func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			listing_id TEXT NOT NULL REFERENCES listings(listing_id),
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			status TEXT NOT NULL,
			sale_price NUMERIC NOT NULL,
			platform_fee NUMERIC NOT NULL,
			seller_proceeds NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			has_partners BOOLEAN NOT NULL DEFAULT FALSE,
			buyer_info_status TEXT NOT NULL DEFAULT 'PENDING',
			buyer_info_deadline TIMESTAMP,
			partner_deposit_deadline TIMESTAMP,
			dispute_status TEXT NOT NULL DEFAULT 'NONE',
			needs_manual_review BOOLEAN NOT NULL DEFAULT FALSE,
			paid_at TIMESTAMP,
			transfer_started_at TIMESTAMP,
			transfer_completed_at TIMESTAMP,
			refunded_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_one_active_per_listing
			ON transactions(listing_id)
			WHERE status NOT IN ('COMPLETED', 'REFUNDED', 'CANCELLED')
	`)
	if err != nil {
		log.Printf("Error creating transactions table: %v", err)
	}
	return err
}

func createTransactionPartnerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transaction_partners (
			id SERIAL PRIMARY KEY,
			partner_id TEXT NOT NULL UNIQUE,
			transaction_id TEXT NOT NULL REFERENCES transactions(transaction_id),
			user_id TEXT,
			wallet_address TEXT NOT NULL,
			percentage NUMERIC NOT NULL CHECK (percentage > 0 AND percentage <= 100),
			deposit_amount NUMERIC NOT NULL,
			deposit_status TEXT NOT NULL DEFAULT 'PENDING',
			deposit_tx_ref TEXT,
			is_lead BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_partners_one_lead
			ON transaction_partners(transaction_id) WHERE is_lead
	`)
	if err != nil {
		log.Printf("Error creating transaction_partners table: %v", err)
	}
	return err
}

func createPendingWithdrawalTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_withdrawals (
			id SERIAL PRIMARY KEY,
			withdrawal_id TEXT NOT NULL UNIQUE,
			listing_id TEXT NOT NULL REFERENCES listings(listing_id),
			user_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			expired BOOLEAN NOT NULL DEFAULT FALSE,
			needs_review BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating pending_withdrawals table: %v", err)
	}
	return err
}

func createWebhookTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id SERIAL PRIMARY KEY,
			subscription_id TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			event_types TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			consecutive_fails INT NOT NULL DEFAULT 0,
			last_status TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id SERIAL PRIMARY KEY,
			delivery_id TEXT NOT NULL UNIQUE,
			subscription_id TEXT NOT NULL REFERENCES webhook_subscriptions(subscription_id),
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL,
			next_retry_at TIMESTAMP,
			response_status INT,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_retry
			ON webhook_deliveries(next_retry_at) WHERE status = 'RETRYING'
	`)
	if err != nil {
		log.Printf("Error creating webhook tables: %v", err)
	}
	return err
}

func createNotificationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			notification_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating notifications table: %v", err)
	}
	return err
}

func createUserStatsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_stats (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			purchase_count BIGINT NOT NULL DEFAULT 0,
			sale_count BIGINT NOT NULL DEFAULT 0,
			purchase_volume NUMERIC NOT NULL DEFAULT 0,
			sale_volume NUMERIC NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		log.Printf("Error creating user_stats table: %v", err)
	}
	return err
}
