package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline/model"
)

// IDataSource defines the interface for ledger-store operations, grouping related functionalities.
type IDataSource interface {
	listing      // Listing lifecycle and offer reservations
	bid          // Bid placement and queries
	transaction  // Escrow transaction lifecycle and sweep claims
	partner      // Multi-party purchase deposits
	withdrawal   // Pending withdrawals owed to outbid bidders
	webhook      // Webhook subscriptions and delivery attempts
	notification // In-app notifications
	stats        // Rolling buyer/seller statistics
}

type listing interface {
	CreateListing(ctx context.Context, l *model.Listing) (*model.Listing, error)
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	ReserveListing(ctx context.Context, listingID, buyerID string) (bool, error)
	ClearExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]*model.Listing, error)
}

type bid interface {
	// PlaceBid runs the whole bid critical section in one serializable
	// transaction and returns the new winning bid plus the bid it outbid,
	// if any.
	PlaceBid(ctx context.Context, b *model.Bid) (*model.Bid, *model.Bid, error)
	GetWinningBid(ctx context.Context, listingID string) (*model.Bid, error)
	GetBidsByListing(ctx context.Context, listingID string, limit, offset int) ([]*model.Bid, error)
}

type transaction interface {
	// RecordPurchase inserts the transaction (and partner rows for
	// multi-party purchases) and, for solo purchases, flips the listing to
	// SOLD and bumps buyer/seller stats, all in one serializable transaction.
	RecordPurchase(ctx context.Context, txn *model.Transaction, partners []*model.TransactionPartner) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetActiveTransactionByListing(ctx context.Context, listingID string) (*model.Transaction, error)
	// TransitionStatus performs the conditional claim update. Zero rows
	// (false) means the expected-status gate did not hold.
	TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error)
	MarkTransferStarted(ctx context.Context, id string) (bool, error)
	MarkTransferCompleted(ctx context.Context, id string) (bool, error)
	SubmitBuyerInfo(ctx context.Context, id string) (bool, error)
	FinalizeRefund(ctx context.Context, txnID, listingID string) error
	FinalizeCancellation(ctx context.Context, txnID, listingID string) error
	FlagManualReview(ctx context.Context, txnID string) error
	GetTransactionsPastBuyerInfoDeadline(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error)
	GetTransactionsPastTransferDeadline(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error)
	GetTransactionsPastAutoRelease(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error)
	GetTransactionsPastPartnerDeposit(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error)
}

type partner interface {
	GetPartners(ctx context.Context, transactionID string) ([]*model.TransactionPartner, error)
	GetPartner(ctx context.Context, transactionID, partnerID string) (*model.TransactionPartner, error)
	// RecordPartnerDeposit marks the partner deposited, re-reads every
	// partner row inside the same serializable transaction, and completes
	// the purchase when the deposited shares reach exactly 100.
	RecordPartnerDeposit(ctx context.Context, transactionID, partnerID, txRef string) (*DepositResult, error)
}

type withdrawal interface {
	CreatePendingWithdrawal(ctx context.Context, w *model.PendingWithdrawal) (*model.PendingWithdrawal, error)
	GetExpiredWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingWithdrawal, error)
	ClaimWithdrawalExpiry(ctx context.Context, withdrawalID string) (bool, error)
	RevertWithdrawalExpiry(ctx context.Context, withdrawalID string) error
	FlagWithdrawalReview(ctx context.Context, withdrawalID string) error
}

type webhook interface {
	CreateWebhookSubscription(ctx context.Context, s *model.WebhookSubscription) (*model.WebhookSubscription, error)
	GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	GetActiveSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error)
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
	RecordSubscriptionResult(ctx context.Context, id string, success bool, status string) error
	CreateWebhookDelivery(ctx context.Context, d *model.WebhookDelivery) (*model.WebhookDelivery, error)
	GetWebhookDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error)
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error)
	ClaimDeliveryRetry(ctx context.Context, deliveryID string) (bool, error)
	MarkDeliverySuccess(ctx context.Context, deliveryID string, responseStatus int) (bool, error)
	MarkDeliveryFailure(ctx context.Context, deliveryID string, responseStatus *int, lastError string, nextRetryAt time.Time) (*model.WebhookDelivery, error)
}

type notification interface {
	CreateNotification(ctx context.Context, n *model.Notification) (*model.Notification, error)
	GetNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error)
}

type stats interface {
	GetUserStats(ctx context.Context, userID string) (*model.UserStats, error)
}

// DepositResult reports what a partner deposit did to the aggregate state.
type DepositResult struct {
	Partner      *model.TransactionPartner
	DepositedSum decimal.Decimal
	Completed    bool
}
