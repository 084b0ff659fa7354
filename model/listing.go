package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ListingStatusDraft                = "DRAFT"
	ListingStatusPendingCollaborators = "PENDING_COLLABORATORS"
	ListingStatusActive               = "ACTIVE"
	ListingStatusSold                 = "SOLD"
	ListingStatusEnded                = "ENDED"
)

// Listing is the sellable unit. A listing is never hard-deleted while a
// transaction references it; sweeps and the orchestrator move it between
// statuses instead.
type Listing struct {
	ListingID       string              `json:"listing_id"`
	SellerID        string              `json:"seller_id"`
	Title           string              `json:"title"`
	Status          string              `json:"status"`
	StartingPrice   decimal.Decimal     `json:"starting_price"`
	BuyNowPrice     decimal.NullDecimal `json:"buy_now_price"`
	Currency        string              `json:"currency"`
	EndTime         time.Time           `json:"end_time"`
	ReservedBuyerID string              `json:"reserved_buyer_id,omitempty"`
	ReservedAt      *time.Time          `json:"reserved_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// IsBiddable reports whether the listing can currently accept bids.
func (l *Listing) IsBiddable(now time.Time) bool {
	return l.Status == ListingStatusActive && now.Before(l.EndTime)
}

const (
	BidStatusWinning = "WINNING"
	BidStatusOutbid  = "OUTBID"
)

// Bid amounts are immutable once created; only the winning/outbid flags
// change when a bid is superseded.
type Bid struct {
	BidID     string          `json:"bid_id"`
	ListingID string          `json:"listing_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	IsWinning bool            `json:"is_winning"`
	IsOutbid  bool            `json:"is_outbid"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingWithdrawal records a refund owed to an outbid bidder, held off the
// on-chain escrow until claimed or expired by the withdrawal sweep.
type PendingWithdrawal struct {
	WithdrawalID string          `json:"withdrawal_id"`
	ListingID    string          `json:"listing_id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Claimed      bool            `json:"claimed"`
	Expired      bool            `json:"expired"`
	NeedsReview  bool            `json:"needs_review"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UserStats carries the rolling purchase/sale counters bumped inside the
// same transaction that flips a listing to SOLD.
type UserStats struct {
	UserID         string          `json:"user_id"`
	PurchaseCount  int64           `json:"purchase_count"`
	SaleCount      int64           `json:"sale_count"`
	PurchaseVolume decimal.Decimal `json:"purchase_volume"`
	SaleVolume     decimal.Decimal `json:"sale_volume"`
}
