package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusAwaitingPartnerDeposits = "AWAITING_PARTNER_DEPOSITS"
	StatusPaid                    = "PAID"
	StatusTransferInProgress      = "TRANSFER_IN_PROGRESS"
	StatusAwaitingConfirmation    = "AWAITING_CONFIRMATION"
	StatusCompleted               = "COMPLETED"
	StatusRefunding               = "REFUNDING"
	StatusRefunded                = "REFUNDED"
	StatusCancelled               = "CANCELLED"
)

const (
	BuyerInfoPending   = "PENDING"
	BuyerInfoSubmitted = "SUBMITTED"
)

const (
	DisputeNone     = "NONE"
	DisputeOpen     = "OPEN"
	DisputeResolved = "RESOLVED"
)

// transitions is the monotonic status graph. A transaction only ever moves
// forward along these edges; REFUNDING reverting to its prior status after a
// failed settlement call is the sole exception and is owned by the sweeps.
var transitions = map[string][]string{
	StatusAwaitingPartnerDeposits: {StatusPaid, StatusRefunding, StatusCancelled},
	StatusPaid:                    {StatusTransferInProgress, StatusRefunding, StatusCancelled},
	StatusTransferInProgress:      {StatusAwaitingConfirmation, StatusRefunding, StatusCancelled},
	StatusAwaitingConfirmation:    {StatusCompleted, StatusRefunding, StatusCancelled},
	StatusRefunding:               {StatusRefunded, StatusCancelled},
	StatusCompleted:               {},
	StatusRefunded:                {},
	StatusCancelled:               {},
}

// CanTransition reports whether moving from one transaction status to
// another follows the defined graph.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a transaction status can never change
// again.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusRefunded || status == StatusCancelled
}

// Transaction is the escrow record. Exactly one non-terminal transaction may
// reference a listing at a time; terminal ones are retained as history.
type Transaction struct {
	TransactionID          string          `json:"transaction_id"`
	ListingID              string          `json:"listing_id"`
	BuyerID                string          `json:"buyer_id"`
	SellerID               string          `json:"seller_id"`
	Status                 string          `json:"status"`
	SalePrice              decimal.Decimal `json:"sale_price"`
	PlatformFee            decimal.Decimal `json:"platform_fee"`
	SellerProceeds         decimal.Decimal `json:"seller_proceeds"`
	Currency               string          `json:"currency"`
	HasPartners            bool            `json:"has_partners"`
	BuyerInfoStatus        string          `json:"buyer_info_status"`
	BuyerInfoDeadline      *time.Time      `json:"buyer_info_deadline,omitempty"`
	PartnerDepositDeadline *time.Time      `json:"partner_deposit_deadline,omitempty"`
	DisputeStatus          string          `json:"dispute_status"`
	NeedsManualReview      bool            `json:"needs_manual_review"`
	PaidAt                 *time.Time      `json:"paid_at,omitempty"`
	TransferStartedAt      *time.Time      `json:"transfer_started_at,omitempty"`
	TransferCompletedAt    *time.Time      `json:"transfer_completed_at,omitempty"`
	RefundedAt             *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

// Frozen reports whether deadline sweeps must leave the transaction alone.
func (t *Transaction) Frozen() bool {
	return t.DisputeStatus == DisputeOpen
}

const (
	DepositStatusPending   = "PENDING"
	DepositStatusDeposited = "DEPOSITED"
	DepositStatusRefunded  = "REFUNDED"
)

// TransactionPartner is one co-buyer row of a multi-party purchase. The sum
// of all partner percentages for a transaction never exceeds 100 and exactly
// one partner is the lead.
type TransactionPartner struct {
	PartnerID     string          `json:"partner_id"`
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id,omitempty"`
	WalletAddress string          `json:"wallet_address"`
	Percentage    decimal.Decimal `json:"percentage"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	DepositStatus string          `json:"deposit_status"`
	DepositTxRef  string          `json:"deposit_tx_ref,omitempty"`
	IsLead        bool            `json:"is_lead"`
	CreatedAt     time.Time       `json:"created_at"`
}
