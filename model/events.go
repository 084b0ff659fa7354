package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates every state transition the dispatcher can emit.
// Each type has a fixed payload shape below; new kinds must add a payload
// struct and a constructor rather than widening an open map.
type EventType string

const (
	EventBidPlaced            EventType = "bid.placed"
	EventBidOutbid            EventType = "bid.outbid"
	EventPurchaseInitiated    EventType = "transaction.initiated"
	EventTransactionPaid      EventType = "transaction.paid"
	EventPartnerDeposited     EventType = "transaction.partner_deposited"
	EventTransferStarted      EventType = "transaction.transfer_started"
	EventTransferCompleted    EventType = "transaction.transfer_completed"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionRefunded  EventType = "transaction.refunded"
	EventTransactionCancelled EventType = "transaction.cancelled"
	EventManualReview         EventType = "transaction.manual_review"
	EventWithdrawalExpired    EventType = "withdrawal.expired"
	EventListingSold          EventType = "listing.sold"
	EventListingReserved      EventType = "listing.reserved"
	EventListingRelisted      EventType = "listing.relisted"
)

// Event is the envelope delivered to webhook subscribers:
// {id, type, timestamp, data}.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type BidEventData struct {
	ListingID string          `json:"listing_id"`
	BidID     string          `json:"bid_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type TransactionEventData struct {
	TransactionID string          `json:"transaction_id"`
	ListingID     string          `json:"listing_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Status        string          `json:"status"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
}

type PartnerEventData struct {
	TransactionID string          `json:"transaction_id"`
	PartnerID     string          `json:"partner_id"`
	Percentage    decimal.Decimal `json:"percentage"`
	DepositedSum  decimal.Decimal `json:"deposited_sum"`
}

type WithdrawalEventData struct {
	WithdrawalID string          `json:"withdrawal_id"`
	ListingID    string          `json:"listing_id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Signature    string          `json:"signature,omitempty"`
}

type ListingEventData struct {
	ListingID string `json:"listing_id"`
	SellerID  string `json:"seller_id"`
	Status    string `json:"status"`
}

// NewEvent stamps an envelope around a typed payload.
func NewEvent(eventType EventType, data interface{}) Event {
	return Event{
		ID:        GenerateUUIDWithSuffix("evt"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// MarshalPayload renders the exact bytes webhook signing operates on.
func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e)
}
