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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vaultline/vaultline/database"
	"github.com/vaultline/vaultline/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Listing methods

func (m *MockDataSource) CreateListing(ctx context.Context, l *model.Listing) (*model.Listing, error) {
	args := m.Called(ctx, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Listing), args.Error(1)
}

func (m *MockDataSource) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Listing), args.Error(1)
}

func (m *MockDataSource) ReserveListing(ctx context.Context, listingID, buyerID string) (bool, error) {
	args := m.Called(ctx, listingID, buyerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ClearExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]*model.Listing, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Listing), args.Error(1)
}

// Bid methods

func (m *MockDataSource) PlaceBid(ctx context.Context, b *model.Bid) (*model.Bid, *model.Bid, error) {
	args := m.Called(ctx, b)
	var placed, outbid *model.Bid
	if args.Get(0) != nil {
		placed = args.Get(0).(*model.Bid)
	}
	if args.Get(1) != nil {
		outbid = args.Get(1).(*model.Bid)
	}
	return placed, outbid, args.Error(2)
}

func (m *MockDataSource) GetWinningBid(ctx context.Context, listingID string) (*model.Bid, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Bid), args.Error(1)
}

func (m *MockDataSource) GetBidsByListing(ctx context.Context, listingID string, limit, offset int) ([]*model.Bid, error) {
	args := m.Called(ctx, listingID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Bid), args.Error(1)
}

// Transaction methods

func (m *MockDataSource) RecordPurchase(ctx context.Context, txn *model.Transaction, partners []*model.TransactionPartner) (*model.Transaction, error) {
	args := m.Called(ctx, txn, partners)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetActiveTransactionByListing(ctx context.Context, listingID string) (*model.Transaction, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkTransferStarted(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkTransferCompleted(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) SubmitBuyerInfo(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) FinalizeRefund(ctx context.Context, txnID, listingID string) error {
	args := m.Called(ctx, txnID, listingID)
	return args.Error(0)
}

func (m *MockDataSource) FinalizeCancellation(ctx context.Context, txnID, listingID string) error {
	args := m.Called(ctx, txnID, listingID)
	return args.Error(0)
}

func (m *MockDataSource) FlagManualReview(ctx context.Context, txnID string) error {
	args := m.Called(ctx, txnID)
	return args.Error(0)
}

func (m *MockDataSource) GetTransactionsPastBuyerInfoDeadline(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionsPastTransferDeadline(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionsPastAutoRelease(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionsPastPartnerDeposit(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

// Partner methods

func (m *MockDataSource) GetPartners(ctx context.Context, transactionID string) ([]*model.TransactionPartner, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.TransactionPartner), args.Error(1)
}

func (m *MockDataSource) GetPartner(ctx context.Context, transactionID, partnerID string) (*model.TransactionPartner, error) {
	args := m.Called(ctx, transactionID, partnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TransactionPartner), args.Error(1)
}

func (m *MockDataSource) RecordPartnerDeposit(ctx context.Context, transactionID, partnerID, txRef string) (*database.DepositResult, error) {
	args := m.Called(ctx, transactionID, partnerID, txRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.DepositResult), args.Error(1)
}

// Withdrawal methods

func (m *MockDataSource) CreatePendingWithdrawal(ctx context.Context, w *model.PendingWithdrawal) (*model.PendingWithdrawal, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingWithdrawal), args.Error(1)
}

func (m *MockDataSource) GetExpiredWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingWithdrawal, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PendingWithdrawal), args.Error(1)
}

func (m *MockDataSource) ClaimWithdrawalExpiry(ctx context.Context, withdrawalID string) (bool, error) {
	args := m.Called(ctx, withdrawalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RevertWithdrawalExpiry(ctx context.Context, withdrawalID string) error {
	args := m.Called(ctx, withdrawalID)
	return args.Error(0)
}

func (m *MockDataSource) FlagWithdrawalReview(ctx context.Context, withdrawalID string) error {
	args := m.Called(ctx, withdrawalID)
	return args.Error(0)
}

// Webhook methods

func (m *MockDataSource) CreateWebhookSubscription(ctx context.Context, s *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	args := m.Called(ctx, s)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookSubscription), args.Error(1)
}

func (m *MockDataSource) GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookSubscription), args.Error(1)
}

func (m *MockDataSource) GetActiveSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookSubscription), args.Error(1)
}

func (m *MockDataSource) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *MockDataSource) RecordSubscriptionResult(ctx context.Context, id string, success bool, status string) error {
	args := m.Called(ctx, id, success, status)
	return args.Error(0)
}

func (m *MockDataSource) CreateWebhookDelivery(ctx context.Context, d *model.WebhookDelivery) (*model.WebhookDelivery, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) GetWebhookDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookDelivery), args.Error(1)
}

func (m *MockDataSource) ClaimDeliveryRetry(ctx context.Context, deliveryID string) (bool, error) {
	args := m.Called(ctx, deliveryID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkDeliverySuccess(ctx context.Context, deliveryID string, responseStatus int) (bool, error) {
	args := m.Called(ctx, deliveryID, responseStatus)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkDeliveryFailure(ctx context.Context, deliveryID string, responseStatus *int, lastError string, nextRetryAt time.Time) (*model.WebhookDelivery, error) {
	args := m.Called(ctx, deliveryID, responseStatus, lastError, nextRetryAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookDelivery), args.Error(1)
}

// Notification methods

func (m *MockDataSource) CreateNotification(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Notification), args.Error(1)
}

func (m *MockDataSource) GetNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Notification), args.Error(1)
}

func (m *MockDataSource) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	args := m.Called(ctx, notificationID, userID)
	return args.Bool(0), args.Error(1)
}

// Stats methods

func (m *MockDataSource) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserStats), args.Error(1)
}
