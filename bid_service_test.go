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
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

func TestPlaceBid_DispatchesOutbidSideEffects(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	placed := &model.Bid{BidID: "bid_new", ListingID: "lst1", BidderID: "buyerB", Amount: decimal.NewFromInt(15), Currency: "SOL", IsWinning: true}
	outbid := &model.Bid{BidID: "bid_old", ListingID: "lst1", BidderID: "buyerA", Amount: decimal.NewFromInt(12), Currency: "SOL", IsOutbid: true}

	mockDS.On("PlaceBid", mock.Anything, mock.Anything).Return(placed, outbid, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)
	mockDS.On("CreatePendingWithdrawal", mock.Anything, mock.MatchedBy(func(w *model.PendingWithdrawal) bool {
		return w.UserID == "buyerA" && w.Amount.Equal(decimal.NewFromInt(12))
	})).Return(&model.PendingWithdrawal{WithdrawalID: "wdl1"}, nil)

	result, err := v.PlaceBid(context.Background(), "lst1", "buyerB", decimal.NewFromInt(15), "SOL")
	assert.NoError(t, err)
	assert.Equal(t, "bid_new", result.BidID)
	mockDS.AssertCalled(t, "CreatePendingWithdrawal", mock.Anything, mock.Anything)
}

func TestPlaceBid_NoWithdrawalForFirstBid(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	placed := &model.Bid{BidID: "bid_new", ListingID: "lst1", BidderID: "buyerA", Amount: decimal.NewFromInt(12), Currency: "SOL", IsWinning: true}

	mockDS.On("PlaceBid", mock.Anything, mock.Anything).Return(placed, nil, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	_, err := v.PlaceBid(context.Background(), "lst1", "buyerA", decimal.NewFromInt(12), "SOL")
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "CreatePendingWithdrawal", mock.Anything, mock.Anything)
}

func TestPlaceBid_RejectsNonPositiveAmount(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	_, err := v.PlaceBid(context.Background(), "lst1", "buyerA", decimal.Zero, "SOL")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrValidation, apiErr.Code)
	mockDS.AssertNotCalled(t, "PlaceBid", mock.Anything, mock.Anything)
}

func TestPlaceBid_ConflictPassesThrough(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	mockDS.On("PlaceBid", mock.Anything, mock.Anything).
		Return(nil, nil, apierror.NewConflict(apierror.ReasonBidTooLow, "bid must exceed 12 SOL"))

	_, err := v.PlaceBid(context.Background(), "lst1", "buyerA", decimal.NewFromInt(11), "SOL")
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonBidTooLow))
}

func TestPlaceBid_SerializationAbortRetriedToConflict(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	// The loser of a concurrent bid race aborts with SQLSTATE 40001; the
	// retry re-reads the winner's row and rejects with BID_TOO_LOW.
	mockDS.On("PlaceBid", mock.Anything, mock.Anything).
		Return(nil, nil, &pq.Error{Code: "40001", Message: "could not serialize access"}).Once()
	mockDS.On("PlaceBid", mock.Anything, mock.Anything).
		Return(nil, nil, apierror.NewConflict(apierror.ReasonBidTooLow, "bid must exceed 15 SOL"))

	_, err := v.PlaceBid(context.Background(), "lst1", "buyerA", decimal.NewFromInt(15), "SOL")
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonBidTooLow))
	mockDS.AssertNumberOfCalls(t, "PlaceBid", 2)
}

func TestAcceptOffer_ReservesListingForBuyer(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)
	mockDS.On("ReserveListing", mock.Anything, "lst1", "buyerA").Return(true, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	listing, err := v.AcceptOffer(context.Background(), "lst1", "seller1", "buyerA")
	assert.NoError(t, err)
	assert.Equal(t, "buyerA", listing.ReservedBuyerID)
	assert.NotNil(t, listing.ReservedAt)
}

func TestAcceptOffer_OnlySellerCanAccept(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)

	_, err := v.AcceptOffer(context.Background(), "lst1", "stranger", "buyerA")
	assert.Error(t, err)
	mockDS.AssertNotCalled(t, "ReserveListing", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptOffer_AlreadyReservedConflicts(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)
	mockDS.On("ReserveListing", mock.Anything, "lst1", "buyerA").Return(false, nil)

	_, err := v.AcceptOffer(context.Background(), "lst1", "seller1", "buyerA")
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonListingNotActive))
}
