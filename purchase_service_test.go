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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vaultline/vaultline/database"
	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

func activeListing() *model.Listing {
	return &model.Listing{
		ListingID:     "lst1",
		SellerID:      "seller1",
		Title:         "Rare handle",
		StartingPrice: decimal.NewFromInt(10),
		Currency:      "SOL",
		Status:        model.ListingStatusActive,
	}
}

func TestInitiatePurchase_SoloStartsPaid(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	created := overduePaidTransaction()

	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)
	// fee split at the default 5% rate is computed before the insert
	mockDS.On("RecordPurchase", mock.Anything, mock.MatchedBy(func(txn *model.Transaction) bool {
		return txn.Status == model.StatusPaid && txn.PaidAt != nil && !txn.HasPartners &&
			txn.PlatformFee.Equal(decimal.RequireFromString("0.6")) &&
			txn.SellerProceeds.Equal(decimal.RequireFromString("11.4"))
	}), mock.Anything).Return(created, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	txn, err := v.InitiatePurchase(context.Background(), "lst1", "buyer1", decimal.NewFromInt(12), nil)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPaid, txn.Status)
	mockDS.AssertCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePurchase_PartnersAwaitDeposits(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	awaiting := overduePaidTransaction()
	awaiting.Status = model.StatusAwaitingPartnerDeposits
	awaiting.HasPartners = true
	awaiting.PaidAt = nil

	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)
	mockDS.On("RecordPurchase", mock.Anything, mock.MatchedBy(func(txn *model.Transaction) bool {
		return txn.Status == model.StatusAwaitingPartnerDeposits && txn.HasPartners && txn.PartnerDepositDeadline != nil
	}), mock.MatchedBy(func(rows []*model.TransactionPartner) bool {
		if len(rows) != 2 {
			return false
		}
		// 60% of 12 SOL, lead defaults to the initiating buyer
		return rows[0].DepositAmount.Equal(decimal.RequireFromString("7.2")) && rows[0].UserID == "buyer1"
	})).Return(awaiting, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	partners := []PartnerInput{
		{WalletAddress: "walletA", Percentage: decimal.NewFromInt(60), IsLead: true},
		{UserID: "buyer2", WalletAddress: "walletB", Percentage: decimal.NewFromInt(40)},
	}
	txn, err := v.InitiatePurchase(context.Background(), "lst1", "buyer1", decimal.NewFromInt(12), partners)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingPartnerDeposits, txn.Status)
}

func TestInitiatePurchase_RejectsBadPartnerShares(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)

	cases := map[string][]PartnerInput{
		"sum under 100": {
			{WalletAddress: "walletA", Percentage: decimal.NewFromInt(60), IsLead: true},
			{WalletAddress: "walletB", Percentage: decimal.NewFromInt(30)},
		},
		"no lead": {
			{WalletAddress: "walletA", Percentage: decimal.NewFromInt(60)},
			{WalletAddress: "walletB", Percentage: decimal.NewFromInt(40)},
		},
		"two leads": {
			{WalletAddress: "walletA", Percentage: decimal.NewFromInt(60), IsLead: true},
			{WalletAddress: "walletB", Percentage: decimal.NewFromInt(40), IsLead: true},
		},
		"missing wallet": {
			{Percentage: decimal.NewFromInt(100), IsLead: true},
		},
		"zero percentage": {
			{WalletAddress: "walletA", Percentage: decimal.Zero, IsLead: true},
			{WalletAddress: "walletB", Percentage: decimal.NewFromInt(100)},
		},
	}
	for name, partners := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.InitiatePurchase(context.Background(), "lst1", "buyer1", decimal.NewFromInt(12), partners)
			assert.Error(t, err)
			apiErr, ok := err.(apierror.APIError)
			assert.True(t, ok)
			assert.Equal(t, apierror.ErrValidation, apiErr.Code)
		})
	}
	mockDS.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePurchase_SellerCannotBuyOwnListing(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	mockDS.On("GetListing", mock.Anything, "lst1").Return(activeListing(), nil)

	_, err := v.InitiatePurchase(context.Background(), "lst1", "seller1", decimal.NewFromInt(12), nil)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonSelfDealing))
	mockDS.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePurchase_ReservedListingRejectsOtherBuyers(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	reserved := activeListing()
	reserved.ReservedBuyerID = "buyerA"
	mockDS.On("GetListing", mock.Anything, "lst1").Return(reserved, nil)

	_, err := v.InitiatePurchase(context.Background(), "lst1", "buyerB", decimal.NewFromInt(12), nil)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonListingNotActive))
	mockDS.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePurchase_BuyNowFloorEnforced(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	buyNow := activeListing()
	buyNow.BuyNowPrice = decimal.NewNullDecimal(decimal.NewFromInt(20))
	mockDS.On("GetListing", mock.Anything, "lst1").Return(buyNow, nil)

	_, err := v.InitiatePurchase(context.Background(), "lst1", "buyer1", decimal.NewFromInt(12), nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrValidation, apiErr.Code)
	mockDS.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatePurchase_BuyNowPriceMet(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	buyNow := activeListing()
	buyNow.BuyNowPrice = decimal.NewNullDecimal(decimal.NewFromInt(12))
	mockDS.On("GetListing", mock.Anything, "lst1").Return(buyNow, nil)
	mockDS.On("RecordPurchase", mock.Anything, mock.Anything, mock.Anything).Return(overduePaidTransaction(), nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	_, err := v.InitiatePurchase(context.Background(), "lst1", "buyer1", decimal.NewFromInt(12), nil)
	assert.NoError(t, err)
	mockDS.AssertCalled(t, "RecordPurchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTransaction_PaidRefundsThroughAdapter(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusPaid}, model.StatusRefunding).Return(true, nil)
	adapter.On("AttemptRefund", mock.Anything, "lst1", "buyer1").Return("sig_refund", nil)
	mockDS.On("FinalizeRefund", mock.Anything, "txn1", "lst1").Return(nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	cancelled, err := v.CancelTransaction(context.Background(), "txn1", "buyer1", "changed my mind")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, cancelled.Status)
	mockDS.AssertNotCalled(t, "FlagManualReview", mock.Anything, mock.Anything)
}

func TestCancelTransaction_AdapterDeclineRevertsClaim(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusPaid}, model.StatusRefunding).Return(true, nil)
	adapter.On("AttemptRefund", mock.Anything, "lst1", "buyer1").Return("", nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusRefunding}, model.StatusPaid).Return(true, nil)

	_, err := v.CancelTransaction(context.Background(), "txn1", "buyer1", "changed my mind")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrAdapter, apiErr.Code)
	mockDS.AssertNotCalled(t, "FinalizeRefund", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTransaction_PartnerRefundsGoToDepositedWallets(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	txn.Status = model.StatusAwaitingPartnerDeposits
	txn.HasPartners = true

	partners := []*model.TransactionPartner{
		{PartnerID: "prt1", WalletAddress: "walletA", DepositStatus: model.DepositStatusDeposited},
		{PartnerID: "prt2", WalletAddress: "walletB", DepositStatus: model.DepositStatusPending},
	}

	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusAwaitingPartnerDeposits}, model.StatusRefunding).Return(true, nil)
	mockDS.On("GetPartners", mock.Anything, "txn1").Return(partners, nil)
	adapter.On("AttemptRefund", mock.Anything, "lst1", "walletA").Return("sig_a", nil)
	mockDS.On("FinalizeCancellation", mock.Anything, "txn1", "lst1").Return(nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	cancelled, err := v.CancelTransaction(context.Background(), "txn1", "buyer1", "fell through")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	// Only the deposited wallet is refunded; nothing goes to the pending
	// partner or the lead buyer's user ID.
	adapter.AssertCalled(t, "AttemptRefund", mock.Anything, "lst1", "walletA")
	adapter.AssertNotCalled(t, "AttemptRefund", mock.Anything, "lst1", "walletB")
	adapter.AssertNotCalled(t, "AttemptRefund", mock.Anything, "lst1", "buyer1")
}

func TestCancelTransaction_PartnerRefundDeclineRevertsClaim(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	txn.Status = model.StatusAwaitingPartnerDeposits
	txn.HasPartners = true

	partners := []*model.TransactionPartner{
		{PartnerID: "prt1", WalletAddress: "walletA", DepositStatus: model.DepositStatusDeposited},
	}

	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusAwaitingPartnerDeposits}, model.StatusRefunding).Return(true, nil)
	mockDS.On("GetPartners", mock.Anything, "txn1").Return(partners, nil)
	adapter.On("AttemptRefund", mock.Anything, "lst1", "walletA").Return("", nil)
	mockDS.On("TransitionStatus", mock.Anything, "txn1", []string{model.StatusRefunding}, model.StatusAwaitingPartnerDeposits).Return(true, nil)

	_, err := v.CancelTransaction(context.Background(), "txn1", "buyer1", "fell through")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrAdapter, apiErr.Code)
	mockDS.AssertNotCalled(t, "FinalizeCancellation", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTransaction_StrangerRejected(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(overduePaidTransaction(), nil)

	_, err := v.CancelTransaction(context.Background(), "txn1", "somebody", "nope")
	assert.Error(t, err)
	mockDS.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTransaction_DisputeFreezes(t *testing.T) {
	v, mockDS := newTestVaultline(t)

	txn := overduePaidTransaction()
	txn.DisputeStatus = model.DisputeOpen
	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)

	_, err := v.CancelTransaction(context.Background(), "txn1", "buyer1", "refund please")
	assert.True(t, apierror.IsConflict(err, apierror.ReasonDisputed))
}

func TestRecordDeposit_UnverifiedPaymentRejected(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	txn.Status = model.StatusAwaitingPartnerDeposits
	partner := &model.TransactionPartner{
		PartnerID:     "prt1",
		UserID:        "buyer2",
		WalletAddress: "walletB",
		Percentage:    decimal.NewFromInt(40),
		DepositAmount: decimal.RequireFromString("4.8"),
		DepositStatus: model.DepositStatusPending,
	}

	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("GetPartner", mock.Anything, "txn1", "prt1").Return(partner, nil)
	adapter.On("VerifyPayment", mock.Anything, "ref123", "walletB", "lst1", partner.DepositAmount).Return(false, nil)

	_, err := v.RecordDeposit(context.Background(), "txn1", "prt1", "ref123")
	assert.True(t, apierror.IsConflict(err, apierror.ReasonPaymentUnverified))
	mockDS.AssertNotCalled(t, "RecordPartnerDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDeposit_FinalShareFiresPaidEvents(t *testing.T) {
	v, mockDS := newTestVaultline(t)
	adapter := new(MockSettlementAdapter)
	v.adapter = adapter

	txn := overduePaidTransaction()
	txn.Status = model.StatusAwaitingPartnerDeposits
	partner := &model.TransactionPartner{
		PartnerID:     "prt1",
		UserID:        "buyer2",
		WalletAddress: "walletB",
		Percentage:    decimal.NewFromInt(40),
		DepositAmount: decimal.RequireFromString("4.8"),
		DepositStatus: model.DepositStatusPending,
	}

	mockDS.On("GetTransaction", mock.Anything, "txn1").Return(txn, nil)
	mockDS.On("GetPartner", mock.Anything, "txn1", "prt1").Return(partner, nil)
	adapter.On("VerifyPayment", mock.Anything, "ref123", "walletB", "lst1", partner.DepositAmount).Return(true, nil)
	mockDS.On("RecordPartnerDeposit", mock.Anything, "txn1", "prt1", "ref123").Return(&database.DepositResult{
		Partner:      partner,
		DepositedSum: decimal.NewFromInt(100),
		Completed:    true,
	}, nil)
	mockDS.On("GetActiveSubscriptions", mock.Anything).Return([]*model.WebhookSubscription{}, nil)

	result, err := v.RecordDeposit(context.Background(), "txn1", "prt1", "ref123")
	assert.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, model.StatusPaid, txn.Status)
}
