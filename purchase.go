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
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/internal/backoff"
	"github.com/vaultline/vaultline/model"
)

// PartnerInput is one co-buyer share of a purchase request.
type PartnerInput struct {
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Percentage    decimal.Decimal `json:"percentage"`
	IsLead        bool            `json:"is_lead"`
}

// withSerializableRetry retries an operation that aborted on a Postgres
// serialization failure. Anything else is surfaced unchanged.
func withSerializableRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(ctx, 3, 50*time.Millisecond, func() error {
		err := op()
		if err != nil && !apierror.IsRetryableSerialization(err) {
			return backoff.Permanent(err)
		}
		return err
	})
}

// CreateListing records a new listing for sale.
func (v *Vaultline) CreateListing(ctx context.Context, listing *model.Listing) (*model.Listing, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if listing.Title == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "listing title is required", nil)
	}
	if listing.StartingPrice.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "starting price must be positive", nil)
	}
	if listing.Currency == "" {
		listing.Currency = cfg.Marketplace.Currency
	}
	return v.datasource.CreateListing(ctx, listing)
}

// InitiatePurchase opens the escrow transaction for a listing. A solo
// purchase is paid up front: the transaction starts PAID, the listing flips
// to SOLD and both parties' stats are bumped in the same commit. With
// partners the transaction starts AWAITING_PARTNER_DEPOSITS and each share
// arrives through RecordDeposit before the deposit deadline.
func (v *Vaultline) InitiatePurchase(ctx context.Context, listingID, buyerID string, amount decimal.Decimal, partners []PartnerInput) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Initiating purchase")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "purchase amount must be positive", nil)
	}

	listing, err := v.datasource.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, apierror.NewConflict(apierror.ReasonSelfDealing, "sellers cannot purchase their own listing")
	}
	if listing.ReservedBuyerID != "" && listing.ReservedBuyerID != buyerID {
		return nil, apierror.NewConflict(apierror.ReasonListingNotActive, "listing is reserved for another buyer")
	}
	if listing.BuyNowPrice.Valid && amount.Cmp(listing.BuyNowPrice.Decimal) < 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("amount is below the buy-now price of %s %s", listing.BuyNowPrice.Decimal.String(), listing.Currency), nil)
	}

	feeRate, err := decimal.NewFromString(cfg.Marketplace.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fee rate %q: %w", cfg.Marketplace.FeeRate, err)
	}
	platformFee, sellerProceeds := model.ComputeFeeSplit(amount, feeRate)

	now := time.Now()
	buyerInfoDeadline := now.Add(time.Duration(cfg.Deadlines.BuyerInfoHours) * time.Hour)
	txn := &model.Transaction{
		ListingID:         listingID,
		BuyerID:           buyerID,
		SellerID:          listing.SellerID,
		SalePrice:         amount,
		PlatformFee:       platformFee,
		SellerProceeds:    sellerProceeds,
		Currency:          listing.Currency,
		BuyerInfoStatus:   model.BuyerInfoPending,
		BuyerInfoDeadline: &buyerInfoDeadline,
		DisputeStatus:     model.DisputeNone,
	}

	var partnerRows []*model.TransactionPartner
	if len(partners) > 0 {
		partnerRows, err = buildPartnerRows(amount, buyerID, partners)
		if err != nil {
			return nil, err
		}
		depositDeadline := now.Add(time.Duration(cfg.Deadlines.PartnerDepositMins) * time.Minute)
		txn.HasPartners = true
		txn.Status = model.StatusAwaitingPartnerDeposits
		txn.PartnerDepositDeadline = &depositDeadline
	} else {
		txn.Status = model.StatusPaid
		txn.PaidAt = &now
	}

	var created *model.Transaction
	err = withSerializableRetry(ctx, func() error {
		var txErr error
		created, txErr = v.datasource.RecordPurchase(ctx, txn, partnerRows)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	v.dispatch(ctx, model.NewEvent(model.EventPurchaseInitiated, transactionEventData(created, "")),
		&model.Notification{
			UserID:  created.SellerID,
			Title:   "Purchase started",
			Message: fmt.Sprintf("A buyer opened a purchase of %s %s for your listing.", created.SalePrice.String(), created.Currency),
		})

	if !created.HasPartners {
		v.dispatch(ctx, model.NewEvent(model.EventTransactionPaid, transactionEventData(created, "")),
			&model.Notification{
				UserID:  created.SellerID,
				Title:   "Payment received",
				Message: "Escrow is funded. Transfer the asset before the deadline to get paid.",
			})
		v.dispatch(ctx, model.NewEvent(model.EventListingSold, model.ListingEventData{
			ListingID: created.ListingID,
			SellerID:  created.SellerID,
			Status:    model.ListingStatusSold,
		}))
	}
	return created, nil
}

func buildPartnerRows(salePrice decimal.Decimal, buyerID string, partners []PartnerInput) ([]*model.TransactionPartner, error) {
	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	leads := 0
	rows := make([]*model.TransactionPartner, 0, len(partners))
	for _, p := range partners {
		if p.WalletAddress == "" {
			return nil, apierror.NewAPIError(apierror.ErrValidation, "every partner needs a wallet address", nil)
		}
		if p.Percentage.Sign() <= 0 || p.Percentage.Cmp(hundred) > 0 {
			return nil, apierror.NewAPIError(apierror.ErrValidation, "partner percentage must be in (0, 100]", nil)
		}
		if p.IsLead {
			leads++
			if p.UserID == "" {
				p.UserID = buyerID
			}
		}
		total = total.Add(p.Percentage)
		rows = append(rows, &model.TransactionPartner{
			PartnerID:     model.GenerateUUIDWithSuffix("prt"),
			UserID:        p.UserID,
			WalletAddress: p.WalletAddress,
			Percentage:    p.Percentage,
			DepositAmount: salePrice.Mul(p.Percentage).Div(decimal.NewFromInt(100)).Round(model.MoneyPrecision),
			DepositStatus: model.DepositStatusPending,
			IsLead:        p.IsLead,
		})
	}
	if leads != 1 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "exactly one partner must be the lead", nil)
	}
	if !total.Equal(hundred) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "partner percentages must sum to exactly 100", nil)
	}
	return rows, nil
}

func transactionEventData(txn *model.Transaction, reason string) model.TransactionEventData {
	return model.TransactionEventData{
		TransactionID: txn.TransactionID,
		ListingID:     txn.ListingID,
		BuyerID:       txn.BuyerID,
		SellerID:      txn.SellerID,
		Status:        txn.Status,
		SalePrice:     txn.SalePrice,
		Currency:      txn.Currency,
		Reason:        reason,
	}
}

// StartTransfer records that the seller began moving the asset.
func (v *Vaultline) StartTransfer(ctx context.Context, transactionID, sellerID string) (*model.Transaction, error) {
	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.SellerID != sellerID {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only the seller can start the transfer", nil)
	}
	if txn.Frozen() {
		return nil, apierror.NewConflict(apierror.ReasonDisputed, "transaction is frozen by an open dispute")
	}

	moved, err := v.datasource.MarkTransferStarted(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transaction is not awaiting transfer")
	}
	txn.Status = model.StatusTransferInProgress

	v.dispatch(ctx, model.NewEvent(model.EventTransferStarted, transactionEventData(txn, "")),
		&model.Notification{
			UserID:  txn.BuyerID,
			Title:   "Transfer started",
			Message: "The seller has started transferring your purchase.",
		})
	return txn, nil
}

// CompleteTransfer records that the seller finished the transfer. The escrow
// now waits for the buyer's confirmation or the auto-release deadline.
func (v *Vaultline) CompleteTransfer(ctx context.Context, transactionID, sellerID string) (*model.Transaction, error) {
	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.SellerID != sellerID {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only the seller can complete the transfer", nil)
	}
	if txn.Frozen() {
		return nil, apierror.NewConflict(apierror.ReasonDisputed, "transaction is frozen by an open dispute")
	}

	moved, err := v.datasource.MarkTransferCompleted(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transfer is not in progress")
	}
	txn.Status = model.StatusAwaitingConfirmation

	v.dispatch(ctx, model.NewEvent(model.EventTransferCompleted, transactionEventData(txn, "")),
		&model.Notification{
			UserID:  txn.BuyerID,
			Title:   "Transfer completed",
			Message: "Confirm receipt to release the escrowed funds to the seller.",
		})
	return txn, nil
}

// ConfirmReceipt is the buyer's acknowledgment that releases the escrow.
func (v *Vaultline) ConfirmReceipt(ctx context.Context, transactionID, buyerID string) (*model.Transaction, error) {
	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != buyerID {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only the buyer can confirm receipt", nil)
	}
	if txn.Frozen() {
		return nil, apierror.NewConflict(apierror.ReasonDisputed, "transaction is frozen by an open dispute")
	}

	moved, err := v.datasource.TransitionStatus(ctx, transactionID, []string{model.StatusAwaitingConfirmation}, model.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transaction is not awaiting confirmation")
	}
	txn.Status = model.StatusCompleted

	v.dispatch(ctx, model.NewEvent(model.EventTransactionCompleted, transactionEventData(txn, "")),
		&model.Notification{
			UserID:  txn.SellerID,
			Title:   "Sale completed",
			Message: fmt.Sprintf("The buyer confirmed receipt. %s %s has been released to you.", txn.SellerProceeds.String(), txn.Currency),
		},
		&model.Notification{
			UserID:  txn.BuyerID,
			Title:   "Purchase completed",
			Message: "Thanks for confirming. This transaction is now complete.",
		})
	return txn, nil
}

// SubmitBuyerInfo records that the buyer provided the handover details the
// seller needs, stopping the buyer-info sweep from cancelling the purchase.
func (v *Vaultline) SubmitBuyerInfo(ctx context.Context, transactionID, buyerID string) error {
	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.BuyerID != buyerID {
		return apierror.NewAPIError(apierror.ErrValidation, "only the buyer can submit buyer info", nil)
	}
	if txn.BuyerInfoDeadline != nil && time.Now().After(*txn.BuyerInfoDeadline) {
		return apierror.NewConflict(apierror.ReasonDeadlinePassed, "the buyer info deadline has passed")
	}

	moved, err := v.datasource.SubmitBuyerInfo(ctx, transactionID)
	if err != nil {
		return err
	}
	if !moved {
		return apierror.NewConflict(apierror.ReasonBadStatus, "buyer info can no longer be submitted")
	}
	return nil
}

// CancelTransaction is the user-initiated exit. A funded escrow goes through
// REFUNDING and the settlement rail before reaching its terminal status; an
// unfunded one cancels in the database alone.
func (v *Vaultline) CancelTransaction(ctx context.Context, transactionID, userID, reason string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Cancelling transaction")
	defer span.End()

	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != userID && txn.SellerID != userID {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only the buyer or seller can cancel", nil)
	}
	if txn.Frozen() {
		return nil, apierror.NewConflict(apierror.ReasonDisputed, "transaction is frozen by an open dispute")
	}

	switch txn.Status {
	case model.StatusAwaitingPartnerDeposits:
		claimed, err := v.datasource.TransitionStatus(ctx, transactionID, []string{model.StatusAwaitingPartnerDeposits}, model.StatusRefunding)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transaction can no longer be cancelled")
		}
		if err := v.settleRefund(ctx, txn, model.StatusCancelled, model.StatusAwaitingPartnerDeposits); err != nil {
			return nil, err
		}
		txn.Status = model.StatusCancelled
	case model.StatusPaid:
		claimed, err := v.datasource.TransitionStatus(ctx, transactionID, []string{model.StatusPaid}, model.StatusRefunding)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transaction can no longer be cancelled")
		}
		if err := v.settleRefund(ctx, txn, model.StatusRefunded, model.StatusPaid); err != nil {
			return nil, err
		}
		txn.Status = model.StatusRefunded
	default:
		return nil, apierror.NewConflict(apierror.ReasonBadStatus, "transaction can no longer be cancelled")
	}

	eventType := model.EventTransactionCancelled
	if txn.Status == model.StatusRefunded {
		eventType = model.EventTransactionRefunded
	}
	v.dispatch(ctx, model.NewEvent(eventType, transactionEventData(txn, reason)),
		&model.Notification{
			UserID:  txn.BuyerID,
			Title:   "Transaction cancelled",
			Message: "The purchase was cancelled and any escrowed funds are being returned.",
		},
		&model.Notification{
			UserID:  txn.SellerID,
			Title:   "Transaction cancelled",
			Message: "The purchase was cancelled. Your listing is active again.",
		})
	v.dispatch(ctx, model.NewEvent(model.EventListingRelisted, model.ListingEventData{
		ListingID: txn.ListingID,
		SellerID:  txn.SellerID,
		Status:    model.ListingStatusActive,
	}))
	return txn, nil
}

// settleRefund resolves a REFUNDING claim to its terminal status. With an
// adapter configured the on-chain refund must confirm first; a decline or
// transport failure reverts the claim so the caller can retry. A solo escrow
// refunds the buyer; a partner-funded one refunds each deposited partner's
// wallet, and the adapter's idempotency by reference makes re-running a
// partially refunded transaction safe. Without an adapter the resolution is
// database-only and flagged for manual follow-up.
func (v *Vaultline) settleRefund(ctx context.Context, txn *model.Transaction, terminal, revertTo string) error {
	if v.adapter != nil {
		revert := func(cause error, message string) error {
			if _, revertErr := v.datasource.TransitionStatus(ctx, txn.TransactionID, []string{model.StatusRefunding}, revertTo); revertErr != nil {
				return revertErr
			}
			return apierror.NewAPIError(apierror.ErrAdapter, message, cause)
		}

		recipients := []string{txn.BuyerID}
		if txn.HasPartners {
			partners, err := v.datasource.GetPartners(ctx, txn.TransactionID)
			if err != nil {
				return revert(err, "could not load partner shares for refund")
			}
			recipients = recipients[:0]
			for _, p := range partners {
				if p.DepositStatus == model.DepositStatusDeposited {
					recipients = append(recipients, p.WalletAddress)
				}
			}
		}
		for _, recipient := range recipients {
			signature, err := v.adapter.AttemptRefund(ctx, txn.ListingID, recipient)
			if err != nil {
				return revert(err, "settlement rail call failed")
			}
			if signature == "" {
				return revert(nil, "settlement rail declined the refund")
			}
		}
	}

	if terminal == model.StatusCancelled {
		if err := v.datasource.FinalizeCancellation(ctx, txn.TransactionID, txn.ListingID); err != nil {
			return err
		}
	} else {
		if err := v.datasource.FinalizeRefund(ctx, txn.TransactionID, txn.ListingID); err != nil {
			return err
		}
	}

	if v.adapter == nil {
		if err := v.datasource.FlagManualReview(ctx, txn.TransactionID); err != nil {
			return err
		}
	}
	return nil
}
