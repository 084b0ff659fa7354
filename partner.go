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

	"github.com/vaultline/vaultline/database"
	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

// RecordDeposit verifies a partner's payment against the settlement rail and
// books it. When the final share lands, the transaction moves to PAID and
// the listing to SOLD in the same commit; the paid/sold events go out here,
// after that commit.
func (v *Vaultline) RecordDeposit(ctx context.Context, transactionID, partnerID, txRef string) (*database.DepositResult, error) {
	ctx, span := tracer.Start(ctx, "Recording partner deposit")
	defer span.End()

	if txRef == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "proof of payment reference is required", nil)
	}

	txn, err := v.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	partner, err := v.datasource.GetPartner(ctx, transactionID, partnerID)
	if err != nil {
		return nil, err
	}

	if v.adapter != nil {
		verified, err := v.adapter.VerifyPayment(ctx, txRef, partner.WalletAddress, txn.ListingID, partner.DepositAmount)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrAdapter, "payment verification failed", err)
		}
		if !verified {
			return nil, apierror.NewConflict(apierror.ReasonPaymentUnverified, "the payment reference could not be verified on the rail")
		}
	}

	var result *database.DepositResult
	err = withSerializableRetry(ctx, func() error {
		var txErr error
		result, txErr = v.datasource.RecordPartnerDeposit(ctx, transactionID, partnerID, txRef)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	v.dispatch(ctx, model.NewEvent(model.EventPartnerDeposited, model.PartnerEventData{
		TransactionID: transactionID,
		PartnerID:     partnerID,
		Percentage:    result.Partner.Percentage,
		DepositedSum:  result.DepositedSum,
	}), &model.Notification{
		UserID:  txn.BuyerID,
		Title:   "Partner deposit received",
		Message: fmt.Sprintf("%s%% of the purchase is now funded.", result.DepositedSum.String()),
	})

	if result.Completed {
		txn.Status = model.StatusPaid
		v.dispatch(ctx, model.NewEvent(model.EventTransactionPaid, transactionEventData(txn, "")),
			&model.Notification{
				UserID:  txn.SellerID,
				Title:   "Payment received",
				Message: "All partner deposits are in. Transfer the asset before the deadline to get paid.",
			})
		v.dispatch(ctx, model.NewEvent(model.EventListingSold, model.ListingEventData{
			ListingID: txn.ListingID,
			SellerID:  txn.SellerID,
			Status:    model.ListingStatusSold,
		}))
	}
	return result, nil
}
