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
	"github.com/sirupsen/logrus"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

// PlaceBid validates and commits a bid, then emits the post-commit side
// effects: bid.placed and bid.outbid events, a pending withdrawal owed to
// the outbid bidder, and notifications. The critical section itself lives in
// the datasource; everything after the commit is best-effort.
func (v *Vaultline) PlaceBid(ctx context.Context, listingID, bidderID string, amount decimal.Decimal, currency string) (*model.Bid, error) {
	ctx, span := tracer.Start(ctx, "Placing bid")
	defer span.End()

	if amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "bid amount must be positive", nil)
	}
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = cfg.Marketplace.Currency
	}

	// The loser of a concurrent bid race aborts with a serialization
	// failure; the retry re-reads the new highest bid and turns the loss
	// into a BID_TOO_LOW conflict.
	var placed, outbid *model.Bid
	err = withSerializableRetry(ctx, func() error {
		var txErr error
		placed, outbid, txErr = v.datasource.PlaceBid(ctx, &model.Bid{
			ListingID: listingID,
			BidderID:  bidderID,
			Amount:    amount,
			Currency:  currency,
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	v.dispatch(ctx, model.NewEvent(model.EventBidPlaced, model.BidEventData{
		ListingID: placed.ListingID,
		BidID:     placed.BidID,
		BidderID:  placed.BidderID,
		Amount:    placed.Amount,
		Currency:  placed.Currency,
	}), &model.Notification{
		UserID:  placed.BidderID,
		Title:   "Bid placed",
		Message: fmt.Sprintf("Your bid of %s %s is now the highest bid.", placed.Amount.String(), placed.Currency),
	})

	if outbid != nil {
		v.recordOutbidWithdrawal(ctx, outbid)
		v.dispatch(ctx, model.NewEvent(model.EventBidOutbid, model.BidEventData{
			ListingID: outbid.ListingID,
			BidID:     outbid.BidID,
			BidderID:  outbid.BidderID,
			Amount:    outbid.Amount,
			Currency:  outbid.Currency,
		}), &model.Notification{
			UserID:  outbid.BidderID,
			Title:   "You have been outbid",
			Message: fmt.Sprintf("A higher bid of %s %s was placed. Your escrowed funds are available to withdraw.", placed.Amount.String(), placed.Currency),
		})
	}
	return placed, nil
}

// AcceptOffer lets the seller reserve the listing for one buyer. The buyer
// has the offer reservation window to initiate the purchase before the
// offer-expiry sweep reopens the listing.
func (v *Vaultline) AcceptOffer(ctx context.Context, listingID, sellerID, buyerID string) (*model.Listing, error) {
	listing, err := v.datasource.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "only the seller can accept an offer", nil)
	}
	if buyerID == sellerID {
		return nil, apierror.NewConflict(apierror.ReasonSelfDealing, "sellers cannot reserve their own listing")
	}

	reserved, err := v.datasource.ReserveListing(ctx, listingID, buyerID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apierror.NewConflict(apierror.ReasonListingNotActive, "listing is not open for reservation")
	}
	now := time.Now()
	listing.ReservedBuyerID = buyerID
	listing.ReservedAt = &now

	v.dispatch(ctx, model.NewEvent(model.EventListingReserved, model.ListingEventData{
		ListingID: listing.ListingID,
		SellerID:  listing.SellerID,
		Status:    listing.Status,
	}), &model.Notification{
		UserID:  buyerID,
		Title:   "Offer accepted",
		Message: "The seller accepted your offer. Complete the purchase before the reservation expires.",
	})
	return listing, nil
}

// recordOutbidWithdrawal writes the refund owed to the superseded bidder.
// It runs outside the bid transaction: if it fails the withdrawal sweep has
// nothing to expire, but the bidder can still reclaim through support, so we
// log loudly rather than roll back a committed bid.
func (v *Vaultline) recordOutbidWithdrawal(ctx context.Context, outbid *model.Bid) {
	_, err := v.datasource.CreatePendingWithdrawal(ctx, &model.PendingWithdrawal{
		ListingID: outbid.ListingID,
		UserID:    outbid.BidderID,
		Amount:    outbid.Amount,
		Currency:  outbid.Currency,
	})
	if err != nil {
		logrus.Errorf("recording outbid withdrawal for bid %s: %v", outbid.BidID, err)
	}
}
