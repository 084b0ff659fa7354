package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

// PlaceBid runs the whole bid critical section inside one serializable
// transaction: the listing row and the current winning bid are re-read under
// the transaction, so the precondition checks act on current values, not a
// stale read. Under concurrent bids exactly one commits the new maximum;
// the loser gets a BID_TOO_LOW conflict after retrying on the updated row.
func (d Datasource) PlaceBid(ctx context.Context, b *model.Bid) (*model.Bid, *model.Bid, error) {
	ctx, span := otel.Tracer("vaultline.bids").Start(ctx, "Placing bid")
	defer span.End()

	b.BidID = model.GenerateUUIDWithSuffix("bid")
	b.CreatedAt = time.Now()
	b.IsWinning = true
	b.IsOutbid = false

	var outbid *model.Bid

	err := d.serializableTx(ctx, func(tx *sql.Tx) error {
		var status, sellerID string
		var startingPrice decimal.Decimal
		var endTime time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT status, seller_id, starting_price, end_time
			FROM listings
			WHERE listing_id = $1
		`, b.ListingID).Scan(&status, &sellerID, &startingPrice, &endTime)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Listing with ID '%s' not found", b.ListingID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve listing", err)
		}

		if status != model.ListingStatusActive {
			return apierror.NewConflict(apierror.ReasonListingNotActive, "listing is not accepting bids")
		}
		if !b.CreatedAt.Before(endTime) {
			return apierror.NewConflict(apierror.ReasonListingEnded, "bidding has ended for this listing")
		}
		if sellerID == b.BidderID {
			return apierror.NewConflict(apierror.ReasonSelfDealing, "sellers cannot bid on their own listing")
		}

		prior := &model.Bid{}
		err = tx.QueryRowContext(ctx, `
			SELECT bid_id, listing_id, bidder_id, amount, currency, is_winning, is_outbid, created_at
			FROM bids
			WHERE listing_id = $1 AND is_winning
		`, b.ListingID).Scan(&prior.BidID, &prior.ListingID, &prior.BidderID, &prior.Amount, &prior.Currency, &prior.IsWinning, &prior.IsOutbid, &prior.CreatedAt)
		if err != nil && err != sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve winning bid", err)
		}

		floor := startingPrice
		hasPrior := err == nil
		if hasPrior {
			floor = prior.Amount
		}
		if b.Amount.Cmp(floor) <= 0 {
			return apierror.NewConflict(apierror.ReasonBidTooLow,
				fmt.Sprintf("bid must exceed %s %s", floor.String(), b.Currency))
		}

		if hasPrior {
			_, err = tx.ExecContext(ctx, `
				UPDATE bids SET is_winning = FALSE, is_outbid = TRUE WHERE bid_id = $1
			`, prior.BidID)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark prior bid outbid", err)
			}
			prior.IsWinning = false
			prior.IsOutbid = true
			outbid = prior
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bids (bid_id, listing_id, bidder_id, amount, currency, is_winning, is_outbid, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, FALSE, $6)
		`, b.BidID, b.ListingID, b.BidderID, b.Amount, b.Currency, b.CreatedAt)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record bid", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return b, outbid, nil
}

func (d Datasource) GetWinningBid(ctx context.Context, listingID string) (*model.Bid, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT bid_id, listing_id, bidder_id, amount, currency, is_winning, is_outbid, created_at
		FROM bids
		WHERE listing_id = $1 AND is_winning
	`, listingID)

	b := &model.Bid{}
	err := row.Scan(&b.BidID, &b.ListingID, &b.BidderID, &b.Amount, &b.Currency, &b.IsWinning, &b.IsOutbid, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No winning bid for listing '%s'", listingID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve winning bid", err)
	}
	return b, nil
}

func (d Datasource) GetBidsByListing(ctx context.Context, listingID string, limit, offset int) ([]*model.Bid, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT bid_id, listing_id, bidder_id, amount, currency, is_winning, is_outbid, created_at
		FROM bids
		WHERE listing_id = $1
		ORDER BY amount DESC
		LIMIT $2 OFFSET $3
	`, listingID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bids", err)
	}
	defer rows.Close()

	var bids []*model.Bid
	for rows.Next() {
		b := &model.Bid{}
		err = rows.Scan(&b.BidID, &b.ListingID, &b.BidderID, &b.Amount, &b.Currency, &b.IsWinning, &b.IsOutbid, &b.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan bid data", err)
		}
		bids = append(bids, b)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over bids", err)
	}
	return bids, nil
}
