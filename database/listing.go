package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"

	_ "github.com/lib/pq"
)

func (d Datasource) CreateListing(ctx context.Context, l *model.Listing) (*model.Listing, error) {
	l.ListingID = model.GenerateUUIDWithSuffix("lst")
	l.CreatedAt = time.Now()
	if l.Status == "" {
		l.Status = model.ListingStatusActive
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO listings (listing_id, seller_id, title, status, starting_price, buy_now_price, currency, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ListingID, l.SellerID, l.Title, l.Status, l.StartingPrice, l.BuyNowPrice, l.Currency, l.EndTime, l.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create listing", err)
	}
	return l, nil
}

func (d Datasource) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT listing_id, seller_id, title, status, starting_price, buy_now_price, currency, end_time, COALESCE(reserved_buyer_id, ''), reserved_at, created_at
		FROM listings
		WHERE listing_id = $1
	`, id)
	return scanListing(row)
}

// ReserveListing records an accepted offer reservation. The conditional
// WHERE closes the race between two buyers reserving at once.
func (d Datasource) ReserveListing(ctx context.Context, listingID, buyerID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE listings
		SET reserved_buyer_id = $2, reserved_at = NOW()
		WHERE listing_id = $1 AND status = $3 AND reserved_buyer_id IS NULL
	`, listingID, buyerID, model.ListingStatusActive)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve listing", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// ClearExpiredReservations releases reservations older than the cutoff and
// returns the listings touched so the dispatcher can notify both parties.
func (d Datasource) ClearExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]*model.Listing, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE listings
		SET reserved_buyer_id = NULL, reserved_at = NULL
		WHERE listing_id IN (
			SELECT listing_id FROM listings
			WHERE reserved_at IS NOT NULL AND reserved_at < $1 AND status = $2
			ORDER BY reserved_at ASC
			LIMIT $3
		)
		RETURNING listing_id, seller_id, title, status, starting_price, buy_now_price, currency, end_time, COALESCE(reserved_buyer_id, ''), reserved_at, created_at
	`, cutoff, model.ListingStatusActive, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear expired reservations", err)
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over listings", err)
	}
	return listings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*model.Listing, error) {
	l := &model.Listing{}
	err := row.Scan(&l.ListingID, &l.SellerID, &l.Title, &l.Status, &l.StartingPrice, &l.BuyNowPrice, &l.Currency, &l.EndTime, &l.ReservedBuyerID, &l.ReservedAt, &l.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Listing not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve listing: %v", err), err)
	}
	return l, nil
}
