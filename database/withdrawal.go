package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

const withdrawalColumns = `withdrawal_id, listing_id, user_id, amount, currency, claimed, expired, needs_review, created_at`

func scanWithdrawal(row rowScanner) (*model.PendingWithdrawal, error) {
	w := &model.PendingWithdrawal{}
	err := row.Scan(&w.WithdrawalID, &w.ListingID, &w.UserID, &w.Amount, &w.Currency, &w.Claimed, &w.Expired, &w.NeedsReview, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Pending withdrawal not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve pending withdrawal: %v", err), err)
	}
	return w, nil
}

func (d Datasource) CreatePendingWithdrawal(ctx context.Context, w *model.PendingWithdrawal) (*model.PendingWithdrawal, error) {
	w.WithdrawalID = model.GenerateUUIDWithSuffix("wdl")
	w.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO pending_withdrawals (withdrawal_id, listing_id, user_id, amount, currency, claimed, expired, needs_review, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, FALSE, $6)
	`, w.WithdrawalID, w.ListingID, w.UserID, w.Amount, w.Currency, w.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pending withdrawal", err)
	}
	return w, nil
}

func (d Datasource) GetExpiredWithdrawals(ctx context.Context, cutoff time.Time, limit int) ([]*model.PendingWithdrawal, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pending_withdrawals
		WHERE NOT claimed AND NOT expired AND NOT needs_review AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, withdrawalColumns), cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expired withdrawals", err)
	}
	defer rows.Close()

	var withdrawals []*model.PendingWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over withdrawals", err)
	}
	return withdrawals, nil
}

// ClaimWithdrawalExpiry is the sweep's conditional claim. False means a
// concurrent run or a last-second user claim got the row first.
func (d Datasource) ClaimWithdrawalExpiry(ctx context.Context, withdrawalID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE pending_withdrawals SET expired = TRUE
		WHERE withdrawal_id = $1 AND NOT claimed AND NOT expired AND NOT needs_review
	`, withdrawalID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim withdrawal expiry", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// RevertWithdrawalExpiry puts the row back after a failed settlement call so
// the next sweep run retries it.
func (d Datasource) RevertWithdrawalExpiry(ctx context.Context, withdrawalID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE pending_withdrawals SET expired = FALSE
		WHERE withdrawal_id = $1 AND expired AND NOT claimed
	`, withdrawalID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to revert withdrawal expiry", err)
	}
	return nil
}

func (d Datasource) FlagWithdrawalReview(ctx context.Context, withdrawalID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE pending_withdrawals SET needs_review = TRUE, expired = FALSE
		WHERE withdrawal_id = $1 AND NOT claimed
	`, withdrawalID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag withdrawal for review", err)
	}
	return nil
}
