package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

const transactionColumns = `transaction_id, listing_id, buyer_id, seller_id, status, sale_price, platform_fee, seller_proceeds, currency,
	has_partners, buyer_info_status, buyer_info_deadline, partner_deposit_deadline, dispute_status, needs_manual_review,
	paid_at, transfer_started_at, transfer_completed_at, refunded_at, created_at`

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	err := row.Scan(&txn.TransactionID, &txn.ListingID, &txn.BuyerID, &txn.SellerID, &txn.Status, &txn.SalePrice,
		&txn.PlatformFee, &txn.SellerProceeds, &txn.Currency, &txn.HasPartners, &txn.BuyerInfoStatus,
		&txn.BuyerInfoDeadline, &txn.PartnerDepositDeadline, &txn.DisputeStatus, &txn.NeedsManualReview,
		&txn.PaidAt, &txn.TransferStartedAt, &txn.TransferCompletedAt, &txn.RefundedAt, &txn.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve transaction: %v", err), err)
	}
	return txn, nil
}

// RecordPurchase inserts the transaction and any partner rows inside one
// serializable transaction. The listing row is re-read under the transaction,
// and the partial unique index on non-terminal transactions backstops the
// one-active-transaction-per-listing invariant against concurrent inserts.
// For solo purchases the listing flips to SOLD and both parties' rolling
// stats are bumped in the same commit.
func (d Datasource) RecordPurchase(ctx context.Context, txn *model.Transaction, partners []*model.TransactionPartner) (*model.Transaction, error) {
	ctx, span := otel.Tracer("vaultline.transactions").Start(ctx, "Recording purchase")
	defer span.End()

	txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	txn.CreatedAt = time.Now()

	err := d.serializableTx(ctx, func(tx *sql.Tx) error {
		var status string
		var reservedBuyer sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT status, reserved_buyer_id FROM listings WHERE listing_id = $1
		`, txn.ListingID).Scan(&status, &reservedBuyer)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Listing with ID '%s' not found", txn.ListingID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve listing", err)
		}
		if status == model.ListingStatusSold {
			return apierror.NewConflict(apierror.ReasonAlreadySold, "listing has already been sold")
		}
		if status != model.ListingStatusActive {
			return apierror.NewConflict(apierror.ReasonListingNotActive, "listing is not available for purchase")
		}
		if reservedBuyer.Valid && reservedBuyer.String != "" && reservedBuyer.String != txn.BuyerID {
			return apierror.NewConflict(apierror.ReasonListingNotActive, "listing is reserved for another buyer")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (transaction_id, listing_id, buyer_id, seller_id, status, sale_price, platform_fee, seller_proceeds, currency,
				has_partners, buyer_info_status, buyer_info_deadline, partner_deposit_deadline, dispute_status, needs_manual_review, paid_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, txn.TransactionID, txn.ListingID, txn.BuyerID, txn.SellerID, txn.Status, txn.SalePrice, txn.PlatformFee, txn.SellerProceeds, txn.Currency,
			txn.HasPartners, txn.BuyerInfoStatus, txn.BuyerInfoDeadline, txn.PartnerDepositDeadline, txn.DisputeStatus, txn.NeedsManualReview, txn.PaidAt, txn.CreatedAt)
		if err != nil {
			if apierror.IsUniqueViolation(err) {
				return apierror.NewConflict(apierror.ReasonAlreadySold, "another purchase is already in progress for this listing")
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record purchase", err)
		}

		for _, p := range partners {
			p.TransactionID = txn.TransactionID
			p.CreatedAt = txn.CreatedAt
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transaction_partners (partner_id, transaction_id, user_id, wallet_address, percentage, deposit_amount, deposit_status, deposit_tx_ref, is_lead, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
			`, p.PartnerID, p.TransactionID, p.UserID, p.WalletAddress, p.Percentage, p.DepositAmount, p.DepositStatus, p.DepositTxRef, p.IsLead, p.CreatedAt)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record purchase partner", err)
			}
		}

		if !txn.HasPartners {
			if err := markListingSold(ctx, tx, txn.ListingID); err != nil {
				return err
			}
			if err := bumpUserStats(ctx, tx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func markListingSold(ctx context.Context, tx *sql.Tx, listingID string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE listings SET status = $2, reserved_buyer_id = NULL, reserved_at = NULL
		WHERE listing_id = $1 AND status = $3
	`, listingID, model.ListingStatusSold, model.ListingStatusActive)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark listing sold", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rows == 0 {
		return apierror.NewConflict(apierror.ReasonAlreadySold, "listing has already been sold")
	}
	return nil
}

func bumpUserStats(ctx context.Context, tx *sql.Tx, txn *model.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, purchase_count, purchase_volume)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET purchase_count = user_stats.purchase_count + 1,
			purchase_volume = user_stats.purchase_volume + EXCLUDED.purchase_volume
	`, txn.BuyerID, txn.SalePrice)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update buyer stats", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_stats (user_id, sale_count, sale_volume)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET sale_count = user_stats.sale_count + 1,
			sale_volume = user_stats.sale_volume + EXCLUDED.sale_volume
	`, txn.SellerID, txn.SalePrice)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update seller stats", err)
	}
	return nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE transaction_id = $1
	`, transactionColumns), id)
	return scanTransaction(row)
}

func (d Datasource) GetActiveTransactionByListing(ctx context.Context, listingID string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE listing_id = $1 AND status NOT IN ($2, $3, $4)
	`, transactionColumns), listingID, model.StatusCompleted, model.StatusRefunded, model.StatusCancelled)
	return scanTransaction(row)
}

// TransitionStatus is the conditional claim used by handlers and sweeps
// alike. Zero rows affected means the expected-status gate did not hold,
// which callers treat as "someone else got there first".
func (d Datasource) TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET status = $2
		WHERE transaction_id = $1 AND status = ANY($3) AND dispute_status != $4
	`, id, to, pq.Array(from), model.DisputeOpen)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transition transaction status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

func (d Datasource) MarkTransferStarted(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET status = $2, transfer_started_at = NOW()
		WHERE transaction_id = $1 AND status = $3 AND dispute_status != $4
	`, id, model.StatusTransferInProgress, model.StatusPaid, model.DisputeOpen)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark transfer started", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

func (d Datasource) MarkTransferCompleted(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET status = $2, transfer_completed_at = NOW()
		WHERE transaction_id = $1 AND status = $3 AND dispute_status != $4
	`, id, model.StatusAwaitingConfirmation, model.StatusTransferInProgress, model.DisputeOpen)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark transfer completed", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

func (d Datasource) SubmitBuyerInfo(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET buyer_info_status = $2
		WHERE transaction_id = $1 AND buyer_info_status = $3 AND status NOT IN ($4, $5, $6)
	`, id, model.BuyerInfoSubmitted, model.BuyerInfoPending, model.StatusCompleted, model.StatusRefunded, model.StatusCancelled)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to submit buyer info", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rows > 0, nil
}

// FinalizeRefund moves a REFUNDING transaction to REFUNDED, marks any
// deposited partner shares refunded and relists the listing, all in the same
// serializable transaction. Sweeps call this only after the settlement
// adapter confirmed the refund.
func (d Datasource) FinalizeRefund(ctx context.Context, txnID, listingID string) error {
	return d.serializableTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, refunded_at = NOW()
			WHERE transaction_id = $1 AND status = $3
		`, txnID, model.StatusRefunded, model.StatusRefunding)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize refund", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		if rows == 0 {
			return apierror.NewConflict(apierror.ReasonBadStatus, "transaction is no longer refunding")
		}
		if err := refundDepositedPartners(ctx, tx, txnID); err != nil {
			return err
		}
		return relistListing(ctx, tx, listingID)
	})
}

// FinalizeCancellation moves a claimed transaction to CANCELLED and relists
// the listing. Used by the partner-deposit expiry sweep and the cancel
// endpoint once no settlement call is owed.
func (d Datasource) FinalizeCancellation(ctx context.Context, txnID, listingID string) error {
	return d.serializableTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2
			WHERE transaction_id = $1 AND status IN ($3, $4)
		`, txnID, model.StatusCancelled, model.StatusRefunding, model.StatusAwaitingPartnerDeposits)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finalize cancellation", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		if rows == 0 {
			return apierror.NewConflict(apierror.ReasonBadStatus, "transaction cannot be cancelled from its current status")
		}
		if err := refundDepositedPartners(ctx, tx, txnID); err != nil {
			return err
		}
		return relistListing(ctx, tx, listingID)
	})
}

func refundDepositedPartners(ctx context.Context, tx *sql.Tx, txnID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transaction_partners SET deposit_status = $2
		WHERE transaction_id = $1 AND deposit_status = $3
	`, txnID, model.DepositStatusRefunded, model.DepositStatusDeposited)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark partner deposits refunded", err)
	}
	return nil
}

// relistListing reopens a sold listing and always clears the offer
// reservation, so a cancelled never-sold listing does not stay held for the
// reserved buyer until the offer-expiry sweep.
func relistListing(ctx context.Context, tx *sql.Tx, listingID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE listings SET status = CASE WHEN status = $3 THEN $2 ELSE status END, reserved_buyer_id = NULL, reserved_at = NULL
		WHERE listing_id = $1
	`, listingID, model.ListingStatusActive, model.ListingStatusSold)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to relist listing", err)
	}
	return nil
}

func (d Datasource) FlagManualReview(ctx context.Context, txnID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE transactions SET needs_manual_review = TRUE WHERE transaction_id = $1
	`, txnID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag transaction for manual review", err)
	}
	return nil
}

// The four sweep queries below share the same shape: bounded batch, oldest
// deadline first, dispute-frozen and already-flagged records excluded.

func (d Datasource) GetTransactionsPastBuyerInfoDeadline(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	return d.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE buyer_info_status = $1 AND buyer_info_deadline < $2
			AND status IN ($3, $4) AND dispute_status != $5 AND NOT needs_manual_review
		ORDER BY buyer_info_deadline ASC
		LIMIT $6
	`, transactionColumns), model.BuyerInfoPending, now, model.StatusPaid, model.StatusAwaitingPartnerDeposits, model.DisputeOpen, limit)
}

func (d Datasource) GetTransactionsPastTransferDeadline(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	return d.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status = $1 AND paid_at < $2
			AND dispute_status != $3 AND NOT needs_manual_review
		ORDER BY paid_at ASC
		LIMIT $4
	`, transactionColumns), model.StatusPaid, cutoff, model.DisputeOpen, limit)
}

func (d Datasource) GetTransactionsPastAutoRelease(ctx context.Context, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	return d.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status = $1 AND transfer_completed_at < $2
			AND dispute_status != $3 AND NOT needs_manual_review
		ORDER BY transfer_completed_at ASC
		LIMIT $4
	`, transactionColumns), model.StatusAwaitingConfirmation, cutoff, model.DisputeOpen, limit)
}

func (d Datasource) GetTransactionsPastPartnerDeposit(ctx context.Context, now time.Time, limit int) ([]*model.Transaction, error) {
	return d.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status = $1 AND partner_deposit_deadline < $2
			AND dispute_status != $3 AND NOT needs_manual_review
		ORDER BY partner_deposit_deadline ASC
		LIMIT $4
	`, transactionColumns), model.StatusAwaitingPartnerDeposits, now, model.DisputeOpen, limit)
}

func (d Datasource) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	var txns []*model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transactions", err)
	}
	return txns, nil
}
