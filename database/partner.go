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

const partnerColumns = `partner_id, transaction_id, COALESCE(user_id, ''), wallet_address, percentage, deposit_amount, deposit_status, COALESCE(deposit_tx_ref, ''), is_lead, created_at`

func scanPartner(row rowScanner) (*model.TransactionPartner, error) {
	p := &model.TransactionPartner{}
	err := row.Scan(&p.PartnerID, &p.TransactionID, &p.UserID, &p.WalletAddress, &p.Percentage, &p.DepositAmount, &p.DepositStatus, &p.DepositTxRef, &p.IsLead, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Purchase partner not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to retrieve purchase partner: %v", err), err)
	}
	return p, nil
}

func (d Datasource) GetPartners(ctx context.Context, transactionID string) ([]*model.TransactionPartner, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transaction_partners
		WHERE transaction_id = $1
		ORDER BY is_lead DESC, created_at ASC
	`, partnerColumns), transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve purchase partners", err)
	}
	defer rows.Close()

	var partners []*model.TransactionPartner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over purchase partners", err)
	}
	return partners, nil
}

func (d Datasource) GetPartner(ctx context.Context, transactionID, partnerID string) (*model.TransactionPartner, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transaction_partners
		WHERE transaction_id = $1 AND partner_id = $2
	`, partnerColumns), transactionID, partnerID)
	return scanPartner(row)
}

// RecordPartnerDeposit marks one partner deposited and, when every share is
// in, completes the purchase. All partner rows are re-read inside the same
// serializable transaction so the aggregate percentage is never computed from
// stale state. The status gate on the transaction row is what keeps this from
// racing the partner-deposit expiry sweep: once the sweep claims the
// transaction out of AWAITING_PARTNER_DEPOSITS, this fails with BAD_STATUS.
func (d Datasource) RecordPartnerDeposit(ctx context.Context, transactionID, partnerID, txRef string) (*DepositResult, error) {
	ctx, span := otel.Tracer("vaultline.transactions").Start(ctx, "Recording partner deposit")
	defer span.End()

	result := &DepositResult{}

	err := d.serializableTx(ctx, func(tx *sql.Tx) error {
		var status, listingID, buyerID, sellerID string
		var salePrice decimal.Decimal
		var deadline *time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT status, listing_id, buyer_id, seller_id, sale_price, partner_deposit_deadline
			FROM transactions
			WHERE transaction_id = $1
		`, transactionID).Scan(&status, &listingID, &buyerID, &sellerID, &salePrice, &deadline)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", transactionID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
		}
		if status != model.StatusAwaitingPartnerDeposits {
			return apierror.NewConflict(apierror.ReasonBadStatus, "transaction is not awaiting partner deposits")
		}
		if deadline != nil && time.Now().After(*deadline) {
			return apierror.NewConflict(apierror.ReasonDeadlinePassed, "the partner deposit window has closed")
		}

		updated, err := tx.ExecContext(ctx, `
			UPDATE transaction_partners
			SET deposit_status = $3, deposit_tx_ref = $4
			WHERE transaction_id = $1 AND partner_id = $2 AND deposit_status = $5
		`, transactionID, partnerID, model.DepositStatusDeposited, txRef, model.DepositStatusPending)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record partner deposit", err)
		}
		rows, err := updated.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		if rows == 0 {
			// Distinguish an unknown partner from one that already deposited.
			if _, err := scanPartner(tx.QueryRowContext(ctx, fmt.Sprintf(`
				SELECT %s FROM transaction_partners WHERE transaction_id = $1 AND partner_id = $2
			`, partnerColumns), transactionID, partnerID)); err != nil {
				return err
			}
			return apierror.NewConflict(apierror.ReasonAlreadyDeposited, "this partner has already deposited")
		}

		partners, err := queryPartnersTx(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		for _, p := range partners {
			if p.PartnerID == partnerID {
				result.Partner = p
			}
		}
		hundred := decimal.NewFromInt(100)
		result.DepositedSum = model.SumDepositedPercentages(partners)
		if result.DepositedSum.Cmp(hundred) > 0 {
			return apierror.NewConflict(apierror.ReasonPercentageCap, "deposited shares exceed 100 percent")
		}

		if result.DepositedSum.Equal(hundred) {
			paid, err := tx.ExecContext(ctx, `
				UPDATE transactions SET status = $2, paid_at = NOW()
				WHERE transaction_id = $1 AND status = $3
			`, transactionID, model.StatusPaid, model.StatusAwaitingPartnerDeposits)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark transaction paid", err)
			}
			rows, err := paid.RowsAffected()
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
			}
			if rows == 0 {
				return apierror.NewConflict(apierror.ReasonBadStatus, "transaction is not awaiting partner deposits")
			}
			if err := markListingSold(ctx, tx, listingID); err != nil {
				return err
			}
			txn := &model.Transaction{BuyerID: buyerID, SellerID: sellerID, SalePrice: salePrice}
			if err := bumpUserStats(ctx, tx, txn); err != nil {
				return err
			}
			result.Completed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func queryPartnersTx(ctx context.Context, tx *sql.Tx, transactionID string) ([]*model.TransactionPartner, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transaction_partners WHERE transaction_id = $1
	`, partnerColumns), transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve purchase partners", err)
	}
	defer rows.Close()

	var partners []*model.TransactionPartner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over purchase partners", err)
	}
	return partners, nil
}
