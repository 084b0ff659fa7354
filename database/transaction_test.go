package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/model"
)

func soloTransaction() *model.Transaction {
	price := decimal.NewFromInt(12)
	fee, proceeds := model.ComputeFeeSplit(price, decimal.NewFromFloat(0.05))
	now := time.Now()
	deadline := now.Add(24 * time.Hour)
	return &model.Transaction{
		ListingID:         "lst1",
		BuyerID:           "buyer1",
		SellerID:          "seller1",
		Status:            model.StatusPaid,
		SalePrice:         price,
		PlatformFee:       fee,
		SellerProceeds:    proceeds,
		Currency:          "SOL",
		BuyerInfoStatus:   model.BuyerInfoPending,
		BuyerInfoDeadline: &deadline,
		DisputeStatus:     model.DisputeNone,
		PaidAt:            &now,
	}
}

func TestRecordPurchase_SoloFlipsListingAndStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, reserved_buyer_id FROM listings").
		WithArgs("lst1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reserved_buyer_id"}).
			AddRow(model.ListingStatusActive, nil))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE listings SET status").
		WithArgs("lst1", model.ListingStatusSold, model.ListingStatusActive).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_stats").
		WithArgs("buyer1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_stats").
		WithArgs("seller1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := ds.RecordPurchase(context.Background(), soloTransaction(), nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, txn.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPurchase_DuplicateActiveTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, reserved_buyer_id FROM listings").
		WithArgs("lst1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reserved_buyer_id"}).
			AddRow(model.ListingStatusActive, nil))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectRollback()

	_, err = ds.RecordPurchase(context.Background(), soloTransaction(), nil)
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonAlreadySold))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPurchase_ListingAlreadySold(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, reserved_buyer_id FROM listings").
		WithArgs("lst1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reserved_buyer_id"}).
			AddRow(model.ListingStatusSold, nil))
	mock.ExpectRollback()

	_, err = ds.RecordPurchase(context.Background(), soloTransaction(), nil)
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonAlreadySold))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_ClaimedOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE transactions SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transactions SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := ds.TransitionStatus(context.Background(), "txn1", []string{model.StatusPaid}, model.StatusRefunding)
	assert.NoError(t, err)
	assert.True(t, claimed)

	// A second racing claim sees zero rows and must report not-claimed.
	claimed, err = ds.TransitionStatus(context.Background(), "txn1", []string{model.StatusPaid}, model.StatusRefunding)
	assert.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRefund_RelistsListing(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs("txn1", model.StatusRefunded, model.StatusRefunding).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transaction_partners SET deposit_status").
		WithArgs("txn1", model.DepositStatusRefunded, model.DepositStatusDeposited).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE listings SET status").
		WithArgs("lst1", model.ListingStatusActive, model.ListingStatusSold).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.FinalizeRefund(context.Background(), "txn1", "lst1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeCancellation_RefundsPartnersAndClearsReservation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs("txn1", model.StatusCancelled, model.StatusRefunding, model.StatusAwaitingPartnerDeposits).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transaction_partners SET deposit_status").
		WithArgs("txn1", model.DepositStatusRefunded, model.DepositStatusDeposited).
		WillReturnResult(sqlmock.NewResult(0, 2))
	// The reservation is cleared even though the listing never sold.
	mock.ExpectExec("UPDATE listings SET status").
		WithArgs("lst1", model.ListingStatusActive, model.ListingStatusSold).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ds.FinalizeCancellation(context.Background(), "txn1", "lst1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRefund_NotRefunding(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs("txn1", model.StatusRefunded, model.StatusRefunding).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.FinalizeRefund(context.Background(), "txn1", "lst1")
	assert.Error(t, err)
	assert.True(t, apierror.IsConflict(err, apierror.ReasonBadStatus))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionsPastTransferDeadline(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	paidAt := time.Now().Add(-96 * time.Hour)
	rows := sqlmock.NewRows([]string{
		"transaction_id", "listing_id", "buyer_id", "seller_id", "status", "sale_price", "platform_fee", "seller_proceeds", "currency",
		"has_partners", "buyer_info_status", "buyer_info_deadline", "partner_deposit_deadline", "dispute_status", "needs_manual_review",
		"paid_at", "transfer_started_at", "transfer_completed_at", "refunded_at", "created_at",
	}).AddRow("txn1", "lst1", "buyer1", "seller1", model.StatusPaid, "12", "0.6", "11.4", "SOL",
		false, model.BuyerInfoPending, nil, nil, model.DisputeNone, false,
		paidAt, nil, nil, nil, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WillReturnRows(rows)

	txns, err := ds.GetTransactionsPastTransferDeadline(context.Background(), time.Now().Add(-72*time.Hour), 100)
	assert.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.Equal(t, "txn1", txns[0].TransactionID)
	assert.Equal(t, model.StatusPaid, txns[0].Status)
	assert.NotNil(t, txns[0].PaidAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
