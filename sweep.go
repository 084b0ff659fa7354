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

	"github.com/sirupsen/logrus"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/internal/apierror"
	"github.com/vaultline/vaultline/internal/notification"
	"github.com/vaultline/vaultline/model"
)

// Sweep names accepted by RunSweep and the trigger endpoint.
const (
	SweepBuyerInfo        = "buyer-info"
	SweepTransferDeadline = "transfer-deadline"
	SweepAutoRelease      = "auto-release"
	SweepWithdrawalExpiry = "withdrawal-expiry"
	SweepOfferExpiry      = "offer-expiry"
	SweepPartnerDeposit   = "partner-deposit"
	SweepWebhookRetry     = "webhook-retry"
)

// SweepSummary is the JSON body returned to the external timer.
type SweepSummary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

func (s *SweepSummary) fail(err error) {
	s.Failed++
	s.Errors = append(s.Errors, err.Error())
}

// RunSweep executes one named deadline sweep. Every sweep follows the same
// claim / act / finalize-or-revert pattern, so overlapping invocations are
// safe: a record claimed by one run shows up as zero rows to the next. A
// short Redis lock per sweep name still skips redundant concurrent runs.
func (v *Vaultline) RunSweep(ctx context.Context, name string) (*SweepSummary, error) {
	ctx, span := tracer.Start(ctx, "Running deadline sweep")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	runners := map[string]func(context.Context, *config.Configuration) (*SweepSummary, error){
		SweepBuyerInfo:        v.sweepBuyerInfo,
		SweepTransferDeadline: v.sweepTransferDeadline,
		SweepAutoRelease:      v.sweepAutoRelease,
		SweepWithdrawalExpiry: v.sweepWithdrawalExpiry,
		SweepOfferExpiry:      v.sweepOfferExpiry,
		SweepPartnerDeposit:   v.sweepPartnerDeposit,
		SweepWebhookRetry:     v.sweepWebhookRetries,
	}
	run, ok := runners[name]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("unknown sweep %q", name), nil)
	}

	lockKey := "sweep:lock:" + name
	locked, err := v.redis.SetNX(ctx, lockKey, "1", 5*time.Minute).Result()
	if err != nil {
		logrus.Warnf("could not acquire sweep lock for %s: %v", name, err)
	} else if !locked {
		return &SweepSummary{}, nil
	} else {
		defer v.redis.Del(ctx, lockKey)
	}

	return run(ctx, cfg)
}

// sweepBuyerInfo cancels purchases whose buyer never submitted handover
// details in time. A funded escrow is refunded through the rail first.
func (v *Vaultline) sweepBuyerInfo(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	txns, err := v.datasource.GetTransactionsPastBuyerInfoDeadline(ctx, time.Now(), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		summary.Processed++
		terminal := model.StatusRefunded
		if txn.Status == model.StatusAwaitingPartnerDeposits {
			terminal = model.StatusCancelled
		}
		deadline := txn.CreatedAt
		if txn.BuyerInfoDeadline != nil {
			deadline = *txn.BuyerInfoDeadline
		}
		v.enforceRefund(ctx, cfg, txn, terminal, deadline, "buyer info was not submitted in time", summary)
	}
	return summary, nil
}

// sweepTransferDeadline refunds buyers whose seller never started the
// transfer within the configured number of days after payment.
func (v *Vaultline) sweepTransferDeadline(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	window := time.Duration(cfg.Deadlines.SellerTransferDays) * 24 * time.Hour
	txns, err := v.datasource.GetTransactionsPastTransferDeadline(ctx, time.Now().Add(-window), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		summary.Processed++
		deadline := txn.CreatedAt.Add(window)
		if txn.PaidAt != nil {
			deadline = txn.PaidAt.Add(window)
		}
		v.enforceRefund(ctx, cfg, txn, model.StatusRefunded, deadline, "the seller did not start the transfer in time", summary)
	}
	return summary, nil
}

// sweepAutoRelease completes transactions whose buyer went silent after the
// transfer finished. The release needs no settlement call, so this is a
// claim straight to COMPLETED.
func (v *Vaultline) sweepAutoRelease(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	window := time.Duration(cfg.Deadlines.AutoReleaseDays) * 24 * time.Hour
	txns, err := v.datasource.GetTransactionsPastAutoRelease(ctx, time.Now().Add(-window), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		summary.Processed++
		claimed, err := v.datasource.TransitionStatus(ctx, txn.TransactionID, []string{model.StatusAwaitingConfirmation}, model.StatusCompleted)
		if err != nil {
			summary.fail(err)
			continue
		}
		if !claimed {
			continue
		}
		summary.Succeeded++
		txn.Status = model.StatusCompleted
		v.dispatch(ctx, model.NewEvent(model.EventTransactionCompleted, transactionEventData(txn, "auto-released after the confirmation window")),
			&model.Notification{
				UserID:  txn.SellerID,
				Title:   "Sale completed",
				Message: fmt.Sprintf("The confirmation window passed. %s %s has been released to you.", txn.SellerProceeds.String(), txn.Currency),
			},
			&model.Notification{
				UserID:  txn.BuyerID,
				Title:   "Purchase completed",
				Message: "The escrow was released automatically after the confirmation window.",
			})
	}
	return summary, nil
}

// sweepWithdrawalExpiry expires unclaimed outbid refunds through the rail.
func (v *Vaultline) sweepWithdrawalExpiry(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	window := time.Duration(cfg.Deadlines.WithdrawalExpiryDays) * 24 * time.Hour
	grace := time.Duration(cfg.Deadlines.SweepRetryGraceHours) * time.Hour
	withdrawals, err := v.datasource.GetExpiredWithdrawals(ctx, time.Now().Add(-window), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, w := range withdrawals {
		summary.Processed++
		claimed, err := v.datasource.ClaimWithdrawalExpiry(ctx, w.WithdrawalID)
		if err != nil {
			summary.fail(err)
			continue
		}
		if !claimed {
			continue
		}

		if v.adapter == nil {
			if err := v.datasource.FlagWithdrawalReview(ctx, w.WithdrawalID); err != nil {
				summary.fail(err)
				continue
			}
			summary.Succeeded++
			notification.NotifyError(fmt.Errorf("withdrawal %s expired without a settlement rail configured; flagged for manual follow-up", w.WithdrawalID))
			continue
		}

		signature, err := v.adapter.AttemptWithdrawalExpiry(ctx, w.ListingID, w.WithdrawalID, w.UserID)
		if err != nil || signature == "" {
			if revertErr := v.datasource.RevertWithdrawalExpiry(ctx, w.WithdrawalID); revertErr != nil {
				summary.fail(revertErr)
				continue
			}
			cause := err
			if cause == nil {
				cause = fmt.Errorf("settlement rail declined withdrawal expiry for %s", w.WithdrawalID)
			}
			v.escalateIfStale(time.Since(w.CreatedAt.Add(window)), grace, cause, summary, func() error {
				if flagErr := v.datasource.FlagWithdrawalReview(ctx, w.WithdrawalID); flagErr != nil {
					return flagErr
				}
				notification.NotifyError(fmt.Errorf("withdrawal %s exceeded its expiry retry window; flagged for manual follow-up", w.WithdrawalID))
				return nil
			})
			continue
		}

		summary.Succeeded++
		v.dispatch(ctx, model.NewEvent(model.EventWithdrawalExpired, model.WithdrawalEventData{
			WithdrawalID: w.WithdrawalID,
			ListingID:    w.ListingID,
			UserID:       w.UserID,
			Amount:       w.Amount,
			Signature:    signature,
		}), &model.Notification{
			UserID:  w.UserID,
			Title:   "Withdrawal expired",
			Message: fmt.Sprintf("Your unclaimed refund of %s %s was returned on-chain.", w.Amount.String(), w.Currency),
		})
	}
	return summary, nil
}

// sweepOfferExpiry releases stale offer reservations so the listings accept
// bids and purchases again.
func (v *Vaultline) sweepOfferExpiry(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	cutoff := time.Now().Add(-time.Duration(cfg.Deadlines.OfferReservationMins) * time.Minute)
	listings, err := v.datasource.ClearExpiredReservations(ctx, cutoff, cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, listing := range listings {
		summary.Processed++
		summary.Succeeded++
		v.dispatch(ctx, model.NewEvent(model.EventListingRelisted, model.ListingEventData{
			ListingID: listing.ListingID,
			SellerID:  listing.SellerID,
			Status:    listing.Status,
		}), &model.Notification{
			UserID:  listing.SellerID,
			Title:   "Offer reservation expired",
			Message: "The reserved buyer did not complete the purchase. Your listing is open again.",
		})
	}
	return summary, nil
}

// sweepPartnerDeposit cancels multi-party purchases whose shares never all
// arrived before the deposit deadline.
func (v *Vaultline) sweepPartnerDeposit(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	txns, err := v.datasource.GetTransactionsPastPartnerDeposit(ctx, time.Now(), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		summary.Processed++
		deadline := txn.CreatedAt
		if txn.PartnerDepositDeadline != nil {
			deadline = *txn.PartnerDepositDeadline
		}
		v.enforceRefund(ctx, cfg, txn, model.StatusCancelled, deadline, "partner deposits did not complete in time", summary)
	}
	return summary, nil
}

// enforceRefund is the shared claim / settle / finalize-or-revert step for
// the sweeps that exit through REFUNDING. RecordDeposit and the handlers
// gate on the same statuses, so the claim settles every race.
func (v *Vaultline) enforceRefund(ctx context.Context, cfg *config.Configuration, txn *model.Transaction, terminal string, deadline time.Time, reason string, summary *SweepSummary) {
	claimed, err := v.datasource.TransitionStatus(ctx, txn.TransactionID, []string{txn.Status}, model.StatusRefunding)
	if err != nil {
		summary.fail(err)
		return
	}
	if !claimed {
		return
	}

	if err := v.settleRefund(ctx, txn, terminal, txn.Status); err != nil {
		grace := time.Duration(cfg.Deadlines.SweepRetryGraceHours) * time.Hour
		v.escalateIfStale(time.Since(deadline), grace, err, summary, func() error {
			if flagErr := v.datasource.FlagManualReview(ctx, txn.TransactionID); flagErr != nil {
				return flagErr
			}
			v.dispatch(ctx, model.NewEvent(model.EventManualReview, transactionEventData(txn, reason)),
				&model.Notification{
					UserID:  txn.BuyerID,
					Title:   "We need to look at your transaction",
					Message: "Your refund could not be processed automatically. Support has been notified; please contact us if you have questions.",
				})
			notification.NotifyError(fmt.Errorf("transaction %s exceeded its refund retry window; flagged for manual review", txn.TransactionID))
			return nil
		})
		return
	}

	summary.Succeeded++
	txn.Status = terminal
	eventType := model.EventTransactionCancelled
	if terminal == model.StatusRefunded {
		eventType = model.EventTransactionRefunded
	}
	v.dispatch(ctx, model.NewEvent(eventType, transactionEventData(txn, reason)),
		&model.Notification{
			UserID:  txn.BuyerID,
			Title:   "Transaction reversed",
			Message: fmt.Sprintf("Your purchase was reversed: %s. Escrowed funds are on their way back.", reason),
		},
		&model.Notification{
			UserID:  txn.SellerID,
			Title:   "Transaction reversed",
			Message: fmt.Sprintf("A purchase of your listing was reversed: %s.", reason),
		})
	v.dispatch(ctx, model.NewEvent(model.EventListingRelisted, model.ListingEventData{
		ListingID: txn.ListingID,
		SellerID:  txn.SellerID,
		Status:    model.ListingStatusActive,
	}))
}

// escalateIfStale records a settlement failure. Within the retry window it
// counts as a plain failure for the next run to pick up; past the window the
// escalate func flags the record for manual intervention instead.
func (v *Vaultline) escalateIfStale(age, grace time.Duration, cause error, summary *SweepSummary, escalate func() error) {
	if age <= grace {
		summary.fail(cause)
		return
	}
	if err := escalate(); err != nil {
		summary.fail(err)
		return
	}
	summary.Succeeded++
	logrus.Warnf("settlement kept failing past the retry window: %v", cause)
}

// sweepWebhookRetries redelivers due RETRYING webhooks under a wall-clock
// budget, stopping early rather than overrunning the invocation window.
func (v *Vaultline) sweepWebhookRetries(ctx context.Context, cfg *config.Configuration) (*SweepSummary, error) {
	summary := &SweepSummary{}
	budget := time.Duration(cfg.Deadlines.SweepBudgetSeconds) * time.Second
	started := time.Now()

	deliveries, err := v.datasource.GetDueRetries(ctx, time.Now(), cfg.Deadlines.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	for _, delivery := range deliveries {
		if time.Since(started) > budget {
			logrus.Warnf("webhook retry sweep stopped after %s with %d deliveries left", budget, len(deliveries)-summary.Processed)
			break
		}
		summary.Processed++
		claimed, err := v.datasource.ClaimDeliveryRetry(ctx, delivery.DeliveryID)
		if err != nil {
			summary.fail(err)
			continue
		}
		if !claimed {
			continue
		}
		if err := v.attemptDelivery(ctx, delivery.DeliveryID); err != nil {
			summary.fail(err)
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}
