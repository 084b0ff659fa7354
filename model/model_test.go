package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeFeeSplit(t *testing.T) {
	price := decimal.RequireFromString("12.5")
	rate := decimal.RequireFromString("0.05")

	fee, proceeds := ComputeFeeSplit(price, rate)

	assert.True(t, fee.Equal(decimal.RequireFromString("0.625")), "fee was %s", fee)
	assert.True(t, proceeds.Equal(decimal.RequireFromString("11.875")), "proceeds was %s", proceeds)
}

func TestComputeFeeSplitAlwaysSumsToSalePrice(t *testing.T) {
	rates := []string{"0", "0.01", "0.025", "0.05", "0.333333333", "0.999999999"}
	prices := []string{"0.000000001", "1", "10", "12.345678901", "99999.999999999"}

	for _, r := range rates {
		for _, p := range prices {
			price := decimal.RequireFromString(p)
			rate := decimal.RequireFromString(r)
			fee, proceeds := ComputeFeeSplit(price, rate)

			assert.True(t, fee.Add(proceeds).Equal(price),
				"fee %s + proceeds %s != price %s at rate %s", fee, proceeds, price, r)
			assert.False(t, fee.IsNegative())
			assert.False(t, proceeds.IsNegative())
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusAwaitingPartnerDeposits, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusTransferInProgress))
	assert.True(t, CanTransition(StatusTransferInProgress, StatusAwaitingConfirmation))
	assert.True(t, CanTransition(StatusAwaitingConfirmation, StatusCompleted))
	assert.True(t, CanTransition(StatusPaid, StatusRefunding))
	assert.True(t, CanTransition(StatusRefunding, StatusRefunded))

	// terminal states never move again
	assert.False(t, CanTransition(StatusCompleted, StatusRefunding))
	assert.False(t, CanTransition(StatusRefunded, StatusPaid))
	assert.False(t, CanTransition(StatusCancelled, StatusPaid))

	// no skipping forward
	assert.False(t, CanTransition(StatusPaid, StatusCompleted))
	assert.False(t, CanTransition(StatusAwaitingPartnerDeposits, StatusTransferInProgress))
}

func TestSumDepositedPercentages(t *testing.T) {
	partners := []*TransactionPartner{
		{Percentage: decimal.RequireFromString("40"), DepositStatus: DepositStatusDeposited},
		{Percentage: decimal.RequireFromString("35"), DepositStatus: DepositStatusDeposited},
		{Percentage: decimal.RequireFromString("25"), DepositStatus: DepositStatusPending},
	}

	assert.True(t, SumPercentages(partners).Equal(decimal.RequireFromString("100")))
	assert.True(t, SumDepositedPercentages(partners).Equal(decimal.RequireFromString("75")))

	partners[2].DepositStatus = DepositStatusDeposited
	assert.True(t, SumDepositedPercentages(partners).Equal(decimal.RequireFromString("100")))
}

func TestSubscriptionWantsEvent(t *testing.T) {
	sub := &WebhookSubscription{Active: true}
	assert.True(t, sub.WantsEvent(EventBidPlaced), "empty filter accepts all events")

	sub.EventTypes = []string{string(EventTransactionPaid), string(EventTransactionRefunded)}
	assert.True(t, sub.WantsEvent(EventTransactionPaid))
	assert.False(t, sub.WantsEvent(EventBidPlaced))

	sub.Active = false
	assert.False(t, sub.WantsEvent(EventTransactionPaid))
}
