package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// MoneyPrecision is the number of decimal places carried by every amount.
// It matches lamport precision on the settlement rail.
const MoneyPrecision = 9

// ComputeFeeSplit is the single shared fee function. Every code path that
// prices a sale must go through it so the rounding policy cannot drift.
// The platform fee is rounded half-up to MoneyPrecision places and the
// seller proceeds are derived by subtraction, so fee + proceeds always
// equals the sale price exactly.
func ComputeFeeSplit(salePrice, feeRate decimal.Decimal) (platformFee, sellerProceeds decimal.Decimal) {
	platformFee = salePrice.Mul(feeRate).Round(MoneyPrecision)
	sellerProceeds = salePrice.Sub(platformFee)
	return platformFee, sellerProceeds
}

// SumPercentages totals partner ownership shares.
func SumPercentages(partners []*TransactionPartner) decimal.Decimal {
	total := decimal.Zero
	for _, p := range partners {
		total = total.Add(p.Percentage)
	}
	return total
}

// SumDepositedPercentages totals the shares of partners whose deposit has
// been confirmed on the rail.
func SumDepositedPercentages(partners []*TransactionPartner) decimal.Decimal {
	total := decimal.Zero
	for _, p := range partners {
		if p.DepositStatus == DepositStatusDeposited {
			total = total.Add(p.Percentage)
		}
	}
	return total
}
