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
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline/model"
)

type CreateListing struct {
	SellerID      string              `json:"seller_id"`
	Title         string              `json:"title"`
	StartingPrice decimal.Decimal     `json:"starting_price"`
	BuyNowPrice   decimal.NullDecimal `json:"buy_now_price"`
	Currency      string              `json:"currency"`
	EndTime       time.Time           `json:"end_time"`
}

func (l *CreateListing) ToListing() *model.Listing {
	return &model.Listing{
		SellerID:      l.SellerID,
		Title:         l.Title,
		Status:        model.ListingStatusActive,
		StartingPrice: l.StartingPrice,
		BuyNowPrice:   l.BuyNowPrice,
		Currency:      l.Currency,
		EndTime:       l.EndTime,
	}
}

type PlaceBid struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type AcceptOffer struct {
	SellerID string `json:"seller_id"`
	BuyerID  string `json:"buyer_id"`
}
