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
	"github.com/shopspring/decimal"
)

type PartnerShare struct {
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Percentage    decimal.Decimal `json:"percentage"`
	IsLead        bool            `json:"is_lead"`
}

type InitiatePurchase struct {
	BuyerID  string          `json:"buyer_id"`
	Amount   decimal.Decimal `json:"amount"`
	Partners []PartnerShare  `json:"partners,omitempty"`
}

type RecordDeposit struct {
	PartnerID string `json:"partner_id"`
	TxRef     string `json:"tx_ref"`
}

// TransferAction covers the seller-side transfer endpoints; the seller id is
// rechecked against the transaction before any status moves.
type TransferAction struct {
	SellerID string `json:"seller_id"`
}

type BuyerAction struct {
	BuyerID string `json:"buyer_id"`
}

type CancelTransaction struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}
