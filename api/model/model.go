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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"
)

func positiveDecimal(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount type")
	}
	if d.Sign() <= 0 {
		return errors.New("must be greater than zero")
	}
	return nil
}

func (l *CreateListing) ValidateCreateListing() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.SellerID, validation.Required),
		validation.Field(&l.Title, validation.Required),
		validation.Field(&l.StartingPrice, validation.By(positiveDecimal)),
		validation.Field(&l.EndTime, validation.Required),
	)
}

func (b *PlaceBid) ValidatePlaceBid() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.BidderID, validation.Required),
		validation.Field(&b.Amount, validation.By(positiveDecimal)),
	)
}

func (a *AcceptOffer) ValidateAcceptOffer() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.SellerID, validation.Required),
		validation.Field(&a.BuyerID, validation.Required),
	)
}

func (p *InitiatePurchase) ValidateInitiatePurchase() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.BuyerID, validation.Required),
		validation.Field(&p.Amount, validation.By(positiveDecimal)),
		validation.Field(&p.Partners, validation.Each(validation.By(func(value interface{}) error {
			share, ok := value.(PartnerShare)
			if !ok {
				return errors.New("invalid partner entry")
			}
			return share.validate()
		}))),
	)
}

func (s PartnerShare) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.WalletAddress, validation.Required),
		validation.Field(&s.Percentage, validation.By(positiveDecimal)),
	)
}

func (d *RecordDeposit) ValidateRecordDeposit() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.PartnerID, validation.Required),
		validation.Field(&d.TxRef, validation.Required),
	)
}

func (t *TransferAction) ValidateTransferAction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.SellerID, validation.Required),
	)
}

func (b *BuyerAction) ValidateBuyerAction() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.BuyerID, validation.Required),
	)
}

func (c *CancelTransaction) ValidateCancelTransaction() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UserID, validation.Required),
	)
}

func (s *CreateWebhookSubscription) ValidateCreateWebhookSubscription() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.URL, validation.Required, is.URL),
		validation.Field(&s.Secret, validation.Required, validation.Length(16, 0)),
	)
}
