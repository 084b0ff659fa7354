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
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/internal/request"
)

// SettlementAdapter wraps the on-chain payment rail. An empty signature or a
// false verification with a nil error is an ordinary decline; errors are
// reserved for transport failures and timeouts. Every call is idempotent by
// reference, so sweeps may re-issue it freely.
type SettlementAdapter interface {
	AttemptRefund(ctx context.Context, listingRef, recipientWallet string) (string, error)
	AttemptWithdrawalExpiry(ctx context.Context, listingRef, withdrawalID, recipient string) (string, error)
	VerifyPayment(ctx context.Context, txRef, expectedSender, expectedRecipient string, expectedAmount decimal.Decimal) (bool, error)
}

// NewSettlementAdapter builds the HTTP adapter from configuration, or
// returns nil when no rail is configured.
func NewSettlementAdapter(conf *config.Configuration) SettlementAdapter {
	if conf.Settlement.Url == "" {
		return nil
	}
	return &railAdapter{
		baseURL: conf.Settlement.Url,
		apiKey:  conf.Settlement.ApiKey,
		timeout: time.Duration(conf.Settlement.TimeoutSeconds) * time.Second,
	}
}

type railAdapter struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

type railResponse struct {
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error"`
}

func (a *railAdapter) post(ctx context.Context, path string, payload interface{}) (*railResponse, error) {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	var response railResponse
	resp, err := request.CallWithTimeout(req, &response, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("settlement rail returned %d", resp.StatusCode)
	}
	return &response, nil
}

// AttemptRefund asks the rail to return escrowed funds to the buyer. A 4xx
// or an empty signature means the rail declined; the caller reverts its
// claim and retries on the next sweep run.
func (a *railAdapter) AttemptRefund(ctx context.Context, listingRef, recipientWallet string) (string, error) {
	response, err := a.post(ctx, "/refunds", map[string]string{
		"listing_ref": listingRef,
		"recipient":   recipientWallet,
	})
	if err != nil {
		return "", err
	}
	return response.Signature, nil
}

// AttemptWithdrawalExpiry sweeps an unclaimed outbid refund back to the
// seller side of the escrow.
func (a *railAdapter) AttemptWithdrawalExpiry(ctx context.Context, listingRef, withdrawalID, recipient string) (string, error) {
	response, err := a.post(ctx, "/withdrawals/expire", map[string]string{
		"listing_ref":   listingRef,
		"withdrawal_id": withdrawalID,
		"recipient":     recipient,
	})
	if err != nil {
		return "", err
	}
	return response.Signature, nil
}

// VerifyPayment checks a partner's deposit reference against the rail.
func (a *railAdapter) VerifyPayment(ctx context.Context, txRef, expectedSender, expectedRecipient string, expectedAmount decimal.Decimal) (bool, error) {
	response, err := a.post(ctx, "/payments/verify", map[string]string{
		"tx_ref":    txRef,
		"sender":    expectedSender,
		"recipient": expectedRecipient,
		"amount":    expectedAmount.String(),
	})
	if err != nil {
		return false, err
	}
	return response.Verified, nil
}
