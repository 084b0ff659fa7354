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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vaultline/vaultline/config"
	"github.com/vaultline/vaultline/database/mocks"
)

// newTestVaultline wires the engine against a mock datasource and a
// miniredis-backed queue. The settlement adapter starts nil; tests that
// need one assign a MockSettlementAdapter directly.
func newTestVaultline(t *testing.T) (*Vaultline, *mocks.MockDataSource) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost/test"},
		Redis:      config.RedisConfig{Dns: mr.Addr()},
	})

	mockDS := new(mocks.MockDataSource)
	v, err := NewVaultline(mockDS)
	if err != nil {
		t.Fatalf("Error creating Vaultline instance: %s", err)
	}
	return v, mockDS
}

// MockSettlementAdapter is a mock implementation of the SettlementAdapter interface
type MockSettlementAdapter struct {
	mock.Mock
}

func (m *MockSettlementAdapter) AttemptRefund(ctx context.Context, listingRef, recipientWallet string) (string, error) {
	args := m.Called(ctx, listingRef, recipientWallet)
	return args.String(0), args.Error(1)
}

func (m *MockSettlementAdapter) AttemptWithdrawalExpiry(ctx context.Context, listingRef, withdrawalID, recipient string) (string, error) {
	args := m.Called(ctx, listingRef, withdrawalID, recipient)
	return args.String(0), args.Error(1)
}

func (m *MockSettlementAdapter) VerifyPayment(ctx context.Context, txRef, expectedSender, expectedRecipient string, expectedAmount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, txRef, expectedSender, expectedRecipient, expectedAmount)
	return args.Bool(0), args.Error(1)
}
