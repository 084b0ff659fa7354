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

// Package backoff is the one bounded-retry helper shared by every caller
// that used to hand-roll "retry N times with a sleep": serializable
// transaction wrappers and settlement rail calls.
package backoff

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs op with exponential backoff until it succeeds, returns a
// permanent error, or maxAttempts is exhausted. op must be idempotent.
// Wrap an error in Permanent to stop retrying immediately.
func Retry(ctx context.Context, maxAttempts uint64, initial time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 10 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
	return backoff.Retry(op, policy)
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// NextRetryDelay computes the webhook redelivery gap for a delivery that has
// already made `attempts` tries: 2^attempts seconds. The gap is capped so a
// corrupted attempts counter cannot push a retry beyond a day out.
func NextRetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	seconds := math.Pow(2, float64(attempts))
	if seconds > 86400 {
		seconds = 86400
	}
	return time.Duration(seconds * float64(time.Second))
}
