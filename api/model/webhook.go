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
	"github.com/lib/pq"

	"github.com/vaultline/vaultline/model"
)

type CreateWebhookSubscription struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types,omitempty"`
}

func (s *CreateWebhookSubscription) ToSubscription() *model.WebhookSubscription {
	return &model.WebhookSubscription{
		URL:        s.URL,
		Secret:     s.Secret,
		EventTypes: pq.StringArray(s.EventTypes),
	}
}

type SetSubscriptionActive struct {
	Active bool `json:"active"`
}
