// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authorize decides whether an inbound message is eligible for
// processing. Matching is a case-insensitive exact comparison against the
// configured allow-list — no wildcard or domain matching. Unauthorized
// senders are dropped silently by the pipeline so that the system leaks no
// behaviour to unapproved senders.
package authorize

import "strings"

// Authorizer checks sender addresses against an approved list.
type Authorizer struct {
	approved map[string]struct{}
}

// New builds an authorizer from the configured approved sender addresses.
// Entries are trimmed and lower-cased once at construction.
func New(approvedSenders []string) *Authorizer {
	approved := make(map[string]struct{}, len(approvedSenders))
	for _, addr := range approvedSenders {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		approved[addr] = struct{}{}
	}
	return &Authorizer{approved: approved}
}

// IsAuthorized reports whether the sender address is on the approved list.
// Side-effect free.
func (a *Authorizer) IsAuthorized(senderAddress string) bool {
	_, ok := a.approved[strings.ToLower(strings.TrimSpace(senderAddress))]
	return ok
}
