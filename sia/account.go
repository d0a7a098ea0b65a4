// Copyright 2025 Edgeo SCADA
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

package sia

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Timeband is the tolerated deviation of an event timestamp from the server clock.
// Before is how far in the past an event may be, After how far in the future.
type Timeband struct {
	Before time.Duration
	After  time.Duration
}

// DefaultTimeband is applied to accounts without their own timeband
var DefaultTimeband = Timeband{Before: 40 * time.Second, After: 20 * time.Second}

// Account is an alarm panel allowed to report to the receiver
type Account struct {
	ID       string
	Key      string
	Timeband *Timeband
}

// NewAccount validates and normalises an account definition
func NewAccount(id, key string, band *Timeband) (Account, error) {
	a := Account{ID: strings.ToUpper(strings.TrimSpace(id)), Key: key}
	if band != nil {
		b := *band
		a.Timeband = &b
	}
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Validate checks the id, key and timeband constraints
func (a Account) Validate() error {
	if n := len(a.ID); n < 3 || n > 16 {
		return fmt.Errorf("%w: %q must be 3-16 characters", ErrInvalidAccountID, a.ID)
	}
	for i := 0; i < len(a.ID); i++ {
		if !isHexDigit(a.ID[i]) {
			return fmt.Errorf("%w: %q is not hexadecimal", ErrInvalidAccountID, a.ID)
		}
	}
	if a.Key != "" {
		if !validKeyLength(len(a.Key)) {
			return fmt.Errorf("%w: got %d, want 16, 24 or 32", ErrInvalidKey, len(a.Key))
		}
		for i := 0; i < len(a.Key); i++ {
			if a.Key[i] < 0x20 || a.Key[i] > 0x7E {
				return fmt.Errorf("%w: key must be printable ASCII", ErrInvalidKey)
			}
		}
	}
	if a.Timeband != nil && (a.Timeband.Before < 0 || a.Timeband.After < 0) {
		return fmt.Errorf("%w: bounds must not be negative", ErrInvalidTimeband)
	}
	return nil
}

// Encrypted reports whether messages for this account carry an AES key
func (a Account) Encrypted() bool {
	return a.Key != ""
}

// Window returns the account timeband, falling back to DefaultTimeband
func (a Account) Window() Timeband {
	if a.Timeband != nil {
		return *a.Timeband
	}
	return DefaultTimeband
}

// Registry holds the accounts known to a server. Accounts are registered while the
// server is configured; Start freezes the registry, after which lookups take no lock.
type Registry struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	accounts map[string]Account
}

// NewRegistry creates a registry populated with accounts
func NewRegistry(accounts ...Account) (*Registry, error) {
	r := &Registry{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an account. It fails if the id is taken or the account is invalid.
func (r *Registry) Register(a Account) error {
	a.ID = strings.ToUpper(a.ID)
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, a.ID)
	}
	if r.accounts == nil {
		r.accounts = make(map[string]Account)
	}
	if _, exists := r.accounts[a.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.ID)
	}
	r.accounts[a.ID] = a
	return nil
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Lookup returns the account registered under id. Only the account bound to
// that id is ever returned; callers must not fall back to other keys.
func (r *Registry) Lookup(id string) (Account, error) {
	a, ok := r.accounts[strings.ToUpper(id)]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a, nil
}

// Len returns the number of registered accounts
func (r *Registry) Len() int {
	return len(r.accounts)
}

// IDs returns the registered account ids in sorted order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}
