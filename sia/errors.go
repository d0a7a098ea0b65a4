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
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrFraming          = errors.New("sia: framing error")
	ErrFrameTooLong     = errors.New("sia: frame exceeds maximum length")
	ErrCRC              = errors.New("sia: crc mismatch")
	ErrUnknownAccount   = errors.New("sia: unknown account")
	ErrDecrypt          = errors.New("sia: decryption failed")
	ErrTimestamp        = errors.New("sia: timestamp outside allowed window")
	ErrFormat           = errors.New("sia: unrecognized message format")
	ErrEncryptionNeeded = errors.New("sia: account requires encrypted messages")
	ErrCallback         = errors.New("sia: event handler failed")

	ErrInvalidAccountID  = errors.New("sia: invalid account id")
	ErrInvalidKey        = errors.New("sia: invalid key length")
	ErrInvalidTimeband   = errors.New("sia: invalid timeband")
	ErrDuplicateAccount  = errors.New("sia: duplicate account")
	ErrAccountNotFound   = errors.New("sia: account not found")
	ErrRegistryFrozen    = errors.New("sia: registry is frozen")
	ErrServerRunning     = errors.New("sia: server already running")
	ErrServerStopped     = errors.New("sia: server not running")
	ErrShutdownTimeout   = errors.New("sia: shutdown deadline exceeded")
	ErrNotConnected      = errors.New("sia: not connected")
	ErrAlreadyConnected  = errors.New("sia: already connected")
	ErrInvalidResponse   = errors.New("sia: invalid response")
	ErrUnsupportedScheme = errors.New("sia: unsupported transport")
)

// FailureKind classifies why a single inbound frame was rejected
type FailureKind uint8

const (
	FailureNone FailureKind = iota
	FailureCRC
	FailureFormat
	FailureAccount
	FailureDecrypt
	FailureTimestamp
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureCRC:
		return "crc"
	case FailureFormat:
		return "format"
	case FailureAccount:
		return "account"
	case FailureDecrypt:
		return "decrypt"
	case FailureTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("failure(%d)", k)
	}
}

// FramingError is fatal to the connection that produced it
type FramingError struct {
	Reason string
	Length int
}

func (e *FramingError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("sia framing error: %s (length=%d)", e.Reason, e.Length)
	}
	return fmt.Sprintf("sia framing error: %s", e.Reason)
}

func (e *FramingError) Unwrap() error {
	return ErrFraming
}

// ValidationError rejects one message; the connection survives
type ValidationError struct {
	Kind    FailureKind
	Account string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("sia validation failed: kind=%s, account=%s: %v", e.Kind, e.Account, e.Err)
	}
	return fmt.Sprintf("sia validation failed: kind=%s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newValidationError(kind FailureKind, account string, err error) *ValidationError {
	return &ValidationError{Kind: kind, Account: account, Err: err}
}

// CallbackError wraps a failure (error or panic) raised by the event handler
type CallbackError struct {
	Account  string
	Sequence string
	Err      error
	Panic    any
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("sia callback panic: account=%s, seq=%s: %v", e.Account, e.Sequence, e.Panic)
	}
	return fmt.Sprintf("sia callback error: account=%s, seq=%s: %v", e.Account, e.Sequence, e.Err)
}

func (e *CallbackError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCallback, e.Err}
	}
	return []error{ErrCallback}
}

// IsFramingError returns true if the error closes a connection
func IsFramingError(err error) bool {
	return errors.Is(err, ErrFraming)
}

// IsValidationError returns true if the error rejects a single message
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// FailureOf returns the failure kind carried by err, or FailureNone
func FailureOf(err error) FailureKind {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Kind
	}
	return FailureNone
}

// IsTimestampError returns true if the message was stale or from the future
func IsTimestampError(err error) bool {
	return errors.Is(err, ErrTimestamp)
}
