// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package encryption provides the payload strategies a courier client applies
// to request and response bodies.
//
// A Strategy is a pure byte transform: Encrypt turns plaintext into an
// envelope, Decrypt turns an envelope produced by the same strategy back into
// plaintext. Envelope formats are not interchangeable between strategies.
//
// Three strategies are provided:
//
//   - Hybrid: per-call symmetric key sealed with an AEAD, key/nonce/tag
//     wrapped with RSA. Envelope {"Key","IV","Tag","Data"}.
//   - Signing: payload hashed and signed (Ed25519 or Dilithium3), verified on
//     the way back. Envelope {"Data","Signature"}.
//   - RSA: payload RSA-encrypted as a whole. Raw ciphertext, size-limited.
package encryption

import (
	"errors"
	"fmt"
)

// Strategy encrypts and decrypts opaque payloads.
type Strategy interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(envelope []byte) ([]byte, error)
}

// Reason classifies an encryption failure.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNoStrategy
	ReasonEncryptionFailure
	ReasonCanNotValidate
	ReasonCouldNotDecrypt
)

func (r Reason) String() string {
	switch r {
	case ReasonNoStrategy:
		return "noStrategy"
	case ReasonEncryptionFailure:
		return "encryptionFailure"
	case ReasonCanNotValidate:
		return "canNotValidate"
	case ReasonCouldNotDecrypt:
		return "couldNotDecrypt"
	default:
		return "unknown"
	}
}

// Error is returned by every Strategy in this package.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonNoStrategy:
		return "no strategy set for encryption"
	case ReasonEncryptionFailure:
		if e.Err != nil {
			return fmt.Sprintf("encryption failure: %v", e.Err)
		}
		return "encryption failure"
	case ReasonCanNotValidate:
		return "payload signature could not be validated"
	case ReasonCouldNotDecrypt:
		if e.Err != nil {
			return fmt.Sprintf("could not decrypt payload: %v", e.Err)
		}
		return "could not decrypt payload"
	default:
		if e.Err != nil {
			return fmt.Sprintf("unknown encryption error: %v", e.Err)
		}
		return "unknown encryption error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoStrategy is returned when encryption is requested but no strategy is configured.
var ErrNoStrategy = &Error{Reason: ReasonNoStrategy}

func failure(reason Reason, err error) error {
	return &Error{Reason: reason, Err: err}
}

// ReasonOf extracts the Reason from err. Errors that are not (and do not wrap)
// an *Error report ReasonUnknown.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonUnknown
}
