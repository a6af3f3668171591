// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/luxfi/courier/encryption"
)

// Kind is the closed set of failure classes a dispatch can end in.
type Kind string

const (
	KindURL        Kind = "url"
	KindEncryption Kind = "encryption"
	KindDecoding   Kind = "decoding"
	KindCancelled  Kind = "cancelled"
	KindUnknown    Kind = "unknown"
)

// Transport error codes assigned when a transport does not name its own.
const (
	CodeTimeout     = "timeout"
	CodeDNS         = "dns"
	CodeUnreachable = "unreachable"
	CodeTLS         = "tls"
	CodeTransport   = "transport"

	CodeResponseTooLarge = "response_too_large"
)

// Lifecycle errors.
var (
	ErrClosed             = errors.New("courier: client closed")
	ErrFlushed            = errors.New("courier: flushed")
	ErrNotInitialized     = errors.New("courier: shared client not initialized")
	ErrAlreadyInitialized = errors.New("courier: shared client already initialized")
	ErrUnknownTransport   = errors.New("courier: unknown transport")
)

// Error is the classified failure of one dispatch. Callers branch on Kind;
// Cause is kept for diagnostics only.
type Error struct {
	Kind Kind

	// Code is set for KindURL: a transport error code or "status:<n>".
	Code string

	// Reason is set for KindEncryption.
	Reason encryption.Reason

	// Status is the response status when one was received.
	Status int

	Request RequestInfo
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	switch e.Kind {
	case KindURL:
		msg = fmt.Sprintf("url error (%s)", e.Code)
	case KindEncryption:
		msg = fmt.Sprintf("encryption error (%s)", e.Reason)
	case KindDecoding:
		msg = "decoding error"
	case KindCancelled:
		msg = "cancelled"
	default:
		msg = "unknown error"
	}
	if e.Request.Endpoint != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Request.Method, e.Request.Endpoint, msg)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Timeout reports whether the failure was the effective request timeout expiring.
func (e *Error) Timeout() bool {
	return e != nil && e.Kind == KindURL && e.Code == CodeTimeout
}

// IsKind reports whether err is (or wraps) an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// TransportError lets a Transport name the code its failure is reported with.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Code
	}
	return fmt.Sprintf("transport %s: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// transportCode picks the code a transport failure is reported with.
func transportCode(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeTimeout
		}
		return CodeDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	var (
		recordErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuth) || errors.As(err, &hostErr) {
		return CodeTLS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeUnreachable
	}
	return CodeTransport
}

func statusCode(status int) string {
	return "status:" + strconv.Itoa(status)
}
