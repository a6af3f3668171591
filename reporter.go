// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import "github.com/luxfi/courier/encryption"

// Reporter receives classified failures. Hooks are called synchronously at the
// point of classification and must return promptly. A panic inside a hook is
// recovered and ignored.
type Reporter interface {
	URLError(info RequestInfo, code string)
	EncryptionError(info RequestInfo, reason encryption.Reason)
	DecodingError(info RequestInfo, data []byte)
}

// NopReporter discards every report.
type NopReporter struct{}

func (NopReporter) URLError(RequestInfo, string) {}
func (NopReporter) EncryptionError(RequestInfo, encryption.Reason) {}
func (NopReporter) DecodingError(RequestInfo, []byte) {}

// ReporterFuncs adapts plain functions to Reporter. Nil fields are skipped.
type ReporterFuncs struct {
	OnURLError        func(info RequestInfo, code string)
	OnEncryptionError func(info RequestInfo, reason encryption.Reason)
	OnDecodingError   func(info RequestInfo, data []byte)
}

func (f ReporterFuncs) URLError(info RequestInfo, code string) {
	if f.OnURLError != nil {
		f.OnURLError(info, code)
	}
}

func (f ReporterFuncs) EncryptionError(info RequestInfo, reason encryption.Reason) {
	if f.OnEncryptionError != nil {
		f.OnEncryptionError(info, reason)
	}
}

func (f ReporterFuncs) DecodingError(info RequestInfo, data []byte) {
	if f.OnDecodingError != nil {
		f.OnDecodingError(info, data)
	}
}
