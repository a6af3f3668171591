// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luxfi/courier/encryption"
)

// DefaultTimeout applies when Config.DefaultTimeout is zero.
const DefaultTimeout = 60 * time.Second

// Config is the shared, read-mostly client configuration. A client holds an
// immutable copy; Configure swaps the whole value.
type Config struct {
	BaseURL string `validate:"required,url"`

	// Strategy is required by encrypted requests.
	Strategy encryption.Strategy

	DefaultTimeout time.Duration `validate:"gte=0"`

	Reporter Reporter

	// Codec decodes response bodies. Nil means JSON.
	Codec Codec

	// Logging turns on diagnostic request/response logging.
	Logging bool

	// Header is added to every request.
	Header http.Header

	// AcceptStatus, when set, rejects responses whose status it returns
	// false for. Nil decodes every response regardless of status.
	AcceptStatus func(status int) bool
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Success2xx is an AcceptStatus that admits only 2xx responses.
func Success2xx(status int) bool {
	return status >= 200 && status <= 299
}

// snapshot is the resolved, immutable form of a Config.
type snapshot struct {
	cfg       Config
	base      *url.URL
	codec     Codec
	reporter  Reporter
	timeout   time.Duration
	transport Transport
}

func newSnapshot(cfg Config) (*snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	s := &snapshot{
		cfg:      cfg,
		base:     base,
		codec:    cfg.Codec,
		reporter: cfg.Reporter,
		timeout:  cfg.DefaultTimeout,
	}
	if s.codec == nil {
		s.codec = defaultCodec
	}
	if s.reporter == nil {
		s.reporter = NopReporter{}
	}
	if s.timeout == 0 {
		s.timeout = DefaultTimeout
	}
	s.cfg.Header = cfg.Header.Clone()
	return s, nil
}

func (s *snapshot) timeoutFor(info RequestInfo) time.Duration {
	if info.Timeout > 0 {
		return info.Timeout
	}
	return s.timeout
}
