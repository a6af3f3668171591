// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/luxfi/courier/encryption"
)

var errNoResponse = errors.New("transport returned no response")

func newRequestID() string {
	return ulid.Make().String()
}

// run wraps one pipeline in its span and records the outcome.
func (c *Client) run(ctx context.Context, d Descriptor, info RequestInfo, out interface{}, lane string, start time.Time) *Error {
	ctx, span := c.startSpan(ctx, info, lane)
	err := c.dispatch(ctx, d, info, out)
	endSpan(span, err)
	return c.settle(lane, start, err)
}

// settle records a resolved submission and passes err through.
func (c *Client) settle(lane string, start time.Time, err *Error) *Error {
	c.metrics.observe(lane, err, time.Since(start))
	if err == nil {
		return nil
	}
	entry := c.log.WithFields(failureFields(err))
	if err.Kind == KindCancelled {
		entry.Warn("dispatch cancelled")
	} else {
		entry.Error("dispatch failed")
	}
	return err
}

// dispatch is the pipeline: build, encrypt, exchange, decrypt, decode.
func (c *Client) dispatch(ctx context.Context, d Descriptor, info RequestInfo, out interface{}) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindUnknown, Request: info, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	c.metrics.inFlight.Inc()
	defer c.metrics.inFlight.Dec()

	if ctx.Err() != nil {
		return cancelled(info, context.Cause(ctx))
	}

	snap := c.snapshot()
	wire, cerr := newWireRequest(snap, d, info)
	if cerr != nil {
		return &Error{Kind: KindUnknown, Request: info, Cause: cerr}
	}
	if snap.cfg.Logging {
		c.diag.request(wire)
	}

	if info.Encrypted {
		if err := c.seal(wire, info); err != nil {
			return err
		}
	}

	resp, err := c.exchange(ctx, snap, wire, info)
	if err != nil {
		return err
	}

	body := resp.Body
	if info.Encrypted {
		if body, err = c.open(body, info, resp.Status); err != nil {
			return err
		}
	}
	latest := c.snapshot()
	if latest.cfg.Logging {
		c.diag.response(info, resp.Status, body)
	}

	if ctx.Err() != nil {
		return cancelled(info, context.Cause(ctx))
	}
	return c.decode(latest, info, resp.Status, body, out)
}

func newWireRequest(snap *snapshot, d Descriptor, info RequestInfo) (*WireRequest, error) {
	if !info.Method.valid() {
		return nil, fmt.Errorf("unsupported method %q", info.Method)
	}
	u, err := resolveURL(snap.base, info.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", info.Endpoint, err)
	}
	header := snap.cfg.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	w := &WireRequest{
		ID:      info.ID,
		Method:  info.Method,
		URL:     u,
		Header:  header,
		Timeout: snap.timeoutFor(info),
	}
	w.Header.Set(HeaderRequestID, info.ID)
	if err := d.Configure(w); err != nil {
		return nil, fmt.Errorf("configure request: %w", err)
	}
	return w, nil
}

// seal replaces the body with its envelope. The strategy is read from the
// newest configuration.
func (c *Client) seal(wire *WireRequest, info RequestInfo) *Error {
	snap := c.snapshot()
	strategy := snap.cfg.Strategy
	if strategy == nil {
		return c.encryptionFailed(snap, info, 0, encryption.ErrNoStrategy)
	}
	envelope, err := strategy.Encrypt(wire.Body)
	if err != nil {
		return c.encryptionFailed(snap, info, 0, err)
	}
	wire.Body = envelope
	return nil
}

// open decrypts a response body, re-reading the strategy from the newest
// configuration.
func (c *Client) open(body []byte, info RequestInfo, status int) ([]byte, *Error) {
	snap := c.snapshot()
	strategy := snap.cfg.Strategy
	if strategy == nil {
		return nil, c.encryptionFailed(snap, info, status, encryption.ErrNoStrategy)
	}
	plain, err := strategy.Decrypt(body)
	if err != nil {
		return nil, c.encryptionFailed(snap, info, status, err)
	}
	return plain, nil
}

func (c *Client) encryptionFailed(snap *snapshot, info RequestInfo, status int, cause error) *Error {
	reason := encryption.ReasonOf(cause)
	c.report(func() { snap.reporter.EncryptionError(info, reason) })
	return &Error{Kind: KindEncryption, Reason: reason, Status: status, Request: info, Cause: cause}
}

func (c *Client) exchange(ctx context.Context, snap *snapshot, wire *WireRequest, info RequestInfo) (*WireResponse, *Error) {
	xctx, cancel := context.WithTimeout(ctx, wire.Timeout)
	defer cancel()

	resp, err := snap.transport.Exchange(xctx, wire)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(info, context.Cause(ctx))
		}
		code := transportCode(err)
		if errors.Is(xctx.Err(), context.DeadlineExceeded) {
			code = CodeTimeout
		}
		c.report(func() { snap.reporter.URLError(info, code) })
		return nil, &Error{Kind: KindURL, Code: code, Request: info, Cause: err}
	}
	if resp == nil {
		return nil, &Error{Kind: KindUnknown, Request: info, Cause: errNoResponse}
	}
	if accept := snap.cfg.AcceptStatus; accept != nil && !accept(resp.Status) {
		code := statusCode(resp.Status)
		c.report(func() { snap.reporter.URLError(info, code) })
		return nil, &Error{
			Kind:    KindURL,
			Code:    code,
			Status:  resp.Status,
			Request: info,
			Cause:   fmt.Errorf("unexpected status %d", resp.Status),
		}
	}
	return resp, nil
}

func (c *Client) decode(snap *snapshot, info RequestInfo, status int, body []byte, out interface{}) *Error {
	if out == nil {
		return nil
	}
	if _, ok := out.(*NoContent); ok {
		return nil
	}

	data := body
	if info.ResultPath != "" {
		result := gjson.GetBytes(body, info.ResultPath)
		if !result.Exists() {
			c.report(func() { snap.reporter.DecodingError(info, body) })
			return &Error{
				Kind:    KindDecoding,
				Status:  status,
				Request: info,
				Cause:   fmt.Errorf("result path %q not found", info.ResultPath),
			}
		}
		data = []byte(result.Raw)
	}

	if err := snap.codec.Decode(data, out); err != nil {
		c.report(func() { snap.reporter.DecodingError(info, body) })
		return &Error{Kind: KindDecoding, Status: status, Request: info, Cause: err}
	}
	return nil
}

// report calls a Reporter hook, containing any panic it raises.
func (c *Client) report(hook func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{"panic": r}).Warn("reporter hook panicked")
		}
	}()
	hook()
}

func cancelled(info RequestInfo, cause error) *Error {
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Kind: KindCancelled, Request: info, Cause: cause}
}
