// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPTransport exchanges requests over net/http. Redirects, TLS, pooling and
// protocol negotiation are left to the underlying http.Client.
type HTTPTransport struct {
	client *http.Client

	// MaxResponseBytes bounds the response body. A longer body fails the
	// exchange with CodeResponseTooLarge. Zero means unbounded.
	MaxResponseBytes int64
}

// NewHTTPTransport wraps client; nil uses a default client without its own
// timeout, since the engine bounds every exchange with a context deadline.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = newHTTPClient()
	}
	return &HTTPTransport{client: client}
}

func newHTTPTransportFor(*url.URL) (Transport, error) {
	return NewHTTPTransport(nil), nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

// Exchange implements Transport.
func (t *HTTPTransport) Exchange(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	request, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL.String(), body)
	if err != nil {
		return nil, &TransportError{Code: CodeTransport, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	request.Header = req.Header.Clone()
	if request.Header == nil {
		request.Header = make(http.Header)
	}

	resp, err := t.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer CleanlyCloseBody(resp.Body)

	var reader io.Reader = resp.Body
	if t.MaxResponseBytes > 0 {
		reader = io.LimitReader(resp.Body, t.MaxResponseBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if t.MaxResponseBytes > 0 && int64(len(data)) > t.MaxResponseBytes {
		return nil, &TransportError{
			Code: CodeResponseTooLarge,
			Err:  fmt.Errorf("response body exceeds %d bytes", t.MaxResponseBytes),
		}
	}
	return &WireResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}
