// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HeaderRequestID carries the dispatch's request ID.
const HeaderRequestID = "X-Request-ID"

// WireRequest is the staging form of one dispatch. It is built from a
// Descriptor and the client configuration and belongs to that dispatch alone.
type WireRequest struct {
	ID      string
	Method  Method
	URL     *url.URL
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// SetBody replaces the body and, when contentType is non-empty, the Content-Type header.
func (w *WireRequest) SetBody(data []byte, contentType string) {
	w.Body = data
	if contentType != "" {
		w.Header.Set("Content-Type", contentType)
	}
}

// WireResponse is what a Transport hands back.
type WireResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// resolveURL appends endpoint to base as a path segment, keeping the base path.
func resolveURL(base *url.URL, endpoint string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, err
	}
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/" + ref.Path
	u.RawPath = ""
	if ref.RawQuery != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + ref.RawQuery
		} else {
			u.RawQuery = ref.RawQuery
		}
	}
	return &u, nil
}
