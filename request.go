// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	rpc "github.com/gorilla/rpc/v2/json2"
)

// Method is a request method. Only GET, POST, PUT and DELETE are sent;
// anything else fails the dispatch as KindUnknown.
type Method string

const (
	GET    Method = http.MethodGet
	POST   Method = http.MethodPost
	PUT    Method = http.MethodPut
	DELETE Method = http.MethodDelete
)

func (m Method) orDefault() Method {
	if m == "" {
		return GET
	}
	return m
}

func (m Method) valid() bool {
	switch m {
	case GET, POST, PUT, DELETE:
		return true
	}
	return false
}

// BodyFunc is a request's configuration step. It runs once per dispatch on a
// WireRequest owned by that dispatch.
type BodyFunc func(w *WireRequest) error

// Descriptor is what the engine needs from a request, independent of its
// response type. Request[T] is the usual implementation.
type Descriptor interface {
	Info() RequestInfo
	Configure(w *WireRequest) error
}

// Request describes one call whose response decodes into T.
//
// Requests are values: build one per call and pass it by value. The engine
// never modifies it.
type Request[T any] struct {
	Endpoint  string
	Method    Method
	Encrypted bool

	// Serial requests run one at a time, in submission order.
	Serial bool

	// Timeout overrides Config.DefaultTimeout when positive.
	Timeout time.Duration

	Header http.Header
	Body   BodyFunc

	// ResultPath selects the part of the response to decode (gjson syntax),
	// e.g. "data.user". Empty decodes the whole body.
	ResultPath string
}

// Info implements Descriptor.
func (r Request[T]) Info() RequestInfo {
	return RequestInfo{
		Endpoint:     r.Endpoint,
		Method:       r.Method.orDefault(),
		Encrypted:    r.Encrypted,
		Serial:       r.Serial,
		Timeout:      r.Timeout,
		ResultPath:   r.ResultPath,
		ResponseType: typeName[T](),
	}
}

// Configure implements Descriptor.
func (r Request[T]) Configure(w *WireRequest) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header.Add(k, v)
		}
	}
	if r.Body == nil {
		return nil
	}
	return r.Body(w)
}

// RequestInfo is the non-generic view of a request handed to logs, metrics,
// spans and the Reporter.
type RequestInfo struct {
	ID           string
	Endpoint     string
	Method       Method
	Encrypted    bool
	Serial       bool
	Timeout      time.Duration
	ResultPath   string
	ResponseType string
}

func (i RequestInfo) lane() string {
	if i.Serial {
		return laneSerial
	}
	return laneConcurrent
}

// NoContent is a response type for endpoints whose body is ignored.
type NoContent struct{}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}

// JSONBody encodes v as the JSON request body.
func JSONBody(v interface{}) BodyFunc {
	return func(w *WireRequest) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		w.SetBody(data, "application/json")
		return nil
	}
}

// ParamsBody encodes a parameter map as the JSON request body.
func ParamsBody(params map[string]interface{}) BodyFunc {
	return JSONBody(params)
}

// RawBody sends data unchanged.
func RawBody(data []byte, contentType string) BodyFunc {
	return func(w *WireRequest) error {
		w.SetBody(data, contentType)
		return nil
	}
}

// JSONRPCBody wraps params in a JSON-RPC 2.0 request for method. Pair it with
// JSONRPCCodec to unwrap the reply.
func JSONRPCBody(method string, params interface{}) BodyFunc {
	return func(w *WireRequest) error {
		data, err := rpc.EncodeClientRequest(method, params)
		if err != nil {
			return fmt.Errorf("failed to encode client params: %w", err)
		}
		w.SetBody(data, "application/json")
		return nil
	}
}
