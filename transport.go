// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// Transport performs the network exchange for one dispatch. The context
// carries the effective timeout; a returned error ends the dispatch with no
// retry.
type Transport interface {
	Exchange(ctx context.Context, req *WireRequest) (*WireResponse, error)
}

// TransportFunc is a function adapter for Transport
type TransportFunc func(ctx context.Context, req *WireRequest) (*WireResponse, error)

func (f TransportFunc) Exchange(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	return f(ctx, req)
}

// Transport schemes
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeGRPC  = "grpc" // unary gRPC with bytes wrappers
	SchemeZAP   = "zap"  // framed TCP
)

// TransportFactory builds a Transport for a base URL.
type TransportFactory func(base *url.URL) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]TransportFactory{
		SchemeHTTP:  newHTTPTransportFor,
		SchemeHTTPS: newHTTPTransportFor,
		SchemeGRPC:  newGRPCTransportFor,
		SchemeZAP:   newZAPTransportFor,
	}
)

// RegisterTransport registers a factory for a URL scheme, replacing any existing one.
func RegisterTransport(scheme string, factory TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = factory
}

// AvailableTransports returns the registered schemes in sorted order.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(scheme string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[scheme]
	return ok
}

func transportFor(base *url.URL) (Transport, error) {
	transportsMu.RLock()
	factory, ok := transports[base.Scheme]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, base.Scheme)
	}
	return factory(base)
}
