// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// seen is what the test servers echo back about the request they received.
type seen struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	RequestID string `json:"request_id"`
	Body      string `json:"body"`
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/missing" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(seen{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get(HeaderRequestID),
			Body:      string(body),
		})
	}))
	defer srv.Close()

	rep := &reports{}
	c, err := New(Config{BaseURL: srv.URL + "/v1", Reporter: rep.reporter(), AcceptStatus: Success2xx})
	require.NoError(t, err)
	defer c.Close()

	out := Submit(context.Background(), c, Request[seen]{
		Endpoint: "users?active=1",
		Method:   PUT,
		Body:     RawBody([]byte("payload"), "text/plain"),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, http.MethodPut, out.Value.Method)
	assert.Equal(t, "/v1/users", out.Value.Path)
	assert.Equal(t, "active=1", out.Value.Query)
	assert.Equal(t, "payload", out.Value.Body)
	assert.Len(t, out.Value.RequestID, 26)

	missing := Submit(context.Background(), c, Request[seen]{Endpoint: "missing"})
	assert.Equal(t, KindURL, missing.Kind())
	assert.Equal(t, "status:404", missing.Err.Code)
}

func TestHTTPTransportUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	rep := &reports{}
	c, err := New(Config{BaseURL: "http://" + addr, Reporter: rep.reporter()})
	require.NoError(t, err)
	defer c.Close()

	out := Submit(context.Background(), c, Request[seen]{Endpoint: "x"})
	require.Equal(t, KindURL, out.Kind())
	assert.Equal(t, CodeUnreachable, out.Err.Code)
	assert.Equal(t, []string{CodeUnreachable}, rep.urlCodes)
}

func TestHTTPTransportResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/short" {
			_, _ = w.Write([]byte(`123`))
			return
		}
		_, _ = w.Write([]byte(`1234567`))
	}))
	defer srv.Close()

	rep := &reports{}
	transport := NewHTTPTransport(srv.Client())
	transport.MaxResponseBytes = 3
	c := newTestClient(t, Config{BaseURL: srv.URL, Reporter: rep.reporter()}, transport)

	// A body that fits exactly is delivered.
	short := Submit(context.Background(), c, Request[int]{Endpoint: "short"})
	require.True(t, short.OK(), "unexpected failure: %v", short.Err)
	assert.Equal(t, 123, short.Value)

	// A longer body is never cut to a decodable prefix.
	out := Submit(context.Background(), c, Request[int]{Endpoint: "long"})
	require.False(t, out.OK(), "decoded truncated body as %d", out.Value)
	assert.Equal(t, KindURL, out.Kind())
	assert.Equal(t, CodeResponseTooLarge, out.Err.Code)
	assert.Equal(t, []string{CodeResponseTooLarge}, rep.urlCodes)
}

func startGRPC(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ interface{}, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method == "/test.Echo/Missing" {
			return status.Error(codes.NotFound, "no such user")
		}
		if method == "/test.Echo/Down" {
			return status.Error(codes.Unavailable, "backend down")
		}
		in := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		md, _ := metadata.FromIncomingContext(stream.Context())
		first := func(k string) string {
			if v := md.Get(k); len(v) > 0 {
				return v[0]
			}
			return ""
		}
		data, err := json.Marshal(seen{
			Method:    first(HeaderMethod),
			Path:      method,
			RequestID: first(HeaderRequestID),
			Body:      string(in.GetValue()),
		})
		if err != nil {
			return err
		}
		return stream.SendMsg(wrapperspb.Bytes(data))
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGRPCTransport(t *testing.T) {
	addr := startGRPC(t)
	rep := &reports{}
	c, err := New(Config{BaseURL: "grpc://" + addr + "/test.Echo", Reporter: rep.reporter(), AcceptStatus: Success2xx})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := Submit(ctx, c, Request[seen]{
		Endpoint: "Say",
		Method:   POST,
		Body:     JSONBody(map[string]string{"text": "hi"}),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, "/test.Echo/Say", out.Value.Path)
	assert.Equal(t, "POST", out.Value.Method)
	assert.Len(t, out.Value.RequestID, 26)
	assert.JSONEq(t, `{"text":"hi"}`, out.Value.Body)

	missing := Submit(ctx, c, Request[seen]{Endpoint: "Missing"})
	assert.Equal(t, KindURL, missing.Kind())
	assert.Equal(t, "status:404", missing.Err.Code)

	down := Submit(ctx, c, Request[seen]{Endpoint: "Down"})
	assert.Equal(t, KindURL, down.Kind())
	assert.Equal(t, CodeUnreachable, down.Err.Code)
}

func startZAP(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewZAPServer(lis, ZAPHandlerFunc(func(_ context.Context, req *ZAPRequest) (*WireResponse, error) {
		u, err := url.ParseRequestURI(req.URI)
		if err != nil {
			return nil, err
		}
		switch u.Path {
		case "/v1/fail":
			return nil, errors.New("handler failed")
		case "/v1/teapot":
			return &WireResponse{Status: http.StatusTeapot, Body: []byte(`{}`)}, nil
		}
		data, err := json.Marshal(seen{
			Method:    req.Method,
			Path:      u.Path,
			Query:     u.RawQuery,
			RequestID: req.Header.Get(HeaderRequestID),
			Body:      string(req.Body),
		})
		if err != nil {
			return nil, err
		}
		return &WireResponse{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: data}, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return srv.Addr().String()
}

func TestZAPTransport(t *testing.T) {
	addr := startZAP(t)
	rep := &reports{}
	c, err := New(Config{BaseURL: "zap://" + addr + "/v1", Reporter: rep.reporter(), AcceptStatus: Success2xx})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := Submit(ctx, c, Request[seen]{
		Endpoint: "orders?side=buy",
		Method:   POST,
		Body:     RawBody([]byte("order"), "application/octet-stream"),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, "POST", out.Value.Method)
	assert.Equal(t, "/v1/orders", out.Value.Path)
	assert.Equal(t, "side=buy", out.Value.Query)
	assert.Equal(t, "order", out.Value.Body)
	assert.Len(t, out.Value.RequestID, 26)

	failed := Submit(ctx, c, Request[seen]{Endpoint: "fail"})
	assert.Equal(t, KindURL, failed.Kind())
	assert.Equal(t, "status:500", failed.Err.Code)

	teapot := Submit(ctx, c, Request[seen]{Endpoint: "teapot"})
	assert.Equal(t, "status:418", teapot.Err.Code)
	assert.Equal(t, []string{"status:500", "status:418"}, rep.urlCodes)
}

func TestZAPTransportConcurrentCalls(t *testing.T) {
	addr := startZAP(t)
	c, err := New(Config{BaseURL: "zap://" + addr + "/v1"})
	require.NoError(t, err)
	defer c.Close()

	results := make([]<-chan Outcome[seen], 20)
	for i := range results {
		results[i] = SubmitStream(context.Background(), c, Request[seen]{Endpoint: "ping"})
	}
	for _, ch := range results {
		out := <-ch
		require.True(t, out.OK(), "unexpected failure: %v", out.Err)
		assert.Equal(t, "/v1/ping", out.Value.Path)
	}
}

func TestZAPTransportRedialsAfterDrop(t *testing.T) {
	addr := startZAP(t)
	transport := NewZAPTransport(addr)
	defer transport.Close()

	req := &WireRequest{Method: GET, URL: &url.URL{Path: "/v1/ping"}}
	resp, err := transport.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	transport.mu.Lock()
	_ = transport.conn.Close()
	transport.mu.Unlock()

	resp, err = transport.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestDecodeZAPRequestRejectsMalformedMethod(t *testing.T) {
	p := []byte{0, 3, 'G', 'E', 'T', 0, 0, 0, 0}
	_, err := decodeZAPRequest(p)
	require.Error(t, err)

	_, err = decodeZAPRequest([]byte{0, 9, 'G'})
	require.ErrorIs(t, err, ErrZAPInvalidResp)
}

func TestTransportRegistry(t *testing.T) {
	assert.Subset(t, AvailableTransports(), []string{SchemeGRPC, SchemeHTTP, SchemeHTTPS, SchemeZAP})
	assert.False(t, HasTransport("mem"))

	var got string
	RegisterTransport("mem", func(base *url.URL) (Transport, error) {
		return TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
			got = base.Host + req.URL.Path
			return &WireResponse{Status: http.StatusOK, Body: []byte(`{}`)}, nil
		}), nil
	})
	t.Cleanup(func() {
		transportsMu.Lock()
		delete(transports, "mem")
		transportsMu.Unlock()
	})
	assert.True(t, HasTransport("mem"))

	c, err := New(Config{BaseURL: "mem://local/api"})
	require.NoError(t, err)
	defer c.Close()

	out := Submit(context.Background(), c, Request[struct{}]{Endpoint: "x"})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, "local/api/x", got)
}
