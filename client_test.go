// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/courier/encryption"
)

const testBaseURL = "http://api.example.test/v1"

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T, cfg Config, transport Transport, opts ...Option) *Client {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBaseURL
	}
	opts = append([]Option{WithTransport(transport)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func respond(status int, body string) Transport {
	return TransportFunc(func(context.Context, *WireRequest) (*WireResponse, error) {
		return &WireResponse{Status: status, Header: http.Header{}, Body: []byte(body)}, nil
	})
}

func echo() Transport {
	return TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		return &WireResponse{Status: http.StatusOK, Header: http.Header{}, Body: req.Body}, nil
	})
}

// reports collects every Reporter call.
type reports struct {
	mu         sync.Mutex
	urlCodes   []string
	reasons    []encryption.Reason
	undecoded  [][]byte
	requestIDs []string
}

func (r *reports) reporter() Reporter {
	return ReporterFuncs{
		OnURLError: func(info RequestInfo, code string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.urlCodes = append(r.urlCodes, code)
			r.requestIDs = append(r.requestIDs, info.ID)
		},
		OnEncryptionError: func(info RequestInfo, reason encryption.Reason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reasons = append(r.reasons, reason)
			r.requestIDs = append(r.requestIDs, info.ID)
		},
		OnDecodingError: func(info RequestInfo, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.undecoded = append(r.undecoded, data)
			r.requestIDs = append(r.requestIDs, info.ID)
		},
	}
}

func (r *reports) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urlCodes) + len(r.reasons) + len(r.undecoded)
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSubmitDecodesResponse(t *testing.T) {
	rep := &reports{}
	c := newTestClient(t, Config{Reporter: rep.reporter()}, respond(http.StatusOK, `{"id":1,"name":"Ann"}`))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/1"})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, user{ID: 1, Name: "Ann"}, out.Value)
	assert.Zero(t, rep.total())
}

func TestMalformedResponseIsDecodingError(t *testing.T) {
	rep := &reports{}
	body := `{"id":1,"name":`
	c := newTestClient(t, Config{Reporter: rep.reporter()}, respond(http.StatusOK, body))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/1"})
	require.False(t, out.OK())
	assert.Equal(t, KindDecoding, out.Kind())
	assert.Equal(t, http.StatusOK, out.Err.Status)

	require.Len(t, rep.undecoded, 1)
	assert.Equal(t, []byte(body), rep.undecoded[0])
	assert.Equal(t, 1, rep.total())
}

func TestWireRequestBuiltFromDescriptorAndConfig(t *testing.T) {
	var got *WireRequest
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		got = req
		return &WireResponse{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	})
	c := newTestClient(t, Config{
		BaseURL:        "http://api.example.test/v1/",
		DefaultTimeout: 5 * time.Second,
		Header:         http.Header{"X-Client": {"courier"}},
	}, transport)

	out := Submit(context.Background(), c, Request[map[string]interface{}]{
		Endpoint: "/users?active=1",
		Method:   POST,
		Header:   http.Header{"X-Trace": {"abc"}},
		Body:     ParamsBody(map[string]interface{}{"name": "Ann"}),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)

	require.NotNil(t, got)
	assert.Equal(t, POST, got.Method)
	assert.Equal(t, "http://api.example.test/v1/users?active=1", got.URL.String())
	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Equal(t, "courier", got.Header.Get("X-Client"))
	assert.Equal(t, "abc", got.Header.Get("X-Trace"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, got.ID, got.Header.Get(HeaderRequestID))
	assert.Len(t, got.ID, 26)
	assert.JSONEq(t, `{"name":"Ann"}`, string(got.Body))
}

func TestDefaultMethodAndTimeoutOverride(t *testing.T) {
	var got *WireRequest
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		got = req
		return &WireResponse{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	})
	c := newTestClient(t, Config{}, transport)

	out := Submit(context.Background(), c, Request[struct{}]{Endpoint: "ping", Timeout: time.Second})
	require.True(t, out.OK())
	assert.Equal(t, GET, got.Method)
	assert.Equal(t, time.Second, got.Timeout)

	out = Submit(context.Background(), c, Request[struct{}]{Endpoint: "ping"})
	require.True(t, out.OK())
	assert.Equal(t, DefaultTimeout, got.Timeout)
}

func TestEncryptedRoundTrip(t *testing.T) {
	key := testRSAKey(t)
	hybrid, err := encryption.NewHybrid(&key.PublicKey, key)
	require.NoError(t, err)

	var sent []byte
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		sent = req.Body
		return &WireResponse{Status: http.StatusOK, Body: req.Body}, nil
	})
	c := newTestClient(t, Config{Strategy: hybrid}, transport)

	out := Submit(context.Background(), c, Request[user]{
		Endpoint:  "echo",
		Method:    POST,
		Encrypted: true,
		Body:      JSONBody(user{ID: 1, Name: "Ann"}),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, user{ID: 1, Name: "Ann"}, out.Value)

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(sent, &envelope))
	assert.Len(t, envelope, 4)
	for _, field := range []string{"Key", "IV", "Tag", "Data"} {
		assert.Contains(t, envelope, field)
	}
	assert.NotContains(t, string(sent), "Ann")
}

func TestEncryptedWithoutStrategyNeverReachesTransport(t *testing.T) {
	rep := &reports{}
	var calls atomic.Int32
	transport := TransportFunc(func(context.Context, *WireRequest) (*WireResponse, error) {
		calls.Add(1)
		return &WireResponse{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	})
	c := newTestClient(t, Config{Reporter: rep.reporter()}, transport)

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users", Encrypted: true})
	require.False(t, out.OK())
	assert.Equal(t, KindEncryption, out.Kind())
	assert.Equal(t, encryption.ReasonNoStrategy, out.Err.Reason)
	assert.Zero(t, calls.Load())
	assert.Equal(t, []encryption.Reason{encryption.ReasonNoStrategy}, rep.reasons)
}

func TestStrategyRemovedBeforeDecrypt(t *testing.T) {
	key := testRSAKey(t)
	hybrid, err := encryption.NewHybrid(&key.PublicKey, key)
	require.NoError(t, err)

	rep := &reports{}
	var c *Client
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		require.NoError(t, c.Configure(Config{BaseURL: testBaseURL, Reporter: rep.reporter()}))
		return &WireResponse{Status: http.StatusOK, Body: req.Body}, nil
	})
	c = newTestClient(t, Config{Strategy: hybrid, Reporter: rep.reporter()}, transport)

	out := Submit(context.Background(), c, Request[user]{Endpoint: "echo", Encrypted: true, Body: JSONBody(user{ID: 2})})
	require.False(t, out.OK())
	assert.Equal(t, KindEncryption, out.Kind())
	assert.Equal(t, encryption.ReasonNoStrategy, out.Err.Reason)
	assert.Equal(t, []encryption.Reason{encryption.ReasonNoStrategy}, rep.reasons)
}

func TestUndecryptableResponse(t *testing.T) {
	key := testRSAKey(t)
	hybrid, err := encryption.NewHybrid(&key.PublicKey, key)
	require.NoError(t, err)

	rep := &reports{}
	c := newTestClient(t, Config{Strategy: hybrid, Reporter: rep.reporter()}, respond(http.StatusOK, `{"id":1}`))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users", Encrypted: true})
	require.False(t, out.OK())
	assert.Equal(t, KindEncryption, out.Kind())
	assert.Equal(t, encryption.ReasonCouldNotDecrypt, out.Err.Reason)
	assert.Equal(t, []encryption.Reason{encryption.ReasonCouldNotDecrypt}, rep.reasons)
}

func TestTransportErrorIsReported(t *testing.T) {
	rep := &reports{}
	transport := TransportFunc(func(context.Context, *WireRequest) (*WireResponse, error) {
		return nil, &TransportError{Code: CodeUnreachable, Err: errors.New("connection refused")}
	})
	c := newTestClient(t, Config{Reporter: rep.reporter()}, transport)

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users"})
	require.False(t, out.OK())
	assert.Equal(t, KindURL, out.Kind())
	assert.Equal(t, CodeUnreachable, out.Err.Code)
	assert.Equal(t, []string{CodeUnreachable}, rep.urlCodes)
	assert.Equal(t, []string{out.Err.Request.ID}, rep.requestIDs)
}

func TestTimeoutIsURLError(t *testing.T) {
	rep := &reports{}
	transport := TransportFunc(func(ctx context.Context, _ *WireRequest) (*WireResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := newTestClient(t, Config{Reporter: rep.reporter()}, transport)

	out := Submit(context.Background(), c, Request[user]{Endpoint: "slow", Timeout: 20 * time.Millisecond})
	require.False(t, out.OK())
	assert.Equal(t, KindURL, out.Kind())
	assert.True(t, out.Err.Timeout())
	assert.Equal(t, []string{CodeTimeout}, rep.urlCodes)
}

func TestAcceptStatusRejects(t *testing.T) {
	rep := &reports{}
	c := newTestClient(t, Config{Reporter: rep.reporter(), AcceptStatus: Success2xx},
		respond(http.StatusNotFound, `{"error":"not found"}`))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/9"})
	require.False(t, out.OK())
	assert.Equal(t, KindURL, out.Kind())
	assert.Equal(t, "status:404", out.Err.Code)
	assert.Equal(t, http.StatusNotFound, out.Err.Status)
	assert.Equal(t, []string{"status:404"}, rep.urlCodes)
}

func TestAnyStatusDecodedByDefault(t *testing.T) {
	c := newTestClient(t, Config{}, respond(http.StatusInternalServerError, `{"id":5,"name":"Err"}`))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/5"})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, 5, out.Value.ID)
}

func TestResultPath(t *testing.T) {
	body := `{"data":{"user":{"id":7,"name":"Bo"}},"meta":{}}`
	rep := &reports{}
	c := newTestClient(t, Config{Reporter: rep.reporter()}, respond(http.StatusOK, body))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/7", ResultPath: "data.user"})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, user{ID: 7, Name: "Bo"}, out.Value)

	missing := Submit(context.Background(), c, Request[user]{Endpoint: "users/7", ResultPath: "data.account"})
	require.False(t, missing.OK())
	assert.Equal(t, KindDecoding, missing.Kind())
	require.Len(t, rep.undecoded, 1)
	assert.Equal(t, []byte(body), rep.undecoded[0])
}

func TestResultPathDecodeFailureReportsWholeBody(t *testing.T) {
	body := `{"data":{"user":"notanobject"}}`
	rep := &reports{}
	c := newTestClient(t, Config{Reporter: rep.reporter()}, respond(http.StatusOK, body))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/7", ResultPath: "data.user"})
	require.False(t, out.OK())
	assert.Equal(t, KindDecoding, out.Kind())
	require.Len(t, rep.undecoded, 1)
	assert.Equal(t, []byte(body), rep.undecoded[0])
}

func TestNoContentSkipsDecoding(t *testing.T) {
	c := newTestClient(t, Config{}, respond(http.StatusNoContent, ""))

	out := Submit(context.Background(), c, Request[NoContent]{Endpoint: "users/1", Method: DELETE})
	assert.True(t, out.OK(), "unexpected failure: %v", out.Err)
}

func TestJSONRPCCodec(t *testing.T) {
	var sent map[string]interface{}
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		if err := json.Unmarshal(req.Body, &sent); err != nil {
			return nil, err
		}
		return &WireResponse{Status: http.StatusOK, Body: []byte(`{"jsonrpc":"2.0","result":{"id":3,"name":"Cy"},"id":1}`)}, nil
	})
	c := newTestClient(t, Config{Codec: JSONRPC}, transport)

	out := Submit(context.Background(), c, Request[user]{
		Endpoint: "rpc",
		Method:   POST,
		Body:     JSONRPCBody("users.get", map[string]int{"id": 3}),
	})
	require.True(t, out.OK(), "unexpected failure: %v", out.Err)
	assert.Equal(t, user{ID: 3, Name: "Cy"}, out.Value)
	assert.Equal(t, "users.get", sent["method"])
	assert.Equal(t, "2.0", sent["jsonrpc"])
}

func TestBodyFuncFailureIsUnknown(t *testing.T) {
	var calls atomic.Int32
	transport := TransportFunc(func(context.Context, *WireRequest) (*WireResponse, error) {
		calls.Add(1)
		return &WireResponse{Status: http.StatusOK}, nil
	})
	c := newTestClient(t, Config{}, transport)

	out := Submit(context.Background(), c, Request[user]{
		Endpoint: "users",
		Body:     func(*WireRequest) error { return errors.New("bad params") },
	})
	assert.Equal(t, KindUnknown, out.Kind())

	out = Submit(context.Background(), c, Request[user]{
		Endpoint: "users",
		Body:     func(*WireRequest) error { panic("boom") },
	})
	assert.Equal(t, KindUnknown, out.Kind())
	assert.Zero(t, calls.Load())
}

func TestUnsupportedMethodIsUnknown(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, Config{}, rec)

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users/1", Method: "PATCH"})
	require.False(t, out.OK())
	assert.Equal(t, KindUnknown, out.Kind())
	assert.Zero(t, rec.calls.Load())
}

func TestReporterPanicIsContained(t *testing.T) {
	reporter := ReporterFuncs{
		OnDecodingError: func(RequestInfo, []byte) { panic("reporter bug") },
	}
	c := newTestClient(t, Config{Reporter: reporter}, respond(http.StatusOK, `not json`))

	out := Submit(context.Background(), c, Request[user]{Endpoint: "users"})
	assert.Equal(t, KindDecoding, out.Kind())
}

func TestConfigureReplacesConfig(t *testing.T) {
	var hosts []string
	var mu sync.Mutex
	transport := TransportFunc(func(_ context.Context, req *WireRequest) (*WireResponse, error) {
		mu.Lock()
		hosts = append(hosts, req.URL.Host)
		mu.Unlock()
		return &WireResponse{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	})
	c := newTestClient(t, Config{}, transport)

	require.True(t, Submit(context.Background(), c, Request[user]{Endpoint: "a"}).OK())
	require.NoError(t, c.Configure(Config{BaseURL: "http://other.example.test"}))
	require.True(t, Submit(context.Background(), c, Request[user]{Endpoint: "a"}).OK())
	assert.Equal(t, []string{"api.example.test", "other.example.test"}, hosts)

	err := c.Configure(Config{BaseURL: "not a url"})
	require.Error(t, err)
	assert.Equal(t, "http://other.example.test", c.Config().BaseURL)

	err = c.Configure(Config{BaseURL: testBaseURL, DefaultTimeout: -time.Second})
	require.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://files.example.test"})
	require.ErrorIs(t, err, ErrUnknownTransport)
}

func TestSendOnClosedClient(t *testing.T) {
	c := newTestClient(t, Config{}, respond(http.StatusOK, `{}`))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for _, serial := range []bool{false, true} {
		out := Submit(context.Background(), c, Request[user]{Endpoint: "users", Serial: serial})
		assert.Equal(t, KindCancelled, out.Kind())
		assert.ErrorIs(t, out.Err, ErrClosed)
	}
	assert.ErrorIs(t, c.Configure(Config{BaseURL: testBaseURL}), ErrClosed)
}
