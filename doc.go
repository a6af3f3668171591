// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package courier is a client-side request dispatch engine. It takes typed
// requests, optionally encrypts their bodies, sends them over a transport,
// decrypts and decodes the replies, and returns typed outcomes.
//
// # Ordering
//
// Each request picks a lane. Serial requests form one FIFO queue served by a
// single worker: a serial request does not start until the previous one has
// fully resolved, success or failure. Concurrent requests start immediately,
// optionally bounded (WithMaxConcurrent) and paced (WithRateLimit). There is
// no ordering between the lanes.
//
// Flush cancels all queued and in-flight work in both lanes; everything it
// cancels resolves with KindCancelled. Submissions after Flush run normally.
//
// # Usage
//
//	client, err := courier.New(courier.Config{
//	    BaseURL:  "https://api.example.com/v1",
//	    Strategy: hybrid,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	out := courier.Submit(ctx, client, courier.Request[User]{
//	    Endpoint:  "users",
//	    Method:    courier.POST,
//	    Encrypted: true,
//	    Body:      courier.JSONBody(newUser),
//	})
//	if !out.OK() {
//	    // out.Err.Kind is one of url, encryption, decoding, cancelled, unknown
//	}
//
// SubmitFunc and SubmitStream deliver the same outcome through a callback or
// a single-value channel.
//
// # Transports
//
// The base URL scheme selects the transport:
//
//	http, https   net/http
//	grpc          unary gRPC, body as google.protobuf.BytesValue
//	zap           framed TCP (ZAPServer is the matching server)
//
// RegisterTransport adds schemes; WithTransport bypasses the registry.
//
// # Failures
//
// Every failure is an *Error with a Kind. URL, encryption and decoding
// failures are also passed to the configured Reporter at the point they are
// classified. Cancellations are not reported.
package courier
