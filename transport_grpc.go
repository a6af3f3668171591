// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// HeaderMethod carries the request method to gRPC peers, which have none of their own.
const HeaderMethod = "x-courier-method"

// GRPCTransport sends each request as a unary call whose full method is the
// request URL path, i.e. base "grpc://host:port/pkg.Service" plus endpoint
// "GetUser" invokes "/pkg.Service/GetUser". Bodies travel as
// google.protobuf.BytesValue and headers as metadata.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// NewGRPCTransport creates a client for target. Without options the
// connection is insecure.
func NewGRPCTransport(target string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCTransport{conn: conn}, nil
}

func newGRPCTransportFor(base *url.URL) (Transport, error) {
	return NewGRPCTransport(base.Host)
}

// Exchange implements Transport.
func (t *GRPCTransport) Exchange(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	md := metadata.MD{}
	for k, vs := range req.Header {
		md.Append(k, vs...)
	}
	md.Set(HeaderMethod, string(req.Method))
	ctx = metadata.NewOutgoingContext(ctx, md)

	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	err := t.conn.Invoke(ctx, req.URL.Path, wrapperspb.Bytes(req.Body), out, grpc.Header(&header))
	if err == nil {
		return &WireResponse{Status: http.StatusOK, Header: headerFromMD(header), Body: out.GetValue()}, nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return nil, err
	}
	switch st.Code() {
	case codes.Unavailable:
		return nil, &TransportError{Code: CodeUnreachable, Err: err}
	case codes.DeadlineExceeded:
		return nil, &TransportError{Code: CodeTimeout, Err: err}
	case codes.Canceled:
		return nil, fmt.Errorf("grpc call: %w", context.Canceled)
	}
	return &WireResponse{
		Status: httpStatusFromCode(st.Code()),
		Header: headerFromMD(header),
		Body:   []byte(st.Message()),
	}, nil
}

// Close closes the connection
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

func headerFromMD(md metadata.MD) http.Header {
	h := make(http.Header, len(md))
	for k, vs := range md {
		if strings.HasPrefix(k, ":") {
			continue
		}
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
