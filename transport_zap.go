// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrZAPClosed      = errors.New("zap: connection closed")
	ErrZAPInvalidResp = errors.New("zap: invalid response")
)

// MessageType identifies ZAP message types
type MessageType uint8

const (
	MsgRequest  MessageType = 0x01
	MsgResponse MessageType = 0x02
	MsgError    MessageType = 0x03
)

const maxZAPFrame = 64 * 1024 * 1024

// Frame layouts, all big endian and prefixed with a 4 byte length:
//
//	request:  [1 type][4 reqID][2 methodLen][method][4 headerLen][header][body]
//	response: [1 type][4 reqID][2 status][4 headerLen][header][body]
//	error:    [1 type][4 reqID][message]
//
// The method is "VERB request-uri"; headers are MIME header lines.

// ZAPTransport exchanges requests over a single multiplexed ZAP connection,
// redialing after the connection drops.
type ZAPTransport struct {
	addr string

	mu   sync.Mutex
	conn *ZAPConn
}

// NewZAPTransport creates a transport for addr. Dialing is deferred to the
// first exchange.
func NewZAPTransport(addr string) *ZAPTransport {
	return &ZAPTransport{addr: addr}
}

func newZAPTransportFor(base *url.URL) (Transport, error) {
	if base.Host == "" {
		return nil, fmt.Errorf("zap: missing host in %q", base.String())
	}
	return NewZAPTransport(base.Host), nil
}

// Exchange implements Transport.
func (t *ZAPTransport) Exchange(ctx context.Context, req *WireRequest) (*WireResponse, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	method := string(req.Method) + " " + req.URL.RequestURI()
	resp, err := conn.Call(ctx, method, req.Header, req.Body)
	if errors.Is(err, ErrZAPClosed) {
		t.drop(conn)
		return nil, &TransportError{Code: CodeUnreachable, Err: err}
	}
	return resp, err
}

func (t *ZAPTransport) connect(ctx context.Context) (*ZAPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && !t.conn.closed.Load() {
		return t.conn, nil
	}
	conn, err := ZAPDial(ctx, t.addr)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return conn, nil
}

func (t *ZAPTransport) drop(conn *ZAPConn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// Close closes the underlying connection, if any
func (t *ZAPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ZAPConn represents a ZAP connection
type ZAPConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	pending  sync.Map // requestID -> chan zapReply
	nextID   atomic.Uint32
	closed   atomic.Bool
	readDone chan struct{}
}

type zapReply struct {
	resp *WireResponse
	err  error
}

// ZAPDial connects to a ZAP server
func ZAPDial(ctx context.Context, addr string) (*ZAPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}

	zc := &ZAPConn{
		conn:     conn,
		readDone: make(chan struct{}),
	}
	go zc.readLoop()
	return zc, nil
}

// Call sends one request frame and waits for its reply. Error frames surface
// as a 500 response carrying the message.
func (z *ZAPConn) Call(ctx context.Context, method string, header http.Header, body []byte) (*WireResponse, error) {
	if z.closed.Load() {
		return nil, ErrZAPClosed
	}

	requestID := z.nextID.Add(1)
	respCh := make(chan zapReply, 1)
	z.pending.Store(requestID, respCh)
	defer z.pending.Delete(requestID)

	methodBytes := []byte(method)
	headerBytes := encodeZAPHeader(header)
	msgLen := 1 + 4 + 2 + len(methodBytes) + 4 + len(headerBytes) + len(body)

	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(MsgRequest)
	binary.BigEndian.PutUint32(buf[5:9], requestID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(methodBytes)))
	off := 11 + copy(buf[11:], methodBytes)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(headerBytes)))
	off += 4
	off += copy(buf[off:], headerBytes)
	copy(buf[off:], body)

	deadline, _ := ctx.Deadline()
	z.writeMu.Lock()
	_ = z.conn.SetWriteDeadline(deadline)
	_, err := z.conn.Write(buf)
	z.writeMu.Unlock()
	if err != nil {
		_ = z.Close()
		return nil, fmt.Errorf("zap write: %w", ErrZAPClosed)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-respCh:
		return r.resp, r.err
	case <-z.readDone:
		return nil, ErrZAPClosed
	}
}

func (z *ZAPConn) readLoop() {
	defer close(z.readDone)
	defer z.closed.Store(true)

	for {
		msg, err := readZAPFrame(z.conn)
		if err != nil {
			return
		}
		if len(msg) < 5 {
			continue
		}

		msgType := MessageType(msg[0])
		requestID := binary.BigEndian.Uint32(msg[1:5])
		payload := msg[5:]

		ch, ok := z.pending.Load(requestID)
		if !ok {
			continue
		}
		respCh := ch.(chan zapReply)
		switch msgType {
		case MsgResponse:
			resp, err := decodeZAPResponse(payload)
			respCh <- zapReply{resp: resp, err: err}
		case MsgError:
			respCh <- zapReply{resp: &WireResponse{
				Status: http.StatusInternalServerError,
				Header: http.Header{},
				Body:   payload,
			}}
		default:
			respCh <- zapReply{err: ErrZAPInvalidResp}
		}
	}
}

// Close closes the connection
func (z *ZAPConn) Close() error {
	if z.closed.Swap(true) {
		return nil
	}
	return z.conn.Close()
}

// ZAPRequest is a decoded request frame as seen by a server.
type ZAPRequest struct {
	Method string
	URI    string
	Header http.Header
	Body   []byte
}

// ZAPHandler handles ZAP requests
type ZAPHandler interface {
	HandleZAP(ctx context.Context, req *ZAPRequest) (*WireResponse, error)
}

// ZAPHandlerFunc is a function adapter for ZAPHandler
type ZAPHandlerFunc func(ctx context.Context, req *ZAPRequest) (*WireResponse, error)

func (f ZAPHandlerFunc) HandleZAP(ctx context.Context, req *ZAPRequest) (*WireResponse, error) {
	return f(ctx, req)
}

// ZAPServer serves ZAP requests. It is the peer used by services and tests
// that speak the zap scheme.
type ZAPServer struct {
	listener net.Listener
	handler  ZAPHandler
	conns    sync.Map
	closed   atomic.Bool
}

// NewZAPServer creates a new ZAP server
func NewZAPServer(listener net.Listener, handler ZAPHandler) *ZAPServer {
	return &ZAPServer{
		listener: listener,
		handler:  handler,
	}
}

// Serve accepts connections until the server is closed
func (s *ZAPServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ZAPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)

	var writeMu sync.Mutex
	for {
		msg, err := readZAPFrame(conn)
		if err != nil {
			return
		}
		if len(msg) < 11 || MessageType(msg[0]) != MsgRequest {
			continue
		}
		requestID := binary.BigEndian.Uint32(msg[1:5])
		req, err := decodeZAPRequest(msg[5:])
		if err != nil {
			s.reply(conn, &writeMu, requestID, nil, err)
			continue
		}

		go func() {
			resp, err := s.handler.HandleZAP(ctx, req)
			s.reply(conn, &writeMu, requestID, resp, err)
		}()
	}
}

func (s *ZAPServer) reply(conn net.Conn, mu *sync.Mutex, requestID uint32, resp *WireResponse, err error) {
	var payload []byte
	msgType := MsgResponse
	if err != nil {
		msgType = MsgError
		payload = []byte(err.Error())
	} else {
		payload = encodeZAPResponse(resp)
	}

	msgLen := 1 + 4 + len(payload)
	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(msgType)
	binary.BigEndian.PutUint32(buf[5:9], requestID)
	copy(buf[9:], payload)

	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, _ = conn.Write(buf)
}

// Close closes the server
func (s *ZAPServer) Close() error {
	s.closed.Store(true)
	s.conns.Range(func(key, _ interface{}) bool {
		key.(net.Conn).Close()
		return true
	})
	return s.listener.Close()
}

// Addr returns the listener address
func (s *ZAPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func readZAPFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint32(header)
	if msgLen == 0 || msgLen > maxZAPFrame {
		return nil, ErrZAPInvalidResp
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeZAPRequest(p []byte) (*ZAPRequest, error) {
	if len(p) < 2 {
		return nil, ErrZAPInvalidResp
	}
	methodLen := int(binary.BigEndian.Uint16(p[0:2]))
	p = p[2:]
	if len(p) < methodLen+4 {
		return nil, ErrZAPInvalidResp
	}
	verb, uri, ok := strings.Cut(string(p[:methodLen]), " ")
	if !ok {
		return nil, fmt.Errorf("zap: malformed method %q", p[:methodLen])
	}
	header, body, err := splitZAPHeader(p[methodLen:])
	if err != nil {
		return nil, err
	}
	return &ZAPRequest{Method: verb, URI: uri, Header: header, Body: body}, nil
}

func encodeZAPResponse(resp *WireResponse) []byte {
	if resp == nil {
		resp = &WireResponse{Status: http.StatusNoContent}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	headerBytes := encodeZAPHeader(resp.Header)
	buf := make([]byte, 2+4+len(headerBytes)+len(resp.Body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(status))
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(headerBytes)))
	off := 6 + copy(buf[6:], headerBytes)
	copy(buf[off:], resp.Body)
	return buf
}

func decodeZAPResponse(p []byte) (*WireResponse, error) {
	if len(p) < 2 {
		return nil, ErrZAPInvalidResp
	}
	status := int(binary.BigEndian.Uint16(p[0:2]))
	header, body, err := splitZAPHeader(p[2:])
	if err != nil {
		return nil, err
	}
	return &WireResponse{Status: status, Header: header, Body: body}, nil
}

func splitZAPHeader(p []byte) (http.Header, []byte, error) {
	if len(p) < 4 {
		return nil, nil, ErrZAPInvalidResp
	}
	n := int(binary.BigEndian.Uint32(p[0:4]))
	p = p[4:]
	if len(p) < n {
		return nil, nil, ErrZAPInvalidResp
	}
	header, err := decodeZAPHeader(p[:n])
	if err != nil {
		return nil, nil, err
	}
	return header, p[n:], nil
}

func encodeZAPHeader(h http.Header) []byte {
	if len(h) == 0 {
		return nil
	}
	var buf bytes.Buffer
	_ = h.Write(&buf)
	return buf.Bytes()
}

func decodeZAPHeader(p []byte) (http.Header, error) {
	if len(p) == 0 {
		return http.Header{}, nil
	}
	// ReadMIMEHeader expects the blank line that ends a header block.
	r := textproto.NewReader(bufio.NewReader(io.MultiReader(bytes.NewReader(p), strings.NewReader("\r\n"))))
	mh, err := r.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("zap header: %w", err)
	}
	return http.Header(mh), nil
}
