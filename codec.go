// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"bytes"
	"encoding/json"
	"fmt"

	rpc "github.com/gorilla/rpc/v2/json2"
)

// Codec holds the decoder settings applied to response bodies. Encode is used
// by CodecBody to build request bodies in the same format.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec decodes JSON. Strict rejects unknown fields; UseNumber decodes
// numbers into interface values as json.Number instead of float64.
type JSONCodec struct {
	Strict    bool
	UseNumber bool
}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONCodec) Decode(data []byte, v interface{}) error {
	if !c.Strict && !c.UseNumber {
		return json.Unmarshal(data, v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if c.Strict {
		dec.DisallowUnknownFields()
	}
	if c.UseNumber {
		dec.UseNumber()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// defaultCodec is used when Config.Codec is nil
var defaultCodec Codec = JSONCodec{}

// BinaryCodec hands the body over as-is to *[]byte and *string outputs and
// falls back to JSON for anything else.
type BinaryCodec struct{}

func (BinaryCodec) Encode(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return json.Marshal(v)
}

func (BinaryCodec) Decode(data []byte, v interface{}) error {
	switch out := v.(type) {
	case *[]byte:
		*out = append([]byte(nil), data...)
		return nil
	case *string:
		*out = string(data)
		return nil
	}
	return json.Unmarshal(data, v)
}

// JSONRPCCodec unwraps JSON-RPC 2.0 responses. An error member in the reply is
// a decode failure.
type JSONRPCCodec struct{}

func (JSONRPCCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONRPCCodec) Decode(data []byte, v interface{}) error {
	if err := rpc.DecodeClientResponse(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("failed to decode client response: %w", err)
	}
	return nil
}

// Codecs selectable by name in configuration files.
var (
	JSON    Codec = JSONCodec{}
	Strict  Codec = JSONCodec{Strict: true}
	Binary  Codec = BinaryCodec{}
	JSONRPC Codec = JSONRPCCodec{}
)

// CodecBody encodes v with codec as the request body.
func CodecBody(codec Codec, v interface{}, contentType string) BodyFunc {
	return func(w *WireRequest) error {
		data, err := codec.Encode(v)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		w.SetBody(data, contentType)
		return nil
	}
}
