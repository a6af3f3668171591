// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package encryption

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope field names. They are part of the wire format.
const (
	FieldKey       = "Key"
	FieldIV        = "IV"
	FieldTag       = "Tag"
	FieldData      = "Data"
	FieldSignature = "Signature"
)

var b64 = base64.StdEncoding

// sealEnvelope encodes fields as a JSON object of base64 strings.
func sealEnvelope(fields map[string][]byte) ([]byte, error) {
	obj := make(map[string]string, len(fields))
	for name, v := range fields {
		obj[name] = b64.EncodeToString(v)
	}
	return json.Marshal(obj)
}

// openEnvelope decodes the named fields of a JSON envelope.
//
// Field names match exactly and base64 is decoded strictly: encoding/json
// would otherwise fold key case and base64 would ignore trailing bits.
func openEnvelope(data []byte, names ...string) (map[string][]byte, error) {
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if len(obj) != len(names) {
		return nil, fmt.Errorf("envelope has %d fields, want %d", len(obj), len(names))
	}
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		s, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("envelope missing %q", name)
		}
		v, err := b64.Strict().DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("envelope field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
