// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package encryption

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// PEM block types for Dilithium3 keys, which have no x509 encoding.
const (
	PEMDilithium3Public  = "DILITHIUM3 PUBLIC KEY"
	PEMDilithium3Private = "DILITHIUM3 PRIVATE KEY"
)

var errNoPEM = errors.New("no PEM block found")

func firstBlock(data []byte) (*pem.Block, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errNoPEM
	}
	return block, nil
}

// ParseRSAPublicKeyPEM accepts "PUBLIC KEY" (PKIX) and "RSA PUBLIC KEY" (PKCS#1) blocks.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return pub, nil
}

// ParseRSAPrivateKeyPEM accepts "RSA PRIVATE KEY" (PKCS#1) and "PRIVATE KEY" (PKCS#8) blocks.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", key)
	}
	return priv, nil
}

// ParseEd25519PublicKeyPEM parses a PKIX "PUBLIC KEY" block.
func ParseEd25519PublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ed25519", key)
	}
	return pub, nil
}

// ParseEd25519PrivateKeyPEM parses a PKCS#8 "PRIVATE KEY" block.
func ParseEd25519PrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ed25519", key)
	}
	return priv, nil
}

// ParseDilithium3PublicKeyPEM parses a packed Dilithium3 public key.
func ParseDilithium3PublicKeyPEM(data []byte) (*mode3.PublicKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	if block.Type != PEMDilithium3Public {
		return nil, fmt.Errorf("unexpected PEM type %q", block.Type)
	}
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(block.Bytes); err != nil {
		return nil, fmt.Errorf("invalid dilithium3 public key: %w", err)
	}
	return &pk, nil
}

// ParseDilithium3PrivateKeyPEM parses a packed Dilithium3 private key.
func ParseDilithium3PrivateKeyPEM(data []byte) (*mode3.PrivateKey, error) {
	block, err := firstBlock(data)
	if err != nil {
		return nil, err
	}
	if block.Type != PEMDilithium3Private {
		return nil, fmt.Errorf("unexpected PEM type %q", block.Type)
	}
	var sk mode3.PrivateKey
	if err := sk.UnmarshalBinary(block.Bytes); err != nil {
		return nil, fmt.Errorf("invalid dilithium3 private key: %w", err)
	}
	return &sk, nil
}

// MarshalDilithium3PublicKeyPEM is the inverse of ParseDilithium3PublicKeyPEM.
func MarshalDilithium3PublicKeyPEM(pk *mode3.PublicKey) ([]byte, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMDilithium3Public, Bytes: b}), nil
}

// MarshalDilithium3PrivateKeyPEM is the inverse of ParseDilithium3PrivateKeyPEM.
func MarshalDilithium3PrivateKeyPEM(sk *mode3.PrivateKey) ([]byte, error) {
	b, err := sk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMDilithium3Private, Bytes: b}), nil
}
