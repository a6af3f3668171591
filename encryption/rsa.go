// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
)

// RSA encrypts the whole payload with the peer's public key. Payloads are
// limited to the modulus size minus padding overhead; use Hybrid for
// anything larger than a few hundred bytes.
type RSA struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	padding    Padding
}

// NewRSA creates a direct RSA strategy.
func NewRSA(pub *rsa.PublicKey, priv *rsa.PrivateKey, padding Padding) (*RSA, error) {
	if pub == nil && priv == nil {
		return nil, errors.New("rsa: no keys")
	}
	if padding == "" {
		padding = PKCS1v15
	}
	if padding != PKCS1v15 && padding != OAEP {
		return nil, errors.New("rsa: unsupported padding " + string(padding))
	}
	return &RSA{publicKey: pub, privateKey: priv, padding: padding}, nil
}

// Encrypt implements Strategy.
func (s *RSA) Encrypt(plaintext []byte) ([]byte, error) {
	if s.publicKey == nil {
		return nil, failure(ReasonEncryptionFailure, errors.New("no public key configured"))
	}
	var (
		out []byte
		err error
	)
	if s.padding == OAEP {
		out, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, s.publicKey, plaintext, nil)
	} else {
		out, err = rsa.EncryptPKCS1v15(rand.Reader, s.publicKey, plaintext)
	}
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	return out, nil
}

// Decrypt implements Strategy.
func (s *RSA) Decrypt(envelope []byte) ([]byte, error) {
	if s.privateKey == nil {
		return nil, failure(ReasonEncryptionFailure, errNoPrivateKey)
	}
	var (
		out []byte
		err error
	)
	if s.padding == OAEP {
		out, err = rsa.DecryptOAEP(sha256.New(), nil, s.privateKey, envelope, nil)
	} else {
		out, err = rsa.DecryptPKCS1v15(nil, s.privateKey, envelope)
	}
	if err != nil {
		return nil, failure(ReasonCouldNotDecrypt, err)
	}
	return out, nil
}
