// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher selects the AEAD a Hybrid strategy seals payloads with.
type Cipher string

const (
	AES256GCM         Cipher = "aes-256-gcm"
	XChaCha20Poly1305 Cipher = "xchacha20-poly1305"
)

// Padding selects the RSA scheme used to wrap key material.
type Padding string

const (
	// PKCS1v15 matches deployed peers and is the default.
	PKCS1v15 Padding = "pkcs1v15"
	OAEP     Padding = "oaep"
)

const symmetricKeySize = 32

var errNoPrivateKey = errors.New("no private key configured")

// Hybrid seals the payload with a fresh symmetric key and wraps the key,
// nonce and tag individually with the recipient's RSA public key.
type Hybrid struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	cipher     Cipher
	padding    Padding
	rand       io.Reader
}

// HybridOption configures a Hybrid strategy.
type HybridOption func(*Hybrid)

// WithCipher sets the AEAD. Default AES256GCM.
func WithCipher(c Cipher) HybridOption {
	return func(h *Hybrid) { h.cipher = c }
}

// WithPadding sets the RSA wrapping scheme. Default PKCS1v15.
func WithPadding(p Padding) HybridOption {
	return func(h *Hybrid) { h.padding = p }
}

// WithRand sets the entropy source. Default crypto/rand.
func WithRand(r io.Reader) HybridOption {
	return func(h *Hybrid) { h.rand = r }
}

// NewHybrid creates a Hybrid strategy. pub wraps outgoing key material; priv
// unwraps incoming envelopes and may be nil for encrypt-only use.
func NewHybrid(pub *rsa.PublicKey, priv *rsa.PrivateKey, opts ...HybridOption) (*Hybrid, error) {
	if pub == nil {
		return nil, errors.New("hybrid: public key is required")
	}
	h := &Hybrid{
		publicKey:  pub,
		privateKey: priv,
		cipher:     AES256GCM,
		padding:    PKCS1v15,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(h)
	}
	switch h.cipher {
	case AES256GCM, XChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("hybrid: unsupported cipher %q", h.cipher)
	}
	switch h.padding {
	case PKCS1v15, OAEP:
	default:
		return nil, fmt.Errorf("hybrid: unsupported padding %q", h.padding)
	}
	return h, nil
}

// Encrypt implements Strategy.
func (h *Hybrid) Encrypt(plaintext []byte) ([]byte, error) {
	key := make([]byte, symmetricKeySize)
	defer memguard.WipeBytes(key)
	if _, err := io.ReadFull(h.rand, key); err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	aead, err := newAEAD(h.cipher, key)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(h.rand, nonce); err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - aead.Overhead()
	ciphertext, tag := sealed[:split], sealed[split:]

	wrappedKey, err := h.wrap(key)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	wrappedIV, err := h.wrap(nonce)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	wrappedTag, err := h.wrap(tag)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	env, err := sealEnvelope(map[string][]byte{
		FieldKey:  wrappedKey,
		FieldIV:   wrappedIV,
		FieldTag:  wrappedTag,
		FieldData: ciphertext,
	})
	if err != nil {
		return nil, failure(ReasonUnknown, err)
	}
	return env, nil
}

// Decrypt implements Strategy.
func (h *Hybrid) Decrypt(envelope []byte) ([]byte, error) {
	fields, err := openEnvelope(envelope, FieldKey, FieldIV, FieldTag, FieldData)
	if err != nil {
		return nil, failure(ReasonCouldNotDecrypt, err)
	}
	if h.privateKey == nil {
		return nil, failure(ReasonEncryptionFailure, errNoPrivateKey)
	}

	key, err := h.unwrap(fields[FieldKey])
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	defer memguard.WipeBytes(key)
	nonce, err := h.unwrap(fields[FieldIV])
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}
	tag, err := h.unwrap(fields[FieldTag])
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	if len(key) != symmetricKeySize {
		return nil, failure(ReasonCouldNotDecrypt, fmt.Errorf("key length %d", len(key)))
	}
	aead, err := newAEAD(h.cipher, key)
	if err != nil {
		return nil, failure(ReasonCouldNotDecrypt, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, failure(ReasonCouldNotDecrypt, fmt.Errorf("nonce length %d", len(nonce)))
	}
	if len(tag) != aead.Overhead() {
		return nil, failure(ReasonCouldNotDecrypt, fmt.Errorf("tag length %d", len(tag)))
	}

	sealed := make([]byte, 0, len(fields[FieldData])+len(tag))
	sealed = append(sealed, fields[FieldData]...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, failure(ReasonCouldNotDecrypt, err)
	}
	return plaintext, nil
}

func (h *Hybrid) wrap(b []byte) ([]byte, error) {
	if h.padding == OAEP {
		return rsa.EncryptOAEP(sha256.New(), h.rand, h.publicKey, b, nil)
	}
	return rsa.EncryptPKCS1v15(h.rand, h.publicKey, b)
}

func (h *Hybrid) unwrap(b []byte) ([]byte, error) {
	if h.padding == OAEP {
		return rsa.DecryptOAEP(sha256.New(), nil, h.privateKey, b, nil)
	}
	return rsa.DecryptPKCS1v15(nil, h.privateKey, b)
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	if c == XChaCha20Poly1305 {
		return chacha20poly1305.NewX(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
