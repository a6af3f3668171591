// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package encryption

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// SignatureAlg names a signature scheme.
type SignatureAlg string

const (
	Ed25519    SignatureAlg = "ed25519"
	Dilithium3 SignatureAlg = "dilithium3"
)

// HashAlg names the digest signed over the payload.
type HashAlg string

const (
	SHA256   HashAlg = "sha256"
	SHA512   HashAlg = "sha512"
	SHA3_256 HashAlg = "sha3-256"
)

var errSignatureMismatch = errors.New("signature does not match payload")

// Signing signs hash(payload) with the local private key on the way out and
// verifies the peer's signature over hash(payload) on the way back. The
// payload itself travels in the clear.
type Signing struct {
	alg  SignatureAlg
	hash HashAlg

	edPriv ed25519.PrivateKey
	edPeer ed25519.PublicKey

	dlPriv *mode3.PrivateKey
	dlPeer *mode3.PublicKey
}

// NewEd25519Signing creates an Ed25519 signing strategy. Either key may be nil
// for one-directional use.
func NewEd25519Signing(priv ed25519.PrivateKey, peer ed25519.PublicKey, hash HashAlg) (*Signing, error) {
	if priv == nil && peer == nil {
		return nil, errors.New("signing: no keys")
	}
	if priv != nil && len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing: invalid ed25519 private key length %d", len(priv))
	}
	if peer != nil && len(peer) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing: invalid ed25519 public key length %d", len(peer))
	}
	if _, err := digestFor(hash, nil); err != nil {
		return nil, err
	}
	return &Signing{alg: Ed25519, hash: hash, edPriv: priv, edPeer: peer}, nil
}

// NewDilithium3Signing creates a post-quantum Dilithium3 signing strategy.
func NewDilithium3Signing(priv *mode3.PrivateKey, peer *mode3.PublicKey, hash HashAlg) (*Signing, error) {
	if priv == nil && peer == nil {
		return nil, errors.New("signing: no keys")
	}
	if _, err := digestFor(hash, nil); err != nil {
		return nil, err
	}
	return &Signing{alg: Dilithium3, hash: hash, dlPriv: priv, dlPeer: peer}, nil
}

// Algorithm reports the signature scheme.
func (s *Signing) Algorithm() SignatureAlg { return s.alg }

// Encrypt implements Strategy.
func (s *Signing) Encrypt(plaintext []byte) ([]byte, error) {
	digest, err := digestFor(s.hash, plaintext)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	var sig []byte
	switch s.alg {
	case Ed25519:
		if s.edPriv == nil {
			return nil, failure(ReasonEncryptionFailure, errNoPrivateKey)
		}
		sig = ed25519.Sign(s.edPriv, digest)
	case Dilithium3:
		if s.dlPriv == nil {
			return nil, failure(ReasonEncryptionFailure, errNoPrivateKey)
		}
		sig = make([]byte, mode3.SignatureSize)
		mode3.SignTo(s.dlPriv, digest, sig)
	default:
		return nil, failure(ReasonUnknown, fmt.Errorf("unsupported signature algorithm %q", s.alg))
	}

	env, err := sealEnvelope(map[string][]byte{
		FieldData:      plaintext,
		FieldSignature: sig,
	})
	if err != nil {
		return nil, failure(ReasonUnknown, err)
	}
	return env, nil
}

// Decrypt implements Strategy. It returns the payload only when the signature
// verifies.
func (s *Signing) Decrypt(envelope []byte) ([]byte, error) {
	fields, err := openEnvelope(envelope, FieldData, FieldSignature)
	if err != nil {
		return nil, failure(ReasonCouldNotDecrypt, err)
	}
	data, sig := fields[FieldData], fields[FieldSignature]

	digest, err := digestFor(s.hash, data)
	if err != nil {
		return nil, failure(ReasonEncryptionFailure, err)
	}

	var ok bool
	switch s.alg {
	case Ed25519:
		if s.edPeer == nil {
			return nil, failure(ReasonEncryptionFailure, errors.New("no peer public key configured"))
		}
		ok = len(sig) == ed25519.SignatureSize && ed25519.Verify(s.edPeer, digest, sig)
	case Dilithium3:
		if s.dlPeer == nil {
			return nil, failure(ReasonEncryptionFailure, errors.New("no peer public key configured"))
		}
		ok = len(sig) == mode3.SignatureSize && mode3.Verify(s.dlPeer, digest, sig)
	default:
		return nil, failure(ReasonUnknown, fmt.Errorf("unsupported signature algorithm %q", s.alg))
	}
	if !ok {
		return nil, failure(ReasonCanNotValidate, errSignatureMismatch)
	}
	return data, nil
}

func digestFor(hashAlg HashAlg, message []byte) ([]byte, error) {
	switch hashAlg {
	case SHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case SHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case SHA3_256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}
