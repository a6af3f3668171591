// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package configfile loads courier client configuration from YAML and keeps a
// client in sync with the file.
//
//	base_url: https://api.example.com/v1
//	default_timeout: 30s
//	logging: true
//	codec: json
//	accept_status: 2xx
//	headers:
//	  User-Agent: courier
//	encryption:
//	  strategy: hybrid
//	  public_key_file: keys/server.pub.pem
//	  private_key_file: keys/client.pem
//	  cipher: aes-256-gcm
//	  padding: pkcs1v15
//
// Key file paths are relative to the directory holding the config file.
package configfile

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/courier"
	"github.com/luxfi/courier/encryption"
)

// Strategy names
const (
	StrategyHybrid  = "hybrid"
	StrategyRSA     = "rsa"
	StrategySigning = "signing"
)

// File is the on-disk configuration.
type File struct {
	BaseURL        string            `yaml:"base_url" validate:"required,url"`
	DefaultTimeout time.Duration     `yaml:"default_timeout" validate:"gte=0"`
	Logging        bool              `yaml:"logging"`
	Codec          string            `yaml:"codec" validate:"omitempty,oneof=json strict binary jsonrpc"`
	AcceptStatus   string            `yaml:"accept_status" validate:"omitempty,oneof=any 2xx"`
	Headers        map[string]string `yaml:"headers"`
	Encryption     *Encryption       `yaml:"encryption"`

	dir string
}

// Encryption selects and keys the payload strategy.
type Encryption struct {
	Strategy          string `yaml:"strategy" validate:"required,oneof=hybrid rsa signing"`
	PublicKeyFile     string `yaml:"public_key_file" validate:"required_unless=Strategy signing"`
	PrivateKeyFile    string `yaml:"private_key_file"`
	PeerPublicKeyFile string `yaml:"peer_public_key_file" validate:"required_if=Strategy signing"`
	Cipher            string `yaml:"cipher" validate:"omitempty,oneof=aes-256-gcm xchacha20-poly1305"`
	Padding           string `yaml:"padding" validate:"omitempty,oneof=pkcs1v15 oaep"`
	SignatureAlg      string `yaml:"signature_alg" validate:"omitempty,oneof=ed25519 dilithium3"`
	HashAlg           string `yaml:"hash_alg" validate:"omitempty,oneof=sha256 sha512 sha3-256"`
}

var validate = validator.New()

// Parse decodes and validates YAML. Unknown keys are rejected. Relative key
// paths resolve against the working directory.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &f, nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Config builds the client configuration, reading any key files. Reporter is
// not file-configurable and is left nil.
func (f *File) Config() (courier.Config, error) {
	cfg := courier.Config{
		BaseURL:        f.BaseURL,
		DefaultTimeout: f.DefaultTimeout,
		Logging:        f.Logging,
	}
	switch f.Codec {
	case "strict":
		cfg.Codec = courier.Strict
	case "binary":
		cfg.Codec = courier.Binary
	case "jsonrpc":
		cfg.Codec = courier.JSONRPC
	}
	if f.AcceptStatus == "2xx" {
		cfg.AcceptStatus = courier.Success2xx
	}
	if len(f.Headers) > 0 {
		cfg.Header = make(http.Header, len(f.Headers))
		for k, v := range f.Headers {
			cfg.Header.Set(k, v)
		}
	}
	if f.Encryption != nil {
		strategy, err := f.strategy()
		if err != nil {
			return courier.Config{}, err
		}
		cfg.Strategy = strategy
	}
	return cfg, nil
}

// Apply configures c from the file, keeping c's Reporter.
func (f *File) Apply(c *courier.Client) error {
	cfg, err := f.Config()
	if err != nil {
		return err
	}
	cfg.Reporter = c.Config().Reporter
	return c.Configure(cfg)
}

func (f *File) strategy() (encryption.Strategy, error) {
	e := f.Encryption
	switch e.Strategy {
	case StrategyHybrid, StrategyRSA:
		pub, err := readKey(f.path(e.PublicKeyFile), encryption.ParseRSAPublicKeyPEM)
		if err != nil {
			return nil, err
		}
		var priv *rsa.PrivateKey
		if e.PrivateKeyFile != "" {
			if priv, err = readKey(f.path(e.PrivateKeyFile), encryption.ParseRSAPrivateKeyPEM); err != nil {
				return nil, err
			}
		}
		padding := encryption.Padding(e.Padding)
		if e.Strategy == StrategyRSA {
			return encryption.NewRSA(pub, priv, padding)
		}
		var opts []encryption.HybridOption
		if e.Cipher != "" {
			opts = append(opts, encryption.WithCipher(encryption.Cipher(e.Cipher)))
		}
		if padding != "" {
			opts = append(opts, encryption.WithPadding(padding))
		}
		return encryption.NewHybrid(pub, priv, opts...)

	case StrategySigning:
		hash := encryption.HashAlg(e.HashAlg)
		if hash == "" {
			hash = encryption.SHA256
		}
		if encryption.SignatureAlg(e.SignatureAlg) == encryption.Dilithium3 {
			return f.dilithium3Signing(hash)
		}
		return f.ed25519Signing(hash)
	}
	return nil, fmt.Errorf("unknown encryption strategy %q", e.Strategy)
}

func (f *File) ed25519Signing(hash encryption.HashAlg) (encryption.Strategy, error) {
	e := f.Encryption
	peer, err := readKey(f.path(e.PeerPublicKeyFile), encryption.ParseEd25519PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	var priv ed25519.PrivateKey
	if e.PrivateKeyFile != "" {
		if priv, err = readKey(f.path(e.PrivateKeyFile), encryption.ParseEd25519PrivateKeyPEM); err != nil {
			return nil, err
		}
	}
	return encryption.NewEd25519Signing(priv, peer, hash)
}

func (f *File) dilithium3Signing(hash encryption.HashAlg) (encryption.Strategy, error) {
	e := f.Encryption
	peer, err := readKey(f.path(e.PeerPublicKeyFile), encryption.ParseDilithium3PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	var priv *mode3.PrivateKey
	if e.PrivateKeyFile != "" {
		if priv, err = readKey(f.path(e.PrivateKeyFile), encryption.ParseDilithium3PrivateKeyPEM); err != nil {
			return nil, err
		}
	}
	return encryption.NewDilithium3Signing(priv, peer, hash)
}

func (f *File) path(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

var errNoKeyFile = errors.New("key file not set")

func readKey[K any](path string, parse func([]byte) (K, error)) (K, error) {
	var zero K
	if path == "" {
		return zero, errNoKeyFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := parse(data)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}
