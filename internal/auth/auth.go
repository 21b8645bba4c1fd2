// Package auth signs websocket handshakes and upstream requests with
// RSA-PSS.
//
// The signed message is timestamp_ms + method + path. Signatures travel
// in the X-Access-* headers alongside the key id and timestamp.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rickgao/livewire/internal/clock"
)

// Header names.
const (
	HeaderKey       = "X-Access-Key"
	HeaderTimestamp = "X-Access-Timestamp"
	HeaderSignature = "X-Access-Signature"
)

// ErrInvalidSignature is returned by Verify for a signature that does
// not match.
var ErrInvalidSignature = errors.New("invalid signature")

// Credentials holds the key id and private key used for signing.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	Clock      clock.Clock // nil = real clock
}

// LoadCredentials loads credentials from a key id and PEM file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PKCS#8 or PKCS#1 PEM
// file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Sign returns authentication headers for method and path.
func (c *Credentials) Sign(method, path string) (map[string]string, error) {
	clk := c.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timestampMs := clk.Now().UnixMilli()

	hashed := digest(timestampMs, method, path)
	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return map[string]string{
		HeaderKey:       c.KeyID,
		HeaderTimestamp: strconv.FormatInt(timestampMs, 10),
		HeaderSignature: base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// HeaderFunc returns a function that signs method and path on every
// call, so each dial carries a fresh timestamp.
func (c *Credentials) HeaderFunc(method, path string) func() (map[string]string, error) {
	return func() (map[string]string, error) {
		return c.Sign(method, path)
	}
}

// Verify checks headers produced by Sign against pub.
func Verify(pub *rsa.PublicKey, method, path string, headers map[string]string) error {
	timestampMs, err := strconv.ParseInt(headers[HeaderTimestamp], 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(headers[HeaderSignature])
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	hashed := digest(timestampMs, method, path)
	err = rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], signature,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func digest(timestampMs int64, method, path string) [sha256.Size]byte {
	return sha256.Sum256([]byte(strconv.FormatInt(timestampMs, 10) + method + path))
}
