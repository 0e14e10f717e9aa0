// Package signer produces the authentication headers required on every private REST call.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Version is the signing scheme advertised in HeaderSignVersion.
const Version = "v1"

const (
	HeaderSignVersion = "x-request-sign-version"
	HeaderRequestID   = "x-request-id"
	HeaderTimestamp   = "x-request-timestamp"
	HeaderSignature   = "x-request-signature"
)

// ErrInvalidKey is returned when the configured private key cannot be parsed.
var ErrInvalidKey = errors.New("invalid signing key")

// Headers is the per-request authentication material.
type Headers struct {
	Version   string
	RequestID string
	Timestamp int64 // unix milliseconds
	Signature string
}

// Apply writes the headers onto an outbound request.
func (h Headers) Apply(dst http.Header) {
	dst.Set(HeaderSignVersion, h.Version)
	dst.Set(HeaderRequestID, h.RequestID)
	dst.Set(HeaderTimestamp, strconv.FormatInt(h.Timestamp, 10))
	dst.Set(HeaderSignature, h.Signature)
}

// Signer holds the Ed25519 key and builds detached signatures.
type Signer struct {
	key   solana.PrivateKey
	now   func() time.Time
	newID func() string
}

// Option customises a Signer.
type Option func(*Signer)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDSource overrides the request id generator.
func WithIDSource(next func() string) Option {
	return func(s *Signer) {
		if next != nil {
			s.newID = next
		}
	}
}

// New parses the key once. A malformed key is fatal for the process, so callers
// should treat the error as a startup failure.
func New(key string, opts ...Option) (*Signer, error) {
	pk, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	s := &Signer{key: pk, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseKey accepts a hex encoded 32-byte seed or 64-byte expanded key, or a
// base58 keypair as exported by Solana wallets.
func ParseKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		return fromBytes(b)
	}
	pk, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: neither hex nor base58", ErrInvalidKey)
	}
	return fromBytes(pk)
}

func fromBytes(b []byte) (solana.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(b)), nil
	case ed25519.PrivateKeySize:
		expanded := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !bytes.Equal(expanded, b) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return solana.PrivateKey(expanded), nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// PublicKey is the verifying key registered with the venue.
func (s *Signer) PublicKey() solana.PublicKey { return s.key.PublicKey() }

// Sign stamps a fresh request id and the current time, then signs
// "<version>,<request-id>,<timestamp-ms>,<payload>".
func (s *Signer) Sign(payload []byte) (Headers, error) {
	h := Headers{
		Version:   Version,
		RequestID: s.newID(),
		Timestamp: s.now().UnixMilli(),
	}
	sig, err := s.key.Sign(CanonicalMessage(h.Version, h.RequestID, h.Timestamp, payload))
	if err != nil {
		return Headers{}, fmt.Errorf("sign request: %w", err)
	}
	h.Signature = base64.StdEncoding.EncodeToString(sig[:])
	return h, nil
}

// CanonicalMessage is the exact byte string covered by the signature.
func CanonicalMessage(version, requestID string, timestampMs int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(version) + len(requestID) + len(payload) + 24)
	buf.WriteString(version)
	buf.WriteByte(',')
	buf.WriteString(requestID)
	buf.WriteByte(',')
	buf.WriteString(strconv.FormatInt(timestampMs, 10))
	buf.WriteByte(',')
	buf.Write(payload)
	return buf.Bytes()
}
