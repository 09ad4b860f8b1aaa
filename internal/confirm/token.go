// Package confirm issues and verifies HMAC-signed, plan-bound,
// time-limited confirmation tokens for critical operations. The payload
// is CBOR-encoded in deterministic (canonical) mode before signing, so
// the signature never depends on map key order.
package confirm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/opal-lang/tenantctl/internal/controlerr"
)

// defaultSecret is the sentinel value Service rejects at construction
// when running in production, so a deployment never signs tokens with a
// well-known key by accident.
const defaultSecret = "dev-only-confirmation-secret-do-not-use-in-production"

// payload is the CBOR-encoded, then HMAC-signed, body of a token.
type payload struct {
	PlanHash    string `cbor:"plan_hash"`
	ExpiryUnix  int64  `cbor:"expiry_unix_seconds"`
}

// Service issues and verifies confirmation tokens under one process
// secret.
type Service struct {
	secret []byte
	encMode cbor.EncMode
}

// NewService constructs a Service. If production is true, secret must
// not equal the built-in dev sentinel; the caller is expected to treat
// a non-nil error as a fatal startup failure.
func NewService(secret []byte, production bool) (*Service, error) {
	if production && string(secret) == defaultSecret {
		return nil, controlerr.New(controlerr.CodeValidationError, "confirmation secret must be overridden in production")
	}
	if len(secret) == 0 {
		secret = []byte(defaultSecret)
	}
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, controlerr.New(controlerr.CodeInternalError, "confirm: building canonical cbor encoder: %v", err)
	}
	return &Service{secret: secret, encMode: encMode}, nil
}

// Issue emits a token binding planHash to expiryUnix.
func (s *Service) Issue(planHash string, expiryUnix int64) (string, error) {
	body, err := s.encMode.Marshal(payload{PlanHash: planHash, ExpiryUnix: expiryUnix})
	if err != nil {
		return "", controlerr.New(controlerr.CodeInternalError, "confirm: encoding token payload: %v", err)
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(body)
	tag := s.sign(encodedPayload)
	return encodedPayload + "." + base64.RawURLEncoding.EncodeToString(tag), nil
}

// Reason is the failure classification for a failed Verify.
type Reason string

const (
	ReasonInvalid  Reason = "invalid"
	ReasonExpired  Reason = "expired"
	ReasonMismatch Reason = "mismatch"
)

// Verify checks token's signature, then its plan-hash binding, then its
// expiry, in that order. ok is true only if all three checks pass.
func (s *Service) Verify(token, expectedPlanHash string, nowUnix int64) (ok bool, reason Reason) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false, ReasonInvalid
	}
	encodedPayload, encodedTag := parts[0], parts[1]

	tag, err := base64.RawURLEncoding.DecodeString(encodedTag)
	if err != nil {
		return false, ReasonInvalid
	}
	if !hmac.Equal(tag, s.sign(encodedPayload)) {
		return false, ReasonInvalid
	}

	body, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return false, ReasonInvalid
	}
	var p payload
	if err := cbor.Unmarshal(body, &p); err != nil {
		return false, ReasonInvalid
	}

	if p.PlanHash != expectedPlanHash {
		return false, ReasonMismatch
	}
	if nowUnix >= p.ExpiryUnix {
		return false, ReasonExpired
	}
	return true, ""
}

func (s *Service) sign(encodedPayload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}

// DefaultTTL is confirm.issue's default ttl_seconds when the caller
// omits one.
const DefaultTTL = 300 * time.Second

// MinTTL and MaxTTL bound confirm.issue's ttl_seconds parameter.
const (
	MinTTL = 30 * time.Second
	MaxTTL = 7200 * time.Second
)
