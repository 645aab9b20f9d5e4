// Package token encodes and verifies attendance tokens shown by an event
// presenter and scanned by participants.
//
// The default Plain codec reproduces the historical "EVENT_ATTENDANCE:<id>"
// shape: it is a pure function of the event id, so anyone who knows the id can
// build a valid token. Signed adds an expiring HMAC signature on top of the
// same prefix for deployments that need to close that gap.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

// Prefix namespaces every attendance token.
const Prefix = "EVENT_ATTENDANCE:"

// Codec issues tokens for an event and checks that a scanned payload is bound to it.
type Codec interface {
	Issue(eventID string) (string, error)
	Verify(payload, eventID string) error
}

// ForEvent returns the plain token for eventID.
func ForEvent(eventID string) string {
	return Prefix + eventID
}

// Plain is the deterministic, unsigned codec.
type Plain struct{}

// Issue returns the plain token for eventID.
func (Plain) Issue(eventID string) (string, error) {
	if strings.TrimSpace(eventID) == "" {
		return "", fmt.Errorf("event id is required: %w", model.ErrInvalidInput)
	}
	return ForEvent(eventID), nil
}

// Verify accepts payload only if it is the plain token for eventID.
func (Plain) Verify(payload, eventID string) error {
	payload = strings.TrimSpace(payload)
	if eventID == "" || payload != ForEvent(eventID) {
		return model.ErrInvalidToken
	}
	return nil
}

// Signed issues "EVENT_ATTENDANCE:<jwt>" tokens carrying the event id and an expiry.
type Signed struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type attendanceClaims struct {
	jwt.RegisteredClaims
	EventID string `json:"event_id"`
}

const defaultSignedTTL = 5 * time.Minute

// NewSigned builds a Signed codec. A nil now defaults to time.Now.
func NewSigned(secret []byte, ttl time.Duration, now func() time.Time) (*Signed, error) {
	if len(secret) < 16 {
		return nil, errors.New("attendance token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = defaultSignedTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Signed{key: secret, ttl: ttl, now: now}, nil
}

// Issue signs a token bound to eventID that expires after the codec TTL.
func (s *Signed) Issue(eventID string) (string, error) {
	if strings.TrimSpace(eventID) == "" {
		return "", fmt.Errorf("event id is required: %w", model.ErrInvalidInput)
	}
	now := s.now().UTC()
	claims := attendanceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		EventID: eventID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign attendance token: %w", err)
	}
	return Prefix + signed, nil
}

// Verify checks the signature, the expiry and that payload is bound to eventID.
func (s *Signed) Verify(payload, eventID string) error {
	raw, ok := strings.CutPrefix(strings.TrimSpace(payload), Prefix)
	if !ok || raw == "" || eventID == "" {
		return model.ErrInvalidToken
	}

	var claims attendanceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	if claims.EventID != eventID {
		return model.ErrInvalidToken
	}
	return nil
}
