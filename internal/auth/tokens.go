// Package auth issues and verifies the two JWT shapes the API uses: bearer
// tokens identifying a teacher and short-lived QR tokens bound to a subject.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, mis-signed and wrong-type tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for structurally valid but expired tokens.
	ErrExpiredToken = errors.New("token expired")
)

const (
	tokenTypeBearer = "bearer"
	tokenTypeQR     = "qr"
)

// Claims is the payload carried by both token shapes. Type distinguishes a
// teacher bearer token from a subject-bound QR token.
type Claims struct {
	Type      string `json:"typ"`
	SubjectID string `json:"subject_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies tokens with a shared HMAC secret.
type TokenService struct {
	secret          []byte
	qrTokenLifetime time.Duration
}

// NewTokenService creates a token service. The secret must not be empty.
func NewTokenService(secret string, qrTokenLifetime time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if qrTokenLifetime <= 0 {
		qrTokenLifetime = 2 * time.Minute
	}
	return &TokenService{
		secret:          []byte(secret),
		qrTokenLifetime: qrTokenLifetime,
	}, nil
}

// MintBearer issues a bearer token for a teacher, valid for the given
// lifetime.
func (s *TokenService) MintBearer(teacherID string, lifetime time.Duration) (string, error) {
	if teacherID == "" {
		return "", errors.New("teacher ID is required")
	}
	return s.sign(Claims{
		Type: tokenTypeBearer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   teacherID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(lifetime)),
		},
	})
}

// MintQR issues a short-lived token bound to a subject. The token is the
// payload encoded into the classroom QR code.
func (s *TokenService) MintQR(subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject ID is required")
	}
	return s.sign(Claims{
		Type:      tokenTypeQR,
		SubjectID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.qrTokenLifetime)),
		},
	})
}

// VerifyBearer parses a bearer token and returns the teacher ID.
func (s *TokenService) VerifyBearer(token string) (string, error) {
	claims, err := s.verify(token, tokenTypeBearer)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// VerifyQR parses a QR token and returns the subject it is bound to.
func (s *TokenService) VerifyQR(token string) (string, error) {
	claims, err := s.verify(token, tokenTypeQR)
	if err != nil {
		return "", err
	}
	if claims.SubjectID == "" {
		return "", fmt.Errorf("%w: missing subject binding", ErrInvalidToken)
	}
	return claims.SubjectID, nil
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) verify(raw, wantType string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	return &claims, nil
}
