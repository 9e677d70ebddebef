// Package auth issues and verifies chat-scoped tokens. A token authorizes
// exactly one chat's permission traffic and nothing else.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vesperbase/vesper/internal/config"
)

// TokenPurpose is the only purpose claim accepted on permission tokens.
const TokenPurpose = "permission_server"

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrInvalidPurpose   = errors.New("invalid token purpose")
	ErrChatMismatch     = errors.New("token issued for a different chat")
	ErrInvalidSignature = errors.New("invalid token signature")
)

type chatClaims struct {
	jwt.RegisteredClaims
	ChatID  string `json:"chat_id"`
	Purpose string `json:"purpose"`
}

// TokenService issues and verifies chat-scoped HS256 tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenService creates a token service from config.
func NewTokenService(cfg config.TokenConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
	}
}

// Generate creates a token scoped to chatID.
func (s *TokenService) Generate(chatID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := chatClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   chatID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
		ChatID:  chatID,
		Purpose: TokenPurpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// Verify checks the token's signature, lifetime, purpose, and chat binding.
// A valid token for a different chat fails with ErrChatMismatch.
func (s *TokenService) Verify(tokenString, chatID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &chatClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}

	claims, ok := token.Claims.(*chatClaims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return ErrInvalidIssuer
	}

	if claims.Purpose != TokenPurpose {
		return ErrInvalidPurpose
	}

	if claims.ChatID == "" || claims.ChatID != chatID {
		return ErrChatMismatch
	}

	return nil
}
