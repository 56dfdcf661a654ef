package grantor

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the claim set carried by locally signed credentials.
type TokenClaims struct {
	ResourceType   ResourceType   `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	AllowedActions []Action       `json:"allowed_actions"`
	Context        map[string]any `json:"context,omitempty"`
	jwt.RegisteredClaims
}

// HMACSigner signs the claim set with HS256. It is the local fallback when no
// cloud or broker backend applies; verification is offline, so these tokens
// cannot be revoked before natural expiry.
type HMACSigner struct {
	secret []byte
	issuer string
}

func NewHMACSigner(secret []byte, issuer string) *HMACSigner {
	if issuer == "" {
		issuer = "grantor"
	}
	return &HMACSigner{secret: secret, issuer: issuer}
}

func (s *HMACSigner) Sign(claims *TokenClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *HMACSigner) Verify(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}
	return claims, nil
}

// NewTokenClaims builds the claim set for a granted request.
func NewTokenClaims(req *AccessRequest, expiresAt time.Time, now time.Time) *TokenClaims {
	return &TokenClaims{
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		AllowedActions: []Action{req.Action},
		Context:        req.Context,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{string(req.ResourceType) + "/" + req.ResourceID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
}
