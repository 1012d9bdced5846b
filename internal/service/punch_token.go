package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chrona-backend/internal/model"
)

const (
	tokenTypePunch = "punch"
	// 128 bits each for nonce and jti.
	punchRandomBytes = 16
)

// PunchTokenSigner mints and verifies the short-lived QR punch tokens. It
// uses its own secret, so a leaked session secret cannot forge punches.
type PunchTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewPunchTokenSigner(secret string, ttl time.Duration) (*PunchTokenSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("punch token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PunchTokenSigner{secret: []byte(secret), ttl: ttl}, nil
}

func (s *PunchTokenSigner) TTL() time.Duration {
	return s.ttl
}

func (s *PunchTokenSigner) Sign(userID string, deviceID string, now time.Time) (string, model.PunchTokenClaims, error) {
	nonce, err := randomBytes(punchRandomBytes)
	if err != nil {
		return "", model.PunchTokenClaims{}, fmt.Errorf("generate nonce: %w", err)
	}
	jti, err := randomBytes(punchRandomBytes)
	if err != nil {
		return "", model.PunchTokenClaims{}, fmt.Errorf("generate jti: %w", err)
	}

	claims := model.PunchTokenClaims{
		UserID:    userID,
		DeviceID:  deviceID,
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		JTI:       hex.EncodeToString(jti),
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: now.Truncate(time.Second).Add(s.ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"typ":       tokenTypePunch,
		"sub":       claims.UserID,
		"device_id": claims.DeviceID,
		"nonce":     claims.Nonce,
		"jti":       claims.JTI,
		"iat":       claims.IssuedAt.Unix(),
		"exp":       claims.ExpiresAt.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", model.PunchTokenClaims{}, fmt.Errorf("sign punch token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm and expiry against now. An expired
// token fails with model.ErrTokenExpired; any other defect with
// model.ErrTokenInvalid.
func (s *PunchTokenSigner) Parse(tokenString string, now time.Time) (model.PunchTokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claimsMap := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claimsMap, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return model.PunchTokenClaims{}, model.ErrTokenExpired
	}
	if err != nil {
		return model.PunchTokenClaims{}, model.ErrTokenInvalid
	}

	if typ, _ := claimsMap["typ"].(string); typ != tokenTypePunch {
		return model.PunchTokenClaims{}, model.ErrTokenInvalid.WithDetails("wrong token type")
	}

	var claims model.PunchTokenClaims
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.DeviceID, _ = claimsMap["device_id"].(string)
	claims.Nonce, _ = claimsMap["nonce"].(string)
	claims.JTI, _ = claimsMap["jti"].(string)
	if claims.UserID == "" || claims.DeviceID == "" || claims.Nonce == "" || claims.JTI == "" {
		return model.PunchTokenClaims{}, model.ErrTokenInvalid.WithDetails("missing claims")
	}

	if iat, err := claimsMap.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time.UTC()
	}
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time.UTC()
	}

	return claims, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
