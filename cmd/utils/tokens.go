package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenIssuer signs access tokens and HMAC-bound refresh tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

func (t *TokenIssuer) IssueAccessToken(userID uint) (string, time.Time, error) {
	expiresAt := t.now().Add(AccessTokenTTL)
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		IssuedAt:  jwt.NewNumericDate(t.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	return signed, expiresAt, err
}

func (t *TokenIssuer) ParseAccessToken(tokenString string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return 0, errors.New("invalid user ID in token")
	}
	return uint(userID), nil
}

// IssueRefreshToken returns "<userID>_<random>_<hmac>".
func (t *TokenIssuer) IssueRefreshToken(userID uint) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	return fmt.Sprintf("%d_%x_%x", userID, b, t.sign(userID, b)), t.now().Add(RefreshTokenTTL), nil
}

// VerifyRefreshToken checks the HMAC and returns the embedded user ID. The
// caller still has to compare it with the stored token.
func (t *TokenIssuer) VerifyRefreshToken(token string) (uint, error) {
	parts := strings.Split(token, "_")
	if len(parts) != 3 {
		return 0, errors.New("malformed refresh token")
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, errors.New("malformed refresh token")
	}
	random, err := hex.DecodeString(parts[1])
	if err != nil {
		return 0, errors.New("malformed refresh token")
	}
	sig, err := hex.DecodeString(parts[2])
	if err != nil {
		return 0, errors.New("malformed refresh token")
	}
	if !hmac.Equal(sig, t.sign(uint(userID), random)) {
		return 0, errors.New("refresh token signature mismatch")
	}
	return uint(userID), nil
}

func (t *TokenIssuer) sign(userID uint, random []byte) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	mac.Write(random)
	return mac.Sum(nil)
}

// HashToken returns the hex SHA-256 of an opaque token for storage.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes hex-encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
