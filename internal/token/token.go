// Package token mints and validates the signed video access tokens that
// gate playback. The session referenced by a token is the unit of
// revocation; the token itself is never stored verbatim.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer   = "coursehall"
	Audience = "video-playback"
)

var (
	ErrInvalidToken = errors.New("invalid video token")
	ErrExpiredToken = errors.New("video token expired")
)

// Watermark is the per-user overlay metadata embedded in the token and
// rendered by the playback client to deter redistribution.
type Watermark struct {
	UserID         string `json:"userId"`
	IssuedAtMillis int64  `json:"issuedAtMillis"`
	Position       string `json:"position"`
}

// VideoClaims are the claims carried by a video access token.
// DeviceFingerprint and IssuedHourBucket are immutable for the token's
// lifetime; SessionID identifies exactly one video session.
type VideoClaims struct {
	UserID            string    `json:"userId"`
	VideoID           string    `json:"videoId"`
	BatchID           string    `json:"batchId"`
	SessionID         string    `json:"sessionId"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	IssuedHourBucket  int64     `json:"issuedHourBucket"`
	Watermark         Watermark `json:"watermarkData"`
	jwt.RegisteredClaims
}

// Params collects the inputs for minting a token.
type Params struct {
	UserID            string
	VideoID           string
	BatchID           string
	SessionID         string
	DeviceFingerprint string
	IssuedHourBucket  int64
	TTL               time.Duration
	IssuedAt          time.Time
}

// Generate mints a signed video access token.
func Generate(p Params, secret []byte) (string, error) {
	claims := &VideoClaims{
		UserID:            p.UserID,
		VideoID:           p.VideoID,
		BatchID:           p.BatchID,
		SessionID:         p.SessionID,
		DeviceFingerprint: p.DeviceFingerprint,
		IssuedHourBucket:  p.IssuedHourBucket,
		Watermark: Watermark{
			UserID:         p.UserID,
			IssuedAtMillis: p.IssuedAt.UnixMilli(),
			Position:       "bottom-right",
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.IssuedAt.Add(p.TTL)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// Validate verifies signature, expiry, issuer and audience, and returns the
// decoded claims.
func Validate(tokenString string, secret []byte) (*VideoClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &VideoClaims{}, func(t *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithAudience(Audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := tok.Claims.(*VideoClaims); ok && tok.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Hash returns a digest of the token string for session storage. The raw
// token never touches the database.
func Hash(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
