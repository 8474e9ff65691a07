package playback

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MediaTokenDuration bounds how long a signed media reference stays usable.
// Short enough that a long-idle viewer is forced back through the access
// guard; the client re-issues transparently before the viewer notices.
const MediaTokenDuration = 15 * time.Minute

type MediaClaims struct {
	LectureID string `json:"lectureId"`
	ViewerID  string `json:"viewerId"`
	jwt.RegisteredClaims
}

// GenerateMediaToken mints a signed, time-limited reference bound to one
// viewer and one lecture. The binding lives in the signature: a different
// viewer cannot reuse the token by editing the URL.
func GenerateMediaToken(secret, lectureID, viewerID string, ttl time.Duration) (string, error) {
	claims := &MediaClaims{
		LectureID: lectureID,
		ViewerID:  viewerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateMediaToken checks signature and expiry and returns the claims.
// Expiry is checked here, at use time; client-reported validity is never
// trusted.
func ValidateMediaToken(secret, tokenStr string) (*MediaClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &MediaClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse media token: %w", err)
	}

	claims, ok := token.Claims.(*MediaClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid media token")
	}
	if claims.LectureID == "" || claims.ViewerID == "" {
		return nil, fmt.Errorf("media token missing binding")
	}
	return claims, nil
}
