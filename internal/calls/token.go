package calls

import (
	"context"
	"fmt"
	"time"

	"FuelSOS/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the signaling service's credential endpoint.
type TokenIssuer interface {
	IssueAccessToken(ctx context.Context, userID, contextID string) (string, error)
}

// AccessClaims grant one user access to the media session of a context
// (an SOS request or a call).
type AccessClaims struct {
	Context string `json:"ctx,omitempty"`
	Grant   string `json:"grant"`
	jwt.RegisteredClaims
}

// JWTIssuer signs HS256 access tokens locally.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTIssuer(secret string, ttl time.Duration) *JWTIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JWTIssuer) IssueAccessToken(_ context.Context, userID, contextID string) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("call token secret not configured")
	}
	now := j.now()
	claims := AccessClaims{
		Context: contextID,
		Grant:   "voice",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    "fuelsos",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Parse verifies a token issued by j.
func (j *JWTIssuer) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// PlaceholderToken is handed out when the issuer is missing or failing so a
// call can still be set up.
func PlaceholderToken(userID string, now time.Time) string {
	return fmt.Sprintf("mock_token_%s_%d", userID, now.UnixMilli())
}
