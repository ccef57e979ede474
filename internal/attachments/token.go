package attachments

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenAudience = "echovault-attachment"

// Signer issues short-lived tokens for locally served attachments.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer. An empty secret is replaced by a random one,
// which invalidates links on restart.
func NewSigner(secret string) *Signer {
	if secret == "" {
		secret = randomSecret()
	}
	return &Signer{secret: []byte(secret)}
}

// Sign returns a token granting read access to key until now+ttl.
func (s *Signer) Sign(key string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks token and returns the key it grants.
func (s *Signer) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("attachment token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("attachment token: missing subject")
	}
	return claims.Subject, nil
}
