package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/echovault/internal/service"
)

const callerKey = "echovault.caller"

var errUnauthorized = errors.New("unauthorized")

// Claims are the fields read from a user access token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type authenticator struct {
	secret         []byte
	serviceRoleKey string
	anonKey        string
}

func equalKey(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// caller resolves a bearer token. The service-role key acts as an internal
// caller; anything else must be an HS256 user token with a subject.
func (a *authenticator) caller(token string) (service.Caller, error) {
	if token == "" {
		return service.Caller{}, errUnauthorized
	}
	if equalKey(a.serviceRoleKey, token) {
		return service.InternalCaller, nil
	}
	if len(a.secret) == 0 {
		return service.Caller{}, errUnauthorized
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return service.Caller{}, errUnauthorized
	}
	return service.Caller{UserID: claims.Subject, Email: claims.Email}, nil
}

// apiKeyOK checks the apikey header when an anon key is configured.
func (a *authenticator) apiKeyOK(c *gin.Context) bool {
	if a.anonKey == "" {
		return true
	}
	k := c.GetHeader("apikey")
	return equalKey(a.anonKey, k) || equalKey(a.serviceRoleKey, k)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireAPIKey rejects requests without the public apikey.
func (a *authenticator) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.apiKeyOK(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid apikey"})
			return
		}
		c.Next()
	}
}

// requireCaller authenticates the bearer token and stores the caller.
func (a *authenticator) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.apiKeyOK(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid apikey"})
			return
		}
		caller, err := a.caller(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) service.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(service.Caller)
	return caller
}
