package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/septivank/attendance-admission/internal/identity"
)

const (
	// DeviceIDHeader carries the device id of a student client
	DeviceIDHeader = "X-Device-ID"
	identityKey    = "identity"
)

var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrExpiredAccessToken = errors.New("access token expired")
)

// ErrorResponse is the body of every error returned by the HTTP layer
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request id
func NewErrorResponse(c *gin.Context, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, RequestID: GetRequestID(c)}
}

// AccessClaims are the claims issued by the identity provider
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an authenticator. An empty issuer skips the iss check.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Parse verifies the token and returns its claims
func (a *Authenticator) Parse(raw string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}
	if parsed == nil || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// RequireAuth validates the bearer token and stores the caller's identity in the context.
// Students must also send the device id header.
func RequireAuth(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				NewErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		claims, err := auth.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(c, err.Error()))
			return
		}

		id, err := identity.New(claims.Subject, claims.Role, c.GetHeader(DeviceIDHeader))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, identity.ErrMissingDevice) {
				status = http.StatusBadRequest
			}
			c.AbortWithStatusJSON(status, NewErrorResponse(c, err.Error()))
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// GetIdentity returns the identity stored by RequireAuth
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}
