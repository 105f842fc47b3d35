package middleware

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/logger"
)

const (
	// CompanyIDKey is the gin context key holding the authenticated tenant
	CompanyIDKey = "company_id"
	// UserIDKey is the gin context key holding the authenticated user
	UserIDKey = "user_id"
)

// AuthConfig holds session authentication configuration. Either an RSA
// public key (RS256) or a shared secret (HS256) must be configured.
type AuthConfig struct {
	JWTPublicKey string
	JWTSecret    string
}

// SessionClaims is the JWT claim set issued by the auth provider: the
// subject is the user id and company_id is the tenant every query is
// scoped by
type SessionClaims struct {
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}

// Authenticate validates the Authorization header and extracts the session.
// Reusable outside the middleware for non-gin entry points.
func Authenticate(authHeader string, cfg AuthConfig) (*SessionClaims, error) {
	if authHeader == "" {
		return nil, errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errors.New("invalid Authorization header format")
	}

	claims, err := validateJWT(parts[1], cfg)
	if err != nil {
		return nil, err
	}
	if claims.CompanyID == "" {
		return nil, errors.New("token missing company_id claim")
	}
	if _, err := uuid.Parse(claims.CompanyID); err != nil {
		return nil, errors.New("token company_id claim is not a UUID")
	}
	return claims, nil
}

// Auth returns a gin middleware enforcing a valid session token and placing
// the tenant and user ids into the request context
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Authenticate(c.GetHeader("Authorization"), cfg)
		if err != nil {
			logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Authentication failed",
				},
			})
			return
		}

		c.Set(CompanyIDKey, uuid.MustParse(claims.CompanyID))
		c.Set(UserIDKey, claims.Subject)
		c.Next()
	}
}

// CompanyID returns the authenticated tenant from the gin context
func CompanyID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(CompanyIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// validateJWT parses and validates the session token with whichever key
// material is configured
func validateJWT(tokenString string, cfg AuthConfig) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if cfg.JWTPublicKey == "" {
				return nil, errors.New("JWT public key not configured")
			}
			return parseRSAPublicKey(cfg.JWTPublicKey)
		case *jwt.SigningMethodHMAC:
			if cfg.JWTSecret == "" {
				return nil, errors.New("JWT secret not configured")
			}
			return []byte(cfg.JWTSecret), nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	now := time.Now()
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		return nil, errors.New("token has expired")
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now) {
		return nil, errors.New("token not yet valid")
	}

	return claims, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing public key")
	}

	// Try parsing as PKIX (most common format)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Try parsing as PKCS1 format
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}

	return rsaKey, nil
}
