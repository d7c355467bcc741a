package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/gengar-bark/internal/logger"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
)

// JWKSet represents a JSON Web Key Set
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string   `json:"kid"`
	Kty string   `json:"kty"`
	Use string   `json:"use"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

// AuthConfig selects how API bearer tokens are verified. Secret enables HS256
// tokens; otherwise Auth0 RS256 tokens are checked against the tenant's JWKS.
type AuthConfig struct {
	Secret   string
	Domain   string
	Audience string

	// JWKSURL and Issuer default to the Auth0 tenant endpoints for Domain.
	JWKSURL string
	Issuer  string
}

// NewAuthConfig creates a new authentication configuration
func NewAuthConfig(secret, domain, audience string) *AuthConfig {
	return &AuthConfig{
		Secret:   secret,
		Domain:   domain,
		Audience: audience,
	}
}

func (a *AuthConfig) issuer() string {
	if a.Issuer != "" {
		return a.Issuer
	}
	if a.Domain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/", a.Domain)
}

func (a *AuthConfig) jwksURL() string {
	if a.JWKSURL != "" {
		return a.JWKSURL
	}
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Authentication validates bearer JWTs and stores the subject as "user_id".
func Authentication(config *AuthConfig) gin.HandlerFunc {
	keys := newJWKSCache(config.jwksURL(), 10*time.Minute)

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	var keyFunc jwt.Keyfunc
	if config.Secret != "" {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		keyFunc = func(*jwt.Token) (interface{}, error) {
			return []byte(config.Secret), nil
		}
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer(config.issuer()))
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			cert, err := keys.pemCert(token)
			if err != nil {
				return nil, err
			}
			return jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		}
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing or invalid authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid authorization header",
			})
			return
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			code, message := "invalid_token", "Token is not valid"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code, message = "token_expired", "Token has expired"
			}
			logger.WithFields(map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("Authentication failed: token validation error")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": message,
			})
			return
		}

		userId, err := claims.GetSubject()
		if err != nil || userId == "" {
			logger.WithField("path", c.Request.URL.Path).Warn("Authentication failed: missing user ID in token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Missing user ID in token",
			})
			return
		}

		// Set user ID in context for handlers to use
		c.Set("user_id", userId)
		c.Set("token_claims", claims)

		logger.WithFields(map[string]interface{}{
			"user_id": userId,
			"path":    c.Request.URL.Path,
		}).Debug("Authentication successful")

		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidAuthHeader
	}
	token := strings.TrimSpace(header[len(prefix):])
	if strings.Count(token, ".") != 2 {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}

// jwksCache fetches the signing certificates once per ttl.
type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	certs   map[string]string
	fetched time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// pemCert returns the PEM certificate for the token's kid
func (j *jwksCache) pemCert(token *jwt.Token) (string, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return "", errors.New("missing kid in token header")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if cert, ok := j.certs[kid]; ok && time.Since(j.fetched) < j.ttl {
		return cert, nil
	}

	if err := j.refresh(); err != nil {
		return "", err
	}
	if cert, ok := j.certs[kid]; ok {
		return cert, nil
	}
	return "", errors.New("unable to find appropriate key")
}

func (j *jwksCache) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var jwks JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	certs := make(map[string]string, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if len(key.X5c) > 0 {
			certs[key.Kid] = fmt.Sprintf("-----BEGIN CERTIFICATE-----\n%s\n-----END CERTIFICATE-----", key.X5c[0])
		}
	}
	j.certs = certs
	j.fetched = time.Now()

	logger.WithField("keys", len(certs)).Debug("JWKS refreshed")
	return nil
}
