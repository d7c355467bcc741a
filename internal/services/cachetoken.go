package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/gengar-bark/internal/models"
)

const (
	cacheTokenIssuer = "gengar-bark"
	// DefaultCacheTokenTTL bounds how long an App Home button may carry a snapshot.
	DefaultCacheTokenTTL = 15 * time.Minute
)

// ErrInvalidCacheToken covers every reason a cache token cannot be used.
// Callers fall back to a lookup by id.
var ErrInvalidCacheToken = errors.New("invalid cache token")

type cacheTokenClaims struct {
	Snapshot models.ConfigSnapshot `json:"cfg"`
	jwt.RegisteredClaims
}

// CacheTokenCodec signs configuration snapshots bound to their owner.
type CacheTokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCacheTokenCodec creates a codec. A zero ttl uses DefaultCacheTokenTTL.
func NewCacheTokenCodec(secret string, ttl time.Duration) *CacheTokenCodec {
	if ttl <= 0 {
		ttl = DefaultCacheTokenTTL
	}
	return &CacheTokenCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// DeriveCacheTokenSecret derives a signing secret from the encryption key when
// none is configured.
func DeriveCacheTokenSecret(encryptionKey string) string {
	sum := sha256.Sum256([]byte("cache-token:" + encryptionKey))
	return hex.EncodeToString(sum[:])
}

// Issue signs a snapshot of cfg for userId.
func (c *CacheTokenCodec) Issue(userId string, cfg *models.RedactedMCPServerConfig) (string, error) {
	now := c.now()
	claims := cacheTokenClaims{
		Snapshot: models.NewConfigSnapshot(cfg),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cacheTokenIssuer,
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign cache token: %w", err)
	}
	return signed, nil
}

// Parse verifies token for userId and returns its snapshot.
func (c *CacheTokenCodec) Parse(userId, token string) (*models.ConfigSnapshot, error) {
	if token == "" {
		return nil, ErrInvalidCacheToken
	}

	var claims cacheTokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cacheTokenIssuer),
		jwt.WithSubject(userId),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCacheToken, err)
	}

	if claims.Snapshot.V != models.ConfigSnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrInvalidCacheToken, claims.Snapshot.V)
	}
	if claims.Snapshot.Id == "" {
		return nil, fmt.Errorf("%w: snapshot has no id", ErrInvalidCacheToken)
	}
	return &claims.Snapshot, nil
}
