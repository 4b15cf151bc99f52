package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/gogotex/document-service/pkg/logger"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Revocations reports tokens that were revoked before they expired.
type Revocations interface {
	Revoked(ctx context.Context, raw string) (bool, error)
}

// RedisRevocations keeps revoked tokens as expiring Redis keys.
type RedisRevocations struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevocations(client redis.UniversalClient, prefix string) *RedisRevocations {
	if prefix == "" {
		prefix = "revoked:access:"
	}
	return &RedisRevocations{client: client, prefix: prefix}
}

// Revoke marks raw as revoked until ttl elapses (normally the token's
// remaining lifetime).
func (r *RedisRevocations) Revoke(ctx context.Context, raw string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+raw, "1", ttl).Err()
}

func (r *RedisRevocations) Revoked(ctx context.Context, raw string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+raw).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AuthMiddleware verifies Bearer tokens with ver and stores the claims and
// subject on the context. revoked may be nil.
func AuthMiddleware(ver Verifier, revoked Revocations) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			abort(c, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "invalid Authorization header")
			return
		}

		ctx := c.Request.Context()
		if revoked != nil {
			r, err := revoked.Revoked(ctx, token)
			if err != nil {
				// fail closed
				logger.From(ctx).Error("revocation lookup failed", logger.Err(err))
				abort(c, http.StatusUnauthorized, "token check failed")
				return
			}
			if r {
				abort(c, http.StatusUnauthorized, "token revoked")
				return
			}
		}

		idToken, err := ver.Verify(ctx, token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		var claims map[string]interface{}
		if err := idToken.Claims(&claims); err != nil {
			abort(c, http.StatusUnauthorized, "failed to parse claims")
			return
		}

		c.Set(ClaimsKey, claims)
		if sub, ok := claims["sub"].(string); ok {
			c.Set(SubjectKey, sub)
		}
		if name, ok := claims["preferred_username"].(string); ok && name != "" {
			c.Set(SubjectKey, name)
		}
		c.Next()
	}
}
