package webhook

import (
	"context"
	"strings"

	"leadsync_backend/platform/apperr"
	"leadsync_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	apiKeyHeader     = "X-Webhook-API-Key"
	apiKeyQueryParam = "key"

	ctxAPIKey = "webhookAPIKey"
)

// KeyLookup resolves a key hash to an active API key.
type KeyLookup interface {
	GetByHash(ctx context.Context, keyHash string) (APIKey, error)
}

// APIKeyAuthMiddleware validates the webhook API key from the X-Webhook-API-Key header
// or the key query parameter (for providers that cannot set headers) and sets the key
// on the gin context.
func APIKeyAuthMiddleware(keys KeyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if apiKey == "" {
			apiKey = strings.TrimSpace(c.Query(apiKeyQueryParam))
		}
		if apiKey == "" {
			httpkit.Abort(c, apperr.Unauthorized("missing API key"))
			return
		}

		key, err := keys.GetByHash(c.Request.Context(), HashKey(apiKey))
		if err != nil {
			httpkit.Abort(c, apperr.Unauthorized("invalid API key"))
			return
		}

		c.Set(ctxAPIKey, key)
		c.Next()
	}
}

// authorizeProvider returns the owning account of the request's API key, aborting with
// 403 when the key is restricted to other providers.
func authorizeProvider(c *gin.Context, provider string) (uuid.UUID, bool) {
	value, ok := c.Get(ctxAPIKey)
	if !ok {
		httpkit.Abort(c, apperr.Unauthorized("missing account context"))
		return uuid.UUID{}, false
	}
	key, ok := value.(APIKey)
	if !ok || key.AccountID == uuid.Nil {
		httpkit.Abort(c, apperr.Unauthorized("missing account context"))
		return uuid.UUID{}, false
	}
	if !key.AllowsProvider(provider) {
		httpkit.Abort(c, apperr.Forbidden("API key not allowed for this provider"))
		return uuid.UUID{}, false
	}
	return key.AccountID, true
}
