package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/document-service/internal/cache"
	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/service"
	"github.com/gogotex/document-service/pkg/logger"
)

// cacheNamespaces maps the public cache names to their key prefixes.
var cacheNamespaces = map[string]string{
	"revisions": service.RevisionKeyPrefix,
	"filters":   service.FilterKeyPrefix,
}

// RegisterCacheRoutes mounts the read-only cache inspection API under
// /api/v1/cache/:name. Keys are reported without their namespace prefix.
func RegisterCacheRoutes(r gin.IRouter, insp cache.Inspector, mw ...gin.HandlerFunc) {
	g := r.Group("/api/v1/cache", mw...)

	namespace := func(c *gin.Context) (string, string, bool) {
		name := c.Param("name")
		prefix, ok := cacheNamespaces[name]
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "data": nil, "error": "cache " + name + " not found"})
		}
		return name, prefix, ok
	}
	keys := func(c *gin.Context, prefix string) ([]string, bool) {
		ks, err := insp.Keys(c.Request.Context(), prefix)
		if err != nil {
			fail(c, err)
			return nil, false
		}
		for i, k := range ks {
			ks[i] = k[len(prefix):]
		}
		return ks, true
	}

	g.GET("/:name", func(c *gin.Context) {
		name, prefix, found := namespace(c)
		if !found {
			return
		}
		ks, good := keys(c, prefix)
		if !good {
			return
		}
		logger.From(c.Request.Context()).Debug("cache inspected", logger.Component(name))
		ok(c, http.StatusOK, gin.H{"name": name, "size": len(ks), "keys": ks})
	})

	g.GET("/:name/size", func(c *gin.Context) {
		name, prefix, found := namespace(c)
		if !found {
			return
		}
		ks, good := keys(c, prefix)
		if !good {
			return
		}
		ok(c, http.StatusOK, gin.H{"name": name, "size": len(ks)})
	})

	g.GET("/:name/contains", func(c *gin.Context) {
		name, prefix, found := namespace(c)
		if !found {
			return
		}
		key := c.Query("key")
		if key == "" {
			fail(c, &document.ValidationError{Field: "key", Reason: "is required"})
			return
		}
		present, err := insp.Contains(c.Request.Context(), prefix+key)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"name": name, "key": key, "present": present})
	})
}
