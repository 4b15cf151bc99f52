package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>document-service - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "document-service", "version": "v1" },
  "components": {
    "schemas": {
      "DocumentRequest": {"type":"object","properties":{
        "content":{"type":"string"},"encoding":{"type":"string","enum":["utf-8","base64"]},
        "contentType":{"type":"string"},"name":{"type":"string"},
        "type":{"type":"string","enum":["FINANCIAL_DOCUMENT","ID_VERIFICATION","LEGAL_DOCUMENT","OTHER"]},
        "owner":{"type":"string"},"expiryDate":{"type":"string","format":"date"},
        "expectedRevision":{"type":"integer"}}},
      "Envelope": {"type":"object","properties":{"success":{"type":"boolean"},"data":{},"error":{"type":"string","nullable":true}}}
    }
  },
  "paths": {
    "/api/v1/documents": {
      "get": { "summary": "List live document ids", "responses": { "200": { "description": "ids" }, "503": { "description": "index rebuilding" } } },
      "post": { "summary": "Create a document (revision 1)", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/DocumentRequest"}}}}, "responses": { "201": { "description": "created; ETag carries the revision" }, "400": { "description": "validation failed" } } }
    },
    "/api/v1/documents/filter": {
      "post": { "summary": "Filter latest revisions by type and owner", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"type":{"type":"string"},"owner":{"type":"string"},"page":{"type":"integer"},"size":{"type":"integer"}}}}}}, "responses": { "200": { "description": "page" } } }
    },
    "/api/v1/documents/{id}": {
      "get": { "summary": "Get latest or ?revision=n", "parameters": [{"name":"id","in":"path","required":true,"schema":{"type":"string"}},{"name":"revision","in":"query","schema":{"type":"integer"}}], "responses": { "200": { "description": "revision" }, "404": { "description": "not found" } } },
      "put": { "summary": "Append a revision", "parameters": [{"name":"If-Match","in":"header","schema":{"type":"string"}}], "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/DocumentRequest"}}}}, "responses": { "200": { "description": "new revision" }, "409": { "description": "stale expected revision; data.currentRevision" } } },
      "delete": { "summary": "Append a tombstone", "parameters": [{"name":"If-Match","in":"header","schema":{"type":"string"}},{"name":"expectedRevision","in":"query","schema":{"type":"integer"}}], "responses": { "200": { "description": "tombstone revision" }, "409": { "description": "stale expected revision" } } }
    },
    "/api/v1/documents/{id}/revisions": {
      "get": { "summary": "Revision history without content", "responses": { "200": { "description": "revisions" } } }
    },
    "/api/v1/cache/{name}": {
      "get": { "summary": "List cached keys of revisions or filters", "responses": { "200": { "description": "name, size, keys" }, "404": { "description": "unknown cache" } } }
    },
    "/api/v1/cache/{name}/size": {
      "get": { "summary": "Count cached entries", "responses": { "200": { "description": "name, size" } } }
    },
    "/api/v1/cache/{name}/contains": {
      "get": { "summary": "Check a key", "parameters": [{"name":"key","in":"query","required":true,"schema":{"type":"string"}}], "responses": { "200": { "description": "present" }, "400": { "description": "missing key" } } }
    }
  }
}`
