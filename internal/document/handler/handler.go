package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/service"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/middleware"
)

const (
	encodingUTF8   = "utf-8"
	encodingBase64 = "base64"
)

type documentRequest struct {
	Content          string  `json:"content"`
	Encoding         string  `json:"encoding"`
	ContentType      string  `json:"contentType"`
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Owner            string  `json:"owner"`
	ExpiryDate       *string `json:"expiryDate"`
	ExpectedRevision *int    `json:"expectedRevision"`
}

// draft decodes the request body. The owner defaults to the authenticated
// subject.
func (r documentRequest) draft(c *gin.Context) (service.Draft, error) {
	var d service.Draft
	switch strings.ToLower(r.Encoding) {
	case "", encodingUTF8, "utf8":
		d.Content = []byte(r.Content)
	case encodingBase64:
		b, err := base64.StdEncoding.DecodeString(r.Content)
		if err != nil {
			return d, &document.ValidationError{Field: "content", Reason: "invalid base64"}
		}
		d.Content = b
	default:
		return d, &document.ValidationError{Field: "encoding", Reason: "must be utf-8 or base64"}
	}
	d.ContentType = r.ContentType
	typ, err := document.ParseDocumentType(r.Type)
	if err != nil {
		return d, err
	}
	d.Metadata = document.Metadata{Name: r.Name, Type: typ, Owner: r.Owner}
	if d.Metadata.Owner == "" {
		d.Metadata.Owner = middleware.Subject(c)
	}
	if r.ExpiryDate != nil && *r.ExpiryDate != "" {
		t, err := parseDate(*r.ExpiryDate)
		if err != nil {
			return d, err
		}
		d.Metadata.ExpiryDate = &t
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &document.ValidationError{Field: "expiryDate", Reason: "use YYYY-MM-DD or RFC 3339"}
}

type revisionResponse struct {
	ID          string            `json:"id"`
	Revision    int               `json:"revision"`
	ContentType string            `json:"contentType"`
	Content     string            `json:"content"`
	Encoding    string            `json:"encoding"`
	Metadata    document.Metadata `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt"`
	Deleted     bool              `json:"deleted"`
}

// encodeContent returns content as text when it is valid UTF-8, base64
// otherwise or when the caller asks for it.
func encodeContent(b []byte, want string) (string, string) {
	if want == encodingBase64 || !utf8.Valid(b) {
		return base64.StdEncoding.EncodeToString(b), encodingBase64
	}
	return string(b), encodingUTF8
}

func toResponse(r *document.Revision, enc string) revisionResponse {
	content, used := encodeContent(r.Content, enc)
	return revisionResponse{
		ID:          r.DocumentID,
		Revision:    r.Number,
		ContentType: r.ContentType,
		Content:     content,
		Encoding:    used,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		Deleted:     r.Deleted,
	}
}

type historyEntry struct {
	Revision    int               `json:"revision"`
	ContentType string            `json:"contentType"`
	Size        int               `json:"size"`
	Metadata    document.Metadata `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt"`
	Deleted     bool              `json:"deleted"`
}

func etag(rev int) string { return strconv.Quote(strconv.Itoa(rev)) }

// expectedRevision reads If-Match ("3", W/"3" or 3) and falls back to the
// given value from the body or query.
func expectedRevision(c *gin.Context, fallback *int) (int, error) {
	if h := strings.TrimSpace(c.GetHeader("If-Match")); h != "" {
		h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 {
			return 0, &document.ValidationError{Field: "If-Match", Reason: "must be a revision number"}
		}
		return n, nil
	}
	if fallback != nil {
		return *fallback, nil
	}
	return 0, &document.ValidationError{Field: "expectedRevision", Reason: "required (If-Match header or expectedRevision)"}
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data, "error": nil})
}

// fail maps the error taxonomy onto status codes.
func fail(c *gin.Context, err error) {
	var (
		status = http.StatusInternalServerError
		data   any
		msg    = "internal error"
		cm     *document.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &cm):
		status, msg = http.StatusConflict, err.Error()
		data = gin.H{"currentRevision": cm.Actual}
	case errors.Is(err, document.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, document.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, document.ErrNotReady):
		status, msg = http.StatusServiceUnavailable, err.Error()
		c.Header("Retry-After", "1")
	default:
		logger.From(c.Request.Context()).Error("request failed", logger.Path(c.Request.URL.Path), logger.Err(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "data": data, "error": msg})
}

func badRequest(c *gin.Context, err error) {
	fail(c, &document.ValidationError{Field: "body", Reason: err.Error()})
}

// RegisterDocumentRoutes mounts the document API under /api/v1/documents.
// Extra middleware (auth, rate limiting) applies to these routes only.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, mw ...gin.HandlerFunc) {
	g := r.Group("/api/v1/documents", mw...)

	g.POST("", func(c *gin.Context) {
		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		d, err := req.draft(c)
		if err != nil {
			fail(c, err)
			return
		}
		id, rev, err := svc.Create(c.Request.Context(), d)
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("ETag", etag(rev))
		c.Header("Location", "/api/v1/documents/"+id)
		ok(c, http.StatusCreated, gin.H{"id": id, "revision": rev})
	})

	g.GET("", func(c *gin.Context) {
		ids, err := svc.List(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		out := slices.Collect(ids)
		if out == nil {
			out = []string{}
		}
		ok(c, http.StatusOK, gin.H{"ids": out, "count": len(out)})
	})

	g.POST("/filter", func(c *gin.Context) {
		var req struct {
			Type  string `json:"type"`
			Owner string `json:"owner"`
			Page  int    `json:"page"`
			Size  int    `json:"size"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
		typ, err := document.ParseDocumentType(req.Type)
		if err != nil {
			fail(c, err)
			return
		}
		page, err := svc.Filter(c.Request.Context(), service.Filter{Type: typ, Owner: req.Owner, Page: req.Page, Size: req.Size})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, page)
	})

	g.GET("/:id", func(c *gin.Context) {
		rev := service.Latest
		if q := c.Query("revision"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 1 {
				fail(c, &document.ValidationError{Field: "revision", Reason: "must be a positive integer"})
				return
			}
			rev = n
		}
		r, err := svc.Get(c.Request.Context(), c.Param("id"), rev)
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("ETag", etag(r.Number))
		ok(c, http.StatusOK, toResponse(r, c.Query("encoding")))
	})

	g.GET("/:id/revisions", func(c *gin.Context) {
		hist, err := svc.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]historyEntry, 0, len(hist))
		for _, r := range hist {
			out = append(out, historyEntry{
				Revision:    r.Number,
				ContentType: r.ContentType,
				Size:        len(r.Content),
				Metadata:    r.Metadata,
				CreatedAt:   r.CreatedAt,
				Deleted:     r.Deleted,
			})
		}
		ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "revisions": out})
	})

	g.PUT("/:id", func(c *gin.Context) {
		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		expected, err := expectedRevision(c, req.ExpectedRevision)
		if err != nil {
			fail(c, err)
			return
		}
		d, err := req.draft(c)
		if err != nil {
			fail(c, err)
			return
		}
		rev, err := svc.Update(c.Request.Context(), c.Param("id"), expected, d)
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("ETag", etag(rev))
		ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "revision": rev})
	})

	g.DELETE("/:id", func(c *gin.Context) {
		var fallback *int
		if q := c.Query("expectedRevision"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				fail(c, &document.ValidationError{Field: "expectedRevision", Reason: "must be an integer"})
				return
			}
			fallback = &n
		}
		expected, err := expectedRevision(c, fallback)
		if err != nil {
			fail(c, err)
			return
		}
		rev, err := svc.Delete(c.Request.Context(), c.Param("id"), expected)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"id": c.Param("id"), "revision": rev})
	})
}
