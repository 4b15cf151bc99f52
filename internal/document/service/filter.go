package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/metrics"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Filter selects live documents by the metadata of their latest revision.
// Zero-valued fields match everything. Page is zero-based.
type Filter struct {
	Type  document.DocumentType `json:"type,omitempty"`
	Owner string                `json:"owner,omitempty"`
	Page  int                   `json:"page"`
	Size  int                   `json:"size"`
}

func (f *Filter) normalise() error {
	if f.Page < 0 {
		return &document.ValidationError{Field: "page", Reason: "must not be negative"}
	}
	if f.Size < 0 {
		return &document.ValidationError{Field: "size", Reason: "must not be negative"}
	}
	if f.Size == 0 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	if !f.Type.Valid() {
		return &document.ValidationError{Field: "type", Reason: "unknown document type " + string(f.Type)}
	}
	return nil
}

func (f Filter) matches(r *document.Revision) bool {
	if f.Type != "" && r.Metadata.Type != f.Type {
		return false
	}
	if f.Owner != "" && !strings.EqualFold(r.Metadata.Owner, f.Owner) {
		return false
	}
	return true
}

// cacheKey includes the write generation, so a page computed before a write
// is never served after it.
func (f Filter) cacheKey(gen uint64) string {
	return fmt.Sprintf("%s%d|%s|%s|%d|%d", FilterKeyPrefix, gen, f.Type, strings.ToLower(f.Owner), f.Page, f.Size)
}

// Summary is a latest revision without its content.
type Summary struct {
	DocumentID  string            `json:"documentId"`
	Revision    int               `json:"revision"`
	ContentType string            `json:"contentType"`
	Metadata    document.Metadata `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func summarise(r *document.Revision) Summary {
	return Summary{
		DocumentID:  r.DocumentID,
		Revision:    r.Number,
		ContentType: r.ContentType,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
	}
}

// Page is one page of filter results.
type Page struct {
	Content       []Summary `json:"content"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int       `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
	First         bool      `json:"first"`
	Last          bool      `json:"last"`
	Empty         bool      `json:"empty"`
}

func paginate(all []Summary, page, size int) *Page {
	total := len(all)
	pages := (total + size - 1) / size
	// page*size may overflow for huge pages
	from := total
	if page <= total/size {
		from = page * size
	}
	to := min(from+size, total)
	content := append([]Summary{}, all[from:to]...)
	return &Page{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
		First:         page == 0,
		Last:          page >= pages-1,
		Empty:         len(content) == 0,
	}
}

// Filter pages through live documents in ID order (creation order for ULIDs).
// Pages are cached until the next successful write.
func (s *DocumentService) Filter(ctx context.Context, f Filter) (*Page, error) {
	if err := f.normalise(); err != nil {
		return nil, err
	}
	if !s.index.Ready() {
		return nil, &document.NotReadyError{}
	}
	key := f.cacheKey(s.generation.Load())
	if b, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("filter cache read failed", logger.Err(err))
	} else if ok {
		var p Page
		if err := json.Unmarshal(b, &p); err == nil {
			metrics.CacheRequests.WithLabelValues("filter", "hit").Inc()
			return &p, nil
		}
	}
	metrics.CacheRequests.WithLabelValues("filter", "miss").Inc()

	var matched []Summary
	for id := range s.index.Live() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.Get(ctx, id, Latest)
		if err != nil {
			if errors.Is(err, document.ErrNotFound) {
				// deleted since the snapshot
				continue
			}
			return nil, err
		}
		if f.matches(r) {
			matched = append(matched, summarise(r))
		}
	}
	p := paginate(matched, f.Page, f.Size)
	if b, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, b, s.pageTTL); err != nil {
			s.log.Warn("filter cache write failed", logger.Err(err))
		}
	}
	return p, nil
}
