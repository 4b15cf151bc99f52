package document

import (
	"strings"
	"time"
)

// DefaultContentType is stored when a writer does not name one.
const DefaultContentType = "application/octet-stream"

// DocumentType classifies a document (carried over from the v0 service).
type DocumentType string

const (
	TypeFinancial      DocumentType = "FINANCIAL_DOCUMENT"
	TypeIDVerification DocumentType = "ID_VERIFICATION"
	TypeLegal          DocumentType = "LEGAL_DOCUMENT"
	TypeOther          DocumentType = "OTHER"
)

// Valid reports whether t is one of the known types. The empty type is valid.
func (t DocumentType) Valid() bool {
	switch t {
	case "", TypeFinancial, TypeIDVerification, TypeLegal, TypeOther:
		return true
	}
	return false
}

// ParseDocumentType normalises user input ("legal_document" -> TypeLegal).
func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: "unknown document type " + s}
	}
	return t, nil
}

// Metadata is descriptive data stored with every revision.
type Metadata struct {
	Name       string       `json:"name,omitempty" bson:"name,omitempty"`
	Type       DocumentType `json:"type,omitempty" bson:"type,omitempty"`
	Owner      string       `json:"owner,omitempty" bson:"owner,omitempty"`
	ExpiryDate *time.Time   `json:"expiryDate,omitempty" bson:"expiryDate,omitempty"`
}

// Revision is one immutable snapshot of a document.
type Revision struct {
	DocumentID  string    `json:"documentId" bson:"docId"`
	Number      int       `json:"revision" bson:"revision"`
	Content     []byte    `json:"content,omitempty" bson:"content,omitempty"`
	ContentType string    `json:"contentType" bson:"contentType"`
	Metadata    Metadata  `json:"metadata" bson:"metadata"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	Deleted     bool      `json:"deleted" bson:"deleted"`
}

// Clone returns a deep copy so callers can never mutate stored revisions.
func (r *Revision) Clone() *Revision {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Content != nil {
		cp.Content = append([]byte(nil), r.Content...)
	}
	if r.Metadata.ExpiryDate != nil {
		t := *r.Metadata.ExpiryDate
		cp.Metadata.ExpiryDate = &t
	}
	return &cp
}

// Pointer is the index record for a document's current revision.
type Pointer struct {
	DocumentID string    `json:"documentId"`
	Current    int       `json:"currentRevision"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
