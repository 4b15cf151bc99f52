package app

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/internal/document/service"
)

func draftFor(name string) service.Draft {
	expiry := time.Now().AddDate(1, 0, 0)
	return service.Draft{
		Content:  []byte("body of " + name),
		Metadata: document.Metadata{Name: name, Type: document.TypeOther, Owner: "alice", ExpiryDate: &expiry},
	}
}

// brokenStore fails every head scan.
type brokenStore struct{ *repository.MemoryStore }

func (brokenStore) Heads(context.Context) iter.Seq2[repository.Head, error] {
	return func(yield func(repository.Head, error) bool) {
		yield(repository.Head{}, errors.New("disk on fire"))
	}
}
