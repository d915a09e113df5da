package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// DocumentRepository holds the authoritative content the sync sessions
// merge accepted edits into. Fetch returns (nil, nil) when the entity
// has no document yet.
type DocumentRepository interface {
	Fetch(ctx context.Context, entity domain.EntityRef) (*domain.Document, error)
	Save(ctx context.Context, document *domain.Document) error
}

type documentDoc struct {
	ID        string           `json:"_id"`
	Rev       string           `json:"_rev,omitempty"`
	EntityRef domain.EntityRef `json:"entity_ref"`
	Content   string           `json:"content"`
	Version   int64            `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type documentRepository struct {
	client *kivik.Client
	dbName string
}

func NewDocumentRepository(client *kivik.Client, dbName string) DocumentRepository {
	return &documentRepository{
		client: client,
		dbName: dbName,
	}
}

func documentDocID(entity domain.EntityRef) string {
	return fmt.Sprintf("entity:%s", entity.Key())
}

func (r *documentRepository) Fetch(ctx context.Context, entity domain.EntityRef) (*domain.Document, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, documentDocID(entity))

	var doc documentDoc
	if err := row.ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}

	return &domain.Document{
		EntityRef: doc.EntityRef,
		Content:   doc.Content,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *documentRepository) Save(ctx context.Context, document *domain.Document) error {
	db := r.client.DB(r.dbName)
	docID := documentDocID(document.EntityRef)

	doc := documentDoc{
		ID:        docID,
		EntityRef: document.EntityRef,
		Content:   document.Content,
		Version:   document.Version,
		UpdatedAt: time.Now(),
	}

	var existing documentDoc
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to fetch existing document for update: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}
