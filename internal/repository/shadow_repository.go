package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ShadowRepository stores one shadow row per (entity, endpoint) pair.
// Load returns (nil, nil) when no session ever started for the pair.
type ShadowRepository interface {
	Load(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Shadow, error)
	Save(ctx context.Context, shadow *domain.Shadow) error
	Delete(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error
}

type shadowDoc struct {
	ID          string             `json:"_id"`
	Rev         string             `json:"_rev,omitempty"`
	EntityRef   domain.EntityRef   `json:"entity_ref"`
	EndpointRef domain.EndpointRef `json:"endpoint_ref"`
	Content     string             `json:"content"`
	Version     domain.VersionPair `json:"version"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type shadowRepository struct {
	client *kivik.Client
	dbName string
}

func NewShadowRepository(client *kivik.Client, dbName string) ShadowRepository {
	return &shadowRepository{
		client: client,
		dbName: dbName,
	}
}

func shadowDocID(entity domain.EntityRef, endpoint domain.EndpointRef) string {
	return fmt.Sprintf("shadow:%s:%s", entity.Key(), endpoint.Key())
}

func (r *shadowRepository) Load(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Shadow, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, shadowDocID(entity, endpoint))

	var doc shadowDoc
	if err := row.ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load shadow: %w", err)
	}

	return &domain.Shadow{
		EntityRef:   doc.EntityRef,
		EndpointRef: doc.EndpointRef,
		Content:     doc.Content,
		Version:     doc.Version,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (r *shadowRepository) Save(ctx context.Context, shadow *domain.Shadow) error {
	db := r.client.DB(r.dbName)
	docID := shadowDocID(shadow.EntityRef, shadow.EndpointRef)

	doc := shadowDoc{
		ID:          docID,
		EntityRef:   shadow.EntityRef,
		EndpointRef: shadow.EndpointRef,
		Content:     shadow.Content,
		Version:     shadow.Version,
		UpdatedAt:   time.Now(),
	}

	var existing shadowDoc
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to fetch existing shadow for update: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save shadow: %w", err)
	}

	return nil
}

func (r *shadowRepository) Delete(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error {
	return deleteDoc(ctx, r.client.DB(r.dbName), shadowDocID(entity, endpoint))
}
