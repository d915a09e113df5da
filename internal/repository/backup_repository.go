package repository

import (
	"context"
	"fmt"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// BackupRepository stores the last confirmed-good copy of a shadow.
// A backup row is only ever written right after a fully successful
// patch cycle, never mid-step.
type BackupRepository interface {
	Load(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Backup, error)
	Save(ctx context.Context, backup *domain.Backup) error
	Delete(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error
}

type backupDoc struct {
	ID          string             `json:"_id"`
	Rev         string             `json:"_rev,omitempty"`
	EntityRef   domain.EntityRef   `json:"entity_ref"`
	EndpointRef domain.EndpointRef `json:"endpoint_ref"`
	Content     string             `json:"content"`
	Version     domain.VersionPair `json:"version"`
}

type backupRepository struct {
	client *kivik.Client
	dbName string
}

func NewBackupRepository(client *kivik.Client, dbName string) BackupRepository {
	return &backupRepository{
		client: client,
		dbName: dbName,
	}
}

func backupDocID(entity domain.EntityRef, endpoint domain.EndpointRef) string {
	return fmt.Sprintf("backup:%s:%s", entity.Key(), endpoint.Key())
}

func (r *backupRepository) Load(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) (*domain.Backup, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, backupDocID(entity, endpoint))

	var doc backupDoc
	if err := row.ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}

	return &domain.Backup{
		EntityRef:   doc.EntityRef,
		EndpointRef: doc.EndpointRef,
		Content:     doc.Content,
		Version:     doc.Version,
	}, nil
}

func (r *backupRepository) Save(ctx context.Context, backup *domain.Backup) error {
	db := r.client.DB(r.dbName)
	docID := backupDocID(backup.EntityRef, backup.EndpointRef)

	doc := backupDoc{
		ID:          docID,
		EntityRef:   backup.EntityRef,
		EndpointRef: backup.EndpointRef,
		Content:     backup.Content,
		Version:     backup.Version,
	}

	var existing backupDoc
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to fetch existing backup for update: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save backup: %w", err)
	}

	return nil
}

func (r *backupRepository) Delete(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error {
	return deleteDoc(ctx, r.client.DB(r.dbName), backupDocID(entity, endpoint))
}
