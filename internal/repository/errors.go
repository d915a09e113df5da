package repository

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
)

func isNotFound(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusNotFound
}

// deleteDoc removes a document by id, treating an already-missing
// document as success so teardown stays idempotent.
func deleteDoc(ctx context.Context, db *kivik.DB, docID string) error {
	var doc struct {
		Rev string `json:"_rev"`
	}

	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to fetch document for delete: %w", err)
	}

	if _, err := db.Delete(ctx, docID, doc.Rev); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}
