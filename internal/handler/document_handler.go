package handler

import (
	"net/http"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"
	"github.com/Vishnu2508307/Test-sub032/internal/middleware"
	"github.com/Vishnu2508307/Test-sub032/internal/repository"
	"github.com/Vishnu2508307/Test-sub032/pkg/response"

	"github.com/gorilla/mux"
)

// DocumentHandler exposes read access to the authoritative content the
// sync sessions merge into.
type DocumentHandler struct {
	documents repository.DocumentRepository
}

func NewDocumentHandler(documents repository.DocumentRepository) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
	}
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	entity := domain.NewEntityRef(domain.EntityType(vars["entityType"]), vars["entityId"])
	if entity.IsZero() {
		response.Error(w, http.StatusBadRequest, "missing entity type or id")
		return
	}

	doc, err := h.documents.Fetch(r.Context(), entity)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		response.Error(w, http.StatusNotFound, "document not found")
		return
	}

	response.JSON(w, http.StatusOK, doc)
}
