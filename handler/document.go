package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/service"
	"github.com/gin-gonic/gin"
)

// ArchiveStore is the slice of the archive service the document handlers use.
type ArchiveStore interface {
	PresignedURL(ctx context.Context, objectName string) (string, error)
	DeleteDocument(ctx context.Context, objectName string) error
}

type DocumentHandler struct {
	pipeline *service.DocumentPipeline
	archive  ArchiveStore
}

func NewDocumentHandler(pipeline *service.DocumentPipeline, archive ArchiveStore) *DocumentHandler {
	return &DocumentHandler{pipeline: pipeline, archive: archive}
}

// List returns processed documents, optionally filtered by carrier.
func (h *DocumentHandler) List(c *gin.Context) {
	var docs []*model.Document
	if carrier := c.Query("carrier"); carrier != "" {
		docs = h.pipeline.ListByCarrier(carrier)
	} else {
		docs = h.pipeline.List()
	}

	result := make([]gin.H, len(docs))
	for i, doc := range docs {
		result[i] = gin.H{
			"id":          doc.ID,
			"carrier":     doc.Carrier,
			"shipment_id": doc.ShipmentID,
			"filename":    doc.Filename,
			"category":    doc.Category,
			"state":       doc.State,
			"created_at":  doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":  doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"documents": result})
}

// Get returns a single document record.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc := h.pipeline.Get(c.Param("id"))
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// GetStatus returns the lifecycle state of a document.
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	doc := h.pipeline.Get(c.Param("id"))
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          doc.ID,
		"state":       doc.State,
		"next_states": model.NextStates(doc.State),
		"error_msg":   doc.ErrorMsg,
	})
}

// GetURL returns a short-lived download link for an archived document.
func (h *DocumentHandler) GetURL(c *gin.Context) {
	doc := h.pipeline.Get(c.Param("id"))
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	if doc.State != model.StateArchived || doc.ArchiveObject == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Document is not archived"})
		return
	}

	url, err := h.archive.PresignedURL(c.Request.Context(), doc.ArchiveObject)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to generate URL: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":  doc.ID,
		"url": url,
	})
}

// Delete removes a document record and its archived object if one exists.
func (h *DocumentHandler) Delete(c *gin.Context) {
	doc := h.pipeline.Get(c.Param("id"))
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	if doc.ArchiveObject != "" {
		if err := h.archive.DeleteDocument(c.Request.Context(), doc.ArchiveObject); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to delete archived object: " + err.Error()})
			return
		}
	}
	h.pipeline.Delete(doc.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

type TransitionRequest struct {
	State    string `json:"state" binding:"required"`
	ErrorMsg string `json:"error_msg"`
}

// Transition moves a document to a new lifecycle state, for operator
// intervention on stuck or quarantined documents.
func (h *DocumentHandler) Transition(c *gin.Context) {
	id := c.Param("id")

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	target, err := model.ParseState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.pipeline.Get(id) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	if err := h.pipeline.Transition(id, target, req.ErrorMsg); err != nil {
		var invalid *model.InvalidTransitionError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	doc := h.pipeline.Get(id)
	c.JSON(http.StatusOK, gin.H{
		"id":    doc.ID,
		"state": doc.State,
	})
}
