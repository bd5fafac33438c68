package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/pkg/dto"
)

type FaceHandler struct {
	db *storage.PostgresStore
}

func NewFaceHandler(db *storage.PostgresStore) *FaceHandler {
	return &FaceHandler{db: db}
}

func (h *FaceHandler) List(c *gin.Context) {
	offset, limit := pagination(c)

	faces, err := h.db.ListFaces(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, _, err := h.db.CountFaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.FaceListResponse{Faces: make([]dto.FaceResponse, 0, len(faces)), Total: total}
	for i := range faces {
		resp.Faces = append(resp.Faces, toFaceResponse(&faces[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FaceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	face, err := h.db.GetFace(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if face == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}
	c.JSON(http.StatusOK, toFaceResponse(face))
}
