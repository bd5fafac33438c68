package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/pkg/dto"
)

type ProcessingHandler struct {
	db       *storage.PostgresStore
	producer *queue.Producer
}

func NewProcessingHandler(db *storage.PostgresStore, producer *queue.Producer) *ProcessingHandler {
	return &ProcessingHandler{db: db, producer: producer}
}

// Trigger queues a pending image for processing. Images that already ran
// must go through the retry endpoint instead.
func (h *ProcessingHandler) Trigger(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	img, err := h.db.GetImage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	if img.Status != models.ImageStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "image is not pending"})
		return
	}

	task := models.ProcessTask{ImageID: img.ID, EnqueuedAt: time.Now().UTC()}
	if err := h.producer.PublishProcessTask(c.Request.Context(), img.ID.String(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.ProcessResponse{
		ImageID: img.ID,
		Status:  string(img.Status),
		Queued:  true,
	})
}

// Status reports per-state image counts and current queue depth.
func (h *ProcessingHandler) Status(c *gin.Context) {
	counts, err := h.db.CountImagesByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	depth, err := h.producer.QueueDepth(c.Request.Context())
	if err != nil {
		depth = 0
	}

	c.JSON(http.StatusOK, dto.ProcessingStatusResponse{
		Pending:    counts[models.ImageStatusPending],
		Processing: counts[models.ImageStatusProcessing],
		Completed:  counts[models.ImageStatusCompleted],
		Failed:     counts[models.ImageStatusFailed],
		QueueDepth: int(depth),
	})
}

// Stats reports corpus-wide totals.
func (h *ProcessingHandler) Stats(c *gin.Context) {
	images, err := h.db.CountImages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	faces, ungrouped, err := h.db.CountFaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	groups, err := h.db.CountGroups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Images:         images,
		Faces:          faces,
		UngroupedFaces: ungrouped,
		Groups:         groups,
	})
}
