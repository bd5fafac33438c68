package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/pkg/dto"
)

type GroupHandler struct {
	db     *storage.PostgresStore
	ledger *cluster.Ledger
}

func NewGroupHandler(db *storage.PostgresStore) *GroupHandler {
	return &GroupHandler{db: db, ledger: cluster.NewLedger(db)}
}

func (h *GroupHandler) List(c *gin.Context) {
	offset, limit := pagination(c)

	groups, err := h.db.ListGroups(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.db.CountGroups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.GroupListResponse{Groups: make([]dto.GroupResponse, 0, len(groups)), Total: total}
	for i := range groups {
		faceCount, err := h.db.CountGroupFaces(c.Request.Context(), groups[i].ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.Groups = append(resp.Groups, toGroupResponse(&groups[i], faceCount))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GroupHandler) Get(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	faceCount, err := h.db.CountGroupFaces(c.Request.Context(), group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(group, faceCount))
}

func (h *GroupHandler) Rename(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.RenameGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateGroupName(c.Request.Context(), group.ID, &req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	group.Name = &req.Name
	faceCount, err := h.db.CountGroupFaces(c.Request.Context(), group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(group, faceCount))
}

func (h *GroupHandler) Faces(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	faces, err := h.db.ListGroupFaces(c.Request.Context(), group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.FaceListResponse{Faces: make([]dto.FaceResponse, 0, len(faces)), Total: len(faces)}
	for i := range faces {
		resp.Faces = append(resp.Faces, toFaceResponse(&faces[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Images lists the distinct images containing faces of this group.
func (h *GroupHandler) Images(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	images, err := h.db.ListGroupImages(c.Request.Context(), group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ImageListResponse{Images: make([]dto.ImageResponse, 0, len(images)), Total: len(images)}
	for i := range images {
		faces, err := h.db.ListImageFaces(c.Request.Context(), images[i].ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.Images = append(resp.Images, toImageResponse(&images[i], len(faces)))
	}
	c.JSON(http.StatusOK, resp)
}

// SetRepresentative pins a specific member face as the group's match anchor.
func (h *GroupHandler) SetRepresentative(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.SetRepresentativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.UpdateRepresentative(c.Request.Context(), group.ID, req.FaceID); err != nil {
		h.writeClusterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"representative_face_id": req.FaceID})
}

// Merge folds the source group from the request body into the group in
// the path. The source group ceases to exist.
func (h *GroupHandler) Merge(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.MergeGroupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.MergeGroups(c.Request.Context(), req.SourceID, group.ID); err != nil {
		h.writeClusterError(c, err)
		return
	}

	faceCount, err := h.db.CountGroupFaces(c.Request.Context(), group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(group, faceCount))
}

// Delete removes the group. Member faces survive as ungrouped.
func (h *GroupHandler) Delete(c *gin.Context) {
	group, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.ledger.DeleteGroup(c.Request.Context(), group.ID); err != nil {
		h.writeClusterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *GroupHandler) lookup(c *gin.Context) (*models.PersonGroup, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return nil, false
	}

	group, err := h.db.GetGroup(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return nil, false
	}
	return group, true
}

func (h *GroupHandler) writeClusterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, cluster.ErrSelfMerge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
