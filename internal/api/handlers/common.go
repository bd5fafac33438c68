package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/pkg/dto"
)

const timeFormat = "2006-01-02T15:04:05Z"

func pagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return offset, limit
}

func toImageResponse(img *models.Image, faceCount int) dto.ImageResponse {
	resp := dto.ImageResponse{
		ID:         img.ID,
		Filename:   img.Filename,
		StorageURL: img.StorageURL,
		MimeType:   img.MimeType,
		FileSize:   img.FileSize,
		Width:      img.Width,
		Height:     img.Height,
		Status:     string(img.Status),
		FaceCount:  faceCount,
		UploadedAt: img.UploadedAt.UTC().Format(timeFormat),
	}
	if img.ProcessedAt != nil {
		resp.ProcessedAt = img.ProcessedAt.UTC().Format(timeFormat)
	}
	return resp
}

func toFaceResponse(f *models.Face) dto.FaceResponse {
	return dto.FaceResponse{
		ID:      f.ID,
		ImageID: f.ImageID,
		BoundingBox: dto.BoundingBox{
			X:      f.BoundingBox.X,
			Y:      f.BoundingBox.Y,
			Width:  f.BoundingBox.Width,
			Height: f.BoundingBox.Height,
		},
		Confidence:    f.Confidence,
		PersonGroupID: f.PersonGroupID,
		DetectedAt:    f.DetectedAt.UTC().Format(timeFormat),
	}
}

func toGroupResponse(g *models.PersonGroup, faceCount int) dto.GroupResponse {
	return dto.GroupResponse{
		ID:                   g.ID,
		Name:                 g.Name,
		RepresentativeFaceID: g.RepresentativeFaceID,
		FaceCount:            faceCount,
		CreatedAt:            g.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:            g.UpdatedAt.UTC().Format(timeFormat),
	}
}
