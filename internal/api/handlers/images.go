package handlers

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/storage"
	"github.com/your-org/facegroups/pkg/dto"
)

// maxUploadSize caps accepted image payloads at 32 MiB.
const maxUploadSize = 32 << 20

var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type ImageHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewImageHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *ImageHandler {
	return &ImageHandler{db: db, minio: minio, producer: producer}
}

// Upload accepts a batch of multipart images, stores each and queues it for
// face processing. Images start in the pending state. One rejected file does
// not fail the batch; its result carries the error instead.
func (h *ImageHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	files := uploadFileHeaders(form)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	results := make([]dto.UploadResult, 0, len(files))
	stored := 0
	for _, fh := range files {
		res := h.storeUpload(c, fh)
		if res.Error == "" {
			stored++
		}
		results = append(results, res)
	}

	status := http.StatusCreated
	if stored == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, dto.UploadResponse{Uploaded: results})
}

// uploadFileHeaders returns the request's image files. Batch clients send a
// repeated "files" field; a single "file" field is accepted too.
func uploadFileHeaders(form *multipart.Form) []*multipart.FileHeader {
	if fhs := form.File["files"]; len(fhs) > 0 {
		return fhs
	}
	return form.File["file"]
}

func (h *ImageHandler) storeUpload(c *gin.Context, fh *multipart.FileHeader) dto.UploadResult {
	res := dto.UploadResult{Filename: fh.Filename}

	if fh.Size > maxUploadSize {
		res.Error = "file too large"
		return res
	}

	f, err := fh.Open()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(data) > maxUploadSize {
		res.Error = "file too large"
		return res
	}

	contentType := http.DetectContentType(data)
	if !allowedMimeTypes[contentType] {
		res.Error = fmt.Sprintf("unsupported media type %s", contentType)
		return res
	}

	// Probe dimensions without a full decode. Failures here are not fatal;
	// the worker fills dimensions in during processing.
	var width, height int
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	key, url, err := h.minio.UploadImage(c.Request.Context(), data, fh.Filename, contentType)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	img := &models.Image{
		ID:         uuid.New(),
		Filename:   fh.Filename,
		StorageKey: key,
		StorageURL: url,
		MimeType:   contentType,
		FileSize:   int64(len(data)),
		Width:      width,
		Height:     height,
		Status:     models.ImageStatusPending,
		UploadedAt: time.Now().UTC(),
	}
	if err := h.db.CreateImage(c.Request.Context(), img); err != nil {
		res.Error = err.Error()
		return res
	}

	task := models.ProcessTask{ImageID: img.ID, EnqueuedAt: time.Now().UTC()}
	if err := h.producer.PublishProcessTask(c.Request.Context(), img.ID.String(), task); err == nil {
		res.Queued = true
	}
	// On publish failure the image stays pending and can be queued again
	// via the process endpoint.

	imgResp := toImageResponse(img, 0)
	res.Image = &imgResp
	return res
}

func (h *ImageHandler) List(c *gin.Context) {
	offset, limit := pagination(c)

	images, err := h.db.ListImages(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.db.CountImages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ImageListResponse{Images: make([]dto.ImageResponse, 0, len(images)), Total: total}
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

func (h *ImageHandler) Get(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}

	faces, err := h.db.ListImageFaces(c.Request.Context(), img.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toImageResponse(img, len(faces)))
}

// Delete removes the image record, its faces and the stored object.
func (h *ImageHandler) Delete(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.db.DeleteImage(c.Request.Context(), img.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.minio.DeleteObject(c.Request.Context(), img.StorageKey); err != nil {
		// Record is gone; an orphaned object is harmless.
		c.JSON(http.StatusOK, gin.H{"deleted": true, "storage": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// File streams the original image bytes back to the caller.
func (h *ImageHandler) File(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), img.StorageKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, img.MimeType, data)
}

func (h *ImageHandler) Faces(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}

	faces, err := h.db.ListImageFaces(c.Request.Context(), img.ID)
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

// Diagnostics returns the image together with every detected face, for
// inspecting why an image grouped the way it did.
func (h *ImageHandler) Diagnostics(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}

	faces, err := h.db.ListImageFaces(c.Request.Context(), img.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ImageDiagnosticsResponse{
		Image: toImageResponse(img, len(faces)),
		Faces: make([]dto.FaceResponse, 0, len(faces)),
	}
	for i := range faces {
		resp.Faces = append(resp.Faces, toFaceResponse(&faces[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Retry purges the image's faces, resets it to pending and queues it for
// reprocessing. Images mid-flight cannot be retried.
func (h *ImageHandler) Retry(c *gin.Context) {
	img, ok := h.lookup(c)
	if !ok {
		return
	}
	if img.Status == models.ImageStatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "image is currently processing"})
		return
	}

	err := h.db.WithTx(c.Request.Context(), func(tx cluster.Store) error {
		if err := tx.PurgeImageFaces(c.Request.Context(), img.ID); err != nil {
			return err
		}
		return tx.SetImageStatus(c.Request.Context(), img.ID, models.ImageStatusPending, nil)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := models.ProcessTask{ImageID: img.ID, EnqueuedAt: time.Now().UTC()}
	if err := h.producer.PublishProcessTask(c.Request.Context(), img.ID.String(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.ProcessResponse{
		ImageID: img.ID,
		Status:  string(models.ImageStatusPending),
		Queued:  true,
	})
}

func (h *ImageHandler) lookup(c *gin.Context) (*models.Image, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return nil, false
	}

	img, err := h.db.GetImage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return nil, false
	}
	return img, true
}
