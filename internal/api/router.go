package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegroups/internal/api/handlers"
	"github.com/your-org/facegroups/internal/api/ws"
	"github.com/your-org/facegroups/internal/auth"
	"github.com/your-org/facegroups/internal/queue"
	"github.com/your-org/facegroups/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Images
	imageH := handlers.NewImageHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/images", imageH.Upload)
	v1.GET("/images", imageH.List)
	v1.GET("/images/:id", imageH.Get)
	v1.DELETE("/images/:id", imageH.Delete)
	v1.GET("/images/:id/file", imageH.File)
	v1.GET("/images/:id/faces", imageH.Faces)
	v1.GET("/images/:id/diagnostics", imageH.Diagnostics)
	v1.POST("/images/:id/retry", imageH.Retry)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.DB)
	v1.GET("/faces", faceH.List)
	v1.GET("/faces/:id", faceH.Get)

	// Person groups
	groupH := handlers.NewGroupHandler(cfg.DB)
	v1.GET("/groups", groupH.List)
	v1.GET("/groups/:id", groupH.Get)
	v1.PATCH("/groups/:id", groupH.Rename)
	v1.GET("/groups/:id/faces", groupH.Faces)
	v1.GET("/groups/:id/images", groupH.Images)
	v1.PUT("/groups/:id/representative", groupH.SetRepresentative)
	v1.POST("/groups/:id/merge", groupH.Merge)
	v1.DELETE("/groups/:id", groupH.Delete)

	// Processing
	procH := handlers.NewProcessingHandler(cfg.DB, cfg.Producer)
	v1.POST("/images/:id/process", procH.Trigger)
	v1.GET("/processing/status", procH.Status)
	v1.GET("/stats", procH.Stats)

	return r
}
