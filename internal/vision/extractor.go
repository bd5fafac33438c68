package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
)

// Extractor composes detection and embedding into the pipeline contract:
// decode an image, find every face, and produce one identity vector per
// face. Sessions are not reentrant, so concurrent calls serialize on mu.
type Extractor struct {
	detector *Detector
	embedder *Embedder

	minFaceSize  int
	maxImageSize int

	mu sync.Mutex
}

func NewExtractor(cfg config.VisionConfig) (*Extractor, error) {
	detector, err := NewDetector(filepath.Join(cfg.ModelsDir, "det_10g.onnx"), float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("init detector: %w", err)
	}

	embedder, err := NewEmbedder(filepath.Join(cfg.ModelsDir, "w600k_r50.onnx"))
	if err != nil {
		detector.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	return &Extractor{
		detector:     detector,
		embedder:     embedder,
		minFaceSize:  cfg.MinFaceSize,
		maxImageSize: cfg.MaxImageSize,
	}, nil
}

// Detect implements cluster.Extractor. Bounding boxes and reported
// dimensions refer to the working image, i.e. after any downscale to
// the configured maximum edge length.
func (e *Extractor) Detect(ctx context.Context, imageData []byte) (*cluster.ExtractionResult, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrDecodeFailure, err)
	}

	img = downscale(img, e.maxImageSize)
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := toCHW(img, e.detector.inputW, e.detector.inputH)
	boxes, err := e.detector.Detect(input, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrExtractionFailure, err)
	}

	result := &cluster.ExtractionResult{Width: width, Height: height}

	for _, box := range boxes {
		w := box.x2 - box.x1
		h := box.y2 - box.y1
		if int(w) < e.minFaceSize || int(h) < e.minFaceSize {
			continue
		}

		crop := cropFace(img, box)
		embedding, err := e.embedder.Embed(toCHW(crop, e.embedder.inputSize, e.embedder.inputSize))
		if err != nil {
			slog.Warn("embedding failed for face, skipping",
				"x", box.x1, "y", box.y1, "error", err)
			continue
		}

		result.Detections = append(result.Detections, cluster.Detection{
			BBox: models.BoundingBox{
				X:      float64(box.x1),
				Y:      float64(box.y1),
				Width:  float64(w),
				Height: float64(h),
			},
			Confidence: box.confidence,
			Embedding:  embedding,
			Normalized: true,
		})
	}

	return result, nil
}

func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detector.Close()
	e.embedder.Close()
}

// downscale shrinks img so its longest edge is at most maxEdge, keeping
// aspect ratio. Images already within bounds are returned as-is.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxEdge
		newH = h * maxEdge / w
	} else {
		newH = maxEdge
		newW = w * maxEdge / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	return resizeNearest(img, newW, newH)
}

// resizeNearest is a nearest-neighbor resize. Model inputs do not need
// interpolation quality, only correct geometry.
func resizeNearest(img image.Image, newW, newH int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		srcY := bounds.Min.Y + y*srcH/newH
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + x*srcW/newW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// toCHW resizes img to w x h and lays it out as a CHW float32 buffer
// normalized to [-1, 1], matching the InsightFace preprocessing.
func toCHW(img image.Image, w, h int) []float32 {
	resized := resizeNearest(img, w, h)

	data := make([]float32, 3*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*w + x
			data[i] = (float32(r>>8) - 127.5) / 128.0
			data[w*h+i] = (float32(g>>8) - 127.5) / 128.0
			data[2*w*h+i] = (float32(b>>8) - 127.5) / 128.0
		}
	}
	return data
}

// cropFace cuts the box region out of img with 10% padding on each side.
func cropFace(img image.Image, box faceBox) image.Image {
	bounds := img.Bounds()

	padX := (box.x2 - box.x1) * 0.1
	padY := (box.y2 - box.y1) * 0.1

	x1 := int(clampF(box.x1-padX, float32(bounds.Min.X), float32(bounds.Max.X)))
	y1 := int(clampF(box.y1-padY, float32(bounds.Min.Y), float32(bounds.Max.Y)))
	x2 := int(clampF(box.x2+padX, float32(bounds.Min.X), float32(bounds.Max.X)))
	y2 := int(clampF(box.y2+padY, float32(bounds.Min.Y), float32(bounds.Max.Y)))

	if x2 <= x1 || y2 <= y1 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			crop.Set(x-x1, y-y1, img.At(x, y))
		}
	}
	return crop
}
