package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// faceBox is a raw detector hit in working-image pixel coordinates.
type faceBox struct {
	x1, y1, x2, y2 float32
	confidence     float32
}

// Detector runs RetinaFace (det_10g) face detection via ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// det_10g emits anchor-based outputs at three strides, two anchors per cell.
var detStrides = []int{8, 16, 32}

const detAnchorsPerCell = 2

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output tensors carry no batch dimension. Row counts per stride:
	// (640/8)^2*2 = 12800, (640/16)^2*2 = 3200, (640/32)^2*2 = 800.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},  // scores, stride 8
		{"471", ort.NewShape(3200, 1)},   // scores, stride 16
		{"494", ort.NewShape(800, 1)},    // scores, stride 32
		{"451", ort.NewShape(12800, 4)},  // boxes, stride 8
		{"474", ort.NewShape(3200, 4)},   // boxes, stride 16
		{"497", ort.NewShape(800, 4)},    // boxes, stride 32
		{"454", ort.NewShape(12800, 10)}, // landmarks, stride 8
		{"477", ort.NewShape(3200, 10)},  // landmarks, stride 16
		{"500", ort.NewShape(800, 10)},   // landmarks, stride 32
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed CHW [3, inputH, inputW] buffer.
// origW/origH are the working image dimensions, used to scale box coordinates
// back out of model space.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]faceBox, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	boxes := d.decode(origW, origH)
	return suppressOverlaps(boxes, 0.4), nil
}

// decode converts anchor-relative model outputs into pixel-space boxes.
func (d *Detector) decode(origW, origH int) []faceBox {
	var boxes []faceBox

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range detStrides {
		scores := d.outputTensors[si].GetData()   // [N, 1]
		deltas := d.outputTensors[si+3].GetData() // [N, 4]

		cellsW := d.inputW / stride
		cellsH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < cellsH; cy++ {
			for cx := 0; cx < cellsW; cx++ {
				for a := 0; a < detAnchorsPerCell; a++ {
					if score := scores[idx]; score >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						// Deltas are anchor-to-edge distances in stride units.
						b := faceBox{
							x1:         clampF((anchorX-deltas[idx*4+0]*st)*scaleW, 0, float32(origW)),
							y1:         clampF((anchorY-deltas[idx*4+1]*st)*scaleH, 0, float32(origH)),
							x2:         clampF((anchorX+deltas[idx*4+2]*st)*scaleW, 0, float32(origW)),
							y2:         clampF((anchorY+deltas[idx*4+3]*st)*scaleH, 0, float32(origH)),
							confidence: score,
						}
						boxes = append(boxes, b)
					}
					idx++
				}
			}
		}
	}

	return boxes
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// suppressOverlaps performs non-maximum suppression by IoU.
func suppressOverlaps(boxes []faceBox, iouThreshold float32) []faceBox {
	if len(boxes) == 0 {
		return boxes
	}

	sort.Slice(boxes, func(i, j int) bool {
		return boxes[i].confidence > boxes[j].confidence
	})

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(boxes); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if keep[j] && iou(boxes[i], boxes[j]) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []faceBox
	for i, b := range boxes {
		if keep[i] {
			result = append(result, b)
		}
	}
	return result
}

func iou(a, b faceBox) float32 {
	x1 := float32(math.Max(float64(a.x1), float64(b.x1)))
	y1 := float32(math.Max(float64(a.y1), float64(b.y1)))
	x2 := float32(math.Min(float64(a.x2), float64(b.x2)))
	y2 := float32(math.Min(float64(a.y2), float64(b.y2)))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
