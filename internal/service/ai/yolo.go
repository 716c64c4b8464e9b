package ai

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"liveview/internal/dto"
	"liveview/internal/logger"
)

// YOLOConfig holds YOLO detector configuration.
type YOLOConfig struct {
	ModelPath     string
	MinConfidence float64
	NMSThreshold  float64
	InputSize     int
}

// YOLODetector runs a YOLOv8 ONNX export.
type YOLODetector struct {
	mu        sync.Mutex
	net       gocv.Net
	config    YOLOConfig
	inputSize image.Point
	closed    bool
	logger    *logger.Logger
}

// NewYOLO loads the ONNX model named by cfg.ModelPath.
func NewYOLO(cfg YOLOConfig, logger *logger.Logger) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	if err := preferCPU(&net); err != nil {
		net.Close()
		return nil, err
	}

	logger.Info("YOLO network initialized from %s", cfg.ModelPath)
	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputSize, cfg.InputSize),
		logger:    logger,
	}, nil
}

// Detect finds objects in a JPEG frame. Regions are in frame pixels.
func (d *YOLODetector) Detect(ctx context.Context, frame dto.Frame) ([]dto.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("detection network closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 4 + classes, anchors].
	dims := output.Size()
	if len(dims) != 3 || dims[1] <= 4 {
		return nil, errors.Errorf("unexpected YOLO output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read network output")
	}

	scaleX := float64(img.Cols()) / float64(d.config.InputSize)
	scaleY := float64(img.Rows()) / float64(d.config.InputSize)
	candidates := parseYOLO(data, dims[1], dims[2], scaleX, scaleY, d.config.MinConfidence)
	results := d.suppress(candidates)

	d.logger.Debug("YOLO found %d object(s) in frame %d", len(results), frame.Seq)
	return results, nil
}

// Close releases the network. Detect fails afterwards.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func (d *YOLODetector) suppress(candidates []dto.Detection) []dto.Detection {
	if len(candidates) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = image.Rect(int(c.Region.X), int(c.Region.Y),
			int(c.Region.X+c.Region.Width), int(c.Region.Y+c.Region.Height))
		scores[i] = float32(c.Confidence)
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(d.config.MinConfidence), float32(d.config.NMSThreshold))
	results := make([]dto.Detection, 0, len(indices))
	for _, idx := range indices {
		results = append(results, candidates[idx])
	}
	return results
}

// parseYOLO reads the attribute-major YOLOv8 tensor: for each anchor, rows 0..3 hold
// the box center and size, the rest one score per class.
func parseYOLO(data []float32, attrs, anchors int, scaleX, scaleY, minConfidence float64) []dto.Detection {
	if len(data) < attrs*anchors {
		return nil
	}

	var candidates []dto.Detection
	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*anchors+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if float64(maxScore) <= minConfidence {
			continue
		}

		cx := float64(data[0*anchors+i])
		cy := float64(data[1*anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		candidates = append(candidates, dto.Detection{
			Category:   yoloLabel(maxClassID),
			Confidence: float64(maxScore),
			Region: dto.Region{
				X:      (cx - w/2) * scaleX,
				Y:      (cy - h/2) * scaleY,
				Width:  nonNegative(w * scaleX),
				Height: nonNegative(h * scaleY),
			},
		})
	}
	return candidates
}
