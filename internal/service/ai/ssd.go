// Package ai wraps gocv DNN object-detection networks behind the scheduler's Detector
// boundary.
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

// ssdStride is the width of one SSD output row:
// [ batch_id, class_id, confidence, x1, y1, x2, y2 ].
const ssdStride = 7

// SSDDetector runs a TensorFlow SSD MobileNet graph.
type SSDDetector struct {
	mu            sync.Mutex
	net           gocv.Net
	minConfidence float64
	closed        bool
	logger        *logger.Logger
}

// NewSSD loads the frozen graph at modelPath described by configPath.
func NewSSD(modelPath, configPath string, minConfidence float64, logger *logger.Logger) (*SSDDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", modelPath)
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, errors.Wrapf(err, "config file not found: %s", configPath)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load network from %s", modelPath)
	}
	if err := preferCPU(&net); err != nil {
		net.Close()
		return nil, err
	}

	logger.Info("SSD network initialized from %s", modelPath)
	return &SSDDetector{net: net, minConfidence: minConfidence, logger: logger}, nil
}

// Detect runs the network on a JPEG frame. Regions are in frame pixels.
func (d *SSDDetector) Detect(ctx context.Context, frame dto.Frame) ([]dto.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("detection network closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// Parameters that fit the SSD COCO net input.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read network output")
	}

	results := parseSSD(data, float64(mat.Cols()), float64(mat.Rows()), d.minConfidence)
	d.logger.Debug("SSD found %d object(s) in frame %d", len(results), frame.Seq)
	return results, nil
}

// Close releases the network. Detect fails afterwards.
func (d *SSDDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

// parseSSD converts flattened SSD rows with normalized corners into pixel regions,
// keeping rows whose confidence exceeds minConfidence.
func parseSSD(data []float32, width, height, minConfidence float64) []dto.Detection {
	var results []dto.Detection
	for i := 0; i+ssdStride <= len(data); i += ssdStride {
		row := data[i : i+ssdStride]
		confidence := float64(row[2])
		if confidence <= minConfidence {
			continue
		}
		x1, y1 := float64(row[3])*width, float64(row[4])*height
		x2, y2 := float64(row[5])*width, float64(row[6])*height

		results = append(results, dto.Detection{
			Category:   ssdLabel(int(row[1])),
			Confidence: confidence,
			Region:     dto.Region{X: x1, Y: y1, Width: nonNegative(x2 - x1), Height: nonNegative(y2 - y1)},
		})
	}
	return results
}

func decodeFrame(frame dto.Frame) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, errors.New("frame has no data")
	}
	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "failed to decode image")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errors.New("decoded image is empty")
	}
	return mat, nil
}

func preferCPU(net *gocv.Net) error {
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		return errors.New("failed to set preferable backend or target")
	}
	return nil
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
