// Package opencv localizes license plates with an OpenCV DNN model.
package opencv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/services/ai"
)

// Localizer runs an SSD-style network whose output rows are
// [batch_id, class_id, confidence, x1, y1, x2, y2] in relative coordinates.
type Localizer struct {
	net        gocv.Net
	classID    int
	inputSize  image.Point
	mutex      sync.Mutex
	modelPath  string
	configPath string
	logger     *logger.Logger
}

// NewLocalizer loads the network. classID < 0 accepts every class.
func NewLocalizer(modelPath, configPath string, classID int, logger *logger.Logger) (*Localizer, error) {
	l := &Localizer{
		classID:    classID,
		inputSize:  image.Pt(300, 300),
		modelPath:  modelPath,
		configPath: configPath,
		logger:     logger,
	}
	if err := l.initializeNet(); err != nil {
		return nil, err
	}
	return l, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (l *Localizer) initializeNet() error {
	if _, err := os.Stat(l.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", l.modelPath)
	}
	if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", l.configPath)
	}

	net := gocv.ReadNet(l.modelPath, l.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", l.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	l.net = net
	l.logger.Info("Plate localization network initialized")
	return nil
}

// Localize returns every region the network reports for the plate class.
// Thresholding is left to the pipeline.
func (l *Localizer) Localize(ctx context.Context, img image.Image) ([]ai.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %v", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("converted frame is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, l.inputSize, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	l.mutex.Lock()
	l.net.SetInput(blob, "")
	output := l.net.Forward("")
	l.mutex.Unlock()
	defer output.Close()

	origin := img.Bounds().Min
	cols, rows := float32(mat.Cols()), float32(mat.Rows())

	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var regions []ai.Region
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if confidence <= 0 {
			continue
		}
		if l.classID >= 0 && int(reshaped.GetFloatAt(i, 1)) != l.classID {
			continue
		}

		x1 := int(reshaped.GetFloatAt(i, 3) * cols)
		y1 := int(reshaped.GetFloatAt(i, 4) * rows)
		x2 := int(reshaped.GetFloatAt(i, 5) * cols)
		y2 := int(reshaped.GetFloatAt(i, 6) * rows)

		regions = append(regions, ai.Region{
			Bounds:     image.Rect(x1, y1, x2, y2).Add(origin),
			Confidence: float64(confidence),
		})
	}

	return regions, nil
}

// Close frees the network.
func (l *Localizer) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.net.Close()
}
