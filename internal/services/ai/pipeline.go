package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"

	"aiprocessor/internal/logger"
	"aiprocessor/internal/models"
)

// DetectionThreshold is the default localization confidence a region must
// exceed.
const DetectionThreshold = 0.6

// Region is a candidate plate area found by a Localizer.
type Region struct {
	Bounds     image.Rectangle
	Confidence float64
}

// Fragment is one piece of text read by a Recognizer.
type Fragment struct {
	Text       string
	Confidence float64
}

// Localizer finds candidate plate regions in a full frame.
type Localizer interface {
	Localize(ctx context.Context, img image.Image) ([]Region, error)
}

// Recognizer reads text from a cropped plate region.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Fragment, error)
}

// Detector turns a frame into zero or one detection.
type Detector interface {
	Detect(ctx context.Context, frame models.Frame) (models.DetectionResult, bool)
}

// Pipeline runs localization, cropping, recognition and plate validation.
// It keeps no state between frames. A Pipeline is not safe for concurrent use
// unless its Localizer and Recognizer are; see Pool.
type Pipeline struct {
	localizer  Localizer
	recognizer Recognizer
	threshold  float64
	logger     *logger.Logger
}

// NewPipeline creates a pipeline. A threshold outside (0,1] falls back to
// DetectionThreshold.
func NewPipeline(localizer Localizer, recognizer Recognizer, threshold float64, logger *logger.Logger) *Pipeline {
	if threshold <= 0 || threshold > 1 {
		threshold = DetectionThreshold
	}
	return &Pipeline{
		localizer:  localizer,
		recognizer: recognizer,
		threshold:  threshold,
		logger:     logger,
	}
}

// Detect returns the plate found in frame, if any. Model failures are logged
// and reported as no detection.
func (p *Pipeline) Detect(ctx context.Context, frame models.Frame) (result models.DetectionResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Camera %d: detection panic: %v", frame.CameraID, r)
			result, ok = models.DetectionResult{}, false
		}
	}()

	if frame.Image == nil || frame.Image.Bounds().Empty() {
		return models.DetectionResult{}, false
	}

	regions, err := p.localizer.Localize(ctx, frame.Image)
	if err != nil {
		p.logger.Warning("Camera %d: localize failed: %v", frame.CameraID, err)
		return models.DetectionResult{}, false
	}

	best, found := bestRegion(regions, p.threshold)
	if !found {
		return models.DetectionResult{}, false
	}

	crop, err := cropImage(frame.Image, best.Bounds)
	if err != nil {
		p.logger.Debug("Camera %d: %v", frame.CameraID, err)
		return models.DetectionResult{}, false
	}

	fragments, err := p.recognizer.Recognize(ctx, crop)
	if err != nil {
		p.logger.Warning("Camera %d: recognize failed: %v", frame.CameraID, err)
		return models.DetectionResult{}, false
	}

	var raw strings.Builder
	for _, fragment := range fragments {
		raw.WriteString(fragment.Text)
	}

	plate, valid := NormalizePlate(raw.String())
	if !valid {
		return models.DetectionResult{}, false
	}

	p.logger.Info("Camera %d: plate detected '%s' (%.2f)", frame.CameraID, plate, best.Confidence)
	return models.DetectionResult{
		CameraID:   frame.CameraID,
		PlateText:  plate,
		Confidence: best.Confidence,
		DetectedAt: frame.CapturedAt.UTC(),
		Crop:       crop,
	}, true
}

// Close releases the localizer and recognizer when they hold native resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, part := range []interface{}{p.localizer, p.recognizer} {
		if closer, ok := part.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// bestRegion picks the most confident region above threshold. Ties keep
// the first one so results do not depend on anything but the input order.
func bestRegion(regions []Region, threshold float64) (Region, bool) {
	var best Region
	found := false
	for _, region := range regions {
		if region.Confidence <= threshold || region.Bounds.Empty() {
			continue
		}
		if !found || region.Confidence > best.Confidence {
			best, found = region, true
		}
	}
	return best, found
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage returns the part of img inside bounds, clipped to the image.
func cropImage(img image.Image, bounds image.Rectangle) (image.Image, error) {
	rect := bounds.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region %v outside frame %v", bounds, img.Bounds())
	}

	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}
